/*
statemachine.go - Settlement approval lifecycle

PURPOSE:
  Governs the settlement's one-shot workflow and the money-moving side
  effects of each transition:

    PENDING ──approve──▶ APPROVED   (terminal; advances marked repaid)
    PENDING ──reject───▶ REJECTED   (terminal; claims released)

  Re-approving or re-rejecting a terminal settlement fails with
  ErrInvalidStateTransition; there is no revert from APPROVED.

SIDE EFFECTS:
  Approve: records payment method/reference, applies the settlement's
  advance repayment rows to the advances' running totals (fully repaid
  ones get PaidAt, partially repaid ones are released for the next
  period), then notifies the registered listener.

  Reject: records the reason and the rejecting reviewer, then releases the
  claim on every linked load and advance so they re-enter the eligible pool.

  Both run inside a single transaction; validation failures are reported
  before any mutation.
*/
package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// APPROVAL EVENT - consumed by an external notifier
// =============================================================================

// SettlementApproved is emitted after a successful approval commits.
// The engine does not deliver notifications itself.
type SettlementApproved struct {
	SettlementID SettlementID
	DriverID     DriverID
	NetPay       decimal.Decimal
}

// ApprovalListener receives approval events. Implementations must not
// block; delivery failures are the notifier's concern, not the engine's.
type ApprovalListener interface {
	SettlementApproved(ctx context.Context, event SettlementApproved)
}

// ListenerFunc adapts a function to ApprovalListener.
type ListenerFunc func(ctx context.Context, event SettlementApproved)

func (f ListenerFunc) SettlementApproved(ctx context.Context, event SettlementApproved) {
	f(ctx, event)
}

// =============================================================================
// STATE MACHINE
// =============================================================================

// SettlementStateMachine executes approve/reject transitions. Stateless;
// safe for concurrent use.
type SettlementStateMachine struct {
	Storage  TxStorage
	Listener ApprovalListener // optional
	Clock    func() time.Time
}

func NewSettlementStateMachine(storage TxStorage) *SettlementStateMachine {
	return &SettlementStateMachine{Storage: storage, Clock: time.Now}
}

// Approve transitions a PENDING settlement to APPROVED, recording how it
// will be paid and marking the linked advances repaid.
func (m *SettlementStateMachine) Approve(ctx context.Context, id SettlementID, approverID, paymentMethod, paymentReference string) (*Settlement, error) {
	if paymentMethod == "" {
		return nil, &ValidationError{Field: "payment_method", Message: "required to approve a settlement"}
	}
	if approverID == "" {
		return nil, &ValidationError{Field: "approver_id", Message: "required"}
	}

	now := m.Clock()
	var approved *Settlement
	err := m.Storage.WithTx(ctx, func(tx Storage) error {
		s, err := tx.GetSettlement(ctx, id)
		if err != nil {
			return err
		}
		if s.Terminal() {
			return &InvalidStateTransitionError{SettlementID: id, From: s.ApprovalStatus, Attempted: ApprovalApproved}
		}

		s.ApprovalStatus = ApprovalApproved
		s.PaymentMethod = &paymentMethod
		if paymentReference != "" {
			s.PaymentReference = &paymentReference
		}
		s.ApprovedBy = &approverID
		s.ApprovedAt = &now
		s.UpdatedAt = now
		if err := tx.UpdateSettlement(ctx, s); err != nil {
			return err
		}

		repayments := repaymentsFromLineItems(s.LineItems)
		if len(repayments) > 0 {
			if err := tx.SettleAdvanceRepayments(ctx, repayments, now); err != nil {
				return err
			}
		}

		approved = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.Listener != nil {
		m.Listener.SettlementApproved(ctx, SettlementApproved{
			SettlementID: approved.ID,
			DriverID:     approved.DriverID,
			NetPay:       approved.NetPay,
		})
	}
	return approved, nil
}

// Reject transitions a PENDING settlement to REJECTED and releases the
// claim on its loads and advances so they re-enter the eligible pool.
func (m *SettlementStateMachine) Reject(ctx context.Context, id SettlementID, approverID, reason string) (*Settlement, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Message: "required to reject a settlement"}
	}
	if approverID == "" {
		return nil, &ValidationError{Field: "approver_id", Message: "required"}
	}

	now := m.Clock()
	var rejected *Settlement
	err := m.Storage.WithTx(ctx, func(tx Storage) error {
		s, err := tx.GetSettlement(ctx, id)
		if err != nil {
			return err
		}
		if s.Terminal() {
			return &InvalidStateTransitionError{SettlementID: id, From: s.ApprovalStatus, Attempted: ApprovalRejected}
		}

		s.ApprovalStatus = ApprovalRejected
		s.RejectionReason = &reason
		s.RejectedBy = &approverID
		s.UpdatedAt = now
		if err := tx.UpdateSettlement(ctx, s); err != nil {
			return err
		}
		if err := tx.ReleaseLoads(ctx, id); err != nil {
			return err
		}
		if err := tx.ReleaseAdvances(ctx, id); err != nil {
			return err
		}

		rejected = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rejected, nil
}

// repaymentsFromLineItems recovers the repayment plan from the persisted
// breakdown: each ADVANCE_REPAYMENT row's negated amount against its
// referenced advance.
func repaymentsFromLineItems(items []SettlementLineItem) []AdvanceRepayment {
	var out []AdvanceRepayment
	for _, li := range items {
		if li.Source != SourceAdvanceRepayment {
			continue
		}
		amount := li.Amount.Neg()
		if !amount.IsPositive() {
			continue
		}
		out = append(out, AdvanceRepayment{AdvanceID: AdvanceID(li.ReferenceID), Amount: amount})
	}
	return out
}
