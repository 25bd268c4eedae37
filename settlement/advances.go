/*
advances.go - Cash advance repayment planning

PURPOSE:
  Tracks each driver's outstanding advance balance and produces repayment
  line items capped at the funds a settlement has available.

REPAYMENT POLICY:
  - FIFO: oldest approved, unpaid advance is repaid first.
  - Greedy: each advance is repaid in full when funds suffice, otherwise
    partially, stopping once funds are exhausted.
  - Never negative: repayment never pushes net pay below zero. When funds
    run out, repayment stops early.

PARTIAL REPAYMENT BOOKKEEPING:
  An advance keeps a running AmountRepaid total. The plan computed here is
  only applied when the settlement is approved; until then the advance is
  merely claimed (SettlementID set). On approval a fully repaid advance is
  marked paid, a partially repaid one has its claim released so the
  remainder re-enters the pool for the next settlement.
*/
package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// AdvanceLedger plans and reports advance repayments.
type AdvanceLedger struct {
	Storage Storage
}

// RepaymentPlan is the outcome of applying available funds to a driver's
// outstanding advances.
type RepaymentPlan struct {
	// LineItems are the ADVANCE_REPAYMENT rows, amounts negative.
	LineItems []SettlementLineItem

	// Repayments pair each touched advance with the recovered amount,
	// applied to the running totals at approval time.
	Repayments []AdvanceRepayment

	// Total is the positive sum recovered by this plan.
	Total decimal.Decimal

	// OutstandingAfter is the driver's remaining advance balance assuming
	// the plan is approved.
	OutstandingAfter decimal.Decimal
}

// PlanRepayment consumes availableNet greedily against the driver's
// approved, unpaid advances in FIFO order. availableNet at or below zero
// yields an empty plan; it never produces a negative settlement.
func (l *AdvanceLedger) PlanRepayment(ctx context.Context, driverID DriverID, availableNet decimal.Decimal) (RepaymentPlan, error) {
	advances, err := l.Storage.UnclaimedAdvances(ctx, driverID)
	if err != nil {
		return RepaymentPlan{}, err
	}

	plan := RepaymentPlan{Total: decimal.Zero, OutstandingAfter: decimal.Zero}
	funds := availableNet

	for _, adv := range advances {
		outstanding := adv.Outstanding()
		if !outstanding.IsPositive() {
			continue
		}

		if !funds.IsPositive() {
			plan.OutstandingAfter = plan.OutstandingAfter.Add(outstanding)
			continue
		}

		take := decimal.Min(outstanding, funds)
		funds = funds.Sub(take)
		remaining := outstanding.Sub(take)

		desc := fmt.Sprintf("Advance repayment (%s of %s)", take, adv.Amount)
		if remaining.IsPositive() {
			desc = fmt.Sprintf("Partial advance repayment (%s of %s, %s remaining)", take, adv.Amount, remaining)
		}

		plan.LineItems = append(plan.LineItems, SettlementLineItem{
			Source:      SourceAdvanceRepayment,
			ReferenceID: string(adv.ID),
			Description: desc,
			Amount:      take.Neg(),
		})
		plan.Repayments = append(plan.Repayments, AdvanceRepayment{AdvanceID: adv.ID, Amount: take})
		plan.Total = plan.Total.Add(take)
		plan.OutstandingAfter = plan.OutstandingAfter.Add(remaining)
	}

	return plan, nil
}

// OutstandingBalance returns the driver's total unrecovered advance
// balance across approved, unpaid advances.
func (l *AdvanceLedger) OutstandingBalance(ctx context.Context, driverID DriverID) (decimal.Decimal, error) {
	advances, err := l.Storage.UnclaimedAdvances(ctx, driverID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, adv := range advances {
		total = total.Add(adv.Outstanding())
	}
	return total, nil
}
