/*
aggregator.go - Settlement assembly and atomic claiming

PURPOSE:
  Orchestrates the calculator, selector, evaluator, and ledger to turn a
  driver + period (or explicit load set) into a full settlement: line
  items, totals, and the atomic claim of the input loads and advances.

GENERATE ALGORITHM:
  1. Resolve eligible loads (period or explicit mode); none -> ErrNoEligibleLoads.
  2. Derive the period from the selected loads when the caller left it unset.
  3. One LOAD_PAY line item per load (manual override wins over the formula).
  4. Deduction rows, then advance repayment against gross minus deductions.
  5. netPay = gross - deductions - repayment, floored at zero.
  6. One transaction: create the PENDING settlement + line items, claim the
     loads, claim the repaid advances. The compare-and-set claim is the
     single source of truth preventing double payment; losing a race aborts
     the whole transaction and surfaces a conflict the caller may retry.

PREVIEW:
  The same computation with no persistent claim: a read-only dry run the
  review screen renders before anyone commits money.

CANCELLATION:
  Generation is not cancellable mid-transaction; it commits fully or not
  at all. A caller that timed out must re-check settlement existence
  before retrying, since the commit may have landed after the timeout.
*/
package settlement

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateOptions tune one generation (or preview) call.
type GenerateOptions struct {
	// ExplicitLoadIDs switches to the trusted explicit-ids selection mode.
	ExplicitLoadIDs []LoadID

	// SettlementNumber overrides the generated SET-<year>-<seq> number.
	SettlementNumber string

	// ForceIncludeNotReady bypasses the readiness flag; honored only with
	// explicit load ids.
	ForceIncludeNotReady bool

	Notes string
}

// SettlementAggregator assembles settlements. Stateless; safe for
// concurrent use.
type SettlementAggregator struct {
	Storage TxStorage

	// Clock is injectable for deterministic tests.
	Clock func() time.Time
}

func NewSettlementAggregator(storage TxStorage) *SettlementAggregator {
	return &SettlementAggregator{Storage: storage, Clock: time.Now}
}

// Generate assembles and persists a PENDING settlement, atomically claiming
// its input loads and advances.
func (a *SettlementAggregator) Generate(ctx context.Context, driverID DriverID, period Period, opts GenerateOptions) (*Settlement, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}

	// Duplicate-period guard: only period mode, where the claim alone does
	// not distinguish "same period again" from "new loads in same period".
	if len(opts.ExplicitLoadIDs) == 0 {
		existing, err := a.Storage.FindSettlements(ctx, SettlementQuery{
			DriverID:    driverID,
			Statuses:    []ApprovalStatus{ApprovalPending, ApprovalApproved},
			ExactPeriod: &period,
		})
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return nil, &SettlementExistsError{
				SettlementNumber: existing[0].SettlementNumber,
				DriverID:         driverID,
			}
		}
	}

	s, repayments, err := a.compute(ctx, a.Storage, driverID, period, opts)
	if err != nil {
		return nil, err
	}

	now := a.Clock()
	s.ID = SettlementID(uuid.NewString())
	s.SettlementNumber = opts.SettlementNumber
	if s.SettlementNumber == "" {
		s.SettlementNumber = a.nextSettlementNumber(now)
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	for i := range s.LineItems {
		s.LineItems[i].ID = uuid.NewString()
	}

	claimedLoads := make([]LoadID, 0, len(s.LineItems))
	for _, li := range s.LineItems {
		if li.Source == SourceLoadPay {
			claimedLoads = append(claimedLoads, LoadID(li.ReferenceID))
		}
	}
	claimedAdvances := make([]AdvanceID, len(repayments))
	for i, r := range repayments {
		claimedAdvances[i] = r.AdvanceID
	}

	// A default number that collides is redrawn; a caller-supplied number
	// is used verbatim and never retried.
	for attempt := 0; ; attempt++ {
		err = a.Storage.WithTx(ctx, func(tx Storage) error {
			if err := tx.CreateSettlement(ctx, s); err != nil {
				return err
			}
			if err := tx.ClaimLoads(ctx, claimedLoads, s.ID); err != nil {
				return err
			}
			if len(claimedAdvances) > 0 {
				return tx.ClaimAdvances(ctx, claimedAdvances, s.ID)
			}
			return nil
		})
		if err == nil {
			return s, nil
		}
		if opts.SettlementNumber == "" && errors.Is(err, ErrSettlementNumberTaken) && attempt < 4 {
			s.SettlementNumber = a.nextSettlementNumber(now)
			continue
		}
		return nil, err
	}
}

// Preview runs the same computation as Generate without persisting anything
// or claiming any record.
func (a *SettlementAggregator) Preview(ctx context.Context, driverID DriverID, period Period, opts GenerateOptions) (*Settlement, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	s, _, err := a.compute(ctx, a.Storage, driverID, period, opts)
	return s, err
}

// compute builds the unsaved settlement and its repayment plan.
func (a *SettlementAggregator) compute(ctx context.Context, st Storage, driverID DriverID, period Period, opts GenerateOptions) (*Settlement, []AdvanceRepayment, error) {
	driver, err := st.GetDriver(ctx, driverID)
	if err != nil {
		return nil, nil, err
	}

	selector := &LoadEligibilitySelector{Storage: st}
	var loads []Load
	if len(opts.ExplicitLoadIDs) > 0 {
		loads, err = selector.SelectByIDs(ctx, driverID, opts.ExplicitLoadIDs, opts.ForceIncludeNotReady)
	} else {
		loads, err = selector.SelectForPeriod(ctx, driverID, period)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(loads) == 0 {
		return nil, nil, ErrNoEligibleLoads
	}

	if period.IsZero() {
		period = periodFromLoads(loads, a.Clock())
	}

	// Load pay rows.
	gross := decimal.Zero
	totalMiles := decimal.Zero
	items := make([]SettlementLineItem, 0, len(loads))
	for _, l := range loads {
		pay, err := LoadPay(driver, l)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, SettlementLineItem{
			Source:      SourceLoadPay,
			ReferenceID: string(l.ID),
			Description: fmt.Sprintf("Load %s (%s)", l.LoadNumber, pay.Rule),
			Amount:      pay.Amount,
		})
		gross = gross.Add(pay.Amount)
		totalMiles = totalMiles.Add(l.Metrics().EffectiveMiles())
	}

	// Deduction rows.
	evaluator := &DeductionRuleEvaluator{Storage: st}
	deductionItems, err := evaluator.Evaluate(ctx, driverID, gross, totalMiles)
	if err != nil {
		return nil, nil, err
	}
	totalDeductions := TotalDeductions(deductionItems)
	items = append(items, deductionItems...)

	// Advance repayment against what is left after deductions.
	ledger := &AdvanceLedger{Storage: st}
	plan, err := ledger.PlanRepayment(ctx, driverID, gross.Sub(totalDeductions))
	if err != nil {
		return nil, nil, err
	}
	items = append(items, plan.LineItems...)

	net := gross.Sub(totalDeductions).Sub(plan.Total)
	if net.IsNegative() {
		// Floor at zero; the excess is not carried forward.
		net = decimal.Zero
	}

	return &Settlement{
		DriverID:              driverID,
		PeriodStart:           period.Start,
		PeriodEnd:             period.End,
		LineItems:             items,
		GrossPay:              gross,
		TotalDeductions:       totalDeductions,
		TotalAdvanceRepayment: plan.Total,
		NetPay:                net,
		ApprovalStatus:        ApprovalPending,
		Notes:                 opts.Notes,
		CalculatedAt:          a.Clock(),
	}, plan.Repayments, nil
}

// nextSettlementNumber produces the default human-legible number,
// SET-<year>-<6 digits>. The sequence is drawn at random, never from the
// clock: rejected settlements keep their numbers reserved, and Generate
// redraws on the rare collision.
func (a *SettlementAggregator) nextSettlementNumber(now time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("SET-%d-%06d", now.Year(), binary.BigEndian.Uint32(u[:4])%1_000_000)
}

// periodFromLoads derives [min, max] of the loads' delivery dates, falling
// back to pickup dates, then to "now" for loads with no dates at all.
func periodFromLoads(loads []Load, now time.Time) Period {
	var start, end time.Time
	for _, l := range loads {
		at := l.DeliveredAt
		if at == nil {
			at = l.PickupAt
		}
		if at == nil {
			continue
		}
		if start.IsZero() || at.Before(start) {
			start = *at
		}
		if end.IsZero() || at.After(end) {
			end = *at
		}
	}
	if start.IsZero() {
		start, end = now, now
	}
	return Period{Start: start, End: end}
}

func validatePeriod(period Period) error {
	if !period.IsZero() && period.End.Before(period.Start) {
		return &ValidationError{Field: "period", Message: "end before start"}
	}
	return nil
}
