/*
Package settlement implements the driver settlement computation engine.

PURPOSE:
  This package turns a driver's completed loads, pay configuration,
  outstanding cash advances, and recurring deductions into a single
  auditable settlement record, and carries that record through the
  approval workflow that issues payment and repays advances.

KEY CONCEPTS IN THIS FILE (types.go):
  - Driver: pay configuration (pay type + rate), referenced not owned
  - Load: a unit of freight work with financial fields and a claim slot
  - DriverAdvance: cash advanced ahead of settlement, repaid FIFO
  - DeductionRule: recurring per-driver charge (tagged variant)
  - Settlement / SettlementLineItem: the aggregate output
  - Period: the pay period boundary

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every monetary and mileage quantity
  2. One claim per load: a load is referenced by at most one non-rejected
     settlement; the claim is a compare-and-set on SettlementID
  3. Auditability: every line item names its source record and the rule
     that produced its amount
  4. Stateless services: every component is a value holding an injected
     Storage, with no shared mutable state across calls

SEE ALSO:
  - payrate.go: gross pay formulas
  - eligibility.go: which loads may be settled
  - advances.go: FIFO advance repayment
  - aggregator.go: settlement assembly and atomic claiming
  - statemachine.go: approve/reject lifecycle
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DriverID string
type LoadID string
type AdvanceID string
type RuleID string
type SettlementID string

// =============================================================================
// DRIVER - pay configuration only; the rest of the record is out of scope
// =============================================================================

// PayType selects the gross pay formula for a driver's loads.
type PayType string

const (
	PayPerMile    PayType = "PER_MILE"
	PayPerLoad    PayType = "PER_LOAD"
	PayPercentage PayType = "PERCENTAGE"
	PayHourly     PayType = "HOURLY"
)

// Driver carries the pay configuration the engine reads. A zero PayType or
// nil PayRate means the driver cannot be settled (ErrMissingPayConfiguration)
// unless every load carries a manual pay override.
type Driver struct {
	ID        DriverID
	Name      string
	PayType   PayType
	PayRate   *decimal.Decimal
	DeletedAt *time.Time
}

// HasPayConfiguration reports whether the calculator can run for this driver.
func (d *Driver) HasPayConfiguration() bool {
	return d.PayType != "" && d.PayRate != nil
}

// =============================================================================
// LOAD - a unit of freight work with a settlement claim slot
// =============================================================================

type LoadStatus string

const (
	LoadDelivered LoadStatus = "DELIVERED"
	LoadInvoiced  LoadStatus = "INVOICED"
	LoadPaid      LoadStatus = "PAID"
)

// SettleableStatuses are the load statuses eligible for settlement.
var SettleableStatuses = []LoadStatus{LoadDelivered, LoadInvoiced, LoadPaid}

type Load struct {
	ID         LoadID
	DriverID   DriverID
	LoadNumber string
	Status     LoadStatus

	Revenue     decimal.Decimal
	TotalMiles  decimal.Decimal
	LoadedMiles decimal.Decimal
	EmptyMiles  decimal.Decimal

	// DriverPay is a precomputed manual override. When set and positive it
	// wins over the driver's pay formula.
	DriverPay *decimal.Decimal

	PickupAt    *time.Time
	DeliveredAt *time.Time

	// ReadyForSettlement marks that upstream completion/accounting steps
	// have finished. Left untouched as an audit flag once claimed.
	ReadyForSettlement bool

	// SettlementID is the claim slot. At most one non-rejected settlement
	// may hold it; the storage layer enforces the null-to-value transition.
	SettlementID *SettlementID

	DeletedAt *time.Time
}

// Metrics extracts the fields the pay calculator needs.
func (l Load) Metrics() LoadMetrics {
	return LoadMetrics{
		TotalMiles:  l.TotalMiles,
		LoadedMiles: l.LoadedMiles,
		EmptyMiles:  l.EmptyMiles,
		Revenue:     l.Revenue,
	}
}

// Settled reports whether the load is currently claimed by a settlement.
func (l Load) Settled() bool { return l.SettlementID != nil }

// =============================================================================
// DRIVER ADVANCE - cash disbursed ahead of settlement
// =============================================================================

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// DriverAdvance is created by the (external) driver request flow. The engine
// only reads APPROVED, unpaid advances and repays them through settlements.
// AmountRepaid is the running total across settlements; it is only
// incremented when the repaying settlement is approved.
type DriverAdvance struct {
	ID             AdvanceID
	DriverID       DriverID
	Amount         decimal.Decimal
	AmountRepaid   decimal.Decimal
	ApprovalStatus ApprovalStatus
	RequestedAt    time.Time
	PaidAt         *time.Time
	SettlementID   *SettlementID
	Notes          string
}

// Outstanding returns the unrecovered balance of the advance.
func (a DriverAdvance) Outstanding() decimal.Decimal {
	return a.Amount.Sub(a.AmountRepaid)
}

// =============================================================================
// DEDUCTION RULE - recurring per-driver charge, tagged variant
// =============================================================================

// DeductionKind tags how a rule's amount is computed. The loosely typed
// JSON configuration is validated into this variant once at the boundary
// (factory package); the engine never sees a generic map.
type DeductionKind string

const (
	DeductionFixed      DeductionKind = "FIXED"      // flat Amount per settlement
	DeductionPercentage DeductionKind = "PERCENTAGE" // Percentage of gross pay
	DeductionPerMile    DeductionKind = "PER_MILE"   // PerMileRate times settled miles
)

type DeductionRule struct {
	ID       RuleID
	DriverID DriverID
	Name     string
	Kind     DeductionKind

	// Exactly one of these carries the rate for the rule's Kind.
	Amount      decimal.Decimal
	Percentage  decimal.Decimal
	PerMileRate decimal.Decimal

	// MinGrossPay skips the rule entirely when gross pay is below it.
	// MaxAmount caps the computed charge.
	MinGrossPay *decimal.Decimal
	MaxAmount   *decimal.Decimal

	IsActive bool
}

// =============================================================================
// SETTLEMENT - the aggregate output
// =============================================================================

// LineItemSource identifies what a settlement row is attributing money to.
type LineItemSource string

const (
	SourceLoadPay          LineItemSource = "LOAD_PAY"
	SourceDeduction        LineItemSource = "DEDUCTION"
	SourceAdvanceRepayment LineItemSource = "ADVANCE_REPAYMENT"
)

// SettlementLineItem is one attributable row of the settlement breakdown.
// Amount is signed: positive for pay, negative for deductions and
// advance repayments.
type SettlementLineItem struct {
	ID          string
	Source      LineItemSource
	ReferenceID string // load, rule, or advance id
	Description string
	Amount      decimal.Decimal
}

// Settlement is the authoritative record of what a driver is owed for a
// pay period. Born PENDING at generation (claiming its inputs), mutated only
// by the approve/reject transition, never deleted.
type Settlement struct {
	ID               SettlementID
	SettlementNumber string
	DriverID         DriverID

	PeriodStart time.Time
	PeriodEnd   time.Time

	LineItems []SettlementLineItem

	GrossPay              decimal.Decimal
	TotalDeductions       decimal.Decimal // positive magnitude
	TotalAdvanceRepayment decimal.Decimal // positive magnitude
	NetPay                decimal.Decimal // floored at zero

	ApprovalStatus   ApprovalStatus
	PaymentMethod    *string
	PaymentReference *string
	ApprovedBy       *string
	ApprovedAt       *time.Time
	RejectedBy       *string
	RejectionReason  *string

	Notes        string
	CalculatedAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether the settlement has left the PENDING state.
func (s *Settlement) Terminal() bool {
	return s.ApprovalStatus != ApprovalPending
}

// LineItemsBySource filters the breakdown rows.
func (s *Settlement) LineItemsBySource(src LineItemSource) []SettlementLineItem {
	var out []SettlementLineItem
	for _, li := range s.LineItems {
		if li.Source == src {
			out = append(out, li)
		}
	}
	return out
}

// =============================================================================
// PERIOD
// =============================================================================

// Period is the pay period boundary, inclusive on both ends.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls within [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// IsZero reports whether the period was left unset by the caller, in which
// case the aggregator derives it from the selected loads.
func (p Period) IsZero() bool { return p.Start.IsZero() && p.End.IsZero() }
