/*
storage.go - Persistence interface between the engine and the database

PURPOSE:
  Defines the narrow surface the engine reads and writes through. The
  raw persistence technology is out of scope; implementations back this
  with SQLite (store/sqlite) or memory (settlement/store).

CLAIM CONTRACT:
  ClaimLoads and ClaimAdvances are compare-and-set operations: they set
  SettlementID only where it is currently null, and fail the whole call
  if ANY requested record is already claimed. This single conditional
  update is the anti-double-pay guarantee; two concurrent generations
  racing for the same load resolve with exactly one winner.

TRANSACTIONS:
  Generate runs its writes (create settlement, claim loads, claim
  advances) inside one TxStorage.WithTx so partial application is never
  observable. Approve and reject do the same for their side effects.

SEE ALSO:
  - settlement/store/memory.go: in-memory implementation for tests
  - store/sqlite/sqlite.go: production implementation
*/
package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORAGE - read/update surface consumed by the engine
// =============================================================================

// Storage is the persistence interface the engine consumes.
// Get* methods return the package's not-found sentinels for missing rows.
type Storage interface {
	// GetDriver returns the driver or ErrDriverNotFound. Soft-deleted
	// drivers are treated as missing.
	GetDriver(ctx context.Context, id DriverID) (*Driver, error)

	// FindLoads returns the driver's not-deleted, unclaimed loads whose
	// delivery falls in [from, to], ordered by delivery date ascending.
	// Status and readiness filtering is the selector's job.
	FindLoads(ctx context.Context, driverID DriverID, from, to time.Time) ([]Load, error)

	// GetLoads fetches loads by id; missing ids are simply absent from the
	// result (the selector decides whether that is fatal).
	GetLoads(ctx context.Context, ids []LoadID) ([]Load, error)

	// UnclaimedAdvances returns APPROVED, unpaid, unclaimed advances for
	// the driver, oldest request first (FIFO repayment order).
	UnclaimedAdvances(ctx context.Context, driverID DriverID) ([]DriverAdvance, error)

	// ActiveDeductionRules returns the driver's active recurring rules.
	ActiveDeductionRules(ctx context.Context, driverID DriverID) ([]DeductionRule, error)

	// GetSettlement returns the settlement with its line items, or
	// ErrSettlementNotFound.
	GetSettlement(ctx context.Context, id SettlementID) (*Settlement, error)

	// FindSettlements returns settlements matching the query, newest first.
	FindSettlements(ctx context.Context, q SettlementQuery) ([]Settlement, error)

	// CreateSettlement persists a new settlement and its line items.
	// Fails on a duplicate settlement number.
	CreateSettlement(ctx context.Context, s *Settlement) error

	// UpdateSettlement persists the approval-transition fields (status,
	// payment method/reference, approver, rejection reason, timestamps).
	// Everything else on a settlement is immutable after creation.
	UpdateSettlement(ctx context.Context, s *Settlement) error

	// ClaimLoads conditionally sets SettlementID on every load, failing
	// with *LoadAlreadySettledError if any is already claimed.
	ClaimLoads(ctx context.Context, ids []LoadID, settlementID SettlementID) error

	// ClaimAdvances conditionally sets SettlementID on every advance,
	// failing with ErrAdvanceAlreadyClaimed if any is already claimed.
	ClaimAdvances(ctx context.Context, ids []AdvanceID, settlementID SettlementID) error

	// ReleaseLoads clears the claim on all loads held by the settlement so
	// they re-enter the eligible pool. Used by rejection.
	ReleaseLoads(ctx context.Context, settlementID SettlementID) error

	// ReleaseAdvances clears the claim on all advances held by the
	// settlement. Used by rejection.
	ReleaseAdvances(ctx context.Context, settlementID SettlementID) error

	// LoadsBySettlement / AdvancesBySettlement return the records currently
	// claimed by the settlement.
	LoadsBySettlement(ctx context.Context, settlementID SettlementID) ([]Load, error)
	AdvancesBySettlement(ctx context.Context, settlementID SettlementID) ([]DriverAdvance, error)

	// SettleAdvanceRepayments applies approved repayments: each advance's
	// AmountRepaid grows by the repayment amount; fully repaid advances get
	// PaidAt set, partially repaid ones have their claim cleared so the
	// remainder re-enters the eligible pool.
	SettleAdvanceRepayments(ctx context.Context, repayments []AdvanceRepayment, paidAt time.Time) error
}

// TxStorage wraps Storage with transaction support. If fn returns an error
// the transaction is rolled back, otherwise committed.
type TxStorage interface {
	Storage
	WithTx(ctx context.Context, fn func(Storage) error) error
}

// =============================================================================
// QUERY / WRITE VALUE TYPES
// =============================================================================

// SettlementQuery filters FindSettlements. Nil/empty fields match anything.
type SettlementQuery struct {
	DriverID DriverID
	Statuses []ApprovalStatus

	// ExactPeriod matches settlements covering precisely this period
	// (duplicate-period guard in the aggregator).
	ExactPeriod *Period
}

// AdvanceRepayment records how much of one advance a settlement recovers.
type AdvanceRepayment struct {
	AdvanceID AdvanceID
	Amount    decimal.Decimal
}
