/*
Package sqlite provides the SQLite-backed implementation of settlement.TxStorage.

PURPOSE:
  Persists drivers, loads, advances, deduction rules, and settlements.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

CLAIM ENFORCEMENT:
  The anti-double-pay guarantee lives here as a conditional UPDATE:

    UPDATE loads SET settlement_id = ? WHERE id = ? AND settlement_id IS NULL

  RowsAffected < 1 means somebody else holds the claim, and the whole
  claim call fails. Inside WithTx the partial updates roll back, so two
  generations racing for the same load resolve with exactly one winner.

KEY TABLES:
  drivers:               pay configuration
  loads:                 freight work with the settlement_id claim slot
  driver_advances:       cash advances with running repayment totals
  deduction_rules:       recurring per-driver charges
  settlements:           the aggregate output
  settlement_line_items: ordered breakdown rows, one settlement each

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers do not
  block the single writer.

USAGE:
  store, err := sqlite.New("./data/settlements.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := settlement.NewEngine(store, nil)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - settlement/storage.go: interface definition and claim contract
  - settlement/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// runner is satisfied by *sql.DB and *sql.Tx so every query helper works
// both standalone and inside WithTx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements settlement.TxStorage using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS drivers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		pay_type TEXT NOT NULL DEFAULT '',
		pay_rate TEXT,
		deleted_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS loads (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL,
		load_number TEXT NOT NULL,
		status TEXT NOT NULL,
		revenue TEXT NOT NULL DEFAULT '0',
		total_miles TEXT NOT NULL DEFAULT '0',
		loaded_miles TEXT NOT NULL DEFAULT '0',
		empty_miles TEXT NOT NULL DEFAULT '0',
		driver_pay TEXT,
		pickup_at TEXT,
		delivered_at TEXT,
		ready_for_settlement BOOLEAN NOT NULL DEFAULT FALSE,
		settlement_id TEXT,
		deleted_at TEXT,
		created_at TEXT NOT NULL
	);

	-- Eligible-load scan (hot path for generation)
	CREATE INDEX IF NOT EXISTS idx_loads_driver_delivered
		ON loads(driver_id, delivered_at);
	CREATE INDEX IF NOT EXISTS idx_loads_settlement
		ON loads(settlement_id) WHERE settlement_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS driver_advances (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		amount_repaid TEXT NOT NULL DEFAULT '0',
		approval_status TEXT NOT NULL DEFAULT 'PENDING',
		requested_at TEXT NOT NULL,
		paid_at TEXT,
		settlement_id TEXT,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_advances_driver
		ON driver_advances(driver_id, requested_at);
	CREATE INDEX IF NOT EXISTS idx_advances_settlement
		ON driver_advances(settlement_id) WHERE settlement_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS deduction_rules (
		id TEXT PRIMARY KEY,
		driver_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '0',
		percentage TEXT NOT NULL DEFAULT '0',
		per_mile_rate TEXT NOT NULL DEFAULT '0',
		min_gross_pay TEXT,
		max_amount TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_driver_active
		ON deduction_rules(driver_id, is_active);

	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		settlement_number TEXT NOT NULL UNIQUE,
		driver_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		gross_pay TEXT NOT NULL,
		total_deductions TEXT NOT NULL,
		total_advance_repayment TEXT NOT NULL,
		net_pay TEXT NOT NULL,
		approval_status TEXT NOT NULL DEFAULT 'PENDING',
		payment_method TEXT,
		payment_reference TEXT,
		approved_by TEXT,
		approved_at TEXT,
		rejected_by TEXT,
		rejection_reason TEXT,
		notes TEXT NOT NULL DEFAULT '',
		calculated_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_driver
		ON settlements(driver_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_settlements_status
		ON settlements(approval_status);
	-- Duplicate-period guard lookup
	CREATE INDEX IF NOT EXISTS idx_settlements_driver_period
		ON settlements(driver_id, period_start, period_end);

	CREATE TABLE IF NOT EXISTS settlement_line_items (
		id TEXT PRIMARY KEY,
		settlement_id TEXT NOT NULL REFERENCES settlements(id),
		position INTEGER NOT NULL,
		source TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		description TEXT NOT NULL,
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_line_items_settlement
		ON settlement_line_items(settlement_id, position);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STORAGE INTERFACE (settlement.Storage)
// =============================================================================

func (s *Store) GetDriver(ctx context.Context, id settlement.DriverID) (*settlement.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDriver(ctx, s.db, id)
}

func getDriver(ctx context.Context, q runner, id settlement.DriverID) (*settlement.Driver, error) {
	var (
		d         settlement.Driver
		payRate   sql.NullString
		deletedAt sql.NullString
	)

	err := q.QueryRowContext(ctx,
		"SELECT id, name, pay_type, pay_rate, deleted_at FROM drivers WHERE id = ?",
		id,
	).Scan(&d.ID, &d.Name, &d.PayType, &payRate, &deletedAt)

	if err == sql.ErrNoRows {
		return nil, settlement.ErrDriverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get driver: %w", err)
	}
	if deletedAt.Valid {
		return nil, settlement.ErrDriverNotFound
	}

	d.PayRate = nullDecimal(payRate)
	return &d, nil
}

func (s *Store) FindLoads(ctx context.Context, driverID settlement.DriverID, from, to time.Time) ([]settlement.Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findLoads(ctx, s.db, driverID, from, to)
}

func findLoads(ctx context.Context, q runner, driverID settlement.DriverID, from, to time.Time) ([]settlement.Load, error) {
	query := `
		SELECT ` + loadColumns + `
		FROM loads
		WHERE driver_id = ? AND deleted_at IS NULL AND settlement_id IS NULL
		  AND delivered_at IS NOT NULL
		  AND delivered_at >= ? AND delivered_at <= ?
		ORDER BY delivered_at ASC
	`

	return queryLoads(ctx, q, query, driverID,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
}

func (s *Store) GetLoads(ctx context.Context, ids []settlement.LoadID) ([]settlement.Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLoads(ctx, s.db, ids)
}

func getLoads(ctx context.Context, q runner, ids []settlement.LoadID) ([]settlement.Load, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `
		SELECT ` + loadColumns + `
		FROM loads
		WHERE id IN (` + placeholders + `)
		ORDER BY delivered_at ASC
	`

	return queryLoads(ctx, q, query, args...)
}

func (s *Store) UnclaimedAdvances(ctx context.Context, driverID settlement.DriverID) ([]settlement.DriverAdvance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return unclaimedAdvances(ctx, s.db, driverID)
}

func unclaimedAdvances(ctx context.Context, q runner, driverID settlement.DriverID) ([]settlement.DriverAdvance, error) {
	query := `
		SELECT ` + advanceColumns + `
		FROM driver_advances
		WHERE driver_id = ? AND approval_status = ?
		  AND paid_at IS NULL AND settlement_id IS NULL
		ORDER BY requested_at ASC
	`

	return queryAdvances(ctx, q, query, driverID, settlement.ApprovalApproved)
}

func (s *Store) ActiveDeductionRules(ctx context.Context, driverID settlement.DriverID) ([]settlement.DeductionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeDeductionRules(ctx, s.db, driverID)
}

func activeDeductionRules(ctx context.Context, q runner, driverID settlement.DriverID) ([]settlement.DeductionRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM deduction_rules
		WHERE driver_id = ? AND is_active = TRUE
		ORDER BY name ASC
	`

	return queryRules(ctx, q, query, driverID)
}

func (s *Store) GetSettlement(ctx context.Context, id settlement.SettlementID) (*settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSettlement(ctx, s.db, id)
}

func getSettlement(ctx context.Context, q runner, id settlement.SettlementID) (*settlement.Settlement, error) {
	query := `
		SELECT ` + settlementColumns + `
		FROM settlements WHERE id = ?
	`

	results, err := querySettlements(ctx, q, query, id)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, settlement.ErrSettlementNotFound
	}

	st := results[0]
	items, err := queryLineItems(ctx, q, st.ID)
	if err != nil {
		return nil, err
	}
	st.LineItems = items
	return &st, nil
}

func (s *Store) FindSettlements(ctx context.Context, filter settlement.SettlementQuery) ([]settlement.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findSettlements(ctx, s.db, filter)
}

func findSettlements(ctx context.Context, q runner, filter settlement.SettlementQuery) ([]settlement.Settlement, error) {
	var (
		conds []string
		args  []any
	)
	if filter.DriverID != "" {
		conds = append(conds, "driver_id = ?")
		args = append(args, filter.DriverID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Statuses))
		conds = append(conds, "approval_status IN ("+placeholders[:len(placeholders)-1]+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if filter.ExactPeriod != nil {
		conds = append(conds, "period_start = ? AND period_end = ?")
		args = append(args,
			filter.ExactPeriod.Start.UTC().Format(time.RFC3339),
			filter.ExactPeriod.End.UTC().Format(time.RFC3339))
	}

	query := "SELECT " + settlementColumns + " FROM settlements"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	results, err := querySettlements(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}

	for i := range results {
		items, err := queryLineItems(ctx, q, results[i].ID)
		if err != nil {
			return nil, err
		}
		results[i].LineItems = items
	}
	return results, nil
}

func (s *Store) CreateSettlement(ctx context.Context, st *settlement.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createSettlement(ctx, s.db, st)
}

func createSettlement(ctx context.Context, q runner, st *settlement.Settlement) error {
	query := `
		INSERT INTO settlements
		(id, settlement_number, driver_id, period_start, period_end,
		 gross_pay, total_deductions, total_advance_repayment, net_pay,
		 approval_status, payment_method, payment_reference, approved_by,
		 approved_at, rejected_by, rejection_reason, notes, calculated_at,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		st.ID, st.SettlementNumber, st.DriverID,
		st.PeriodStart.UTC().Format(time.RFC3339),
		st.PeriodEnd.UTC().Format(time.RFC3339),
		st.GrossPay.String(), st.TotalDeductions.String(),
		st.TotalAdvanceRepayment.String(), st.NetPay.String(),
		st.ApprovalStatus,
		st.PaymentMethod, st.PaymentReference,
		st.ApprovedBy, nullTimePtr(st.ApprovedAt),
		st.RejectedBy, st.RejectionReason,
		st.Notes,
		st.CalculatedAt.UTC().Format(time.RFC3339),
		st.CreatedAt.UTC().Format(time.RFC3339),
		st.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// IDs are fresh UUIDs, so the colliding column is the number.
			return &settlement.SettlementNumberTakenError{
				SettlementNumber: st.SettlementNumber,
			}
		}
		return fmt.Errorf("failed to create settlement: %w", err)
	}

	for i, li := range st.LineItems {
		_, err := q.ExecContext(ctx, `
			INSERT INTO settlement_line_items
			(id, settlement_id, position, source, reference_id, description, amount)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, li.ID, st.ID, i, li.Source, li.ReferenceID, li.Description, li.Amount.String())
		if err != nil {
			return fmt.Errorf("failed to create line item: %w", err)
		}
	}
	return nil
}

func (s *Store) UpdateSettlement(ctx context.Context, st *settlement.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSettlement(ctx, s.db, st)
}

func updateSettlement(ctx context.Context, q runner, st *settlement.Settlement) error {
	// Only the approval-transition fields; the breakdown is immutable.
	query := `
		UPDATE settlements SET
			approval_status = ?,
			payment_method = ?,
			payment_reference = ?,
			approved_by = ?,
			approved_at = ?,
			rejected_by = ?,
			rejection_reason = ?,
			updated_at = ?
		WHERE id = ?
	`

	res, err := q.ExecContext(ctx, query,
		st.ApprovalStatus,
		st.PaymentMethod, st.PaymentReference,
		st.ApprovedBy, nullTimePtr(st.ApprovedAt),
		st.RejectedBy, st.RejectionReason,
		st.UpdatedAt.UTC().Format(time.RFC3339),
		st.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update settlement: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return settlement.ErrSettlementNotFound
	}
	return nil
}

func (s *Store) ClaimLoads(ctx context.Context, ids []settlement.LoadID, settlementID settlement.SettlementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Standalone call gets its own transaction so a partial claim never lands.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := claimLoads(ctx, tx, ids, settlementID); err != nil {
		return err
	}
	return tx.Commit()
}

func claimLoads(ctx context.Context, q runner, ids []settlement.LoadID, settlementID settlement.SettlementID) error {
	var contested []settlement.LoadID
	for _, id := range ids {
		res, err := q.ExecContext(ctx, `
			UPDATE loads SET settlement_id = ?
			WHERE id = ? AND settlement_id IS NULL AND deleted_at IS NULL
		`, settlementID, id)
		if err != nil {
			return fmt.Errorf("failed to claim load: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			contested = append(contested, id)
		}
	}
	if len(contested) > 0 {
		return &settlement.LoadAlreadySettledError{LoadIDs: contested}
	}
	return nil
}

func (s *Store) ClaimAdvances(ctx context.Context, ids []settlement.AdvanceID, settlementID settlement.SettlementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := claimAdvances(ctx, tx, ids, settlementID); err != nil {
		return err
	}
	return tx.Commit()
}

func claimAdvances(ctx context.Context, q runner, ids []settlement.AdvanceID, settlementID settlement.SettlementID) error {
	for _, id := range ids {
		res, err := q.ExecContext(ctx, `
			UPDATE driver_advances SET settlement_id = ?
			WHERE id = ? AND settlement_id IS NULL AND paid_at IS NULL
		`, settlementID, id)
		if err != nil {
			return fmt.Errorf("failed to claim advance: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return settlement.ErrAdvanceAlreadyClaimed
		}
	}
	return nil
}

func (s *Store) ReleaseLoads(ctx context.Context, settlementID settlement.SettlementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return releaseLoads(ctx, s.db, settlementID)
}

func releaseLoads(ctx context.Context, q runner, settlementID settlement.SettlementID) error {
	_, err := q.ExecContext(ctx,
		"UPDATE loads SET settlement_id = NULL WHERE settlement_id = ?", settlementID)
	if err != nil {
		return fmt.Errorf("failed to release loads: %w", err)
	}
	return nil
}

func (s *Store) ReleaseAdvances(ctx context.Context, settlementID settlement.SettlementID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return releaseAdvances(ctx, s.db, settlementID)
}

func releaseAdvances(ctx context.Context, q runner, settlementID settlement.SettlementID) error {
	_, err := q.ExecContext(ctx,
		"UPDATE driver_advances SET settlement_id = NULL WHERE settlement_id = ?", settlementID)
	if err != nil {
		return fmt.Errorf("failed to release advances: %w", err)
	}
	return nil
}

func (s *Store) LoadsBySettlement(ctx context.Context, settlementID settlement.SettlementID) ([]settlement.Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return loadsBySettlement(ctx, s.db, settlementID)
}

func loadsBySettlement(ctx context.Context, q runner, settlementID settlement.SettlementID) ([]settlement.Load, error) {
	query := `
		SELECT ` + loadColumns + `
		FROM loads WHERE settlement_id = ?
		ORDER BY delivered_at ASC
	`
	return queryLoads(ctx, q, query, settlementID)
}

func (s *Store) AdvancesBySettlement(ctx context.Context, settlementID settlement.SettlementID) ([]settlement.DriverAdvance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return advancesBySettlement(ctx, s.db, settlementID)
}

func advancesBySettlement(ctx context.Context, q runner, settlementID settlement.SettlementID) ([]settlement.DriverAdvance, error) {
	query := `
		SELECT ` + advanceColumns + `
		FROM driver_advances WHERE settlement_id = ?
		ORDER BY requested_at ASC
	`
	return queryAdvances(ctx, q, query, settlementID)
}

func (s *Store) SettleAdvanceRepayments(ctx context.Context, repayments []settlement.AdvanceRepayment, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := settleAdvanceRepayments(ctx, tx, repayments, paidAt); err != nil {
		return err
	}
	return tx.Commit()
}

func settleAdvanceRepayments(ctx context.Context, q runner, repayments []settlement.AdvanceRepayment, paidAt time.Time) error {
	for _, r := range repayments {
		var amountStr, repaidStr string
		err := q.QueryRowContext(ctx,
			"SELECT amount, amount_repaid FROM driver_advances WHERE id = ?", r.AdvanceID,
		).Scan(&amountStr, &repaidStr)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read advance: %w", err)
		}

		amount := mustDecimal(amountStr)
		repaid := mustDecimal(repaidStr).Add(r.Amount)

		if repaid.GreaterThanOrEqual(amount) {
			_, err = q.ExecContext(ctx, `
				UPDATE driver_advances SET amount_repaid = ?, paid_at = ?
				WHERE id = ?
			`, repaid.String(), paidAt.UTC().Format(time.RFC3339), r.AdvanceID)
		} else {
			// Partially repaid: clear the claim so the remainder
			// re-enters the eligible pool.
			_, err = q.ExecContext(ctx, `
				UPDATE driver_advances SET amount_repaid = ?, settlement_id = NULL
				WHERE id = ?
			`, repaid.String(), r.AdvanceID)
		}
		if err != nil {
			return fmt.Errorf("failed to settle advance repayment: %w", err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (settlement.TxStorage interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(settlement.Storage) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetDriver(ctx context.Context, id settlement.DriverID) (*settlement.Driver, error) {
	return getDriver(ctx, ts.tx, id)
}

func (ts *txStore) FindLoads(ctx context.Context, driverID settlement.DriverID, from, to time.Time) ([]settlement.Load, error) {
	return findLoads(ctx, ts.tx, driverID, from, to)
}

func (ts *txStore) GetLoads(ctx context.Context, ids []settlement.LoadID) ([]settlement.Load, error) {
	return getLoads(ctx, ts.tx, ids)
}

func (ts *txStore) UnclaimedAdvances(ctx context.Context, driverID settlement.DriverID) ([]settlement.DriverAdvance, error) {
	return unclaimedAdvances(ctx, ts.tx, driverID)
}

func (ts *txStore) ActiveDeductionRules(ctx context.Context, driverID settlement.DriverID) ([]settlement.DeductionRule, error) {
	return activeDeductionRules(ctx, ts.tx, driverID)
}

func (ts *txStore) GetSettlement(ctx context.Context, id settlement.SettlementID) (*settlement.Settlement, error) {
	return getSettlement(ctx, ts.tx, id)
}

func (ts *txStore) FindSettlements(ctx context.Context, q settlement.SettlementQuery) ([]settlement.Settlement, error) {
	return findSettlements(ctx, ts.tx, q)
}

func (ts *txStore) CreateSettlement(ctx context.Context, st *settlement.Settlement) error {
	return createSettlement(ctx, ts.tx, st)
}

func (ts *txStore) UpdateSettlement(ctx context.Context, st *settlement.Settlement) error {
	return updateSettlement(ctx, ts.tx, st)
}

func (ts *txStore) ClaimLoads(ctx context.Context, ids []settlement.LoadID, settlementID settlement.SettlementID) error {
	return claimLoads(ctx, ts.tx, ids, settlementID)
}

func (ts *txStore) ClaimAdvances(ctx context.Context, ids []settlement.AdvanceID, settlementID settlement.SettlementID) error {
	return claimAdvances(ctx, ts.tx, ids, settlementID)
}

func (ts *txStore) ReleaseLoads(ctx context.Context, settlementID settlement.SettlementID) error {
	return releaseLoads(ctx, ts.tx, settlementID)
}

func (ts *txStore) ReleaseAdvances(ctx context.Context, settlementID settlement.SettlementID) error {
	return releaseAdvances(ctx, ts.tx, settlementID)
}

func (ts *txStore) LoadsBySettlement(ctx context.Context, settlementID settlement.SettlementID) ([]settlement.Load, error) {
	return loadsBySettlement(ctx, ts.tx, settlementID)
}

func (ts *txStore) AdvancesBySettlement(ctx context.Context, settlementID settlement.SettlementID) ([]settlement.DriverAdvance, error) {
	return advancesBySettlement(ctx, ts.tx, settlementID)
}

func (ts *txStore) SettleAdvanceRepayments(ctx context.Context, repayments []settlement.AdvanceRepayment, paidAt time.Time) error {
	return settleAdvanceRepayments(ctx, ts.tx, repayments, paidAt)
}

// =============================================================================
// BACK-OFFICE CRUD (record management behind the API)
// =============================================================================

// SaveDriver inserts or updates a driver record.
func (s *Store) SaveDriver(ctx context.Context, d settlement.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO drivers (id, name, pay_type, pay_rate, deleted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			pay_type = excluded.pay_type,
			pay_rate = excluded.pay_rate,
			deleted_at = excluded.deleted_at
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.Name, d.PayType,
		nullDecimalPtr(d.PayRate), nullTimePtr(d.DeletedAt),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListDrivers returns all not-deleted drivers.
func (s *Store) ListDrivers(ctx context.Context) ([]settlement.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, pay_type, pay_rate, deleted_at FROM drivers WHERE deleted_at IS NULL ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drivers []settlement.Driver
	for rows.Next() {
		var d settlement.Driver
		var payRate, deletedAt sql.NullString
		if err := rows.Scan(&d.ID, &d.Name, &d.PayType, &payRate, &deletedAt); err != nil {
			return nil, err
		}
		d.PayRate = nullDecimal(payRate)
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

// SaveLoad inserts or updates a load record. The settlement claim slot is
// deliberately not writable here; claims only move through ClaimLoads and
// ReleaseLoads.
func (s *Store) SaveLoad(ctx context.Context, l settlement.Load) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO loads
		(id, driver_id, load_number, status, revenue, total_miles, loaded_miles,
		 empty_miles, driver_pay, pickup_at, delivered_at, ready_for_settlement,
		 settlement_id, deleted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			driver_id = excluded.driver_id,
			load_number = excluded.load_number,
			status = excluded.status,
			revenue = excluded.revenue,
			total_miles = excluded.total_miles,
			loaded_miles = excluded.loaded_miles,
			empty_miles = excluded.empty_miles,
			driver_pay = excluded.driver_pay,
			pickup_at = excluded.pickup_at,
			delivered_at = excluded.delivered_at,
			ready_for_settlement = excluded.ready_for_settlement,
			deleted_at = excluded.deleted_at
	`

	_, err := s.db.ExecContext(ctx, query,
		l.ID, l.DriverID, l.LoadNumber, l.Status,
		l.Revenue.String(), l.TotalMiles.String(),
		l.LoadedMiles.String(), l.EmptyMiles.String(),
		nullDecimalPtr(l.DriverPay),
		nullTimePtr(l.PickupAt), nullTimePtr(l.DeliveredAt),
		l.ReadyForSettlement,
		nullTimePtr(l.DeletedAt),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListLoads returns loads, optionally filtered by driver.
func (s *Store) ListLoads(ctx context.Context, driverID settlement.DriverID) ([]settlement.Load, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if driverID != "" {
		query := `
			SELECT ` + loadColumns + `
			FROM loads WHERE driver_id = ? AND deleted_at IS NULL
			ORDER BY delivered_at ASC
		`
		return queryLoads(ctx, s.db, query, driverID)
	}

	query := `
		SELECT ` + loadColumns + `
		FROM loads WHERE deleted_at IS NULL
		ORDER BY delivered_at ASC
	`
	return queryLoads(ctx, s.db, query)
}

// SaveAdvance inserts or updates a driver advance. Repayment progress and
// the claim slot only move through the engine.
func (s *Store) SaveAdvance(ctx context.Context, a settlement.DriverAdvance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO driver_advances
		(id, driver_id, amount, amount_repaid, approval_status, requested_at,
		 paid_at, settlement_id, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			approval_status = excluded.approval_status,
			notes = excluded.notes
	`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.DriverID, a.Amount.String(), a.AmountRepaid.String(),
		a.ApprovalStatus, a.RequestedAt.UTC().Format(time.RFC3339),
		nullTimePtr(a.PaidAt), a.Notes,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListAdvances returns a driver's advances, oldest request first.
func (s *Store) ListAdvances(ctx context.Context, driverID settlement.DriverID) ([]settlement.DriverAdvance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + advanceColumns + `
		FROM driver_advances WHERE driver_id = ?
		ORDER BY requested_at ASC
	`
	return queryAdvances(ctx, s.db, query, driverID)
}

// SaveRule inserts or updates a deduction rule.
func (s *Store) SaveRule(ctx context.Context, r settlement.DeductionRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO deduction_rules
		(id, driver_id, name, kind, amount, percentage, per_mile_rate,
		 min_gross_pay, max_amount, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			amount = excluded.amount,
			percentage = excluded.percentage,
			per_mile_rate = excluded.per_mile_rate,
			min_gross_pay = excluded.min_gross_pay,
			max_amount = excluded.max_amount,
			is_active = excluded.is_active
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.DriverID, r.Name, r.Kind,
		r.Amount.String(), r.Percentage.String(), r.PerMileRate.String(),
		nullDecimalPtr(r.MinGrossPay), nullDecimalPtr(r.MaxAmount),
		r.IsActive,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// ListRules returns all of a driver's rules, active or not.
func (s *Store) ListRules(ctx context.Context, driverID settlement.DriverID) ([]settlement.DeductionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + ruleColumns + `
		FROM deduction_rules WHERE driver_id = ?
		ORDER BY name ASC
	`
	return queryRules(ctx, s.db, query, driverID)
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"settlement_line_items", "settlements", "deduction_rules", "driver_advances", "loads", "drivers"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ROW SCANNING
// =============================================================================

const loadColumns = `id, driver_id, load_number, status, revenue, total_miles,
	loaded_miles, empty_miles, driver_pay, pickup_at, delivered_at,
	ready_for_settlement, settlement_id, deleted_at`

func queryLoads(ctx context.Context, q runner, query string, args ...any) ([]settlement.Load, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loads: %w", err)
	}
	defer rows.Close()

	var loads []settlement.Load
	for rows.Next() {
		l, err := scanLoad(rows)
		if err != nil {
			return nil, err
		}
		loads = append(loads, l)
	}
	return loads, rows.Err()
}

func scanLoad(rows *sql.Rows) (settlement.Load, error) {
	var (
		l            settlement.Load
		revenue      string
		totalMiles   string
		loadedMiles  string
		emptyMiles   string
		driverPay    sql.NullString
		pickupAt     sql.NullString
		deliveredAt  sql.NullString
		settlementID sql.NullString
		deletedAt    sql.NullString
	)

	err := rows.Scan(
		&l.ID, &l.DriverID, &l.LoadNumber, &l.Status,
		&revenue, &totalMiles, &loadedMiles, &emptyMiles,
		&driverPay, &pickupAt, &deliveredAt,
		&l.ReadyForSettlement, &settlementID, &deletedAt,
	)
	if err != nil {
		return l, fmt.Errorf("failed to scan load: %w", err)
	}

	l.Revenue = mustDecimal(revenue)
	l.TotalMiles = mustDecimal(totalMiles)
	l.LoadedMiles = mustDecimal(loadedMiles)
	l.EmptyMiles = mustDecimal(emptyMiles)
	l.DriverPay = nullDecimal(driverPay)
	l.PickupAt = nullTime(pickupAt)
	l.DeliveredAt = nullTime(deliveredAt)
	l.DeletedAt = nullTime(deletedAt)
	if settlementID.Valid {
		sid := settlement.SettlementID(settlementID.String)
		l.SettlementID = &sid
	}
	return l, nil
}

const advanceColumns = `id, driver_id, amount, amount_repaid, approval_status,
	requested_at, paid_at, settlement_id, notes`

func queryAdvances(ctx context.Context, q runner, query string, args ...any) ([]settlement.DriverAdvance, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query advances: %w", err)
	}
	defer rows.Close()

	var advances []settlement.DriverAdvance
	for rows.Next() {
		var (
			a            settlement.DriverAdvance
			amount       string
			amountRepaid string
			requestedAt  string
			paidAt       sql.NullString
			settlementID sql.NullString
		)
		if err := rows.Scan(
			&a.ID, &a.DriverID, &amount, &amountRepaid, &a.ApprovalStatus,
			&requestedAt, &paidAt, &settlementID, &a.Notes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan advance: %w", err)
		}

		a.Amount = mustDecimal(amount)
		a.AmountRepaid = mustDecimal(amountRepaid)
		a.RequestedAt, _ = time.Parse(time.RFC3339, requestedAt)
		a.PaidAt = nullTime(paidAt)
		if settlementID.Valid {
			sid := settlement.SettlementID(settlementID.String)
			a.SettlementID = &sid
		}
		advances = append(advances, a)
	}
	return advances, rows.Err()
}

const ruleColumns = `id, driver_id, name, kind, amount, percentage, per_mile_rate,
	min_gross_pay, max_amount, is_active`

func queryRules(ctx context.Context, q runner, query string, args ...any) ([]settlement.DeductionRule, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deduction rules: %w", err)
	}
	defer rows.Close()

	var rules []settlement.DeductionRule
	for rows.Next() {
		var (
			r           settlement.DeductionRule
			amount      string
			percentage  string
			perMileRate string
			minGross    sql.NullString
			maxAmount   sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.DriverID, &r.Name, &r.Kind,
			&amount, &percentage, &perMileRate,
			&minGross, &maxAmount, &r.IsActive,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deduction rule: %w", err)
		}

		r.Amount = mustDecimal(amount)
		r.Percentage = mustDecimal(percentage)
		r.PerMileRate = mustDecimal(perMileRate)
		r.MinGrossPay = nullDecimal(minGross)
		r.MaxAmount = nullDecimal(maxAmount)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

const settlementColumns = `id, settlement_number, driver_id, period_start, period_end,
	gross_pay, total_deductions, total_advance_repayment, net_pay,
	approval_status, payment_method, payment_reference, approved_by,
	approved_at, rejected_by, rejection_reason, notes, calculated_at,
	created_at, updated_at`

func querySettlements(ctx context.Context, q runner, query string, args ...any) ([]settlement.Settlement, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []settlement.Settlement
	for rows.Next() {
		var (
			st            settlement.Settlement
			periodStart   string
			periodEnd     string
			grossPay      string
			totalDed      string
			totalAdv      string
			netPay        string
			paymentMethod sql.NullString
			paymentRef    sql.NullString
			approvedBy    sql.NullString
			approvedAt    sql.NullString
			rejectedBy    sql.NullString
			rejectionRsn  sql.NullString
			calculatedAt  string
			createdAt     string
			updatedAt     string
		)
		if err := rows.Scan(
			&st.ID, &st.SettlementNumber, &st.DriverID, &periodStart, &periodEnd,
			&grossPay, &totalDed, &totalAdv, &netPay,
			&st.ApprovalStatus, &paymentMethod, &paymentRef, &approvedBy,
			&approvedAt, &rejectedBy, &rejectionRsn, &st.Notes, &calculatedAt, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}

		st.PeriodStart, _ = time.Parse(time.RFC3339, periodStart)
		st.PeriodEnd, _ = time.Parse(time.RFC3339, periodEnd)
		st.GrossPay = mustDecimal(grossPay)
		st.TotalDeductions = mustDecimal(totalDed)
		st.TotalAdvanceRepayment = mustDecimal(totalAdv)
		st.NetPay = mustDecimal(netPay)
		st.PaymentMethod = stringPtr(paymentMethod)
		st.PaymentReference = stringPtr(paymentRef)
		st.ApprovedBy = stringPtr(approvedBy)
		st.ApprovedAt = nullTime(approvedAt)
		st.RejectedBy = stringPtr(rejectedBy)
		st.RejectionReason = stringPtr(rejectionRsn)
		st.CalculatedAt, _ = time.Parse(time.RFC3339, calculatedAt)
		st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		settlements = append(settlements, st)
	}
	return settlements, rows.Err()
}

func queryLineItems(ctx context.Context, q runner, settlementID settlement.SettlementID) ([]settlement.SettlementLineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, source, reference_id, description, amount
		FROM settlement_line_items
		WHERE settlement_id = ?
		ORDER BY position ASC
	`, settlementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	var items []settlement.SettlementLineItem
	for rows.Next() {
		var (
			li     settlement.SettlementLineItem
			amount string
		)
		if err := rows.Scan(&li.ID, &li.Source, &li.ReferenceID, &li.Description, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		li.Amount = mustDecimal(amount)
		items = append(items, li)
	}
	return items, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := mustDecimal(ns.String)
	return &d
}

func nullDecimalPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func nullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
