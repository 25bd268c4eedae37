// Package store provides Storage implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements settlement.TxStorage with snapshot-based transactions.
// Transactions are serialized; direct writes racing an open transaction are
// the caller's responsibility (tests drive all writes through WithTx).
type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	drivers     map[settlement.DriverID]settlement.Driver
	loads       map[settlement.LoadID]settlement.Load
	advances    map[settlement.AdvanceID]settlement.DriverAdvance
	rules       map[settlement.RuleID]settlement.DeductionRule
	settlements map[settlement.SettlementID]settlement.Settlement
	numbers     map[string]bool // settlement number uniqueness
}

func NewMemory() *Memory {
	return &Memory{
		drivers:     make(map[settlement.DriverID]settlement.Driver),
		loads:       make(map[settlement.LoadID]settlement.Load),
		advances:    make(map[settlement.AdvanceID]settlement.DriverAdvance),
		rules:       make(map[settlement.RuleID]settlement.DeductionRule),
		settlements: make(map[settlement.SettlementID]settlement.Settlement),
		numbers:     make(map[string]bool),
	}
}

// =============================================================================
// SEEDING (tests and demos)
// =============================================================================

func (m *Memory) PutDriver(d settlement.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
}

func (m *Memory) PutLoad(l settlement.Load) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads[l.ID] = l
}

func (m *Memory) PutAdvance(a settlement.DriverAdvance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advances[a.ID] = a
}

func (m *Memory) PutRule(r settlement.DeductionRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
}

// GetLoad / GetAdvance expose single records for test assertions.
func (m *Memory) GetLoad(id settlement.LoadID) (settlement.Load, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loads[id]
	return l, ok
}

func (m *Memory) GetAdvance(id settlement.AdvanceID) (settlement.DriverAdvance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.advances[id]
	return a, ok
}

// =============================================================================
// STORAGE INTERFACE
// =============================================================================

func (m *Memory) GetDriver(_ context.Context, id settlement.DriverID) (*settlement.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok || d.DeletedAt != nil {
		return nil, settlement.ErrDriverNotFound
	}
	out := d
	return &out, nil
}

func (m *Memory) FindLoads(_ context.Context, driverID settlement.DriverID, from, to time.Time) ([]settlement.Load, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.Load
	for _, l := range m.loads {
		if l.DriverID != driverID || l.DeletedAt != nil || l.Settled() {
			continue
		}
		if l.DeliveredAt == nil || l.DeliveredAt.Before(from) || l.DeliveredAt.After(to) {
			continue
		}
		out = append(out, l)
	}
	sortLoadsByDelivery(out)
	return out, nil
}

func (m *Memory) GetLoads(_ context.Context, ids []settlement.LoadID) ([]settlement.Load, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]settlement.Load, 0, len(ids))
	for _, id := range ids {
		if l, ok := m.loads[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *Memory) UnclaimedAdvances(_ context.Context, driverID settlement.DriverID) ([]settlement.DriverAdvance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.DriverAdvance
	for _, a := range m.advances {
		if a.DriverID != driverID || a.ApprovalStatus != settlement.ApprovalApproved {
			continue
		}
		if a.PaidAt != nil || a.SettlementID != nil {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (m *Memory) ActiveDeductionRules(_ context.Context, driverID settlement.DriverID) ([]settlement.DeductionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.DeductionRule
	for _, r := range m.rules {
		if r.DriverID == driverID && r.IsActive {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) GetSettlement(_ context.Context, id settlement.SettlementID) (*settlement.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.settlements[id]
	if !ok {
		return nil, settlement.ErrSettlementNotFound
	}
	out := cloneSettlement(s)
	return &out, nil
}

func (m *Memory) FindSettlements(_ context.Context, q settlement.SettlementQuery) ([]settlement.Settlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.Settlement
	for _, s := range m.settlements {
		if q.DriverID != "" && s.DriverID != q.DriverID {
			continue
		}
		if len(q.Statuses) > 0 && !statusIn(s.ApprovalStatus, q.Statuses) {
			continue
		}
		if q.ExactPeriod != nil &&
			(!s.PeriodStart.Equal(q.ExactPeriod.Start) || !s.PeriodEnd.Equal(q.ExactPeriod.End)) {
			continue
		}
		out = append(out, cloneSettlement(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateSettlement(_ context.Context, s *settlement.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.numbers[s.SettlementNumber] {
		return &settlement.SettlementNumberTakenError{SettlementNumber: s.SettlementNumber}
	}
	m.settlements[s.ID] = cloneSettlement(*s)
	m.numbers[s.SettlementNumber] = true
	return nil
}

func (m *Memory) UpdateSettlement(_ context.Context, s *settlement.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.settlements[s.ID]; !ok {
		return settlement.ErrSettlementNotFound
	}
	m.settlements[s.ID] = cloneSettlement(*s)
	return nil
}

func (m *Memory) ClaimLoads(_ context.Context, ids []settlement.LoadID, settlementID settlement.SettlementID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Compare-and-set: verify every slot is free before touching any.
	var contested []settlement.LoadID
	for _, id := range ids {
		l, ok := m.loads[id]
		if !ok || l.DeletedAt != nil || l.Settled() {
			contested = append(contested, id)
		}
	}
	if len(contested) > 0 {
		return &settlement.LoadAlreadySettledError{LoadIDs: contested}
	}

	sid := settlementID
	for _, id := range ids {
		l := m.loads[id]
		l.SettlementID = &sid
		m.loads[id] = l
	}
	return nil
}

func (m *Memory) ClaimAdvances(_ context.Context, ids []settlement.AdvanceID, settlementID settlement.SettlementID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		a, ok := m.advances[id]
		if !ok || a.SettlementID != nil || a.PaidAt != nil {
			return settlement.ErrAdvanceAlreadyClaimed
		}
	}

	sid := settlementID
	for _, id := range ids {
		a := m.advances[id]
		a.SettlementID = &sid
		m.advances[id] = a
	}
	return nil
}

func (m *Memory) ReleaseLoads(_ context.Context, settlementID settlement.SettlementID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, l := range m.loads {
		if l.SettlementID != nil && *l.SettlementID == settlementID {
			l.SettlementID = nil
			m.loads[id] = l
		}
	}
	return nil
}

func (m *Memory) ReleaseAdvances(_ context.Context, settlementID settlement.SettlementID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range m.advances {
		if a.SettlementID != nil && *a.SettlementID == settlementID {
			a.SettlementID = nil
			m.advances[id] = a
		}
	}
	return nil
}

func (m *Memory) LoadsBySettlement(_ context.Context, settlementID settlement.SettlementID) ([]settlement.Load, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.Load
	for _, l := range m.loads {
		if l.SettlementID != nil && *l.SettlementID == settlementID {
			out = append(out, l)
		}
	}
	sortLoadsByDelivery(out)
	return out, nil
}

func (m *Memory) AdvancesBySettlement(_ context.Context, settlementID settlement.SettlementID) ([]settlement.DriverAdvance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []settlement.DriverAdvance
	for _, a := range m.advances {
		if a.SettlementID != nil && *a.SettlementID == settlementID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (m *Memory) SettleAdvanceRepayments(_ context.Context, repayments []settlement.AdvanceRepayment, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range repayments {
		a, ok := m.advances[r.AdvanceID]
		if !ok {
			continue
		}
		a.AmountRepaid = a.AmountRepaid.Add(r.Amount)
		if a.AmountRepaid.GreaterThanOrEqual(a.Amount) {
			at := paidAt
			a.PaidAt = &at
		} else {
			// Partially repaid: release so the remainder re-enters the pool.
			a.SettlementID = nil
		}
		m.advances[r.AdvanceID] = a
	}
	return nil
}

// =============================================================================
// TRANSACTIONS - snapshot and restore
// =============================================================================

// WithTx serializes transactions and restores a full snapshot when fn fails,
// so partial application is never observable.
func (m *Memory) WithTx(ctx context.Context, fn func(settlement.Storage) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	drivers     map[settlement.DriverID]settlement.Driver
	loads       map[settlement.LoadID]settlement.Load
	advances    map[settlement.AdvanceID]settlement.DriverAdvance
	rules       map[settlement.RuleID]settlement.DeductionRule
	settlements map[settlement.SettlementID]settlement.Settlement
	numbers     map[string]bool
}

func (m *Memory) snapshot() memSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := memSnapshot{
		drivers:     make(map[settlement.DriverID]settlement.Driver, len(m.drivers)),
		loads:       make(map[settlement.LoadID]settlement.Load, len(m.loads)),
		advances:    make(map[settlement.AdvanceID]settlement.DriverAdvance, len(m.advances)),
		rules:       make(map[settlement.RuleID]settlement.DeductionRule, len(m.rules)),
		settlements: make(map[settlement.SettlementID]settlement.Settlement, len(m.settlements)),
		numbers:     make(map[string]bool, len(m.numbers)),
	}
	for k, v := range m.drivers {
		snap.drivers[k] = v
	}
	for k, v := range m.loads {
		snap.loads[k] = v
	}
	for k, v := range m.advances {
		snap.advances[k] = v
	}
	for k, v := range m.rules {
		snap.rules[k] = v
	}
	for k, v := range m.settlements {
		snap.settlements[k] = cloneSettlement(v)
	}
	for k, v := range m.numbers {
		snap.numbers[k] = v
	}
	return snap
}

func (m *Memory) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers = snap.drivers
	m.loads = snap.loads
	m.advances = snap.advances
	m.rules = snap.rules
	m.settlements = snap.settlements
	m.numbers = snap.numbers
}

// =============================================================================
// HELPERS
// =============================================================================

func cloneSettlement(s settlement.Settlement) settlement.Settlement {
	out := s
	out.LineItems = make([]settlement.SettlementLineItem, len(s.LineItems))
	copy(out.LineItems, s.LineItems)
	return out
}

func statusIn(st settlement.ApprovalStatus, list []settlement.ApprovalStatus) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}

func sortLoadsByDelivery(loads []settlement.Load) {
	sort.Slice(loads, func(i, j int) bool {
		di, dj := loads[i].DeliveredAt, loads[j].DeliveredAt
		switch {
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.Before(*dj)
		}
	})
}
