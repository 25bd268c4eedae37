package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/settlement"
	memstore "github.com/warp/settlement-engine/settlement/store"
)

func newLedger() (*settlement.AdvanceLedger, *memstore.Memory) {
	mem := memstore.NewMemory()
	return &settlement.AdvanceLedger{Storage: mem}, mem
}

func approvedAdvance(id string, amount string, requestedAt time.Time) settlement.DriverAdvance {
	return settlement.DriverAdvance{
		ID:             settlement.AdvanceID(id),
		DriverID:       "drv-1",
		Amount:         dec(amount),
		ApprovalStatus: settlement.ApprovalApproved,
		RequestedAt:    requestedAt,
	}
}

func TestAdvances_FullRepayment(t *testing.T) {
	// GIVEN: One $300 outstanding advance and $1000 of available net pay
	// WHEN: Repayment is planned
	// THEN: The advance is repaid in full with a -$300 line item

	ledger, mem := newLedger()
	mem.PutAdvance(approvedAdvance("adv-1", "300", time.Now()))

	plan, err := ledger.PlanRepayment(context.Background(), "drv-1", dec("1000"))
	require.NoError(t, err)

	require.Len(t, plan.LineItems, 1)
	assert.True(t, dec("-300").Equal(plan.LineItems[0].Amount))
	assert.Equal(t, settlement.SourceAdvanceRepayment, plan.LineItems[0].Source)
	assert.True(t, dec("300").Equal(plan.Total))
	assert.True(t, plan.OutstandingAfter.IsZero())
	require.Len(t, plan.Repayments, 1)
	assert.Equal(t, settlement.AdvanceID("adv-1"), plan.Repayments[0].AdvanceID)
}

func TestAdvances_PartialRepayment(t *testing.T) {
	// GIVEN: A $500 advance but only $200 of available funds
	// WHEN: Repayment is planned
	// THEN: $200 is repaid, $300 remains outstanding for the next period

	ledger, mem := newLedger()
	mem.PutAdvance(approvedAdvance("adv-1", "500", time.Now()))

	plan, err := ledger.PlanRepayment(context.Background(), "drv-1", dec("200"))
	require.NoError(t, err)

	require.Len(t, plan.LineItems, 1)
	assert.True(t, dec("-200").Equal(plan.LineItems[0].Amount))
	assert.True(t, dec("200").Equal(plan.Total))
	assert.True(t, dec("300").Equal(plan.OutstandingAfter))
	assert.Contains(t, plan.LineItems[0].Description, "Partial")
}

func TestAdvances_FIFOOrder(t *testing.T) {
	// GIVEN: Two advances, the older one for $300, the newer for $400
	// WHEN: Only $350 of funds is available
	// THEN: The older advance is fully repaid first, then $50 of the newer

	ledger, mem := newLedger()
	base := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	mem.PutAdvance(approvedAdvance("adv-new", "400", base.AddDate(0, 0, 10)))
	mem.PutAdvance(approvedAdvance("adv-old", "300", base))

	plan, err := ledger.PlanRepayment(context.Background(), "drv-1", dec("350"))
	require.NoError(t, err)

	require.Len(t, plan.Repayments, 2)
	assert.Equal(t, settlement.AdvanceID("adv-old"), plan.Repayments[0].AdvanceID)
	assert.True(t, dec("300").Equal(plan.Repayments[0].Amount))
	assert.Equal(t, settlement.AdvanceID("adv-new"), plan.Repayments[1].AdvanceID)
	assert.True(t, dec("50").Equal(plan.Repayments[1].Amount))
	assert.True(t, dec("350").Equal(plan.OutstandingAfter))
}

func TestAdvances_NoFunds_EmptyPlan(t *testing.T) {
	// GIVEN: An outstanding advance but zero available funds
	// WHEN: Repayment is planned
	// THEN: Nothing is repaid; the full balance stays outstanding

	ledger, mem := newLedger()
	mem.PutAdvance(approvedAdvance("adv-1", "300", time.Now()))

	plan, err := ledger.PlanRepayment(context.Background(), "drv-1", dec("0"))
	require.NoError(t, err)

	assert.Empty(t, plan.LineItems)
	assert.True(t, plan.Total.IsZero())
	assert.True(t, dec("300").Equal(plan.OutstandingAfter))
}

func TestAdvances_PartiallyRepaidAdvance_OnlyRemainderCollected(t *testing.T) {
	// GIVEN: A $500 advance with $350 already repaid in a prior period
	// WHEN: Repayment is planned with ample funds
	// THEN: Only the $150 remainder is collected

	ledger, mem := newLedger()
	adv := approvedAdvance("adv-1", "500", time.Now())
	adv.AmountRepaid = dec("350")
	mem.PutAdvance(adv)

	plan, err := ledger.PlanRepayment(context.Background(), "drv-1", dec("1000"))
	require.NoError(t, err)

	require.Len(t, plan.Repayments, 1)
	assert.True(t, dec("150").Equal(plan.Repayments[0].Amount))
}

func TestAdvances_PendingAndClaimedAdvancesExcluded(t *testing.T) {
	// GIVEN: A pending advance and an advance already claimed elsewhere
	// WHEN: Repayment is planned
	// THEN: Neither enters the plan

	ledger, mem := newLedger()

	pending := approvedAdvance("adv-pending", "200", time.Now())
	pending.ApprovalStatus = settlement.ApprovalPending
	mem.PutAdvance(pending)

	claimed := approvedAdvance("adv-claimed", "200", time.Now())
	sid := settlement.SettlementID("set-other")
	claimed.SettlementID = &sid
	mem.PutAdvance(claimed)

	plan, err := ledger.PlanRepayment(context.Background(), "drv-1", dec("1000"))
	require.NoError(t, err)
	assert.Empty(t, plan.Repayments)
}

func TestAdvances_OutstandingBalance(t *testing.T) {
	// GIVEN: Two advances, one partially repaid
	// WHEN: The outstanding balance is computed
	// THEN: It sums the unrecovered remainders

	ledger, mem := newLedger()
	mem.PutAdvance(approvedAdvance("adv-1", "300", time.Now()))
	partial := approvedAdvance("adv-2", "500", time.Now())
	partial.AmountRepaid = dec("200")
	mem.PutAdvance(partial)

	balance, err := ledger.OutstandingBalance(context.Background(), "drv-1")
	require.NoError(t, err)
	assert.True(t, dec("600").Equal(balance), "got %s", balance)
}
