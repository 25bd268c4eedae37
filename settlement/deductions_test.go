package settlement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/settlement"
	memstore "github.com/warp/settlement-engine/settlement/store"
)

func newEvaluator() (*settlement.DeductionRuleEvaluator, *memstore.Memory) {
	mem := memstore.NewMemory()
	return &settlement.DeductionRuleEvaluator{Storage: mem}, mem
}

func TestDeductions_FixedRule(t *testing.T) {
	// GIVEN: A $45 fixed insurance rule
	// WHEN: Deductions are evaluated for any gross pay
	// THEN: One line item of -$45 named after the rule

	eval, mem := newEvaluator()
	mem.PutRule(settlement.DeductionRule{
		ID:       "rule-1",
		DriverID: "drv-1",
		Name:     "Occupational insurance",
		Kind:     settlement.DeductionFixed,
		Amount:   dec("45"),
		IsActive: true,
	})

	items, err := eval.Evaluate(context.Background(), "drv-1", dec("1000"), dec("500"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, settlement.SourceDeduction, items[0].Source)
	assert.Equal(t, "rule-1", items[0].ReferenceID)
	assert.Equal(t, "Occupational insurance", items[0].Description)
	assert.True(t, dec("-45").Equal(items[0].Amount), "got %s", items[0].Amount)
}

func TestDeductions_PercentageRule(t *testing.T) {
	// GIVEN: A 5% escrow rule
	// WHEN: Gross pay is $2000
	// THEN: The deduction is -$100

	eval, mem := newEvaluator()
	mem.PutRule(settlement.DeductionRule{
		ID:         "rule-1",
		DriverID:   "drv-1",
		Name:       "Maintenance escrow",
		Kind:       settlement.DeductionPercentage,
		Percentage: dec("5"),
		IsActive:   true,
	})

	items, err := eval.Evaluate(context.Background(), "drv-1", dec("2000"), dec("0"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, dec("-100").Equal(items[0].Amount), "got %s", items[0].Amount)
}

func TestDeductions_PerMileRule(t *testing.T) {
	// GIVEN: A $0.02/mile trailer rule
	// WHEN: 1500 miles were settled
	// THEN: The deduction is -$30

	eval, mem := newEvaluator()
	mem.PutRule(settlement.DeductionRule{
		ID:          "rule-1",
		DriverID:    "drv-1",
		Name:        "Trailer maintenance",
		Kind:        settlement.DeductionPerMile,
		PerMileRate: dec("0.02"),
		IsActive:    true,
	})

	items, err := eval.Evaluate(context.Background(), "drv-1", dec("800"), dec("1500"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, dec("-30").Equal(items[0].Amount), "got %s", items[0].Amount)
}

func TestDeductions_MinGrossPaySkipsRule(t *testing.T) {
	// GIVEN: A rule that only fires when gross pay reaches $1000
	// WHEN: Gross pay is $600
	// THEN: The rule is skipped entirely, no audit row

	eval, mem := newEvaluator()
	mem.PutRule(settlement.DeductionRule{
		ID:          "rule-1",
		DriverID:    "drv-1",
		Name:        "Escrow",
		Kind:        settlement.DeductionPercentage,
		Percentage:  dec("5"),
		MinGrossPay: decPtr("1000"),
		IsActive:    true,
	})

	items, err := eval.Evaluate(context.Background(), "drv-1", dec("600"), dec("0"))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDeductions_MaxAmountCapsCharge(t *testing.T) {
	// GIVEN: A 10% rule capped at $250
	// WHEN: Gross pay is $5000 (uncapped charge would be $500)
	// THEN: The deduction is capped at -$250

	eval, mem := newEvaluator()
	mem.PutRule(settlement.DeductionRule{
		ID:         "rule-1",
		DriverID:   "drv-1",
		Name:       "Escrow",
		Kind:       settlement.DeductionPercentage,
		Percentage: dec("10"),
		MaxAmount:  decPtr("250"),
		IsActive:   true,
	})

	items, err := eval.Evaluate(context.Background(), "drv-1", dec("5000"), dec("0"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, dec("-250").Equal(items[0].Amount), "got %s", items[0].Amount)
}

func TestDeductions_ZeroBasisStillEmitsAuditRow(t *testing.T) {
	// GIVEN: A percentage rule with no minimum gross threshold
	// WHEN: Gross pay is zero
	// THEN: A zero-amount row is emitted so review shows it was considered

	eval, mem := newEvaluator()
	mem.PutRule(settlement.DeductionRule{
		ID:         "rule-1",
		DriverID:   "drv-1",
		Name:       "Escrow",
		Kind:       settlement.DeductionPercentage,
		Percentage: dec("5"),
		IsActive:   true,
	})

	items, err := eval.Evaluate(context.Background(), "drv-1", dec("0"), dec("0"))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Amount.IsZero())
}

func TestDeductions_InactiveAndForeignRulesIgnored(t *testing.T) {
	// GIVEN: An inactive rule and a rule belonging to another driver
	// WHEN: Deductions are evaluated
	// THEN: Neither contributes

	eval, mem := newEvaluator()
	mem.PutRule(settlement.DeductionRule{
		ID: "rule-off", DriverID: "drv-1", Name: "Disabled",
		Kind: settlement.DeductionFixed, Amount: dec("99"), IsActive: false,
	})
	mem.PutRule(settlement.DeductionRule{
		ID: "rule-other", DriverID: "drv-2", Name: "Other driver",
		Kind: settlement.DeductionFixed, Amount: dec("99"), IsActive: true,
	})

	items, err := eval.Evaluate(context.Background(), "drv-1", dec("1000"), dec("0"))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestTotalDeductions_SumsPositiveMagnitude(t *testing.T) {
	// GIVEN: Two deduction rows and one load pay row
	// WHEN: Totaling deductions
	// THEN: Only deduction rows count, returned as a positive magnitude

	items := []settlement.SettlementLineItem{
		{Source: settlement.SourceLoadPay, Amount: dec("1000")},
		{Source: settlement.SourceDeduction, Amount: dec("-45")},
		{Source: settlement.SourceDeduction, Amount: dec("-30")},
	}
	assert.True(t, dec("75").Equal(settlement.TotalDeductions(items)))
}
