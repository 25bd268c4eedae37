/*
deductions.go - Recurring deduction evaluation

PURPOSE:
  Turns a driver's active deduction rules into negative line items for one
  settlement. A fixed rule contributes its amount once per settlement; a
  percentage rule contributes grossPay * percentage; a per-mile rule
  contributes rate * settled miles.

AUDIT VISIBILITY:
  A rule whose basis is zero (percentage rule on a zero-gross settlement)
  still emits a zero-amount line item so the review screen shows it was
  considered, not skipped. The minGrossPay guard is different: a gross
  below the rule's threshold skips the rule entirely.
*/
package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

// DeductionRuleEvaluator produces DEDUCTION line items for a settlement.
type DeductionRuleEvaluator struct {
	Storage Storage
}

// Evaluate computes the deduction rows for the driver's active rules
// against the settlement's gross pay and total settled miles.
// Returned amounts are negative (or zero for audit rows).
func (e *DeductionRuleEvaluator) Evaluate(ctx context.Context, driverID DriverID, grossPay, totalMiles decimal.Decimal) ([]SettlementLineItem, error) {
	rules, err := e.Storage.ActiveDeductionRules(ctx, driverID)
	if err != nil {
		return nil, err
	}

	var items []SettlementLineItem
	for _, rule := range rules {
		if rule.MinGrossPay != nil && grossPay.LessThan(*rule.MinGrossPay) {
			continue
		}

		amount := ruleAmount(rule, grossPay, totalMiles)
		if rule.MaxAmount != nil && amount.GreaterThan(*rule.MaxAmount) {
			amount = *rule.MaxAmount
		}

		items = append(items, SettlementLineItem{
			Source:      SourceDeduction,
			ReferenceID: string(rule.ID),
			Description: rule.Name,
			Amount:      amount.Neg(),
		})
	}
	return items, nil
}

func ruleAmount(rule DeductionRule, grossPay, totalMiles decimal.Decimal) decimal.Decimal {
	switch rule.Kind {
	case DeductionFixed:
		return rule.Amount
	case DeductionPercentage:
		return grossPay.Mul(rule.Percentage).Div(percentageDenominator)
	case DeductionPerMile:
		return totalMiles.Mul(rule.PerMileRate)
	default:
		return decimal.Zero
	}
}

// TotalDeductions sums the positive magnitude of deduction line items.
func TotalDeductions(items []SettlementLineItem) decimal.Decimal {
	total := decimal.Zero
	for _, li := range items {
		if li.Source == SourceDeduction {
			total = total.Sub(li.Amount) // amounts are negative
		}
	}
	return total
}
