/*
Package factory provides JSON to Go deduction-rule conversion.

PURPOSE:
  Converts JSON deduction rule definitions into settlement.DeductionRule
  values. This enables rule configuration without code changes - the
  back office can define recurring charges in JSON, and the factory
  validates them into the typed variant the engine consumes.

WHY JSON?
  - Non-developers can modify rules
  - Easy integration with admin UI
  - Version control for rule definitions
  - Database storage of rule configs

JSON SCHEMA:
  {
    "id": "rule-insurance",
    "driver_id": "drv-1",
    "name": "Occupational insurance",
    "kind": "FIXED",
    "amount": "45.00",
    "min_gross_pay": "500.00",
    "is_active": true
  }

  Kinds and their rate field:
    FIXED      -> amount         (flat charge per settlement)
    PERCENTAGE -> percentage     (share of gross pay, 0-100)
    PER_MILE   -> per_mile_rate  (rate times settled miles)

KEY FEATURES:
  - Validates JSON structure and the kind/rate pairing
  - Rejects rules carrying a rate for the wrong kind
  - Optional min_gross_pay floor and max_amount cap

USAGE:
  factory := NewRuleFactory()
  rule, err := factory.ParseRule(jsonString)

SEE ALSO:
  - settlement/types.go: DeductionRule definition
  - settlement/deductions.go: rule evaluation
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of a deduction rule. Monetary fields
// are strings so configured values survive as exact decimals.
type RuleJSON struct {
	ID          string `json:"id"`
	DriverID    string `json:"driver_id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Amount      string `json:"amount,omitempty"`
	Percentage  string `json:"percentage,omitempty"`
	PerMileRate string `json:"per_mile_rate,omitempty"`
	MinGrossPay string `json:"min_gross_pay,omitempty"`
	MaxAmount   string `json:"max_amount,omitempty"`
	IsActive    *bool  `json:"is_active,omitempty"` // default true
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON deduction rules to typed values.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule parses a JSON string into a DeductionRule.
func (f *RuleFactory) ParseRule(jsonStr string) (settlement.DeductionRule, error) {
	var rj RuleJSON
	if err := json.Unmarshal([]byte(jsonStr), &rj); err != nil {
		return settlement.DeductionRule{}, fmt.Errorf("failed to parse rule JSON: %w", err)
	}
	return f.FromJSON(rj)
}

// FromJSON converts RuleJSON to a validated DeductionRule.
func (f *RuleFactory) FromJSON(rj RuleJSON) (settlement.DeductionRule, error) {
	var zero settlement.DeductionRule

	if rj.ID == "" {
		return zero, ruleErr("id", "is required")
	}
	if rj.DriverID == "" {
		return zero, ruleErr("driver_id", "is required")
	}
	if rj.Name == "" {
		return zero, ruleErr("name", "is required")
	}

	kind, err := parseKind(rj.Kind)
	if err != nil {
		return zero, err
	}

	rule := settlement.DeductionRule{
		ID:       settlement.RuleID(rj.ID),
		DriverID: settlement.DriverID(rj.DriverID),
		Name:     rj.Name,
		Kind:     kind,
		IsActive: true,
	}
	if rj.IsActive != nil {
		rule.IsActive = *rj.IsActive
	}

	// The rate for the declared kind is required and positive; rates
	// belonging to other kinds must be absent.
	switch kind {
	case settlement.DeductionFixed:
		rule.Amount, err = requiredRate("amount", rj.Amount)
		if err != nil {
			return zero, err
		}
		if rj.Percentage != "" || rj.PerMileRate != "" {
			return zero, ruleErr("kind", "FIXED rules carry only amount")
		}

	case settlement.DeductionPercentage:
		rule.Percentage, err = requiredRate("percentage", rj.Percentage)
		if err != nil {
			return zero, err
		}
		if rule.Percentage.GreaterThan(decimal.NewFromInt(100)) {
			return zero, ruleErr("percentage", "must be at most 100")
		}
		if rj.Amount != "" || rj.PerMileRate != "" {
			return zero, ruleErr("kind", "PERCENTAGE rules carry only percentage")
		}

	case settlement.DeductionPerMile:
		rule.PerMileRate, err = requiredRate("per_mile_rate", rj.PerMileRate)
		if err != nil {
			return zero, err
		}
		if rj.Amount != "" || rj.Percentage != "" {
			return zero, ruleErr("kind", "PER_MILE rules carry only per_mile_rate")
		}
	}

	rule.MinGrossPay, err = optionalRate("min_gross_pay", rj.MinGrossPay)
	if err != nil {
		return zero, err
	}
	rule.MaxAmount, err = optionalRate("max_amount", rj.MaxAmount)
	if err != nil {
		return zero, err
	}

	return rule, nil
}

// ToJSON converts a DeductionRule back to its JSON form.
func (f *RuleFactory) ToJSON(rule settlement.DeductionRule) RuleJSON {
	rj := RuleJSON{
		ID:       string(rule.ID),
		DriverID: string(rule.DriverID),
		Name:     rule.Name,
		Kind:     string(rule.Kind),
		IsActive: &rule.IsActive,
	}

	switch rule.Kind {
	case settlement.DeductionFixed:
		rj.Amount = rule.Amount.String()
	case settlement.DeductionPercentage:
		rj.Percentage = rule.Percentage.String()
	case settlement.DeductionPerMile:
		rj.PerMileRate = rule.PerMileRate.String()
	}

	if rule.MinGrossPay != nil {
		rj.MinGrossPay = rule.MinGrossPay.String()
	}
	if rule.MaxAmount != nil {
		rj.MaxAmount = rule.MaxAmount.String()
	}
	return rj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseKind(s string) (settlement.DeductionKind, error) {
	switch settlement.DeductionKind(s) {
	case settlement.DeductionFixed, settlement.DeductionPercentage, settlement.DeductionPerMile:
		return settlement.DeductionKind(s), nil
	default:
		return "", ruleErr("kind", fmt.Sprintf("unknown kind %q", s))
	}
}

func requiredRate(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, ruleErr(field, "is required for this kind")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ruleErr(field, "is not a valid decimal")
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ruleErr(field, "must be positive")
	}
	return d, nil
}

func optionalRate(field, s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, ruleErr(field, "is not a valid decimal")
	}
	if d.LessThanOrEqual(decimal.Zero) {
		return nil, ruleErr(field, "must be positive")
	}
	return &d, nil
}

func ruleErr(field, msg string) error {
	return &settlement.ValidationError{Field: field, Message: msg}
}
