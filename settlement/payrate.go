/*
payrate.go - Gross pay formulas

PURPOSE:
  Pure computation: (pay configuration, load metrics) -> gross pay for one
  load. No storage access, no side effects.

PRECEDENCE:
  1. A non-null, positive DriverPay on the load wins verbatim (manual
     override) and the formula is bypassed entirely.
  2. Otherwise the driver's PayType selects the formula. A driver with no
     usable pay configuration is a hard precondition failure.

FORMULAS:
  PER_MILE:   effectiveMiles * rate. Zero effective miles yields zero pay,
              never an error.
  PER_LOAD:   flat rate, independent of miles.
  PERCENTAGE: revenue * rate / 100.
  HOURLY:     rate * (effectiveMiles / 50mph); a load with no mileage data
              falls back to a 10-hour default. The hour estimate is a
              documented approximation, not timekeeping.
*/
package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Hour estimation constants for HOURLY pay. The average-speed divisor and
// the no-mileage fallback mirror the dispatch planning defaults.
var (
	averageSpeedMPH       = decimal.NewFromInt(50)
	defaultHoursNoMileage = decimal.NewFromInt(10)
	percentageDenominator = decimal.NewFromInt(100)
)

// LoadMetrics is the slice of a Load the pay formulas consume.
type LoadMetrics struct {
	TotalMiles  decimal.Decimal
	LoadedMiles decimal.Decimal
	EmptyMiles  decimal.Decimal
	Revenue     decimal.Decimal
}

// EffectiveMiles resolves the mileage figure the formulas use: total miles
// when recorded, falling back to loaded then empty miles, else zero.
func (m LoadMetrics) EffectiveMiles() decimal.Decimal {
	switch {
	case m.TotalMiles.IsPositive():
		return m.TotalMiles
	case m.LoadedMiles.IsPositive():
		return m.LoadedMiles
	case m.EmptyMiles.IsPositive():
		return m.EmptyMiles
	default:
		return decimal.Zero
	}
}

// PayResult is a computed gross pay plus the human-readable rule name that
// produced it, kept on the line item for audit review.
type PayResult struct {
	Amount decimal.Decimal
	Rule   string
}

// ComputeGrossPay applies the pay formula for one load's metrics.
// The manual-override precedence lives in LoadPay; this function assumes the
// formula applies.
func ComputeGrossPay(payType PayType, payRate decimal.Decimal, m LoadMetrics) (PayResult, error) {
	switch payType {
	case PayPerMile:
		miles := m.EffectiveMiles()
		if !miles.IsPositive() {
			return PayResult{Amount: decimal.Zero, Rule: "per-mile (no mileage)"}, nil
		}
		return PayResult{Amount: miles.Mul(payRate), Rule: "per-mile"}, nil

	case PayPerLoad:
		return PayResult{Amount: payRate, Rule: "per-load flat rate"}, nil

	case PayPercentage:
		return PayResult{
			Amount: m.Revenue.Mul(payRate).Div(percentageDenominator),
			Rule:   "percentage of revenue",
		}, nil

	case PayHourly:
		miles := m.EffectiveMiles()
		hours := defaultHoursNoMileage
		rule := "hourly (10h default, no mileage)"
		if miles.IsPositive() {
			hours = miles.Div(averageSpeedMPH)
			rule = fmt.Sprintf("hourly estimate (%s h @ 50 mph)", hours.Round(2))
		}
		return PayResult{Amount: payRate.Mul(hours), Rule: rule}, nil

	default:
		return PayResult{}, ErrMissingPayConfiguration
	}
}

// LoadPay resolves gross pay for one load under the full precedence rules:
// manual override first, then the driver's formula. Requesting formula pay
// for a driver without pay configuration fails with
// ErrMissingPayConfiguration.
func LoadPay(driver *Driver, load Load) (PayResult, error) {
	if load.DriverPay != nil && load.DriverPay.IsPositive() {
		return PayResult{Amount: *load.DriverPay, Rule: "manual override"}, nil
	}
	if !driver.HasPayConfiguration() {
		return PayResult{}, ErrMissingPayConfiguration
	}
	return ComputeGrossPay(driver.PayType, *driver.PayRate, load.Metrics())
}
