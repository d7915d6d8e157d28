// Package calc derives display values from budget state. Every function is
// pure and cheap enough to run after each edit.
package calc

import (
	"github.com/shopspring/decimal"

	"github.com/wealthpath/buckets/internal/model"
)

var (
	weeksPerYear   = decimal.NewFromInt(52)
	monthsPerYear  = decimal.NewFromInt(12)
	weeksPerMonth  = weeksPerYear.Div(monthsPerYear)
	weeksPerPeriod = map[model.Frequency]decimal.Decimal{
		model.FrequencyWeekly:      decimal.NewFromInt(1),
		model.FrequencyFortnightly: decimal.NewFromInt(2),
		model.FrequencyMonthly:     weeksPerMonth,
		model.FrequencyYearly:      weeksPerYear,
	}
)

func weeks(f model.Frequency) decimal.Decimal {
	if w, ok := weeksPerPeriod[f]; ok {
		return w
	}
	return weeksPerPeriod[model.DefaultFrequency]
}

// Convert re-expresses an amount paid every from period as the equivalent
// amount per to period, going through a weekly amount.
func Convert(amount decimal.Decimal, from, to model.Frequency) decimal.Decimal {
	if from == to {
		return amount
	}
	weekly := amount.Div(weeks(from))
	return weekly.Mul(weeks(to))
}

// ConvertCents is Convert for whole minor units, rounded half away from zero.
func ConvertCents(cents int64, from, to model.Frequency) int64 {
	return Convert(decimal.NewFromInt(cents), from, to).Round(0).IntPart()
}
