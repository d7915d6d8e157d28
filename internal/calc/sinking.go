package calc

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/wealthpath/buckets/pkg/datetime"
)

// MonthsUntil is the number of whole months from now to target. Dates in the
// past yield zero.
func MonthsUntil(now, target time.Time) int {
	return datetime.WholeMonthsBetween(now, target)
}

// MonthlyNeeded is the contribution per month required to close the gap
// between current and target by targetDate, rounded up to a whole minor unit.
// It is zero when there is no date, the date has arrived or the target is
// already met.
func MonthlyNeeded(targetCents, currentCents int64, targetDate *time.Time, now time.Time) int64 {
	if targetDate == nil {
		return 0
	}
	months := MonthsUntil(now, *targetDate)
	if months <= 0 {
		return 0
	}
	gap := targetCents - currentCents
	if gap <= 0 {
		return 0
	}
	return decimal.NewFromInt(gap).Div(decimal.NewFromInt(int64(months))).Ceil().IntPart()
}
