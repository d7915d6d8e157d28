package calc

import (
	"github.com/shopspring/decimal"

	"github.com/wealthpath/buckets/internal/model"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusOver    Status = "over"
)

// Classify compares spend to the planned allocation. Below thresholdPct of
// plan is OK, from the threshold up to and including the plan is Warning, and
// anything above plan is Over. Spend against a zero plan is Over.
func Classify(spentCents, plannedCents int64, thresholdPct float64) Status {
	if thresholdPct <= 0 {
		thresholdPct = model.DefaultOverspendThresholdPct
	}
	if plannedCents <= 0 {
		if spentCents > 0 {
			return StatusOver
		}
		return StatusOK
	}

	spent := decimal.NewFromInt(spentCents)
	planned := decimal.NewFromInt(plannedCents)
	if spent.GreaterThan(planned) {
		return StatusOver
	}
	warnAt := planned.Mul(decimal.NewFromFloat(thresholdPct)).Div(hundred)
	if spent.GreaterThanOrEqual(warnAt) {
		return StatusWarning
	}
	return StatusOK
}
