package calc

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxPayoffMonths bounds the amortization loop. A balance that is not cleared
// within this horizon is reported as unreachable.
const MaxPayoffMonths = 600

var hundred = decimal.NewFromInt(100)

type AmortizationRow struct {
	Month          int   `json:"month"`
	PaymentCents   int64 `json:"paymentCents"`
	PrincipalCents int64 `json:"principalCents"`
	InterestCents  int64 `json:"interestCents"`
	RemainingCents int64 `json:"remainingCents"`
}

type PayoffPlan struct {
	BalanceCents       int64             `json:"balanceCents"`
	APRPct             float64           `json:"aprPct"`
	PaymentCents       int64             `json:"paymentCents"`
	Reachable          bool              `json:"reachable"`
	Months             int               `json:"months"`
	TotalInterestCents int64             `json:"totalInterestCents"`
	TotalPaidCents     int64             `json:"totalPaidCents"`
	PayoffDate         *time.Time        `json:"payoffDate,omitempty"`
	Rows               []AmortizationRow `json:"rows,omitempty"`
}

func monthlyRate(aprPct float64) decimal.Decimal {
	if aprPct <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(aprPct).Div(hundred).Div(monthsPerYear)
}

// PayoffSchedule amortizes a balance with a fixed monthly payment and monthly
// compounding. Interest is rounded to whole minor units each month. When the
// payment does not exceed the first month's interest the plan is unreachable
// and carries no rows.
func PayoffSchedule(balanceCents int64, aprPct float64, paymentCents int64, now time.Time) *PayoffPlan {
	plan := &PayoffPlan{
		BalanceCents: balanceCents,
		APRPct:       aprPct,
		PaymentCents: paymentCents,
	}
	if balanceCents <= 0 {
		plan.Reachable = true
		return plan
	}

	rate := monthlyRate(aprPct)
	balance := decimal.NewFromInt(balanceCents)
	payment := decimal.NewFromInt(paymentCents)

	if payment.LessThanOrEqual(balance.Mul(rate).Round(0)) {
		return plan
	}

	totalInterest := decimal.Zero
	totalPaid := decimal.Zero
	rows := make([]AmortizationRow, 0)

	for balance.IsPositive() && len(rows) < MaxPayoffMonths {
		interest := balance.Mul(rate).Round(0)
		pay := payment
		if pay.GreaterThan(balance.Add(interest)) {
			pay = balance.Add(interest)
		}
		principal := pay.Sub(interest)
		balance = balance.Sub(principal)

		totalInterest = totalInterest.Add(interest)
		totalPaid = totalPaid.Add(pay)

		rows = append(rows, AmortizationRow{
			Month:          len(rows) + 1,
			PaymentCents:   pay.IntPart(),
			PrincipalCents: principal.IntPart(),
			InterestCents:  interest.IntPart(),
			RemainingCents: balance.IntPart(),
		})
	}

	if balance.IsPositive() {
		return plan
	}

	plan.Reachable = true
	plan.Months = len(rows)
	plan.TotalInterestCents = totalInterest.IntPart()
	plan.TotalPaidCents = totalPaid.IntPart()
	plan.Rows = rows
	date := now.AddDate(0, plan.Months, 0)
	plan.PayoffDate = &date
	return plan
}

// PayoffMonths returns the number of monthly payments needed to clear a
// balance, and false when the payment never clears it.
func PayoffMonths(balanceCents int64, aprPct float64, paymentCents int64) (int, bool) {
	p := PayoffSchedule(balanceCents, aprPct, paymentCents, time.Time{})
	return p.Months, p.Reachable
}
