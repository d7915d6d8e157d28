package calc

import (
	"time"

	"github.com/wealthpath/buckets/internal/model"
	"github.com/wealthpath/buckets/pkg/currency"
	"github.com/wealthpath/buckets/pkg/datetime"
)

// SinkingFund is the progress of a saving bucket toward its target.
type SinkingFund struct {
	TargetCents        int64          `json:"targetCents"`
	CurrentCents       int64          `json:"currentCents"`
	TargetDate         *datetime.Date `json:"targetDate,omitempty"`
	MonthsRemaining    int            `json:"monthsRemaining"`
	MonthlyNeededCents int64          `json:"monthlyNeededCents"`
}

// Payoff is the projection shown for a debt bucket.
type Payoff struct {
	BalanceCents int64          `json:"balanceCents"`
	PaymentCents int64          `json:"paymentCents"`
	APRPct       float64        `json:"aprPct"`
	Reachable    bool           `json:"reachable"`
	Months       int            `json:"months,omitempty"`
	PayoffDate   *datetime.Date `json:"payoffDate,omitempty"`
}

type BucketView struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Type         model.BucketType `json:"type"`
	Category     model.Category   `json:"category"`
	Include      bool             `json:"include"`
	PlannedCents int64            `json:"plannedCents"`
	Planned      string           `json:"planned"`
	SpentCents   int64            `json:"spentCents"`
	Status       Status           `json:"status"`
	Sinking      *SinkingFund     `json:"sinkingFund,omitempty"`
	Payoff       *Payoff          `json:"payoff,omitempty"`
}

// Display holds totals formatted in the budget's currency.
type Display struct {
	Income    string `json:"income"`
	Expenses  string `json:"expenses"`
	Savings   string `json:"savings"`
	Debt      string `json:"debt"`
	Remaining string `json:"remaining"`
}

type Summary struct {
	Currency currency.Currency `json:"currency"`
	Totals   Totals            `json:"totals"`
	Display  Display           `json:"display"`
	Buckets  []BucketView      `json:"buckets"`
}

// Summarize builds the derived view of a whole budget. The balance of a debt
// bucket and the saved amount of a saving bucket are the sum of their
// included items.
func Summarize(b model.Budget, now time.Time) Summary {
	cur := currency.Normalize(b.Settings.Currency)
	s := Summary{
		Currency: cur,
		Totals:   ComputeTotals(b),
		Buckets:  make([]BucketView, 0, b.BucketCount()),
	}
	s.Display = display(s.Totals, cur)
	for _, c := range []model.Category{model.CategoryExpenses, model.CategorySavings} {
		for _, bucket := range b.Buckets(c) {
			s.Buckets = append(s.Buckets, viewOf(bucket, c, cur, now))
		}
	}
	return s
}

// In re-expresses the totals per another frequency. Bucket views keep the
// budget's own frequency.
func (s Summary) In(f model.Frequency) Summary {
	s.Totals = s.Totals.In(f)
	s.Display = display(s.Totals, s.Currency)
	return s
}

func display(t Totals, cur currency.Currency) Display {
	return Display{
		Income:    currency.Format(t.IncomeCents, cur),
		Expenses:  currency.Format(t.ExpensesCents, cur),
		Savings:   currency.Format(t.SavingsCents, cur),
		Debt:      currency.Format(t.DebtCents, cur),
		Remaining: currency.Format(t.RemainingCents, cur),
	}
}

func viewOf(b model.Bucket, c model.Category, cur currency.Currency, now time.Time) BucketView {
	planned := BucketTotal(b)
	v := BucketView{
		ID:           b.ID,
		Name:         b.Name,
		Type:         b.Type,
		Category:     c,
		Include:      b.Include,
		PlannedCents: planned,
		Planned:      currency.Format(planned, cur),
		SpentCents:   b.SpentThisPeriodCents,
		Status:       Classify(b.SpentThisPeriodCents, planned, b.OverspendThresholdPct),
	}

	if b.Type == model.BucketTypeSaving && b.Target != nil {
		fund := &SinkingFund{
			TargetCents:  b.Target.AmountCents,
			CurrentCents: planned,
			TargetDate:   datetime.FromTime(b.Target.TargetDate),
		}
		if b.Target.TargetDate != nil {
			fund.MonthsRemaining = MonthsUntil(now, *b.Target.TargetDate)
		}
		fund.MonthlyNeededCents = MonthlyNeeded(fund.TargetCents, fund.CurrentCents, b.Target.TargetDate, now)
		v.Sinking = fund
	}

	if b.Type == model.BucketTypeDebt && b.Debt != nil {
		plan := PayoffSchedule(planned, b.Debt.APRPct, b.Debt.MinPaymentCents, now)
		v.Payoff = &Payoff{
			BalanceCents: planned,
			PaymentCents: b.Debt.MinPaymentCents,
			APRPct:       b.Debt.APRPct,
			Reachable:    plan.Reachable,
			Months:       plan.Months,
			PayoffDate:   datetime.FromTime(plan.PayoffDate),
		}
	}
	return v
}
