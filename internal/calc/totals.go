package calc

import (
	"github.com/wealthpath/buckets/internal/model"
)

// Totals are the aggregate sums of a budget expressed per Frequency.
type Totals struct {
	Frequency      model.Frequency `json:"frequency"`
	IncomeCents    int64           `json:"incomeCents"`
	ExpensesCents  int64           `json:"expensesCents"`
	SavingsCents   int64           `json:"savingsCents"`
	DebtCents      int64           `json:"debtCents"`
	RemainingCents int64           `json:"remainingCents"`
}

// BucketTotal sums the included items of a bucket. The bucket's own include
// flag is not consulted.
func BucketTotal(b model.Bucket) int64 {
	var sum int64
	for _, it := range b.Items {
		if it.Include {
			sum += it.AmountCents
		}
	}
	return sum
}

// ComputeTotals sums the included buckets of a budget in the budget's own
// income frequency. Debt buckets are summed separately from savings wherever
// they are stored.
func ComputeTotals(b model.Budget) Totals {
	t := Totals{
		Frequency:   b.Settings.IncomeFrequency,
		IncomeCents: b.Settings.IncomeCents,
	}
	if !t.Frequency.Valid() {
		t.Frequency = model.DefaultFrequency
	}

	for _, list := range [][]model.Bucket{b.Expenses, b.Savings} {
		for _, bucket := range list {
			if !bucket.Include {
				continue
			}
			sum := BucketTotal(bucket)
			switch bucket.Type {
			case model.BucketTypeDebt:
				t.DebtCents += sum
			case model.BucketTypeSaving:
				t.SavingsCents += sum
			default:
				t.ExpensesCents += sum
			}
		}
	}

	t.RemainingCents = t.IncomeCents - t.ExpensesCents - t.SavingsCents - t.DebtCents
	return t
}

// In re-expresses the totals per another frequency.
func (t Totals) In(f model.Frequency) Totals {
	if !f.Valid() || f == t.Frequency {
		return t
	}
	out := Totals{
		Frequency:     f,
		IncomeCents:   ConvertCents(t.IncomeCents, t.Frequency, f),
		ExpensesCents: ConvertCents(t.ExpensesCents, t.Frequency, f),
		SavingsCents:  ConvertCents(t.SavingsCents, t.Frequency, f),
		DebtCents:     ConvertCents(t.DebtCents, t.Frequency, f),
	}
	out.RemainingCents = out.IncomeCents - out.ExpensesCents - out.SavingsCents - out.DebtCents
	return out
}
