package model

import (
	"time"

	"github.com/wealthpath/buckets/pkg/datetime"
)

// SchemaVersion is the budget document layout written by this build.
const SchemaVersion = 2

// Limits and defaults applied to every budget document.
const (
	MaxBucketsPerCategory        = 50
	MaxItemsPerBucket            = 200
	MaxNameLength                = 120
	MaxNotesLength               = 2000
	DefaultOverspendThresholdPct = 80.0
	DefaultBudgetName            = "My Budget"
	DefaultCurrency              = "USD"
	FreeBucketLimit              = 5
)

type Frequency string

const (
	FrequencyWeekly      Frequency = "Weekly"
	FrequencyFortnightly Frequency = "Fortnightly"
	FrequencyMonthly     Frequency = "Monthly"
	FrequencyYearly      Frequency = "Yearly"
)

// DefaultFrequency is used when a document carries no usable frequency.
const DefaultFrequency = FrequencyFortnightly

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyFortnightly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

type BucketType string

const (
	BucketTypeExpense BucketType = "expense"
	BucketTypeSaving  BucketType = "saving"
	BucketTypeDebt    BucketType = "debt"
)

func (t BucketType) Valid() bool {
	switch t {
	case BucketTypeExpense, BucketTypeSaving, BucketTypeDebt:
		return true
	}
	return false
}

// Category names one of the two ordered bucket arrays of a budget.
type Category string

const (
	CategoryExpenses Category = "expenses"
	CategorySavings  Category = "savings"
)

func (c Category) Valid() bool {
	return c == CategoryExpenses || c == CategorySavings
}

// CategoryFor returns the array a bucket of the given type lives in.
// Debt buckets share the savings column with saving buckets.
func CategoryFor(t BucketType) Category {
	if t == BucketTypeExpense {
		return CategoryExpenses
	}
	return CategorySavings
}

type Plan string

const (
	PlanFree Plan = "free"
	PlanPlus Plan = "plus"
)

// ParsePlan maps a raw claim value onto a plan, failing closed to free.
func ParsePlan(s string) Plan {
	if Plan(s) == PlanPlus {
		return PlanPlus
	}
	return PlanFree
}

type Settings struct {
	IncomeCents     int64     `json:"incomeCents"`
	IncomeFrequency Frequency `json:"incomeFrequency"`
	Currency        string    `json:"currency"`
}

type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AmountCents int64  `json:"amountCents"`
	Include     bool   `json:"include"`
}

// IsEmpty reports whether the item carries no user data at all.
func (i Item) IsEmpty() bool {
	return i.Name == "" && i.AmountCents == 0
}

type SavingsTarget struct {
	AmountCents             int64      `json:"amountCents"`
	TargetDate              *time.Time `json:"targetDate,omitempty"`
	AutoContributionEnabled bool       `json:"autoContributionEnabled"`
}

type DebtTerms struct {
	APRPct          float64 `json:"aprPct"`
	MinPaymentCents int64   `json:"minPaymentCents"`
}

type Bucket struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	BankAccount           string         `json:"bankAccount"`
	Color                 string         `json:"color"`
	Notes                 string         `json:"notes"`
	Type                  BucketType     `json:"type"`
	Include               bool           `json:"include"`
	OrderIndex            int            `json:"orderIndex"`
	OverspendThresholdPct float64        `json:"overspendThresholdPct"`
	SpentThisPeriodCents  int64          `json:"spentThisPeriodCents"`
	Items                 []Item         `json:"items"`
	Target                *SavingsTarget `json:"target,omitempty"`
	Debt                  *DebtTerms     `json:"debt,omitempty"`
}

// Clone returns a deep copy of the bucket.
func (b Bucket) Clone() Bucket {
	out := b
	out.Items = append([]Item(nil), b.Items...)
	if b.Target != nil {
		t := *b.Target
		if b.Target.TargetDate != nil {
			d := *b.Target.TargetDate
			t.TargetDate = &d
		}
		out.Target = &t
	}
	if b.Debt != nil {
		d := *b.Debt
		out.Debt = &d
	}
	return out
}

type Budget struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Settings      Settings  `json:"settings"`
	Expenses      []Bucket  `json:"expenses"`
	Savings       []Bucket  `json:"savings"`
	SchemaVersion int       `json:"schemaVersion"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy of the budget.
func (b Budget) Clone() Budget {
	out := b
	out.Expenses = cloneBuckets(b.Expenses)
	out.Savings = cloneBuckets(b.Savings)
	return out
}

func cloneBuckets(in []Bucket) []Bucket {
	if in == nil {
		return nil
	}
	out := make([]Bucket, len(in))
	for i, b := range in {
		out[i] = b.Clone()
	}
	return out
}

// Buckets returns the bucket array for the given category.
func (b *Budget) Buckets(c Category) []Bucket {
	if c == CategoryExpenses {
		return b.Expenses
	}
	return b.Savings
}

// SetBuckets replaces the bucket array for the given category.
func (b *Budget) SetBuckets(c Category, buckets []Bucket) {
	if c == CategoryExpenses {
		b.Expenses = buckets
		return
	}
	b.Savings = buckets
}

// BucketCount is the number of buckets across both categories.
func (b *Budget) BucketCount() int {
	return len(b.Expenses) + len(b.Savings)
}

// FindBucket locates a bucket by id.
func (b *Budget) FindBucket(id string) (Category, int, bool) {
	for i := range b.Expenses {
		if b.Expenses[i].ID == id {
			return CategoryExpenses, i, true
		}
	}
	for i := range b.Savings {
		if b.Savings[i].ID == id {
			return CategorySavings, i, true
		}
	}
	return "", -1, false
}

// BucketCounter mirrors users/{uid}/meta/bucketCounts.
type BucketCounter struct {
	Total int `json:"total"`
}

// NewBudget returns an empty budget carrying the documented defaults.
func NewBudget(id string) Budget {
	return Budget{
		ID:   id,
		Name: DefaultBudgetName,
		Settings: Settings{
			IncomeFrequency: DefaultFrequency,
			Currency:        DefaultCurrency,
		},
		Expenses:      []Bucket{},
		Savings:       []Bucket{},
		SchemaVersion: SchemaVersion,
	}
}

// ToDocument encodes the budget as the map written to the document store.
// Server-managed timestamps and the document id are not part of the body.
func (b Budget) ToDocument() map[string]any {
	return map[string]any{
		"schemaVersion": int64(b.SchemaVersion),
		"name":          b.Name,
		"settings": map[string]any{
			"incomeCents":     b.Settings.IncomeCents,
			"incomeFrequency": string(b.Settings.IncomeFrequency),
			"currency":        b.Settings.Currency,
		},
		"expenses": bucketsToDocument(b.Expenses),
		"savings":  bucketsToDocument(b.Savings),
	}
}

func bucketsToDocument(buckets []Bucket) []any {
	out := make([]any, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, b.ToDocument())
	}
	return out
}

// ToDocument encodes a single bucket.
func (b Bucket) ToDocument() map[string]any {
	items := make([]any, 0, len(b.Items))
	for _, it := range b.Items {
		items = append(items, map[string]any{
			"id":          it.ID,
			"name":        it.Name,
			"amountCents": it.AmountCents,
			"include":     it.Include,
		})
	}
	doc := map[string]any{
		"id":                    b.ID,
		"name":                  b.Name,
		"bankAccount":           b.BankAccount,
		"color":                 b.Color,
		"notes":                 b.Notes,
		"type":                  string(b.Type),
		"include":               b.Include,
		"orderIndex":            int64(b.OrderIndex),
		"overspendThresholdPct": b.OverspendThresholdPct,
		"spentThisPeriodCents":  b.SpentThisPeriodCents,
		"items":                 items,
	}
	if b.Target != nil {
		target := map[string]any{
			"amountCents":             b.Target.AmountCents,
			"autoContributionEnabled": b.Target.AutoContributionEnabled,
		}
		if d := datetime.FromTime(b.Target.TargetDate); d != nil {
			target["targetDate"] = d.String()
		}
		doc["target"] = target
	}
	if b.Debt != nil {
		doc["debt"] = map[string]any{
			"aprPct":          b.Debt.APRPct,
			"minPaymentCents": b.Debt.MinPaymentCents,
		}
	}
	return doc
}
