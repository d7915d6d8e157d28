package bucketstore

import (
	"strings"
	"unicode/utf8"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/model"
	"github.com/wealthpath/buckets/pkg/currency"
	"github.com/wealthpath/buckets/pkg/datetime"
)

type SettingsPatch struct {
	IncomeCents     *int64           `json:"incomeCents,omitempty"`
	IncomeFrequency *model.Frequency `json:"incomeFrequency,omitempty"`
	Currency        *string          `json:"currency,omitempty"`
}

type TargetPatch struct {
	AmountCents             *int64         `json:"amountCents,omitempty"`
	TargetDate              *datetime.Date `json:"targetDate,omitempty"`
	ClearTargetDate         bool           `json:"clearTargetDate,omitempty"`
	AutoContributionEnabled *bool          `json:"autoContributionEnabled,omitempty"`
}

type DebtPatch struct {
	APRPct          *float64 `json:"aprPct,omitempty"`
	MinPaymentCents *int64   `json:"minPaymentCents,omitempty"`
}

// BucketPatch changes the non-nil fields of a bucket.
type BucketPatch struct {
	Name                  *string           `json:"name,omitempty"`
	BankAccount           *string           `json:"bankAccount,omitempty"`
	Color                 *string           `json:"color,omitempty"`
	Notes                 *string           `json:"notes,omitempty"`
	Type                  *model.BucketType `json:"type,omitempty"`
	Include               *bool             `json:"include,omitempty"`
	OverspendThresholdPct *float64          `json:"overspendThresholdPct,omitempty"`
	SpentThisPeriodCents  *int64            `json:"spentThisPeriodCents,omitempty"`
	Target                *TargetPatch      `json:"target,omitempty"`
	Debt                  *DebtPatch        `json:"debt,omitempty"`
}

type ItemPatch struct {
	Name        *string `json:"name,omitempty"`
	AmountCents *int64  `json:"amountCents,omitempty"`
	Include     *bool   `json:"include,omitempty"`
}

// mutate applies fn to a copy of the budget and commits it only when fn
// succeeds, then schedules a save.
func (s *Store) mutate(fn func(b *model.Budget) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readyLocked(); err != nil {
		return err
	}
	next := s.budget.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	s.budget = next
	s.markDirtyLocked()
	return nil
}

func (s *Store) readyLocked() error {
	if s.closed {
		return ErrClosed
	}
	if !s.loaded {
		return ErrNotLoaded
	}
	return nil
}

func (s *Store) RenameBudget(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperror.ValidationError("name", "name is required")
	}
	if err := checkText("name", name, model.MaxNameLength); err != nil {
		return err
	}
	return s.mutate(func(b *model.Budget) error {
		b.Name = name
		return nil
	})
}

func (s *Store) UpdateSettings(p SettingsPatch) error {
	if p.IncomeCents != nil && *p.IncomeCents < 0 {
		return apperror.ValidationError("incomeCents", "income cannot be negative")
	}
	if p.IncomeFrequency != nil && !p.IncomeFrequency.Valid() {
		return apperror.ValidationError("incomeFrequency", "unknown frequency")
	}
	return s.mutate(func(b *model.Budget) error {
		if p.IncomeCents != nil {
			b.Settings.IncomeCents = *p.IncomeCents
		}
		if p.IncomeFrequency != nil {
			b.Settings.IncomeFrequency = *p.IncomeFrequency
		}
		if p.Currency != nil {
			b.Settings.Currency = string(currency.Normalize(*p.Currency))
		}
		return nil
	})
}

func (s *Store) UpdateBucket(bucketID string, p BucketPatch) error {
	return s.mutate(func(b *model.Budget) error {
		bucket, err := findBucket(b, bucketID)
		if err != nil {
			return err
		}
		return applyBucketPatch(bucket, p)
	})
}

func applyBucketPatch(bucket *model.Bucket, p BucketPatch) error {
	texts := []struct {
		field string
		value *string
		dst   *string
		limit int
	}{
		{"name", p.Name, &bucket.Name, model.MaxNameLength},
		{"bankAccount", p.BankAccount, &bucket.BankAccount, model.MaxNameLength},
		{"color", p.Color, &bucket.Color, 32},
		{"notes", p.Notes, &bucket.Notes, model.MaxNotesLength},
	}
	for _, t := range texts {
		if t.value == nil {
			continue
		}
		v := strings.TrimSpace(*t.value)
		if err := checkText(t.field, v, t.limit); err != nil {
			return err
		}
		*t.dst = v
	}

	if p.Type != nil {
		if err := changeType(bucket, *p.Type); err != nil {
			return err
		}
	}
	if p.Include != nil {
		bucket.Include = *p.Include
	}
	if p.OverspendThresholdPct != nil {
		if *p.OverspendThresholdPct <= 0 {
			return apperror.ValidationError("overspendThresholdPct", "threshold must be positive")
		}
		bucket.OverspendThresholdPct = *p.OverspendThresholdPct
	}
	if p.SpentThisPeriodCents != nil {
		if *p.SpentThisPeriodCents < 0 {
			return apperror.ValidationError("spentThisPeriodCents", "spent cannot be negative")
		}
		bucket.SpentThisPeriodCents = *p.SpentThisPeriodCents
	}
	if p.Target != nil {
		if bucket.Type != model.BucketTypeSaving {
			return apperror.ValidationError("target", "only saving buckets have a target")
		}
		if err := applyTargetPatch(bucket, *p.Target); err != nil {
			return err
		}
	}
	if p.Debt != nil {
		if bucket.Type != model.BucketTypeDebt {
			return apperror.ValidationError("debt", "only debt buckets have debt terms")
		}
		if err := applyDebtPatch(bucket, *p.Debt); err != nil {
			return err
		}
	}
	return nil
}

// changeType switches between types that share a column. Saving and debt
// buckets swap their type-specific sub-structure.
func changeType(bucket *model.Bucket, t model.BucketType) error {
	if !t.Valid() {
		return apperror.ValidationError("type", "unknown bucket type")
	}
	if model.CategoryFor(t) != model.CategoryFor(bucket.Type) {
		return apperror.ValidationError("type", "a bucket cannot move between expenses and savings")
	}
	bucket.Type = t
	switch t {
	case model.BucketTypeSaving:
		bucket.Debt = nil
		if bucket.Target == nil {
			bucket.Target = &model.SavingsTarget{}
		}
	case model.BucketTypeDebt:
		bucket.Target = nil
		if bucket.Debt == nil {
			bucket.Debt = &model.DebtTerms{}
		}
	}
	return nil
}

func applyTargetPatch(bucket *model.Bucket, p TargetPatch) error {
	if bucket.Target == nil {
		bucket.Target = &model.SavingsTarget{}
	}
	if p.AmountCents != nil {
		if *p.AmountCents < 0 {
			return apperror.ValidationError("target.amountCents", "target cannot be negative")
		}
		bucket.Target.AmountCents = *p.AmountCents
	}
	switch {
	case p.ClearTargetDate:
		bucket.Target.TargetDate = nil
	case p.TargetDate != nil && !p.TargetDate.IsZero():
		d := datetime.StartOfDay(p.TargetDate.Time)
		bucket.Target.TargetDate = &d
	}
	if p.AutoContributionEnabled != nil {
		bucket.Target.AutoContributionEnabled = *p.AutoContributionEnabled
	}
	return nil
}

func applyDebtPatch(bucket *model.Bucket, p DebtPatch) error {
	if bucket.Debt == nil {
		bucket.Debt = &model.DebtTerms{}
	}
	if p.APRPct != nil {
		if *p.APRPct < 0 {
			return apperror.ValidationError("debt.aprPct", "APR cannot be negative")
		}
		bucket.Debt.APRPct = *p.APRPct
	}
	if p.MinPaymentCents != nil {
		if *p.MinPaymentCents < 0 {
			return apperror.ValidationError("debt.minPaymentCents", "payment cannot be negative")
		}
		bucket.Debt.MinPaymentCents = *p.MinPaymentCents
	}
	return nil
}

// ToggleBucket flips whether the bucket counts towards the totals.
func (s *Store) ToggleBucket(bucketID string) error {
	return s.mutate(func(b *model.Budget) error {
		bucket, err := findBucket(b, bucketID)
		if err != nil {
			return err
		}
		bucket.Include = !bucket.Include
		return nil
	})
}

func (s *Store) SetSpent(bucketID string, cents int64) error {
	return s.UpdateBucket(bucketID, BucketPatch{SpentThisPeriodCents: &cents})
}

// AddItem appends an empty, included item. Items left empty are dropped when
// the budget is written.
func (s *Store) AddItem(bucketID string) (model.Item, error) {
	var item model.Item
	err := s.mutate(func(b *model.Budget) error {
		bucket, err := findBucket(b, bucketID)
		if err != nil {
			return err
		}
		if len(bucket.Items) >= model.MaxItemsPerBucket {
			return apperror.ValidationError("items", "a bucket holds at most 200 items")
		}
		item = model.Item{ID: s.opts.NewID(), Include: true}
		bucket.Items = append(bucket.Items, item)
		return nil
	})
	return item, err
}

func (s *Store) UpdateItem(bucketID, itemID string, p ItemPatch) error {
	var name string
	if p.Name != nil {
		name = strings.TrimSpace(*p.Name)
		if err := checkText("name", name, model.MaxNameLength); err != nil {
			return err
		}
	}
	if p.AmountCents != nil && *p.AmountCents < 0 {
		return apperror.ValidationError("amountCents", "amount cannot be negative")
	}

	return s.mutate(func(b *model.Budget) error {
		bucket, err := findBucket(b, bucketID)
		if err != nil {
			return err
		}
		i := findItem(bucket, itemID)
		if i < 0 {
			return ErrItemNotFound
		}
		if p.Name != nil {
			bucket.Items[i].Name = name
		}
		if p.AmountCents != nil {
			bucket.Items[i].AmountCents = *p.AmountCents
		}
		if p.Include != nil {
			bucket.Items[i].Include = *p.Include
		}
		return nil
	})
}

// DeleteItem removes an item. Removing the only item of a bucket needs
// confirmed set, otherwise ErrConfirmRequired is returned.
func (s *Store) DeleteItem(bucketID, itemID string, confirmed bool) error {
	return s.mutate(func(b *model.Budget) error {
		bucket, err := findBucket(b, bucketID)
		if err != nil {
			return err
		}
		i := findItem(bucket, itemID)
		if i < 0 {
			return ErrItemNotFound
		}
		if len(bucket.Items) == 1 && !confirmed {
			return ErrConfirmRequired
		}
		bucket.Items = append(bucket.Items[:i], bucket.Items[i+1:]...)
		return nil
	})
}

// ReorderBuckets puts the buckets of category in the given order and
// renumbers orderIndex densely from zero. orderedIDs must name every bucket
// of the category exactly once.
func (s *Store) ReorderBuckets(category model.Category, orderedIDs []string) error {
	if !category.Valid() {
		return apperror.ValidationError("category", "unknown category")
	}
	return s.mutate(func(b *model.Budget) error {
		current := b.Buckets(category)
		if len(orderedIDs) != len(current) {
			return apperror.ValidationError("order", "order must list every bucket of the category")
		}
		byID := make(map[string]model.Bucket, len(current))
		for _, bucket := range current {
			byID[bucket.ID] = bucket
		}
		next := make([]model.Bucket, 0, len(current))
		for i, id := range orderedIDs {
			bucket, ok := byID[id]
			if !ok {
				return apperror.ValidationError("order", "order names an unknown or repeated bucket")
			}
			delete(byID, id)
			bucket.OrderIndex = i
			next = append(next, bucket)
		}
		b.SetBuckets(category, next)
		return nil
	})
}

func findBucket(b *model.Budget, id string) (*model.Bucket, error) {
	category, i, ok := b.FindBucket(id)
	if !ok {
		return nil, ErrBucketNotFound
	}
	return &b.Buckets(category)[i], nil
}

func findItem(bucket *model.Bucket, id string) int {
	for i := range bucket.Items {
		if bucket.Items[i].ID == id {
			return i
		}
	}
	return -1
}

func checkText(field, v string, limit int) error {
	if utf8.RuneCountInString(v) > limit {
		return apperror.ValidationError(field, field+" is too long")
	}
	return nil
}

// reindex renumbers orderIndex to match slice positions.
func reindex(buckets []model.Bucket) {
	for i := range buckets {
		buckets[i].OrderIndex = i
	}
}
