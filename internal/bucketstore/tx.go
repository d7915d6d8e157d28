package bucketstore

import (
	"context"
	"errors"
	"strings"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/docstore"
	"github.com/wealthpath/buckets/internal/model"
	"github.com/wealthpath/buckets/internal/scrub"
	"github.com/wealthpath/buckets/pkg/datetime"
)

// NewBucket describes a bucket to create. Type defaults to the natural type
// of the category.
type NewBucket struct {
	Name                  string               `json:"name"`
	BankAccount           string               `json:"bankAccount"`
	Color                 string               `json:"color"`
	Notes                 string               `json:"notes"`
	Type                  model.BucketType     `json:"type"`
	Include               *bool                `json:"include,omitempty"`
	OverspendThresholdPct float64              `json:"overspendThresholdPct"`
	Target                *model.SavingsTarget `json:"target,omitempty"`
	Debt                  *model.DebtTerms     `json:"debt,omitempty"`
}

func (s *Store) buildBucket(category model.Category, nb NewBucket) (model.Bucket, error) {
	if !category.Valid() {
		return model.Bucket{}, apperror.ValidationError("category", "unknown category")
	}
	t := nb.Type
	if t == "" {
		t = model.BucketTypeExpense
		if category == model.CategorySavings {
			t = model.BucketTypeSaving
		}
	}
	if !t.Valid() {
		return model.Bucket{}, apperror.ValidationError("type", "unknown bucket type")
	}
	if model.CategoryFor(t) != category {
		return model.Bucket{}, apperror.ValidationError("type", "bucket type does not belong to this category")
	}

	bucket := model.Bucket{
		ID:                    s.opts.NewID(),
		Type:                  t,
		Include:               true,
		OverspendThresholdPct: model.DefaultOverspendThresholdPct,
		Items:                 []model.Item{},
	}
	if nb.Include != nil {
		bucket.Include = *nb.Include
	}
	if nb.OverspendThresholdPct > 0 {
		bucket.OverspendThresholdPct = nb.OverspendThresholdPct
	}

	name := strings.TrimSpace(nb.Name)
	p := BucketPatch{Name: &name, BankAccount: &nb.BankAccount, Color: &nb.Color, Notes: &nb.Notes}
	switch t {
	case model.BucketTypeSaving:
		bucket.Target = &model.SavingsTarget{}
		if nb.Target != nil {
			p.Target = &TargetPatch{
				AmountCents:             &nb.Target.AmountCents,
				TargetDate:              datetime.FromTime(nb.Target.TargetDate),
				AutoContributionEnabled: &nb.Target.AutoContributionEnabled,
			}
		}
	case model.BucketTypeDebt:
		bucket.Debt = &model.DebtTerms{}
		if nb.Debt != nil {
			p.Debt = &DebtPatch{APRPct: &nb.Debt.APRPct, MinPaymentCents: &nb.Debt.MinPaymentCents}
		}
	}
	if err := applyBucketPatch(&bucket, p); err != nil {
		return model.Bucket{}, err
	}
	return bucket, nil
}

// CreateBucket adds a bucket to category in one transaction with the bucket
// counter. On the free plan the transaction is rejected once the counter
// reaches the free limit, whatever the local pre-check said.
func (s *Store) CreateBucket(ctx context.Context, category model.Category, nb NewBucket) (model.Bucket, error) {
	bucket, err := s.buildBucket(category, nb)
	if err != nil {
		return model.Bucket{}, err
	}

	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return model.Bucket{}, err
	}
	if len(s.budget.Buckets(category)) >= model.MaxBucketsPerCategory {
		s.mu.Unlock()
		return model.Bucket{}, apperror.ValidationError("category", "a category holds at most 50 buckets")
	}
	if !s.canCreateLocked() {
		s.mu.Unlock()
		err := apperror.PlanLimit(s.opts.FreeBucketLimit)
		s.report(err)
		return model.Bucket{}, err
	}
	s.mu.Unlock()

	if _, err := s.acquire(ctx, true); err != nil {
		return model.Bucket{}, err
	}

	s.mu.Lock()
	next := s.budget.Clone()
	bucket.OrderIndex = len(next.Buckets(category))
	next.SetBuckets(category, append(next.Buckets(category), bucket))
	ver := s.version
	seed := s.budget.BucketCount()
	s.mu.Unlock()

	var observed int
	err = s.runCounterTx(ctx, next, seed, func(total int) (int, error) {
		observed = total
		if s.plan() != model.PlanPlus && total >= s.opts.FreeBucketLimit {
			return 0, apperror.PlanLimit(s.opts.FreeBucketLimit)
		}
		return total + 1, nil
	})

	s.mu.Lock()
	if err == nil {
		b := &s.budget
		if _, _, exists := b.FindBucket(bucket.ID); !exists {
			bucket.OrderIndex = len(b.Buckets(category))
			b.SetBuckets(category, append(b.Buckets(category), bucket))
		}
		s.counter = observed + 1
		s.markSavedLocked(ver)
	} else if errors.Is(err, apperror.ErrPlanLimit) {
		s.counter = observed
	}
	s.releaseLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("bucket creation rejected",
			"budget_id", next.ID,
			"kind", apperror.Classify(err),
			"error", err,
		)
		s.report(err)
		return model.Bucket{}, err
	}
	s.logger.Info("bucket created", "budget_id", next.ID, "bucket_id", bucket.ID, "total", observed+1)
	return bucket, nil
}

// DeleteBucket removes a bucket in one transaction with the bucket counter.
// The counter never drops below zero.
func (s *Store) DeleteBucket(ctx context.Context, bucketID string) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, _, ok := s.budget.FindBucket(bucketID); !ok {
		s.mu.Unlock()
		return ErrBucketNotFound
	}
	s.mu.Unlock()

	if _, err := s.acquire(ctx, true); err != nil {
		return err
	}

	s.mu.Lock()
	next := s.budget.Clone()
	found := removeBucket(&next, bucketID)
	ver := s.version
	seed := s.budget.BucketCount()
	s.mu.Unlock()

	var err error
	var total int
	if !found {
		err = ErrBucketNotFound
	} else {
		err = s.runCounterTx(ctx, next, seed, func(current int) (int, error) {
			total = max(current-1, 0)
			return total, nil
		})
	}

	s.mu.Lock()
	if err == nil {
		removeBucket(&s.budget, bucketID)
		s.counter = total
		s.markSavedLocked(ver)
	}
	s.releaseLocked()
	s.mu.Unlock()

	if err != nil {
		if !errors.Is(err, ErrBucketNotFound) {
			s.logger.Error("bucket deletion failed", "budget_id", next.ID, "bucket_id", bucketID, "error", err)
			s.report(err)
		}
		return err
	}
	s.logger.Info("bucket deleted", "budget_id", next.ID, "bucket_id", bucketID, "total", total)
	return nil
}

func removeBucket(b *model.Budget, id string) bool {
	category, i, ok := b.FindBucket(id)
	if !ok {
		return false
	}
	buckets := b.Buckets(category)
	buckets = append(buckets[:i:i], buckets[i+1:]...)
	reindex(buckets)
	b.SetBuckets(category, buckets)
	return true
}

// runCounterTx writes budget and the counter value returned by next in one
// transaction. next receives the stored counter, or seed when the user has
// none. Reads happen before writes.
func (s *Store) runCounterTx(ctx context.Context, budget model.Budget, seed int, next func(total int) (int, error)) error {
	budgetPath := docstore.BudgetPath(s.deps.UserID, budget.ID)
	counterPath := docstore.CounterPath(s.deps.UserID)
	doc := scrub.Clean(budget).ToDocument()

	return s.withRetry(ctx, func(ctx context.Context) error {
		return s.deps.Store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			total := seed
			counter, err := tx.Get(counterPath)
			switch {
			case err == nil:
				total = counterTotal(counter, seed)
			case !errors.Is(err, docstore.ErrNotFound):
				return err
			}
			if _, err := tx.Get(budgetPath); err != nil && !errors.Is(err, docstore.ErrNotFound) {
				return err
			}

			updated, err := next(total)
			if err != nil {
				return err
			}
			if err := tx.Set(budgetPath, doc, false); err != nil {
				return err
			}
			return tx.Set(counterPath, map[string]any{"total": int64(updated)}, true)
		})
	})
}
