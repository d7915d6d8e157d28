package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cast"

	"github.com/wealthpath/buckets/internal/docstore"
	"github.com/wealthpath/buckets/internal/logger"
	"github.com/wealthpath/buckets/internal/scrub"
)

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Users    int `json:"users"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
}

// CounterService repairs drift between users/{uid}/meta/bucketCounts and
// the buckets actually stored in the user's budgets.
type CounterService struct {
	store  docstore.Store
	logger *slog.Logger
}

func NewCounterService(store docstore.Store, l *slog.Logger) *CounterService {
	return &CounterService{store: store, logger: logger.OrDefault(l)}
}

// ReconcileUser recounts the buckets of uid and rewrites the counter when it
// differs. It reports the stored and the counted value.
func (s *CounterService) ReconcileUser(ctx context.Context, uid string) (stored, counted int, err error) {
	budgets, err := s.store.List(ctx, docstore.BudgetsCollection(uid), docstore.Query{})
	if err != nil {
		return 0, 0, fmt.Errorf("listing budgets of %s: %w", uid, err)
	}

	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		stored, counted = 0, 0
		raw := -1
		counter, err := tx.Get(docstore.CounterPath(uid))
		switch {
		case err == nil:
			raw = cast.ToInt(counter["total"])
			stored = max(raw, 0)
		case !errors.Is(err, docstore.ErrNotFound):
			return err
		}

		for _, doc := range budgets {
			data, err := tx.Get(doc.Path)
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			upgraded, _ := scrub.Upgrade(data)
			budget := scrub.Decode(doc.ID, upgraded)
			counted += budget.BucketCount()
		}

		if raw == counted {
			return nil
		}
		return tx.Set(docstore.CounterPath(uid), map[string]any{"total": int64(counted)}, true)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("reconciling counter of %s: %w", uid, err)
	}
	return stored, counted, nil
}

// ReconcileAll runs ReconcileUser for every account. A failing user does not
// stop the pass.
func (s *CounterService) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	users, err := s.store.List(ctx, docstore.UsersCollection, docstore.Query{})
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("listing users: %w", err)
	}

	var report ReconcileReport
	var errs []error
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Users++

		stored, counted, err := s.ReconcileUser(ctx, u.ID)
		if err != nil {
			report.Failed++
			errs = append(errs, err)
			s.logger.Error("counter reconciliation failed", "user_id", u.ID, "error", err)
			continue
		}
		if stored != counted {
			report.Repaired++
			s.logger.Info("bucket counter repaired", "user_id", u.ID, "stored", stored, "counted", counted)
		}
	}
	return report, errors.Join(errs...)
}
