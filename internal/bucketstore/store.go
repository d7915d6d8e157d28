// Package bucketstore owns the in-memory budget of a session and keeps the
// remote document in step with it.
//
// Every edit is applied to memory first and then persisted by a debounced
// whole-document write. At most one write is in flight per store; bucket
// creation and deletion go through a transaction that also maintains the
// per-user bucket counter.
package bucketstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/docstore"
	"github.com/wealthpath/buckets/internal/logger"
	"github.com/wealthpath/buckets/internal/model"
	"github.com/wealthpath/buckets/internal/notify"
	"github.com/wealthpath/buckets/internal/retry"
	"github.com/wealthpath/buckets/internal/scrub"
)

var (
	ErrNotLoaded       = fmt.Errorf("no budget loaded: %w", apperror.ErrConflict)
	ErrClosed          = fmt.Errorf("bucket store closed: %w", apperror.ErrUnavailable)
	ErrBudgetNotFound  = fmt.Errorf("budget %w", apperror.ErrNotFound)
	ErrBucketNotFound  = fmt.Errorf("bucket %w", apperror.ErrNotFound)
	ErrItemNotFound    = fmt.Errorf("item %w", apperror.ErrNotFound)
	ErrConfirmRequired = fmt.Errorf("deleting the last item of a bucket must be confirmed: %w", apperror.ErrConflict)
)

// PlanSource reports the caller's current plan.
type PlanSource interface {
	Current() model.Plan
}

type Deps struct {
	Store    docstore.Store
	UserID   string
	Plan     PlanSource
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// Options tune persistence. ResaveDelay is the wait before another attempt
// after a save failed with a network error.
type Options struct {
	DebounceWindow  time.Duration
	FreeBucketLimit int
	Retry           retry.Config
	SaveTimeout     time.Duration
	ResaveDelay     time.Duration
	Now             func() time.Time
	NewID           func() string
}

func (o *Options) defaults() {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 300 * time.Millisecond
	}
	if o.FreeBucketLimit <= 0 {
		o.FreeBucketLimit = model.FreeBucketLimit
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.DefaultConfig()
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 30 * time.Second
	}
	if o.ResaveDelay <= 0 {
		o.ResaveDelay = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
}

// SyncStatus describes the persistence state of the loaded budget.
type SyncStatus struct {
	Dirty       bool          `json:"dirty"`
	Saving      bool          `json:"saving"`
	LastSavedAt *time.Time    `json:"lastSavedAt,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
	ErrorKind   apperror.Kind `json:"errorKind,omitempty"`
}

type Store struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	loaded  bool
	closed  bool
	budget  model.Budget
	counter int

	// version counts applied edits; dirty is set while memory holds edits
	// that have not been written.
	version   uint64
	dirty     bool
	timer     *time.Timer
	saving    bool
	pending   bool
	inflight  chan struct{}
	lastSaved time.Time
	lastErr   error
}

func New(deps Deps, opts Options) *Store {
	opts.defaults()
	l := logger.OrDefault(deps.Logger).With("user_id", deps.UserID)
	return &Store{deps: deps, opts: opts, logger: l}
}

// Load makes budgetID the active budget. An empty id selects the oldest
// budget of the user, creating the default budget when there is none. A
// document written by an older schema is upgraded in memory and persisted
// once before Load returns.
func (s *Store) Load(ctx context.Context, budgetID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	switchBudget := s.loaded && s.budget.ID != budgetID
	s.mu.Unlock()

	if switchBudget {
		if err := s.Flush(ctx); err != nil {
			s.logger.Warn("flushing previous budget failed", "error", err)
		}
	}

	id, raw, err := s.fetch(ctx, budgetID)
	if err != nil {
		return err
	}

	doc, upgraded := scrub.Upgrade(raw)
	budget := scrub.Decode(id, doc)
	counter, err := s.readCounter(ctx, budget.BucketCount())
	if err != nil {
		return err
	}

	// Hold the writer slot so a write of the previous state cannot finish
	// after the swap and mark the new budget saved.
	if _, err := s.acquire(ctx, true); err != nil {
		return err
	}
	s.mu.Lock()
	s.stopTimerLocked()
	s.budget = budget
	s.counter = counter
	s.loaded = true
	s.version++
	s.dirty = false
	s.pending = false
	s.lastErr = nil
	s.releaseLocked()
	s.dirty = upgraded
	s.mu.Unlock()

	s.logger.Info("budget loaded", "budget_id", id, "upgraded", upgraded, "buckets", budget.BucketCount())

	if upgraded {
		if err := s.persist(ctx, true); err != nil {
			s.logger.Warn("persisting upgraded budget failed", "budget_id", id, "error", err)
		}
	}
	return nil
}

func (s *Store) fetch(ctx context.Context, budgetID string) (string, map[string]any, error) {
	if budgetID != "" {
		var raw map[string]any
		err := s.withRetry(ctx, func(ctx context.Context) error {
			var err error
			raw, err = s.deps.Store.Get(ctx, docstore.BudgetPath(s.deps.UserID, budgetID))
			return err
		})
		if errors.Is(err, docstore.ErrNotFound) {
			return "", nil, ErrBudgetNotFound
		}
		if err != nil {
			return "", nil, fmt.Errorf("loading budget %s: %w", budgetID, err)
		}
		return budgetID, raw, nil
	}

	var docs []docstore.Document
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		docs, err = docstore.ListOrdered(ctx, s.deps.Store, docstore.BudgetsCollection(s.deps.UserID),
			docstore.Query{OrderBy: docstore.FieldCreatedAt, Limit: 1}, s.logger)
		return err
	})
	if err != nil {
		return "", nil, fmt.Errorf("listing budgets: %w", err)
	}
	if len(docs) > 0 {
		return docs[0].ID, docs[0].Data, nil
	}

	budget := model.NewBudget(s.opts.NewID())
	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.deps.Store.Set(ctx, docstore.BudgetPath(s.deps.UserID, budget.ID), budget.ToDocument(), false)
	})
	if err != nil {
		return "", nil, fmt.Errorf("creating default budget: %w", err)
	}
	s.logger.Info("default budget created", "budget_id", budget.ID)
	return budget.ID, budget.ToDocument(), nil
}

// readCounter returns the stored bucket counter, or fallback when the user
// has none yet.
func (s *Store) readCounter(ctx context.Context, fallback int) (int, error) {
	var doc map[string]any
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		doc, err = s.deps.Store.Get(ctx, docstore.CounterPath(s.deps.UserID))
		return err
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading bucket counter: %w", err)
	}
	return counterTotal(doc, fallback), nil
}

func counterTotal(doc map[string]any, fallback int) int {
	if doc == nil {
		return fallback
	}
	n, err := cast.ToIntE(doc["total"])
	if err != nil {
		return fallback
	}
	return max(n, 0)
}

// Budget returns a copy of the active budget.
func (s *Store) Budget() (model.Budget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return model.Budget{}, ErrNotLoaded
	}
	return s.budget.Clone(), nil
}

// Counter is the last known number of buckets the user owns.
func (s *Store) Counter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// CanCreateBucket is the local pre-check for bucket creation. The
// transaction in CreateBucket has the final word.
func (s *Store) CanCreateBucket() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canCreateLocked()
}

func (s *Store) canCreateLocked() bool {
	return s.plan() == model.PlanPlus || s.counter < s.opts.FreeBucketLimit
}

func (s *Store) plan() model.Plan {
	if s.deps.Plan == nil {
		return model.PlanFree
	}
	return s.deps.Plan.Current()
}

func (s *Store) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SyncStatus{Dirty: s.dirty, Saving: s.saving}
	if !s.lastSaved.IsZero() {
		t := s.lastSaved
		st.LastSavedAt = &t
	}
	if s.lastErr != nil {
		st.LastError = apperror.GetMessage(s.lastErr)
		st.ErrorKind = apperror.Classify(s.lastErr)
	}
	return st
}

func (s *Store) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.opts.Retry, s.logger, apperror.IsRetryable, fn)
}

func (s *Store) report(err error) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.Report(err)
	}
}
