package bucketstore

import (
	"context"
	"time"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/docstore"
	"github.com/wealthpath/buckets/internal/scrub"
)

// markDirtyLocked records an applied edit and restarts the quiet period.
func (s *Store) markDirtyLocked() {
	s.version++
	s.dirty = true
	s.scheduleLocked(s.opts.DebounceWindow)
}

func (s *Store) scheduleLocked(d time.Duration) {
	if s.closed {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(d, s.autosave)
		return
	}
	s.timer.Reset(d)
}

func (s *Store) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Store) autosave() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SaveTimeout)
	defer cancel()
	_ = s.persist(ctx, false)
}

// acquire takes the single writer slot, waiting for an in-flight write when
// wait is set. Without wait it reports false and flags a pending save.
func (s *Store) acquire(ctx context.Context, wait bool) (bool, error) {
	for {
		s.mu.Lock()
		if !s.saving {
			s.saving = true
			s.inflight = make(chan struct{})
			s.mu.Unlock()
			return true, nil
		}
		if !wait {
			s.pending = true
			s.mu.Unlock()
			return false, nil
		}
		ch := s.inflight
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// releaseLocked frees the writer slot and arms the next save when edits
// arrived while it was held.
func (s *Store) releaseLocked() {
	s.saving = false
	close(s.inflight)
	s.inflight = nil

	rearm := s.pending || s.dirty
	s.pending = false
	if !rearm {
		return
	}
	if s.lastErr != nil && apperror.IsRetryable(s.lastErr) {
		s.scheduleLocked(s.opts.ResaveDelay)
		return
	}
	if s.lastErr == nil {
		s.scheduleLocked(s.opts.DebounceWindow)
	}
}

// markSavedLocked records that the state of version ver reached the store.
func (s *Store) markSavedLocked(ver uint64) {
	if s.version == ver {
		s.dirty = false
	}
	s.lastSaved = s.opts.Now()
	s.lastErr = nil
}

// persist writes the whole budget document if memory holds unsaved edits.
func (s *Store) persist(ctx context.Context, wait bool) error {
	ok, err := s.acquire(ctx, wait)
	if err != nil || !ok {
		return err
	}

	s.mu.Lock()
	if !s.loaded || !s.dirty {
		s.releaseLocked()
		s.mu.Unlock()
		return nil
	}
	snapshot := scrub.Clean(s.budget)
	ver := s.version
	path := docstore.BudgetPath(s.deps.UserID, snapshot.ID)
	s.mu.Unlock()

	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.deps.Store.Set(ctx, path, snapshot.ToDocument(), false)
	})

	s.mu.Lock()
	if err == nil {
		s.markSavedLocked(ver)
	} else {
		s.lastErr = err
	}
	s.releaseLocked()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("saving budget failed",
			"budget_id", snapshot.ID,
			"kind", apperror.Classify(err),
			"error", err,
		)
		s.report(err)
		return err
	}
	s.logger.Debug("budget saved", "budget_id", snapshot.ID)
	return nil
}

// Flush cancels the pending quiet period and writes unsaved edits now,
// waiting for an in-flight write first.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()
	return s.persist(ctx, true)
}

// Close flushes unsaved edits and rejects further use. Edits made within
// the last quiet period are lost if the process dies before Close runs.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopTimerLocked()
	s.mu.Unlock()

	return s.persist(ctx, true)
}
