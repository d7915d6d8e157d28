// Package session keeps one live sync session per signed-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/auth"
	"github.com/wealthpath/buckets/internal/bucketstore"
	"github.com/wealthpath/buckets/internal/config"
	"github.com/wealthpath/buckets/internal/docstore"
	"github.com/wealthpath/buckets/internal/identity"
	"github.com/wealthpath/buckets/internal/logger"
	"github.com/wealthpath/buckets/internal/model"
	"github.com/wealthpath/buckets/internal/notify"
	"github.com/wealthpath/buckets/internal/plan"
	"github.com/wealthpath/buckets/internal/retry"
)

// Session bundles the per-user components. Buckets owns the budget state;
// everything else reads through it.
type Session struct {
	UserID   string
	Provider *identity.SessionProvider
	Guard    *auth.Guard
	Plan     *plan.Watcher
	Buckets  *bucketstore.Store
	Notices  *notify.Center

	now      func() time.Time
	mu       sync.Mutex
	lastUsed time.Time
	refs     int
}

func (s *Session) use(now time.Time, hold bool) {
	s.mu.Lock()
	s.lastUsed = now
	if hold {
		s.refs++
	}
	s.mu.Unlock()
}

// Release ends a use started by Manager.Acquire.
func (s *Session) Release() {
	s.mu.Lock()
	if s.refs > 0 {
		s.refs--
	}
	s.lastUsed = s.now()
	s.mu.Unlock()
}

// idle reports whether nobody holds the session and it was last used
// before cutoff.
func (s *Session) idle(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs == 0 && s.lastUsed.Before(cutoff)
}

// Close flushes the budget and stops the background parts.
func (s *Session) Close(ctx context.Context) error {
	s.Plan.Close()
	err := s.Buckets.Close(ctx)
	s.Guard.Close()
	return err
}

// Manager creates sessions lazily and evicts idle ones.
type Manager struct {
	store    docstore.Store
	accounts *identity.Accounts
	cfg      *config.Config
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(store docstore.Store, accounts *identity.Accounts, cfg *config.Config, l *slog.Logger) *Manager {
	return &Manager{
		store:    store,
		accounts: accounts,
		cfg:      cfg,
		logger:   logger.OrDefault(l),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Acquire returns the live session of uid, building and loading it on first
// use. A user without an account gets apperror.ErrReauthenticate. The
// session is not evicted until the caller calls Release.
func (m *Manager) Acquire(ctx context.Context, uid string) (*Session, error) {
	return m.get(ctx, uid, true)
}

func (m *Manager) get(ctx context.Context, uid string, hold bool) (*Session, error) {
	if s, ok := m.lookup(uid, hold); ok {
		return s, nil
	}

	s, err := m.build(ctx, uid)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[uid]; ok {
		existing.use(m.now(), hold)
		m.mu.Unlock()
		if err := s.Close(ctx); err != nil {
			m.logger.Warn("closing duplicate session failed", "user_id", uid, "error", err)
		}
		return existing, nil
	}
	s.use(m.now(), hold)
	m.sessions[uid] = s
	m.mu.Unlock()

	m.logger.Info("session started", "user_id", uid)
	return s, nil
}

// lookup marks the session used while m.mu is held so EvictIdle cannot
// pick it in between.
func (m *Manager) lookup(uid string, hold bool) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[uid]
	if ok {
		s.use(m.now(), hold)
	}
	return s, ok
}

func (m *Manager) build(ctx context.Context, uid string) (*Session, error) {
	l := m.logger.With("user_id", uid)
	saveRetry := retry.Config{
		MaxAttempts:  m.cfg.Sync.MaxSaveAttempts,
		InitialDelay: m.cfg.Sync.RetryInitialDelay,
		MaxDelay:     m.cfg.Sync.RetryMaxDelay,
		Multiplier:   2,
	}

	provider := identity.NewSessionProvider(uid, m.accounts, m.accounts.Issuer(), l)
	guard := auth.New(provider, auth.Options{
		AuthFlowWindow: m.cfg.Guard.AuthFlowWindow,
		Retry:          saveRetry,
		Logger:         l,
	})
	if guard.Wait(ctx) != auth.StateAuthenticated {
		guard.Close()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, apperror.Reauthenticate(nil)
	}

	watcher := plan.New(ctx, provider, plan.Options{
		Fallback: func(ctx context.Context) (model.Plan, error) {
			return m.accounts.SubscriptionPlan(ctx, uid)
		},
		BillingReturnDelay: m.cfg.Plan.BillingReturnDelay,
		BillingReturnParam: m.cfg.Plan.BillingReturnParam,
		Logger:             l,
	})
	notices := notify.NewCenter(l)
	buckets := bucketstore.New(bucketstore.Deps{
		Store:    m.store,
		UserID:   uid,
		Plan:     watcher,
		Notifier: notices,
		Logger:   l,
	}, bucketstore.Options{
		DebounceWindow:  m.cfg.Sync.DebounceWindow,
		FreeBucketLimit: m.cfg.Plan.FreeBucketLimit,
		Retry:           saveRetry,
	})

	s := &Session{
		UserID:   uid,
		Provider: provider,
		Guard:    guard,
		Plan:     watcher,
		Buckets:  buckets,
		Notices:  notices,
		now:      m.now,
		lastUsed: m.now(),
	}
	if err := buckets.Load(ctx, ""); err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("loading budget: %w", err)
	}
	return s, nil
}

// SignOut flushes and signs out the live session of uid, then drops it.
func (m *Manager) SignOut(ctx context.Context, uid string) error {
	m.mu.Lock()
	s, ok := m.sessions[uid]
	delete(m.sessions, uid)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	err := s.Guard.SignOut(ctx, s.Buckets.Flush)
	return errors.Join(err, s.Close(ctx))
}

// Refresh forces a plan refresh on the live session of uid, if any.
func (m *Manager) Refresh(ctx context.Context, uid string) error {
	s, ok := m.lookup(uid, false)
	if !ok {
		return nil
	}
	return s.Plan.Refresh(ctx)
}

// EvictIdle closes sessions unused for longer than the idle timeout and
// returns how many were closed. A session held through Acquire is skipped.
func (m *Manager) EvictIdle(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.SessionIdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for uid, s := range m.sessions {
		if s.idle(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, uid)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		if err := s.Close(ctx); err != nil {
			m.logger.Warn("closing idle session failed", "user_id", s.UserID, "error", err)
		}
	}
	if len(idle) > 0 {
		m.logger.Info("idle sessions evicted", "count", len(idle))
	}
	return len(idle)
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown flushes and closes every session.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range all {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing session %s: %w", s.UserID, err))
		}
	}
	m.logger.Info("sessions shut down", "count", len(all))
	return errors.Join(errs...)
}
