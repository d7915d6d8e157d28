// Package auth gates pages and API calls on the identity state of a session.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/identity"
	"github.com/wealthpath/buckets/internal/logger"
	"github.com/wealthpath/buckets/internal/retry"
)

type State string

const (
	StateUnknown         State = "unknown"
	StateAuthenticated   State = "authenticated"
	StateUnauthenticated State = "unauthenticated"
)

type PageKind string

const (
	PagePublic    PageKind = "public"
	PageProtected PageKind = "protected"
	PageSignIn    PageKind = "signin"
)

type Decision string

const (
	ShowLoading    Decision = "loading"
	Render         Decision = "render"
	RedirectSignIn Decision = "redirect_signin"
	RedirectApp    Decision = "redirect_app"
)

// Decide is the routing rule for a page. Nothing renders while the state is
// unknown, and redirects are suppressed while an auth flow is active.
func Decide(state State, page PageKind, authFlowActive bool) Decision {
	if state == StateUnknown || state == "" {
		return ShowLoading
	}
	if authFlowActive {
		return Render
	}
	switch {
	case page == PageProtected && state == StateUnauthenticated:
		return RedirectSignIn
	case page == PageSignIn && state == StateAuthenticated:
		return RedirectApp
	}
	return Render
}

type Options struct {
	// AuthFlowWindow caps BeginAuthFlow.
	AuthFlowWindow time.Duration
	Retry          retry.Config
	Logger         *slog.Logger
}

// Guard follows the provider's user stream. It starts unknown and resolves
// once the provider reports the initial user.
type Guard struct {
	provider identity.Provider
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     State
	gen       uint64
	flowUntil time.Time
	resolved  chan struct{}
	once      sync.Once

	unsubscribe func()
	cancel      context.CancelFunc
}

// New starts resolving the initial state in the background.
func New(provider identity.Provider, opts Options) *Guard {
	if opts.AuthFlowWindow <= 0 {
		opts.AuthFlowWindow = 2 * time.Minute
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	g := &Guard{
		provider: provider,
		opts:     opts,
		logger:   logger.OrDefault(opts.Logger),
		now:      time.Now,
		state:    StateUnknown,
		resolved: make(chan struct{}),
	}
	g.unsubscribe = provider.OnUserChanged(g.onUser)

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.mu.Lock()
	gen := g.gen
	g.mu.Unlock()
	go g.resolve(ctx, gen)
	return g
}

func (g *Guard) resolve(ctx context.Context, gen uint64) {
	var user *identity.User
	err := retry.Do(ctx, g.opts.Retry, g.logger, apperror.IsRetryable, func(ctx context.Context) error {
		var err error
		user, err = g.provider.WaitForCurrentUser(ctx)
		return err
	})
	if errors.Is(err, context.Canceled) {
		return
	}
	if err != nil {
		// Fail closed rather than leave callers waiting.
		g.logger.Error("resolving current user failed", "error", err)
		user = nil
	}
	g.store(user, gen, true)
}

func (g *Guard) onUser(user *identity.User) {
	g.store(user, 0, false)
}

// store records the state for user. A resolution that started at
// generation gen is dropped if a user change arrived since.
func (g *Guard) store(user *identity.User, gen uint64, resolving bool) {
	next := StateUnauthenticated
	if user != nil {
		next = StateAuthenticated
	}

	g.mu.Lock()
	if resolving && gen != g.gen {
		g.mu.Unlock()
		g.logger.Debug("stale user resolution dropped")
		return
	}
	g.gen++
	prev := g.state
	g.state = next
	g.mu.Unlock()

	g.once.Do(func() { close(g.resolved) })
	if prev != next {
		g.logger.Debug("auth state changed", "from", prev, "to", next)
	}
}

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Wait blocks until the initial state is known or ctx ends. It returns
// StateUnknown on cancellation.
func (g *Guard) Wait(ctx context.Context) State {
	select {
	case <-g.resolved:
		return g.State()
	case <-ctx.Done():
		return StateUnknown
	}
}

// BeginAuthFlow suppresses redirects for ttl, capped at the configured
// window.
func (g *Guard) BeginAuthFlow(ttl time.Duration) {
	if ttl <= 0 || ttl > g.opts.AuthFlowWindow {
		ttl = g.opts.AuthFlowWindow
	}
	g.mu.Lock()
	g.flowUntil = g.now().Add(ttl)
	g.mu.Unlock()
}

func (g *Guard) EndAuthFlow() {
	g.mu.Lock()
	g.flowUntil = time.Time{}
	g.mu.Unlock()
}

func (g *Guard) AuthFlowActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.now().Before(g.flowUntil)
}

// Token returns a token for an API call. Any failure means the session must
// sign in again; there is no retry.
func (g *Guard) Token(ctx context.Context) (string, error) {
	token, err := g.provider.Token(ctx, false)
	if err != nil {
		g.logger.Warn("token retrieval failed", "error", err)
		return "", apperror.Reauthenticate(err)
	}
	return token, nil
}

// SignOut runs flush before signing out so unsaved edits are written with
// the still valid session. A flush failure does not prevent the sign-out.
func (g *Guard) SignOut(ctx context.Context, flush func(ctx context.Context) error) error {
	var flushErr error
	if flush != nil {
		if flushErr = flush(ctx); flushErr != nil {
			g.logger.Warn("flush before sign-out failed", "error", flushErr)
		}
	}
	if err := g.provider.SignOut(ctx); err != nil {
		return errors.Join(flushErr, err)
	}
	return flushErr
}

// Close stops following the provider.
func (g *Guard) Close() {
	g.cancel()
	g.unsubscribe()
}
