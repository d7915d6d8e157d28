// Package plan tracks the entitlement tier of a signed-in user.
package plan

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/wealthpath/buckets/internal/identity"
	"github.com/wealthpath/buckets/internal/logger"
	"github.com/wealthpath/buckets/internal/model"
	"github.com/wealthpath/buckets/pkg/broadcast"
)

// TokenSource is the part of the identity provider the watcher needs.
type TokenSource interface {
	Token(ctx context.Context, forceRefresh bool) (string, error)
	OnTokenChanged(fn func(token string)) (unsubscribe func())
}

// ClaimParser extracts the plan claim. ok is false when the claim is absent.
type ClaimParser func(token string) (plan model.Plan, ok bool)

// FallbackSource is asked for a plan when the token says free or nothing.
type FallbackSource func(ctx context.Context) (model.Plan, error)

type Options struct {
	Parser             ClaimParser
	Fallback           FallbackSource
	BillingReturnDelay time.Duration
	BillingReturnParam string
	RefreshTimeout     time.Duration
	Logger             *slog.Logger
}

func (o *Options) defaults() {
	if o.Parser == nil {
		o.Parser = identity.PlanFromToken
	}
	if o.BillingReturnDelay <= 0 {
		o.BillingReturnDelay = 2 * time.Second
	}
	if o.BillingReturnParam == "" {
		o.BillingReturnParam = "billing"
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = 10 * time.Second
	}
	o.Logger = logger.OrDefault(o.Logger)
}

// Watcher holds the best known plan, starting at free. Every subscriber sees
// the current value before any later change.
type Watcher struct {
	src  TokenSource
	opts Options

	// emitMu orders replays and change deliveries.
	emitMu  sync.Mutex
	mu      sync.Mutex
	current model.Plan
	timer   *time.Timer
	closed  bool
	// started numbers derivations as they begin; applied is the newest one
	// whose result was stored.
	started uint64
	applied uint64

	subs        broadcast.Set[model.Plan]
	unsubscribe func()
}

// New builds a watcher and force-refreshes the token so a cached claim is
// not trusted at session start. A failed refresh leaves the plan at free.
func New(ctx context.Context, src TokenSource, opts Options) *Watcher {
	opts.defaults()
	w := &Watcher{src: src, opts: opts, current: model.PlanFree}
	w.subs.Logger = opts.Logger
	w.unsubscribe = src.OnTokenChanged(w.onToken)

	if err := w.Refresh(ctx); err != nil {
		w.opts.Logger.Warn("initial plan refresh failed", "error", err)
	}
	return w
}

// Current returns the best known plan.
func (w *Watcher) Current() model.Plan {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Subscribe calls fn with the current plan before returning, then on every
// change. Callbacks must not call Subscribe or Refresh.
func (w *Watcher) Subscribe(fn func(model.Plan)) (unsubscribe func()) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.subs.Call(fn, w.Current())
	return w.subs.Add(fn)
}

// Refresh forces a new token and re-derives the plan. On failure the last
// known plan is kept.
func (w *Watcher) Refresh(ctx context.Context) error {
	token, err := w.src.Token(ctx, true)
	if err != nil {
		w.opts.Logger.Warn("plan refresh failed, keeping last known plan",
			"plan", w.Current(), "error", err)
		return err
	}
	w.derive(ctx, token)
	return nil
}

func (w *Watcher) onToken(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), w.opts.RefreshTimeout)
	defer cancel()
	w.derive(ctx, token)
}

// derive works out the plan for token. A derivation that finishes after a
// newer one has been stored is dropped.
func (w *Watcher) derive(ctx context.Context, token string) {
	w.mu.Lock()
	w.started++
	gen := w.started
	w.mu.Unlock()

	p, ok := w.opts.Parser(token)
	if !ok {
		p = model.PlanFree
	}
	if p != model.PlanPlus && w.opts.Fallback != nil {
		fb, err := w.opts.Fallback(ctx)
		if err != nil {
			w.opts.Logger.Warn("plan fallback lookup failed", "error", err)
		} else if fb == model.PlanPlus {
			p = model.PlanPlus
		}
	}
	w.set(p, gen)
}

func (w *Watcher) set(p model.Plan, gen uint64) {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.mu.Lock()
	if w.closed || gen < w.applied {
		w.mu.Unlock()
		return
	}
	w.applied = gen
	if w.current == p {
		w.mu.Unlock()
		return
	}
	prev := w.current
	w.current = p
	w.mu.Unlock()

	w.opts.Logger.Info("plan changed", "from", prev, "to", p)
	w.subs.Emit(p)
}

// HandleBillingReturn looks for the billing marker in rawURL. When present it
// schedules a forced refresh after the configured delay and returns the URL
// without the marker so a reload does not repeat the refresh.
func (w *Watcher) HandleBillingReturn(rawURL string) (cleaned string, scheduled bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, false
	}
	q := u.Query()
	if !q.Has(w.opts.BillingReturnParam) {
		return rawURL, false
	}
	q.Del(w.opts.BillingReturnParam)
	u.RawQuery = q.Encode()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return u.String(), false
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.BillingReturnDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.opts.RefreshTimeout)
		defer cancel()
		_ = w.Refresh(ctx)
	})
	return u.String(), true
}

// Close stops listening for token changes and cancels a pending billing
// refresh. Subscribers receive nothing afterwards.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.unsubscribe()
}
