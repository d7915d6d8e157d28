package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/config"
	"github.com/wealthpath/buckets/internal/docstore"
	"github.com/wealthpath/buckets/internal/docstore/memory"
	"github.com/wealthpath/buckets/internal/identity"
	"github.com/wealthpath/buckets/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Sync: config.SyncConfig{
			DebounceWindow:    time.Hour,
			MaxSaveAttempts:   2,
			RetryInitialDelay: time.Millisecond,
			RetryMaxDelay:     time.Millisecond,
		},
		Plan: config.PlanConfig{
			FreeBucketLimit:    5,
			BillingReturnDelay: 10 * time.Millisecond,
			BillingReturnParam: "billing",
		},
		Guard:              config.GuardConfig{AuthFlowWindow: time.Minute},
		SessionIdleTimeout: time.Minute,
	}
}

func setup(t *testing.T) (*Manager, *identity.Accounts, *memory.Store, string) {
	t.Helper()
	docs := memory.New()
	accounts := identity.NewAccounts(docs, identity.NewIssuer("secret", "buckets", time.Hour), nil)
	reg, err := accounts.Register(context.Background(), "ana@example.com", "hunter22")
	require.NoError(t, err)

	m := NewManager(docs, accounts, testConfig(), nil)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, accounts, docs, reg.User.ID
}

func TestManager_AcquireBuildsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _, _, uid := setup(t)

	s, err := m.Acquire(ctx, uid)
	require.NoError(t, err)
	again, err := m.Acquire(ctx, uid)
	require.NoError(t, err)

	assert.Same(t, s, again)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, model.PlanFree, s.Plan.Current())

	b, err := s.Buckets.Budget()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultBudgetName, b.Name)
}

func TestManager_UnknownUser(t *testing.T) {
	t.Parallel()
	m, _, _, _ := setup(t)

	_, err := m.Acquire(context.Background(), "ghost")
	assert.ErrorIs(t, err, apperror.ErrReauthenticate)
	assert.Equal(t, 0, m.Len())
}

func TestManager_RefreshPicksUpPlan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, accounts, _, uid := setup(t)

	s, err := m.Acquire(ctx, uid)
	require.NoError(t, err)

	require.NoError(t, accounts.SetPlan(ctx, uid, model.PlanPlus, identity.StatusActive))
	require.NoError(t, m.Refresh(ctx, uid))
	assert.Equal(t, model.PlanPlus, s.Plan.Current())

	assert.NoError(t, m.Refresh(ctx, "not-live"))
}

func TestManager_ShutdownFlushes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _, docs, uid := setup(t)

	s, err := m.Acquire(ctx, uid)
	require.NoError(t, err)
	require.NoError(t, s.Buckets.RenameBudget("Flushed on shutdown"))
	b, err := s.Buckets.Budget()
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 0, m.Len())

	doc, err := docs.Get(ctx, docstore.BudgetPath(uid, b.ID))
	require.NoError(t, err)
	assert.Equal(t, "Flushed on shutdown", doc["name"])
}

func TestManager_EvictIdle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _, _, uid := setup(t)

	now := time.Now()
	m.now = func() time.Time { return now }

	s, err := m.Acquire(ctx, uid)
	require.NoError(t, err)
	s.Release()
	assert.Equal(t, 0, m.EvictIdle(ctx))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.EvictIdle(ctx))
	assert.Equal(t, 0, m.Len())
}

func TestManager_EvictIdleSkipsHeldSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _, _, uid := setup(t)

	now := time.Now()
	m.now = func() time.Time { return now }

	s, err := m.Acquire(ctx, uid)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, m.EvictIdle(ctx))
	assert.Equal(t, 1, m.Len())

	// Release counts as use, so the session stays until it idles again.
	s.Release()
	assert.Equal(t, 0, m.EvictIdle(ctx))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, m.EvictIdle(ctx))
	assert.Equal(t, 0, m.Len())
}

func TestManager_AcquireSharesLiveSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _, _, uid := setup(t)

	first, err := m.Acquire(ctx, uid)
	require.NoError(t, err)
	second, err := m.Acquire(ctx, uid)
	require.NoError(t, err)
	assert.Same(t, first, second)

	first.Release()
	second.Release()
	// A stray Release does not go negative.
	second.Release()

	held, err := m.Acquire(ctx, uid)
	require.NoError(t, err)
	defer held.Release()

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 0, m.EvictIdle(ctx))
}

func TestManager_SignOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _, docs, uid := setup(t)

	s, err := m.Acquire(ctx, uid)
	require.NoError(t, err)
	require.NoError(t, s.Buckets.RenameBudget("Saved before sign-out"))
	b, err := s.Buckets.Budget()
	require.NoError(t, err)

	require.NoError(t, m.SignOut(ctx, uid))
	assert.Equal(t, 0, m.Len())
	assert.NoError(t, m.SignOut(ctx, uid))

	doc, err := docs.Get(ctx, docstore.BudgetPath(uid, b.ID))
	require.NoError(t, err)
	assert.Equal(t, "Saved before sign-out", doc["name"])

	_, err = s.Provider.Token(ctx, false)
	assert.ErrorIs(t, err, apperror.ErrReauthenticate)
}
