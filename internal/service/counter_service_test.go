package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wealthpath/buckets/internal/docstore"
	"github.com/wealthpath/buckets/internal/docstore/memory"
	"github.com/wealthpath/buckets/internal/model"
)

func budgetWith(id string, expenses, savings int) map[string]any {
	b := model.NewBudget(id)
	for i := 0; i < expenses; i++ {
		b.Expenses = append(b.Expenses, model.Bucket{ID: id + "-e" + string(rune('a'+i)), Name: "e", Type: model.BucketTypeExpense, Include: true})
	}
	for i := 0; i < savings; i++ {
		b.Savings = append(b.Savings, model.Bucket{ID: id + "-s" + string(rune('a'+i)), Name: "s", Type: model.BucketTypeSaving, Include: true})
	}
	return b.ToDocument()
}

func seedUser(t *testing.T, store *memory.Store, uid string, counter *int, budgets ...map[string]any) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, docstore.UserPath(uid), map[string]any{"email": uid + "@example.com"}, false))
	if counter != nil {
		require.NoError(t, store.Set(ctx, docstore.CounterPath(uid), map[string]any{"total": int64(*counter)}, false))
	}
	for i, b := range budgets {
		require.NoError(t, store.Set(ctx, docstore.BudgetPath(uid, string(rune('a'+i))), b, false))
	}
}

func counterOf(t *testing.T, store *memory.Store, uid string) any {
	t.Helper()
	doc, err := store.Get(context.Background(), docstore.CounterPath(uid))
	require.NoError(t, err)
	return doc["total"]
}

func TestCounterService_ReconcileUser(t *testing.T) {
	t.Parallel()

	ptr := func(n int) *int { return &n }

	tests := []struct {
		name        string
		counter     *int
		budgets     []map[string]any
		wantStored  int
		wantCounted int
	}{
		{"in sync", ptr(3), []map[string]any{budgetWith("x", 2, 1)}, 3, 3},
		{"drifted high", ptr(9), []map[string]any{budgetWith("x", 1, 0)}, 9, 1},
		{"drifted low across budgets", ptr(1), []map[string]any{budgetWith("x", 2, 0), budgetWith("y", 0, 2)}, 1, 4},
		{"missing counter", nil, []map[string]any{budgetWith("x", 1, 1)}, 0, 2},
		{"negative counter", ptr(-4), nil, 0, 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := memory.New()
			seedUser(t, store, "u1", tt.counter, tt.budgets...)
			svc := NewCounterService(store, nil)

			stored, counted, err := svc.ReconcileUser(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStored, stored)
			assert.Equal(t, tt.wantCounted, counted)
			assert.EqualValues(t, tt.wantCounted, counterOf(t, store, "u1"))
		})
	}
}

func TestCounterService_ReconcileAll(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedUser(t, store, "u1", nil, budgetWith("x", 2, 0))
	five := 5
	seedUser(t, store, "u2", &five, budgetWith("y", 3, 2))
	svc := NewCounterService(store, nil)

	report, err := svc.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Users: 2, Repaired: 1}, report)
	assert.EqualValues(t, 2, counterOf(t, store, "u1"))
	assert.EqualValues(t, 5, counterOf(t, store, "u2"))
}

func TestCounterService_ListFailure(t *testing.T) {
	t.Parallel()

	store := memory.New()
	store.SetHook(func(op memory.Op, path string) error {
		if op == memory.OpList {
			return docstore.ErrUnavailable
		}
		return nil
	})

	_, err := NewCounterService(store, nil).ReconcileAll(context.Background())
	assert.ErrorIs(t, err, docstore.ErrUnavailable)
}
