package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/docstore"
)

var columns = []string{"doc_id", "path", "data", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "sqlmock"), nil), mock
}

func expectLock(mock sqlmock.Sqlmock, path string) {
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs(path).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestNew(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	assert.NotNil(t, store)
}

func TestStore_Get(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)

	mock.ExpectQuery(`SELECT doc_id, path, data, created_at, updated_at FROM documents WHERE path = \$1`).
		WithArgs("users/u1/meta/bucketCounts").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("bucketCounts", "users/u1/meta/bucketCounts", []byte(`{"total":3}`), created, updated))

	doc, err := store.Get(context.Background(), "users/u1/meta/bucketCounts")

	require.NoError(t, err)
	assert.Equal(t, 3.0, doc["total"])
	assert.Equal(t, created, doc[docstore.FieldCreatedAt])
	assert.Equal(t, updated, doc[docstore.FieldUpdatedAt])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_NotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM documents WHERE path = \$1`).
		WithArgs("users/u1").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := store.Get(context.Background(), "users/u1")

	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Get_InvalidPath(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	_, err := store.Get(context.Background(), "users")

	assert.ErrorIs(t, err, docstore.ErrInvalidPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Set_Replace(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO documents \(path,collection,doc_id,data\) VALUES \(\$1,\$2,\$3,\$4\) ON CONFLICT \(path\) DO UPDATE`).
		WithArgs("users/u1/budgets/b1", "users/u1/budgets", "b1", `{"name":"Home"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Set(context.Background(), "users/u1/budgets/b1", map[string]any{
		"name":                  "Home",
		docstore.FieldUpdatedAt: time.Now(),
		docstore.FieldCreatedAt: time.Now(),
	}, false)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Set_MergeRunsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	expectLock(mock, "users/u1")
	mock.ExpectQuery(`SELECT .* FROM documents WHERE path = \$1 FOR UPDATE`).
		WithArgs("users/u1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("u1", "users/u1", []byte(`{"email":"a@b.c","plan":"free"}`), now, now))
	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs("users/u1", "users", "u1", `{"email":"a@b.c","plan":"plus"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Set(context.Background(), "users/u1", map[string]any{"plan": "plus"}, true)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Update_Missing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	expectLock(mock, "users/u9")
	mock.ExpectQuery(`SELECT .* FOR UPDATE`).
		WithArgs("users/u9").
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectRollback()

	err := store.Update(context.Background(), "users/u9", map[string]any{"plan": "plus"})

	assert.ErrorIs(t, err, docstore.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM documents WHERE path = \$1`).
		WithArgs("users/u1/budgets/b1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "users/u1/budgets/b1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_List_Ordered(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM documents WHERE collection = \$1 ORDER BY created_at ASC, doc_id ASC LIMIT 1`).
		WithArgs("users/u1/budgets").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("b1", "users/u1/budgets/b1", []byte(`{"name":"Home"}`), now, now))

	docs, err := store.List(context.Background(), "users/u1/budgets", docstore.Query{OrderBy: docstore.FieldCreatedAt, Limit: 1})

	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b1", docs[0].ID)
	assert.Equal(t, "Home", docs[0].Data["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_List_UnindexedFieldNeedsFallback(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT .* FROM documents WHERE collection = \$1 ORDER BY doc_id ASC`).
		WithArgs("users/u1/budgets").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("b", "users/u1/budgets/b", []byte(`{"name":"A"}`), now, now).
			AddRow("a", "users/u1/budgets/a", []byte(`{"name":"B"}`), now, now))

	docs, err := docstore.ListOrdered(context.Background(), store, "users/u1/budgets", docstore.Query{OrderBy: "name", Desc: true}, nil)

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunTransaction_RollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	rejected := errors.New("rejected")

	mock.ExpectBegin()
	expectLock(mock, "users/u1/meta/bucketCounts")
	mock.ExpectQuery(`SELECT .* FOR UPDATE`).
		WithArgs("users/u1/meta/bucketCounts").
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectRollback()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		_, err := tx.Get("users/u1/meta/bucketCounts")
		require.ErrorIs(t, err, docstore.ErrNotFound)
		return rejected
	})

	assert.ErrorIs(t, err, rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunTransaction_LocksMissingDocument(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	counter := "users/u1/meta/bucketCounts"

	mock.ExpectBegin()
	expectLock(mock, counter)
	mock.ExpectQuery(`SELECT .* FROM documents WHERE path = \$1 FOR UPDATE`).
		WithArgs(counter).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectExec(`INSERT INTO documents`).
		WithArgs(counter, "users/u1/meta", "bucketCounts", `{"total":3}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		_, err := tx.Get(counter)
		require.ErrorIs(t, err, docstore.ErrNotFound)
		return tx.Set(counter, map[string]any{"total": 3}, false)
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_RunTransaction_SerializationFailureIsRetryable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM documents`).
		WithArgs("users/u1/budgets/b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.Delete("users/u1/budgets/b1")
	})

	assert.ErrorIs(t, err, docstore.ErrAborted)
	assert.True(t, apperror.IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadlock", &pq.Error{Code: "40P01"}, docstore.ErrAborted},
		{"privilege", &pq.Error{Code: "42501"}, docstore.ErrPermissionDenied},
		{"connection", &pq.Error{Code: "08006"}, docstore.ErrUnavailable},
		{"shutdown", &pq.Error{Code: "57P01"}, docstore.ErrUnavailable},
		{"bad conn", driver.ErrBadConn, docstore.ErrUnavailable},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, mapError(tt.err), tt.want)
		})
	}

	unique := &pq.Error{Code: "23505"}
	assert.Same(t, unique, mapError(unique))
	assert.ErrorIs(t, mapError(context.Canceled), context.Canceled)
}
