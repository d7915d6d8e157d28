// Package postgres stores documents as JSONB rows, one row per document path.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/wealthpath/buckets/internal/docstore"
)

const table = "documents"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// orderColumns lists the fields that can be ordered in SQL. Any other field
// is reported as docstore.ErrIndexRequired.
var orderColumns = map[string]string{
	docstore.FieldCreatedAt: "created_at",
	docstore.FieldUpdatedAt: "updated_at",
}

const upsertSuffix = "ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()"

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func New(db *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Open connects to PostgreSQL and applies migrations.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := Migrate(ctx, db.DB, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type row struct {
	DocID     string    `db:"doc_id"`
	Path      string    `db:"path"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r row) document() (map[string]any, error) {
	data := map[string]any{}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", r.Path, err)
		}
	}
	data[docstore.FieldCreatedAt] = r.CreatedAt.UTC()
	data[docstore.FieldUpdatedAt] = r.UpdatedAt.UTC()
	return data, nil
}

func (s *Store) Get(ctx context.Context, path string) (map[string]any, error) {
	return get(ctx, s.db, path, false)
}

func get(ctx context.Context, q querier, path string, forUpdate bool) (map[string]any, error) {
	if _, _, err := docstore.SplitPath(path); err != nil {
		return nil, err
	}

	if forUpdate {
		if err := lockPath(ctx, q, path); err != nil {
			return nil, err
		}
	}

	b := psql.Select("doc_id", "path", "data", "created_at", "updated_at").
		From(table).
		Where(sq.Eq{"path": path})
	if forUpdate {
		b = b.Suffix("FOR UPDATE")
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var r row
	if err := q.QueryRowxContext(ctx, query, args...).StructScan(&r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, mapError(err)
	}
	return r.document()
}

// lockPath holds a transaction-scoped advisory lock on path until commit.
// FOR UPDATE locks nothing while the row does not exist yet, so two
// transactions creating the same document would otherwise both read it as
// missing.
func lockPath(ctx context.Context, q querier, path string) error {
	query, args, err := psql.Select().
		Column(sq.Expr("pg_advisory_xact_lock(hashtext(?))", path)).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return mapError(err)
	}
	return nil
}

func put(ctx context.Context, q querier, path string, data map[string]any) error {
	collection, id, err := docstore.SplitPath(path)
	if err != nil {
		return err
	}
	body, err := json.Marshal(docstore.StripTimestamps(data))
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	query, args, err := psql.Insert(table).
		Columns("path", "collection", "doc_id", "data").
		Values(path, collection, id, string(body)).
		Suffix(upsertSuffix).
		ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return mapError(err)
	}
	return nil
}

func remove(ctx context.Context, q querier, path string) error {
	if _, _, err := docstore.SplitPath(path); err != nil {
		return err
	}
	query, args, err := psql.Delete(table).Where(sq.Eq{"path": path}).ToSql()
	if err != nil {
		return fmt.Errorf("building query: %w", err)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) Set(ctx context.Context, path string, data map[string]any, merge bool) error {
	if !merge {
		return put(ctx, s.db, path, data)
	}
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(path, data, true)
	})
}

func (s *Store) Update(ctx context.Context, path string, data map[string]any) error {
	return s.withTx(ctx, func(t *transaction) error {
		existing, err := get(ctx, t.tx, path, true)
		if err != nil {
			return err
		}
		for k, v := range docstore.StripTimestamps(data) {
			existing[k] = v
		}
		return put(ctx, t.tx, path, existing)
	})
}

func (s *Store) Delete(ctx context.Context, path string) error {
	return remove(ctx, s.db, path)
}

func (s *Store) List(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if !docstore.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, collection)
	}

	b := psql.Select("doc_id", "path", "data", "created_at", "updated_at").
		From(table).
		Where(sq.Eq{"collection": collection})
	if q.OrderBy != "" {
		col, ok := orderColumns[q.OrderBy]
		if !ok {
			return nil, fmt.Errorf("%w: %s", docstore.ErrIndexRequired, q.OrderBy)
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		b = b.OrderBy(col+" "+dir, "doc_id ASC")
	} else {
		b = b.OrderBy("doc_id ASC")
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}

	docs := make([]docstore.Document, 0, len(rows))
	for _, r := range rows {
		data, err := r.document()
		if err != nil {
			return nil, err
		}
		docs = append(docs, docstore.Document{ID: r.DocID, Path: r.Path, Data: data})
	}
	return docs, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	return s.withTx(ctx, func(t *transaction) error {
		return fn(ctx, t)
	})
}

func (s *Store) withTx(ctx context.Context, fn func(t *transaction) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&transaction{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// transaction locks every row it reads until commit.
type transaction struct {
	ctx context.Context
	tx  *sqlx.Tx
}

func (t *transaction) Get(path string) (map[string]any, error) {
	return get(t.ctx, t.tx, path, true)
}

func (t *transaction) Set(path string, data map[string]any, merge bool) error {
	if merge {
		existing, err := get(t.ctx, t.tx, path, true)
		switch {
		case err == nil:
			data = docstore.Merge(docstore.StripTimestamps(existing), docstore.Clone(data))
		case !errors.Is(err, docstore.ErrNotFound):
			return err
		}
	}
	return put(t.ctx, t.tx, path, data)
}

func (t *transaction) Delete(path string) error {
	return remove(t.ctx, t.tx, path)
}

// mapError converts driver failures into docstore errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "40001", pqErr.Code == "40P01":
			return fmt.Errorf("%w: %s", docstore.ErrAborted, pqErr.Message)
		case pqErr.Code == "42501":
			return fmt.Errorf("%w: %s", docstore.ErrPermissionDenied, pqErr.Message)
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "57":
			return fmt.Errorf("%w: %s", docstore.ErrUnavailable, pqErr.Message)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	}
	return err
}
