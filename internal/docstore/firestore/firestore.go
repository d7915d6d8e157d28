// Package firestore adapts Cloud Firestore to docstore.Store.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/wealthpath/buckets/internal/docstore"
)

type Store struct {
	client *firestore.Client
	logger *slog.Logger
}

// Open creates a Firestore client for projectID. When FIRESTORE_EMULATOR_HOST
// is set the client talks to the emulator.
func Open(ctx context.Context, projectID string, logger *slog.Logger, opts ...option.ClientOption) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return New(client, logger), nil
}

func New(client *firestore.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) doc(path string) (*firestore.DocumentRef, error) {
	if _, _, err := docstore.SplitPath(path); err != nil {
		return nil, err
	}
	ref := s.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, path)
	}
	return ref, nil
}

func (s *Store) Get(ctx context.Context, path string) (map[string]any, error) {
	ref, err := s.doc(path)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return snapshotData(snap), nil
}

func (s *Store) Set(ctx context.Context, path string, data map[string]any, merge bool) error {
	return s.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if !merge {
			if _, err := tx.Get(path); err != nil && !errors.Is(err, docstore.ErrNotFound) {
				return err
			}
		}
		return tx.Set(path, data, merge)
	})
}

func (s *Store) Update(ctx context.Context, path string, data map[string]any) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	fields := docstore.StripTimestamps(data)
	updates := make([]firestore.Update, 0, len(fields)+1)
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	updates = append(updates, firestore.Update{Path: docstore.FieldUpdatedAt, Value: firestore.ServerTimestamp})

	if _, err := ref.Update(ctx, updates); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if !docstore.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, collection)
	}

	query := s.client.Collection(collection).Query
	if q.OrderBy != "" {
		dir := firestore.Asc
		if q.Desc {
			dir = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	snaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, mapError(err)
	}

	docs := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, docstore.Document{
			ID:   snap.Ref.ID,
			Path: collection + "/" + snap.Ref.ID,
			Data: snapshotData(snap),
		})
	}
	return docs, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		return fn(ctx, &transaction{store: s, tx: ftx, read: make(map[string]readState)})
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

type readState struct {
	exists    bool
	createdAt any
}

// transaction remembers what it read so that full replacements can keep the
// original createdAt.
type transaction struct {
	store *Store
	tx    *firestore.Transaction
	read  map[string]readState
}

func (t *transaction) Get(path string) (map[string]any, error) {
	ref, err := t.store.doc(path)
	if err != nil {
		return nil, err
	}
	snap, err := t.tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			t.read[path] = readState{}
			return nil, docstore.ErrNotFound
		}
		return nil, mapError(err)
	}
	data := snapshotData(snap)
	t.read[path] = readState{exists: true, createdAt: data[docstore.FieldCreatedAt]}
	return data, nil
}

func (t *transaction) Set(path string, data map[string]any, merge bool) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	body, opts := writeBody(data, merge, t.read[path], t.isRead(path))
	return t.tx.Set(ref, body, opts...)
}

func (t *transaction) isRead(path string) bool {
	_, ok := t.read[path]
	return ok
}

func (t *transaction) Delete(path string) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	return t.tx.Delete(ref)
}

// writeBody builds the document body and set options for a write. Merges
// and replacements of documents read in the same transaction keep or create
// createdAt. A replacement of an unread document only replaces the given
// top-level fields.
func writeBody(data map[string]any, merge bool, state readState, wasRead bool) (map[string]any, []firestore.SetOption) {
	body := docstore.StripTimestamps(data)
	body[docstore.FieldUpdatedAt] = firestore.ServerTimestamp

	switch {
	case merge:
		if wasRead && !state.exists {
			body[docstore.FieldCreatedAt] = firestore.ServerTimestamp
		}
		return body, []firestore.SetOption{firestore.MergeAll}
	case wasRead:
		if state.exists && state.createdAt != nil {
			body[docstore.FieldCreatedAt] = state.createdAt
		} else {
			body[docstore.FieldCreatedAt] = firestore.ServerTimestamp
		}
		return body, nil
	default:
		paths := make([]firestore.FieldPath, 0, len(body))
		for k := range body {
			paths = append(paths, firestore.FieldPath{k})
		}
		return body, []firestore.SetOption{firestore.Merge(paths...)}
	}
}

// snapshotData returns the fields of snap with createdAt falling back to the
// document's own create time.
func snapshotData(snap *firestore.DocumentSnapshot) map[string]any {
	data := snap.Data()
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data[docstore.FieldCreatedAt]; !ok && !snap.CreateTime.IsZero() {
		data[docstore.FieldCreatedAt] = snap.CreateTime.UTC()
	}
	if _, ok := data[docstore.FieldUpdatedAt]; !ok && !snap.UpdateTime.IsZero() {
		data[docstore.FieldUpdatedAt] = snap.UpdateTime.UTC()
	}
	return data
}

// mapError converts gRPC status codes into docstore errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, docstore.ErrNotFound) || errors.Is(err, docstore.ErrInvalidPath) {
		return err
	}

	switch status.Code(err) {
	case codes.NotFound:
		return docstore.ErrNotFound
	case codes.PermissionDenied, codes.Unauthenticated:
		return fmt.Errorf("%w: %v", docstore.ErrPermissionDenied, err)
	case codes.Aborted:
		return fmt.Errorf("%w: %v", docstore.ErrAborted, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
		return fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %v", docstore.ErrIndexRequired, err)
	}
	return err
}
