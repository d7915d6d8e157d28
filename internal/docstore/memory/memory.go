// Package memory is an in-process docstore.Store used in development and
// tests. It supports fault injection through a Hook.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wealthpath/buckets/internal/docstore"
)

// Op names a store operation passed to a Hook.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpList   Op = "list"
	OpCommit Op = "commit"
)

// Hook runs before every operation. A non-nil error fails the operation.
// For OpCommit the path is empty; for OpList it is the collection and the
// query is appended after a '?' when ordered, e.g. "users/u1/budgets?createdAt".
type Hook func(op Op, path string) error

type entry struct {
	data map[string]any
}

// Store is safe for concurrent use. Transactions are serialized.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	docs map[string]entry

	hookMu sync.RWMutex
	hook   Hook

	now func() time.Time
}

type Option func(*Store)

// WithClock replaces the clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs: make(map[string]entry),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHook installs or clears the fault injection hook.
func (s *Store) SetHook(h Hook) {
	s.hookMu.Lock()
	s.hook = h
	s.hookMu.Unlock()
}

func (s *Store) fire(op Op, path string) error {
	s.hookMu.RLock()
	h := s.hook
	s.hookMu.RUnlock()
	if h == nil {
		return nil
	}
	return h(op, path)
}

func (s *Store) Get(ctx context.Context, path string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, err := docstore.SplitPath(path); err != nil {
		return nil, err
	}
	if err := s.fire(OpGet, path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(path)
}

func (s *Store) getLocked(path string) (map[string]any, error) {
	e, ok := s.docs[path]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return docstore.Clone(e.data), nil
}

func (s *Store) Set(ctx context.Context, path string, data map[string]any, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := docstore.SplitPath(path); err != nil {
		return err
	}
	if err := s.fire(OpSet, path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(path, data, merge)
	return nil
}

func (s *Store) setLocked(path string, data map[string]any, merge bool) {
	now := s.now()
	next := docstore.Clone(docstore.StripTimestamps(data))

	existing, ok := s.docs[path]
	if ok && merge {
		next = docstore.Merge(docstore.Clone(existing.data), next)
	}
	if ok {
		next[docstore.FieldCreatedAt] = existing.data[docstore.FieldCreatedAt]
	} else {
		next[docstore.FieldCreatedAt] = now
	}
	next[docstore.FieldUpdatedAt] = now
	s.docs[path] = entry{data: next}
}

func (s *Store) Update(ctx context.Context, path string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := docstore.SplitPath(path); err != nil {
		return err
	}
	if err := s.fire(OpUpdate, path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[path]
	if !ok {
		return docstore.ErrNotFound
	}
	next := docstore.Clone(existing.data)
	for k, v := range docstore.StripTimestamps(data) {
		next[k] = docstore.CloneValue(v)
	}
	next[docstore.FieldUpdatedAt] = s.now()
	s.docs[path] = entry{data: next}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, _, err := docstore.SplitPath(path); err != nil {
		return err
	}
	if err := s.fire(OpDelete, path); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.docs, path)
	s.mu.Unlock()
	return nil
}

func (s *Store) List(ctx context.Context, collection string, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !docstore.ValidCollection(collection) {
		return nil, fmt.Errorf("%w: %q", docstore.ErrInvalidPath, collection)
	}
	hookPath := collection
	if q.OrderBy != "" {
		hookPath += "?" + q.OrderBy
	}
	if err := s.fire(OpList, hookPath); err != nil {
		return nil, err
	}

	s.mu.Lock()
	docs := make([]docstore.Document, 0)
	prefix := collection + "/"
	for path, e := range s.docs {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		docs = append(docs, docstore.Document{ID: rest, Path: path, Data: docstore.Clone(e.data)})
	}
	s.mu.Unlock()

	docstore.SortDocuments(docs, q.OrderBy, q.Desc)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &transaction{store: s, writes: make(map[string]*write)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := s.fire(OpCommit, ""); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range tx.order {
		w := tx.writes[path]
		if w.delete {
			delete(s.docs, path)
			continue
		}
		s.setLocked(path, w.data, w.merge)
	}
	return nil
}

type write struct {
	data   map[string]any
	merge  bool
	delete bool
}

type transaction struct {
	store  *Store
	writes map[string]*write
	order  []string
}

func (t *transaction) Get(path string) (map[string]any, error) {
	if _, _, err := docstore.SplitPath(path); err != nil {
		return nil, err
	}
	if err := t.store.fire(OpGet, path); err != nil {
		return nil, err
	}
	if w, ok := t.writes[path]; ok {
		if w.delete {
			return nil, docstore.ErrNotFound
		}
		return docstore.Clone(w.data), nil
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.getLocked(path)
}

func (t *transaction) Set(path string, data map[string]any, merge bool) error {
	if _, _, err := docstore.SplitPath(path); err != nil {
		return err
	}
	t.record(path, &write{data: docstore.Clone(data), merge: merge})
	return nil
}

func (t *transaction) Delete(path string) error {
	if _, _, err := docstore.SplitPath(path); err != nil {
		return err
	}
	t.record(path, &write{delete: true})
	return nil
}

func (t *transaction) record(path string, w *write) {
	if _, ok := t.writes[path]; !ok {
		t.order = append(t.order, path)
	}
	t.writes[path] = w
}
