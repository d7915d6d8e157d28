// Package docstore defines the document database the sync engine persists
// to. Documents are JSON-like trees addressed by slash separated paths with
// an even number of segments, e.g. users/{uid}/budgets/{id}.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wealthpath/buckets/internal/apperror"
)

var (
	ErrNotFound         = fmt.Errorf("document %w", apperror.ErrNotFound)
	ErrPermissionDenied = fmt.Errorf("document store: %w", apperror.ErrForbidden)
	ErrUnavailable      = fmt.Errorf("document store: %w", apperror.ErrUnavailable)
	ErrAborted          = fmt.Errorf("transaction aborted: %w", apperror.ErrUnavailable)
	ErrIndexRequired    = errors.New("ordered query requires an index")
	ErrInvalidPath      = fmt.Errorf("invalid document path: %w", apperror.ErrBadRequest)
)

// Server-managed timestamp fields. Stores set them on every write and strip
// any caller supplied values.
const (
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Document is one entry of a collection listing.
type Document struct {
	ID   string
	Path string
	Data map[string]any
}

// Query narrows a collection listing. An empty OrderBy lists in an
// unspecified order.
type Query struct {
	OrderBy string
	Desc    bool
	Limit   int
}

// Store is the document database contract.
type Store interface {
	// Get returns the document at path including its server timestamps, or
	// ErrNotFound.
	Get(ctx context.Context, path string) (map[string]any, error)
	// Set replaces the document, or deep-merges data into it when merge is
	// true. Missing documents are created either way.
	Set(ctx context.Context, path string, data map[string]any, merge bool) error
	// Update replaces the given top-level fields of an existing document.
	Update(ctx context.Context, path string, data map[string]any) error
	Delete(ctx context.Context, path string) error
	// RunTransaction runs fn atomically. Reads must happen before writes.
	// Writes are applied only when fn returns nil.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	List(ctx context.Context, collection string, q Query) ([]Document, error)
}

// Tx is the handle passed to a transaction function.
type Tx interface {
	Get(path string) (map[string]any, error)
	Set(path string, data map[string]any, merge bool) error
	Delete(path string) error
}

func UserPath(uid string) string { return "users/" + uid }

func BudgetsCollection(uid string) string { return UserPath(uid) + "/budgets" }

func BudgetPath(uid, budgetID string) string { return BudgetsCollection(uid) + "/" + budgetID }

func CounterPath(uid string) string { return UserPath(uid) + "/meta/bucketCounts" }

// UsersCollection holds one document per registered account.
const UsersCollection = "users"

// SplitPath validates a document path and returns its collection and id.
func SplitPath(path string) (collection, id string, err error) {
	segments := strings.Split(path, "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, s := range segments {
		if s == "" {
			return "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	i := strings.LastIndex(path, "/")
	return path[:i], path[i+1:], nil
}

// ValidCollection reports whether path names a collection.
func ValidCollection(path string) bool {
	segments := strings.Split(path, "/")
	if len(segments)%2 != 1 {
		return false
	}
	for _, s := range segments {
		if s == "" {
			return false
		}
	}
	return true
}

// Merge deep-merges src into dst. Nested maps are merged key by key; every
// other value in src replaces the one in dst.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				dst[k] = Merge(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// StripTimestamps returns a shallow copy of data without server-managed
// fields.
func StripTimestamps(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k == FieldCreatedAt || k == FieldUpdatedAt {
			continue
		}
		out[k] = v
	}
	return out
}

// Clone deep-copies a document tree of maps and slices.
func Clone(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	return CloneValue(data).(map[string]any)
}

// CloneValue deep-copies a single document value.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CloneValue(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CloneValue(val)
		}
		return out
	}
	return v
}
