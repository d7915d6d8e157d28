package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cast"
)

// ListOrdered lists a collection ordered by q.OrderBy. When the store cannot
// serve the ordered query it falls back to an unordered listing sorted in
// memory, applying the limit afterwards.
func ListOrdered(ctx context.Context, store Store, collection string, q Query, logger *slog.Logger) ([]Document, error) {
	docs, err := store.List(ctx, collection, q)
	if err == nil || q.OrderBy == "" || !errors.Is(err, ErrIndexRequired) {
		return docs, err
	}

	if logger != nil {
		logger.Warn("ordered listing unavailable, sorting in memory",
			slog.String("collection", collection),
			slog.String("order_by", q.OrderBy),
		)
	}

	docs, err = store.List(ctx, collection, Query{})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", collection, err)
	}
	SortDocuments(docs, q.OrderBy, q.Desc)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

// SortDocuments orders docs by a top-level field. Documents missing the field
// sort first; ties keep id order.
func SortDocuments(docs []Document, field string, desc bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		c := compareValues(docs[i].Data[field], docs[j].Data[field])
		if c == 0 {
			c = compareStrings(docs[i].ID, docs[j].ID)
			return c < 0
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if ta, err := cast.ToTimeE(a); err == nil {
		if tb, err := cast.ToTimeE(b); err == nil {
			return ta.Compare(tb)
		}
	}
	if fa, err := cast.ToFloat64E(a); err == nil {
		if fb, err := cast.ToFloat64E(b); err == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return compareStrings(cast.ToString(a), cast.ToString(b))
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
