// Package broadcast fans values out to registered callbacks.
package broadcast

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Set is a registry of callbacks. The zero value is ready to use.
// Callbacks run synchronously on the emitting goroutine, outside the
// registry lock. A panicking callback is logged and does not stop delivery
// to the others.
type Set[T any] struct {
	mu     sync.Mutex
	next   uint64
	subs   map[uint64]func(T)
	Logger *slog.Logger
}

// Add registers fn and returns a function that removes it. Removing twice is
// a no-op.
func (s *Set[T]) Add(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs == nil {
		s.subs = make(map[uint64]func(T))
	}
	id := s.next
	s.next++
	s.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Len reports the number of registered callbacks.
func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Emit delivers v to every callback registered at the time of the call, in
// registration order.
func (s *Set[T]) Emit(v T) {
	s.mu.Lock()
	ids := make([]uint64, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	fns := make([]func(T), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range fns {
		s.Call(fn, v)
	}
}

// Call invokes fn with v, recovering from a panic.
func (s *Set[T]) Call(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			logger := s.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("listener panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn(v)
}
