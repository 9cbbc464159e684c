// Package asyncmap provides an ordered key/value store guarded by a single
// FIFO gate, with timestamp-based expiry. Every queue and cache in the RPC
// layer is built on it.
package asyncmap

import (
	"context"
	"time"
)

// Entry is a key/value pair together with the time it was last written.
type Entry[K comparable, V any] struct {
	Key     K
	Value   V
	Updated time.Time
}

// Age returns how long ago the entry was last written, relative to now.
func (e Entry[K, V]) Age(now time.Time) time.Duration {
	return now.Sub(e.Updated)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Store is an insertion-ordered map whose operations are serialized through
// one FIFO gate. It is not a reader/writer lock: exactly one operation runs
// at a time.
//
// The gate is not reentrant. A predicate passed to Scan must not call back
// into the same Store, or it deadlocks.
type Store[K comparable, V any] struct {
	gate    gate
	entries map[K]*Entry[K, V]
	order   []K
	now     func() time.Time
}

// New creates an empty Store.
func New[K comparable, V any](opts ...Option) *Store[K, V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[K, V]{
		entries: make(map[K]*Entry[K, V]),
		now:     o.now,
	}
}

// Set inserts or updates key. An update keeps the key's original position
// but refreshes its timestamp.
func (s *Store[K, V]) Set(key K, value V) {
	s.gate.acquire()
	defer s.gate.release()

	if e, ok := s.entries[key]; ok {
		e.Value = value
		e.Updated = s.now()
		return
	}
	s.entries[key] = &Entry[K, V]{Key: key, Value: value, Updated: s.now()}
	s.order = append(s.order, key)
}

// Get returns the value stored under key and whether it was present.
func (s *Store[K, V]) Get(key K) (V, bool) {
	s.gate.acquire()
	defer s.gate.release()

	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Has reports whether key is present.
func (s *Store[K, V]) Has(key K) bool {
	s.gate.acquire()
	defer s.gate.release()

	_, ok := s.entries[key]
	return ok
}

// Pop removes key and returns its value. Only one of several concurrent Pop
// calls for the same key observes the value.
func (s *Store[K, V]) Pop(key K) (V, bool) {
	s.gate.acquire()
	defer s.gate.release()

	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	s.removeLocked(key)
	return e.Value, true
}

// Scan evaluates pred against every entry in insertion order while holding
// the gate for the whole pass, then removes and returns the entries for
// which pred returned true. pred may block on I/O; it must not re-enter s.
func (s *Store[K, V]) Scan(
	ctx context.Context,
	pred func(ctx context.Context, key K, value V) bool,
) []Entry[K, V] {
	s.gate.acquire()
	defer s.gate.release()

	var matched []Entry[K, V]
	for _, key := range append([]K(nil), s.order...) {
		e := s.entries[key]
		if pred(ctx, e.Key, e.Value) {
			matched = append(matched, *e)
			s.removeLocked(key)
		}
	}
	return matched
}

// Expire removes and returns every entry last written more than maxAge ago.
func (s *Store[K, V]) Expire(maxAge time.Duration) []Entry[K, V] {
	s.gate.acquire()
	defer s.gate.release()

	now := s.now()
	var expired []Entry[K, V]
	for _, key := range append([]K(nil), s.order...) {
		e := s.entries[key]
		if e.Age(now) > maxAge {
			expired = append(expired, *e)
			s.removeLocked(key)
		}
	}
	return expired
}

// Size returns the number of entries.
func (s *Store[K, V]) Size() int {
	s.gate.acquire()
	defer s.gate.release()

	return len(s.entries)
}

// Keys returns the keys in insertion order.
func (s *Store[K, V]) Keys() []K {
	s.gate.acquire()
	defer s.gate.release()

	return append([]K(nil), s.order...)
}

func (s *Store[K, V]) removeLocked(key K) {
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
