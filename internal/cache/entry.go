// Package cache contiene las utilidades de entradas con TTL compartidas por
// los caches de impresoras (descubrimiento, impresora por defecto, estado y
// fast-path de éxito).
package cache

import (
	"sync"
	"time"
)

// Clock abstracts the wall clock so TTL expiry can be driven from tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now returns the current local time.
func (SystemClock) Now() time.Time { return time.Now() }

// Entry wraps a cached value with the instant it was produced.
type Entry[T any] struct {
	Value     T
	Timestamp time.Time
}

// Fresh reports whether the entry is younger than ttl at now.
func (e Entry[T]) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.Timestamp) < ttl
}

// Slot holds a single global entry (not keyed).
type Slot[T any] struct {
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	entry *Entry[T]
}

// NewSlot creates an empty slot. A nil clock falls back to SystemClock.
func NewSlot[T any](clock Clock, ttl time.Duration) *Slot[T] {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Slot[T]{clock: clock, ttl: ttl}
}

// Get returns the stored value only while it is fresh.
func (s *Slot[T]) Get() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var zero T
	if s.entry == nil || !s.entry.Fresh(s.clock.Now(), s.ttl) {
		return zero, false
	}
	return s.entry.Value, true
}

// Set stores v stamped with the current time.
func (s *Slot[T]) Set(v T) {
	s.SetAt(v, s.clock.Now())
}

// SetAt stores v with an explicit timestamp.
func (s *Slot[T]) SetAt(v T, ts time.Time) {
	s.mu.Lock()
	s.entry = &Entry[T]{Value: v, Timestamp: ts}
	s.mu.Unlock()
}

// Present reports whether a fresh value is stored.
func (s *Slot[T]) Present() bool {
	_, ok := s.Get()
	return ok
}

// Clear drops the stored entry.
func (s *Slot[T]) Clear() {
	s.mu.Lock()
	s.entry = nil
	s.mu.Unlock()
}

// Keyed maps keys to entries sharing one TTL.
type Keyed[T any] struct {
	clock Clock
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]Entry[T]
}

// NewKeyed creates an empty keyed cache. A nil clock falls back to SystemClock.
func NewKeyed[T any](clock Clock, ttl time.Duration) *Keyed[T] {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Keyed[T]{
		clock:   clock,
		ttl:     ttl,
		entries: make(map[string]Entry[T]),
	}
}

// Get returns the value for key while fresh. Stale entries are left in place
// until overwritten or cleared.
func (k *Keyed[T]) Get(key string) (T, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var zero T
	e, ok := k.entries[key]
	if !ok || !e.Fresh(k.clock.Now(), k.ttl) {
		return zero, false
	}
	return e.Value, true
}

// Set stores v for key stamped with the current time.
func (k *Keyed[T]) Set(key string, v T) {
	k.SetAt(key, v, k.clock.Now())
}

// SetAt stores v for key with an explicit timestamp.
func (k *Keyed[T]) SetAt(key string, v T, ts time.Time) {
	k.mu.Lock()
	k.entries[key] = Entry[T]{Value: v, Timestamp: ts}
	k.mu.Unlock()
}

// Delete removes key.
func (k *Keyed[T]) Delete(key string) {
	k.mu.Lock()
	delete(k.entries, key)
	k.mu.Unlock()
}

// Clear removes every entry.
func (k *Keyed[T]) Clear() {
	k.mu.Lock()
	k.entries = make(map[string]Entry[T])
	k.mu.Unlock()
}

// Len returns the number of stored entries, fresh or not.
func (k *Keyed[T]) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries)
}
