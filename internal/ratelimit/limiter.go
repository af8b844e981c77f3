// ABOUTME: Sliding-window request admission keyed by caller identity
// ABOUTME: Window storage is pluggable so shared backends can replace the in-memory store

package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRateLimited is returned by Allow when the caller has exhausted its
// window.
var ErrRateLimited = errors.New("rate limit exceeded")

// WindowStore records request timestamps per key. Implementations must make
// Take atomic with respect to concurrent calls for the same key.
type WindowStore interface {
	// Take appends now to the key's history, drops entries older than
	// cutoff, and returns how many entries (including now, if admitted)
	// fall inside the window. When the count before adding now is already
	// at ceiling, now is not recorded and admitted is false.
	Take(key string, now, cutoff time.Time, ceiling int) (admitted bool)
}

// MemoryStore is the default in-process WindowStore.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

// NewMemoryStore creates an empty in-memory window store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

// Take implements WindowStore with a single locked read-modify-write, so
// two concurrent calls for the same key cannot both observe the last free
// slot.
func (s *MemoryStore) Take(key string, now, cutoff time.Time, ceiling int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.windows[key][:0]
	for _, ts := range s.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= ceiling {
		s.windows[key] = kept
		return false
	}

	s.windows[key] = append(kept, now)
	return true
}

// Len reports how many live entries a key currently has. Used by tests.
func (s *MemoryStore) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows[key])
}

// Limiter admits at most ceiling requests per key within a trailing window.
type Limiter struct {
	store   WindowStore
	ceiling int
	window  time.Duration
	now     func() time.Time
}

// New creates a limiter backed by the given store.
func New(store WindowStore, ceiling int, window time.Duration) *Limiter {
	return &Limiter{
		store:   store,
		ceiling: ceiling,
		window:  window,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Allow admits or rejects one request for key. A rejected request is not
// recorded, so being limited does not extend the penalty.
func (l *Limiter) Allow(key string) error {
	now := l.now()
	if !l.store.Take(key, now, now.Add(-l.window), l.ceiling) {
		return fmt.Errorf("caller %q: %w", key, ErrRateLimited)
	}
	return nil
}
