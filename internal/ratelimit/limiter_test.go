// ABOUTME: Tests for the sliding-window limiter
// ABOUTME: Uses a fake clock so window expiry is deterministic

package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(ceiling int, window time.Duration) (*Limiter, *time.Time) {
	current := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	limiter := New(NewMemoryStore(), ceiling, window)
	limiter.SetClock(func() time.Time { return current })
	return limiter, &current
}

func TestAllow_CeilingEnforced(t *testing.T) {
	limiter, clock := newTestLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		*clock = clock.Add(time.Second)
		require.NoError(t, limiter.Allow("caller-1"), "request %d should be admitted", i+1)
	}

	*clock = clock.Add(time.Second)
	err := limiter.Allow("caller-1")
	require.Error(t, err, "sixth request inside the window must be rejected")
	assert.True(t, errors.Is(err, ErrRateLimited))
}

func TestAllow_WindowSlides(t *testing.T) {
	limiter, clock := newTestLimiter(5, time.Minute)

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Allow("caller-1"))
	}
	require.Error(t, limiter.Allow("caller-1"))

	*clock = clock.Add(time.Minute + time.Second)
	assert.NoError(t, limiter.Allow("caller-1"), "request after the window elapses must be admitted")
}

func TestAllow_RejectionNotRecorded(t *testing.T) {
	store := NewMemoryStore()
	limiter := New(store, 2, time.Minute)
	current := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	limiter.SetClock(func() time.Time { return current })

	require.NoError(t, limiter.Allow("k"))
	require.NoError(t, limiter.Allow("k"))
	require.Error(t, limiter.Allow("k"))
	require.Error(t, limiter.Allow("k"))

	assert.Equal(t, 2, store.Len("k"), "rejected requests must not extend the window")
}

func TestAllow_KeysIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(1, time.Minute)

	require.NoError(t, limiter.Allow("a"))
	require.Error(t, limiter.Allow("a"))
	assert.NoError(t, limiter.Allow("b"), "one caller's limit must not affect another")
}

func TestAllow_ConcurrentSingleSlot(t *testing.T) {
	limiter := New(NewMemoryStore(), 1, time.Minute)

	const goroutines = 50
	var wg sync.WaitGroup
	admitted := make(chan struct{}, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow("shared") == nil {
				admitted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(admitted)

	assert.Len(t, admitted, 1, "exactly one concurrent request may win the last slot")
}
