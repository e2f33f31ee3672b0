// ABOUTME: Tests for the notification suppression cache.
// ABOUTME: Validates TTL expiration, size limits, eviction and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSuppress_NewKey(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	// First sighting is not suppressed
	assert.False(t, cache.Suppress("p1|link_created"))
}

func TestSuppress_Duplicate(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Suppress("p1|contact_request"))
	assert.True(t, cache.Suppress("p1|contact_request"))
}

func TestSuppress_Expired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	assert.False(t, cache.Suppress("expiring-key"))

	time.Sleep(20 * time.Millisecond)

	// Window elapsed, the key counts as new again
	assert.False(t, cache.Suppress("expiring-key"))
}

func TestSuppress_DistinctKeys(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	assert.False(t, cache.Suppress("p1|link_created"))
	assert.False(t, cache.Suppress("p2|link_created"))
	assert.False(t, cache.Suppress("p1|contact_request"))
}

func TestSuppress_EvictsOldestAtCapacity(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Suppress("key-1")
	cache.Suppress("key-2")
	cache.Suppress("key-3")

	// Adding a fourth evicts key-1
	cache.Suppress("key-4")

	assert.False(t, cache.Suppress("key-1"), "oldest key should have been evicted")
	assert.True(t, cache.Suppress("key-4"))
}

func TestSuppress_RefreshMovesToBack(t *testing.T) {
	cache := New(5*time.Minute, 3)
	defer cache.Close()

	cache.Suppress("key-1")
	cache.Suppress("key-2")
	cache.Suppress("key-3")

	// Re-seeing key-1 refreshes it, so key-2 becomes the oldest
	assert.True(t, cache.Suppress("key-1"))
	cache.Suppress("key-4")

	assert.False(t, cache.Suppress("key-2"), "key-2 should have been evicted")
	assert.True(t, cache.Suppress("key-1"))
}

func TestRemoveExpired(t *testing.T) {
	cache := New(10*time.Millisecond, 100)
	defer cache.Close()

	cache.Suppress("stale-1")
	cache.Suppress("stale-2")

	time.Sleep(20 * time.Millisecond)
	cache.removeExpired()

	cache.mu.Lock()
	size := len(cache.seen)
	cache.mu.Unlock()
	assert.Equal(t, 0, size)
}

func TestClose_Idempotent(t *testing.T) {
	cache := New(5*time.Minute, 100)
	cache.Close()
	cache.Close()
}

func TestSuppress_Concurrent(t *testing.T) {
	cache := New(5*time.Minute, 1000)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.Suppress(fmt.Sprintf("worker-%d-key-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	// Each key was recorded exactly once per goroutine
	assert.True(t, cache.Suppress("worker-0-key-0"))
}

func TestSuppress_ExactlyOneWinner(t *testing.T) {
	cache := New(5*time.Minute, 100)
	defer cache.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !cache.Suppress("contested-key") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one goroutine should see the key as new")
}
