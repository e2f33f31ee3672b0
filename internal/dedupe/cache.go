// ABOUTME: Thread-safe TTL cache for suppressing duplicate notifications.
// ABOUTME: The dispatcher keys on recipient and type to avoid repeated pushes.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the timestamp and list element for a cached key.
type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited record of recently
// seen keys. The notification dispatcher uses it to drop pushes that
// repeat an identical alert within the suppression window. A linked
// list maintains insertion order for O(1) eviction at capacity.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest key at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given suppression window and maximum
// size. A background goroutine periodically drops expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Suppress atomically checks whether key was seen inside the window and
// records it either way. Returns true when the key is a duplicate the
// caller should drop, false when it is new. A duplicate hit refreshes
// the entry, so a steady stream of the same alert stays suppressed. The
// single locked check-and-record avoids a race between concurrent
// dispatchers.
func (c *Cache) Suppress(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, seen := c.seen[key]
	duplicate := seen && time.Since(c.seen[key].seenAt) < c.ttl

	c.record(key)
	return duplicate
}

// record inserts or refreshes a key. Must be called with mu held.
func (c *Cache) record(key string) {
	now := time.Now()

	if e, ok := c.seen[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &entry{seenAt: now, element: elem}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// cleanupLoop periodically removes expired entries until Close.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.seen {
		if now.Sub(e.seenAt) > c.ttl {
			c.order.Remove(e.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call twice.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
