package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/b2xlabs/tenantgate/internal/domain"
)

// Compile-time check: Local implements domain.BindingCache.
var _ domain.BindingCache = (*Local)(nil)

// DefaultSize is the default maximum number of entries in the local tier.
const DefaultSize = 10000

// Local is the in-process cache tier: a bounded map with absolute
// per-entry expiry and LRU eviction. It serves the p99 of the resolve
// hot path; the absolute expiry bounds the blast radius of any missed
// invalidation message.
type Local struct {
	mu      sync.Mutex
	items   map[string]localItem
	lru     []string // eviction order, least recently used first
	maxSize int
	stop    chan struct{}
	done    chan struct{}
	closed  bool
}

type localItem struct {
	entry     domain.CacheEntry
	expiresAt time.Time
}

// NewLocal creates a local cache with automatic cleanup of expired
// entries. A non-positive maxSize falls back to DefaultSize.
func NewLocal(maxSize int) *Local {
	if maxSize <= 0 {
		maxSize = DefaultSize
	}

	c := &Local{
		items:   make(map[string]localItem),
		lru:     make([]string, 0, maxSize),
		maxSize: maxSize,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Get retrieves an entry, evicting it inline when past its expiry.
func (c *Local) Get(_ context.Context, name string) (domain.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[name]
	if !exists {
		return domain.CacheEntry{}, false
	}

	if time.Now().After(item.expiresAt) {
		delete(c.items, name)
		c.removeLRU(name)
		return domain.CacheEntry{}, false
	}

	c.updateLRU(name)

	return item.entry, true
}

// Set stores an entry with an absolute expiry of ttl from now, evicting
// the least recently used entry when full.
func (c *Local) Set(_ context.Context, name string, entry domain.CacheEntry, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[name]; !exists && len(c.items) >= c.maxSize {
		if len(c.lru) > 0 {
			evict := c.lru[0]
			delete(c.items, evict)
			c.lru = c.lru[1:]
		}
	}

	c.items[name] = localItem{
		entry:     entry,
		expiresAt: time.Now().Add(ttl),
	}

	c.updateLRU(name)
}

// Delete removes a single entry.
func (c *Local) Delete(_ context.Context, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, name)
	c.removeLRU(name)
}

// DeleteTenant removes every positive entry bound to the tenant.
// Negative entries carry no tenant and are left to their short TTL.
func (c *Local) DeleteTenant(_ context.Context, tenantID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, item := range c.items {
		if !item.entry.Negative && item.entry.Binding.TenantID == tenantID {
			delete(c.items, name)
			c.removeLRU(name)
		}
	}
}

// cleanup periodically removes expired entries so the map does not fill
// with dead weight between reads.
func (c *Local) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Local) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for name, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, name)
			c.removeLRU(name)
		}
	}
}

// updateLRU moves the name to the end of the queue (most recently used).
func (c *Local) updateLRU(name string) {
	for i, n := range c.lru {
		if n == name {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			break
		}
	}
	c.lru = append(c.lru, name)
}

func (c *Local) removeLRU(name string) {
	for i, n := range c.lru {
		if n == name {
			c.lru = append(c.lru[:i], c.lru[i+1:]...)
			return
		}
	}
}

// Close stops the cleanup goroutine and waits for it to finish.
func (c *Local) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	<-c.done
	return nil
}
