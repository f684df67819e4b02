package paystate

import (
	"sync"
	"time"
)

// RecentCompletions is a bounded, time-expiring set of just-completed
// order ids. Billing adds an id on commit; active-order filtering skips
// members so a settled order disappears from views immediately even if
// the store read still lags behind.
type RecentCompletions struct {
	entries map[string]time.Time
	now     func() time.Time
	ttl     time.Duration
	limit   int
	mu      sync.Mutex
}

// NewRecentCompletions builds a set whose entries expire after ttl and
// whose size never exceeds limit (oldest entries are evicted first).
func NewRecentCompletions(ttl time.Duration, limit int) *RecentCompletions {
	return &RecentCompletions{
		entries: make(map[string]time.Time),
		now:     time.Now,
		ttl:     ttl,
		limit:   limit,
	}
}

// Add records an order id.
func (c *RecentCompletions) Add(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune()
	c.entries[orderID] = c.now()

	if len(c.entries) > c.limit {
		var oldestID string
		var oldest time.Time
		for id, at := range c.entries {
			if oldestID == "" || at.Before(oldest) {
				oldestID, oldest = id, at
			}
		}
		delete(c.entries, oldestID)
	}
}

// Remove drops an order id. Used when an optimistic completion is
// reverted.
func (c *RecentCompletions) Remove(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, orderID)
}

// Contains reports whether an order id is present and not expired.
func (c *RecentCompletions) Contains(orderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune()
	_, ok := c.entries[orderID]
	return ok
}

// Len returns the number of live entries.
func (c *RecentCompletions) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.prune()
	return len(c.entries)
}

// prune drops expired entries. Callers must hold the lock.
func (c *RecentCompletions) prune() {
	deadline := c.now().Add(-c.ttl)
	for id, at := range c.entries {
		if at.Before(deadline) {
			delete(c.entries, id)
		}
	}
}
