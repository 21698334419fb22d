package application

import (
	"sync"
	"time"

	"github.com/example/neighborhood-portal/internal/access"
)

// roleCache keeps recently fetched role assignments per user so that route
// checks do not hit the database on every request. Entries are dropped on
// expiry, on logout, and when roles are granted.
type roleCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]roleCacheEntry
}

type roleCacheEntry struct {
	roles     []access.RoleAssignment
	expiresAt time.Time
}

func newRoleCache(ttl time.Duration, maxEntries int, now func() time.Time) *roleCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	if now == nil {
		now = time.Now
	}
	return &roleCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]roleCacheEntry),
	}
}

func (c *roleCache) Get(userID string) ([]access.RoleAssignment, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, userID)
		c.mu.Unlock()
		return nil, false
	}
	return cloneRoles(entry.roles), true
}

func (c *roleCache) Store(userID string, roles []access.RoleAssignment) {
	if c == nil {
		return
	}
	cloned := cloneRoles(roles)
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if _, exists := c.entries[userID]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[userID] = roleCacheEntry{roles: cloned, expiresAt: expiry}
}

func (c *roleCache) Invalidate(userID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

func (c *roleCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictOneLocked drops the entry closest to expiry.
func (c *roleCache) evictOneLocked() {
	var (
		victim string
		oldest time.Time
	)
	for key, entry := range c.entries {
		if victim == "" || entry.expiresAt.Before(oldest) {
			victim, oldest = key, entry.expiresAt
		}
	}
	delete(c.entries, victim)
}

func cloneRoles(roles []access.RoleAssignment) []access.RoleAssignment {
	if len(roles) == 0 {
		return nil
	}
	out := make([]access.RoleAssignment, len(roles))
	copy(out, roles)
	return out
}
