package authz

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes resolved permission sets per user. Entries expire after
// a TTL; grant and vocabulary mutations must invalidate explicitly.
// Reads take a shared lock so concurrent lookups never serialize on each
// other.
type Cache struct {
	resolver *Resolver
	ttl      time.Duration

	mu      sync.RWMutex
	entries map[int64]cacheEntry
	version uint64

	group singleflight.Group
	now   func() time.Time
}

type cacheEntry struct {
	perms     PermissionSet
	expiresAt time.Time
}

// CacheStats describes the current cache population.
type CacheStats struct {
	Entries int
	TTL     time.Duration
}

// NewCache constructs a Cache over the resolver with the given TTL.
func NewCache(resolver *Resolver, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		resolver: resolver,
		ttl:      ttl,
		entries:  make(map[int64]cacheEntry),
		now:      time.Now,
	}
}

// GetOrResolve returns the cached permission set for the user, resolving
// on miss or expiry. Concurrent misses for the same user collapse into a
// single resolution.
func (c *Cache) GetOrResolve(ctx context.Context, userID int64) (PermissionSet, error) {
	if perms, ok := c.lookup(userID); ok {
		return perms, nil
	}

	key := strconv.FormatInt(userID, 10)
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		c.mu.RLock()
		version := c.version
		c.mu.RUnlock()
		perms, err := c.resolver.Resolve(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.store(userID, perms, version)
		return perms, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(PermissionSet), nil
	}
}

// Invalidate drops the cached entry for one user. Callers mutating a
// user's grants must invoke this so the next lookup re-resolves. The
// version bump discards any resolution still in flight, and forgetting
// the singleflight key keeps later callers from joining it.
func (c *Cache) Invalidate(userID int64) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.version++
	c.mu.Unlock()
	c.group.Forget(strconv.FormatInt(userID, 10))
}

// InvalidateAll clears the entire cache. Role and permission edits
// invalidate broadly instead of tracking which users hold the role.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[int64]cacheEntry)
	c.version++
	c.mu.Unlock()
}

// Stats reports cache population and the configured TTL.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Entries: len(c.entries), TTL: c.ttl}
}

func (c *Cache) lookup(userID int64) (PermissionSet, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || !entry.expiresAt.After(c.now()) {
		return nil, false
	}
	return entry.perms, true
}

// store caches the resolved set unless an invalidation raced the
// resolution, in which case the set is returned to the caller but never
// cached: it may predate the mutation that triggered the invalidation.
func (c *Cache) store(userID int64, perms PermissionSet, version uint64) {
	c.mu.Lock()
	if c.version == version {
		c.entries[userID] = cacheEntry{perms: perms, expiresAt: c.now().Add(c.ttl)}
	}
	c.mu.Unlock()
}
