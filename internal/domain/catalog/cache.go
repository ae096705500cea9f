package catalog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SnapshotCache serves per-tenant catalog snapshots with a short TTL so the
// composition path does not hit the store on every keystroke-driven request.
// Snapshots handed to the resolver may therefore be slightly stale; that is
// the same staleness window any caller-supplied snapshot has.
type SnapshotCache struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[snapshotKey]snapshotEntry
}

type snapshotKey struct {
	tenantID string
	group    Group
}

type snapshotEntry struct {
	items     []Item
	fetchedAt time.Time
}

// NewSnapshotCache creates a cache over the store.
func NewSnapshotCache(store Store, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SnapshotCache{
		store:   store,
		ttl:     ttl,
		logger:  logger,
		entries: make(map[snapshotKey]snapshotEntry),
	}
}

// Get returns the cached snapshot for a tenant and group, loading it from the
// store when missing or expired.
func (c *SnapshotCache) Get(ctx context.Context, tenantID string, group Group) ([]Item, error) {
	key := snapshotKey{tenantID: tenantID, group: group}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return entry.items, nil
	}

	items, err := c.store.ListItems(ctx, tenantID, group)
	if err != nil {
		if ok {
			// Serve the stale snapshot rather than failing the composition.
			c.logger.Warn("catalog refresh failed, serving stale snapshot",
				zap.String("group", string(group)), zap.Error(err))
			return entry.items, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = snapshotEntry{items: items, fetchedAt: time.Now()}
	c.mu.Unlock()
	return items, nil
}

// Invalidate drops the cached snapshot for a tenant and group, typically
// after a write through the settings endpoints.
func (c *SnapshotCache) Invalidate(tenantID string, group Group) {
	c.mu.Lock()
	delete(c.entries, snapshotKey{tenantID: tenantID, group: group})
	c.mu.Unlock()
}

// Purge removes expired snapshots. Called from the maintenance scheduler.
func (c *SnapshotCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int
	for key, entry := range c.entries {
		if time.Since(entry.fetchedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}
