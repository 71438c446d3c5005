package ingest

import "sync"

// CatalogCache is an in-memory snapshot of (entity_id) ->
// (device_id, area_id), repopulated by the caller from the Catalog Store
// after each registry sweep. A miss returns ok=false without consulting the
// Catalog Store. It satisfies [CatalogLookup].
type CatalogCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	deviceID *string
	areaID   *string
}

// NewCatalogCache returns an empty cache.
func NewCatalogCache() *CatalogCache {
	return &CatalogCache{entries: make(map[string]cacheEntry)}
}

// Set replaces the cached device_id/area_id for entityID.
func (c *CatalogCache) Set(entityID string, deviceID, areaID *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entityID] = cacheEntry{deviceID: deviceID, areaID: areaID}
}

// Reset clears the cache, used before a full repopulation after a catalog
// reconciliation sweep.
func (c *CatalogCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// DeviceAndAreaFor implements [CatalogLookup].
func (c *CatalogCache) DeviceAndAreaFor(entityID string) (*string, *string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[entityID]
	if !ok {
		return nil, nil, false
	}
	return e.deviceID, e.areaID, true
}
