// Package enrichment implements TTL-cached snapshots of external sources
// (weather, and similar out-of-scope adapters per spec §1) for the Batch
// Writer's enrich stage. Source internals are out of scope; this package
// only defines the fetch/cache/freshness contract each source must honor.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Fetcher retrieves one fresh snapshot from an external source. Adapters
// for specific sources (weather, sports, carbon, pricing) implement this;
// their internals are a black box to the core per spec.md §1.
type Fetcher interface {
	Fetch(ctx context.Context) (json.RawMessage, error)
}

// HTTPFetcher is the default Fetcher: a GET request returning a JSON body,
// used when an enrichment source exposes a simple snapshot endpoint.
type HTTPFetcher struct {
	URL string
	HC  *http.Client
}

// Fetch issues the GET and returns the raw JSON response body.
func (f *HTTPFetcher) Fetch(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building enrichment request: %w", err)
	}
	resp, err := f.HC.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching enrichment snapshot: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enrichment source returned status %d", resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding enrichment snapshot: %w", err)
	}
	return raw, nil
}

// Cache holds one source's most recent snapshot, refreshed on a fixed
// interval up to its TTL. A fetch failure does not clear the cache; the
// previous snapshot remains valid until it ages out of TTL, at which point
// Snapshot reports ok=false and the writer proceeds without the tag.
type Cache struct {
	name string
	ttl  time.Duration
	fn   Fetcher

	mu       sync.RWMutex
	snapshot json.RawMessage
	fetchedAt time.Time
}

// NewCache returns a Cache for the named source, fetched via fn.
func NewCache(name string, ttl time.Duration, fn Fetcher) *Cache {
	return &Cache{name: name, ttl: ttl, fn: fn}
}

// Name implements [github.com/homelab/ha-ingestor/internal/writer.SnapshotSource].
func (c *Cache) Name() string { return c.name }

// Snapshot implements [github.com/homelab/ha-ingestor/internal/writer.SnapshotSource].
func (c *Cache) Snapshot() (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil || time.Since(c.fetchedAt) > c.ttl {
		return nil, false
	}
	return c.snapshot, true
}

// Refresh fetches a new snapshot and stores it if successful. Intended to
// be called on a timer no more often than ttl/2 by the caller.
func (c *Cache) Refresh(ctx context.Context) error {
	snap, err := c.fn.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("refreshing enrichment source %q: %w", c.name, err)
	}
	c.mu.Lock()
	c.snapshot = snap
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Run refreshes the cache on a timer until ctx is cancelled. Fetch errors
// are swallowed (the previous snapshot, if any, remains until it ages out);
// callers that want visibility should wrap Fetcher with their own logging.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	_ = c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = c.Refresh(ctx)
		}
	}
}
