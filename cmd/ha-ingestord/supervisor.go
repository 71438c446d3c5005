package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/homelab/ha-ingestor/internal/catalog"
	"github.com/homelab/ha-ingestor/internal/connection"
	"github.com/homelab/ha-ingestor/internal/ingest"
	"github.com/homelab/ha-ingestor/internal/registry"
)

// runSupervisor owns the acquire-sweep-subscribe-ingest lifecycle of a
// single Home Assistant session: it never returns except on ctx
// cancellation, reconnecting through the Connection Manager's breaker pool
// whenever a session drops.
func runSupervisor(
	ctx context.Context,
	mgr *connection.Manager,
	disc *registry.Discoverer,
	store *catalog.Store,
	cache *ingest.CatalogCache,
	ing *ingest.Ingestor,
	logger *slog.Logger,
) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		sess, err := mgr.Acquire(ctx)
		if err != nil {
			if errors.Is(err, connection.ErrNoBackend) {
				delay := connection.RetryDelay(attempt, func(n int64) int64 { return rand.Int63n(n + 1) })
				attempt++
				logger.Warn("no backend available, retrying", "attempt", attempt, "delay", delay)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
				continue
			}
			return fmt.Errorf("acquiring session: %w", err)
		}
		attempt = 0

		if err := runSession(ctx, sess, disc, store, cache, ing, logger); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session ended, reconnecting", "error", err)
		}
		_ = sess.Close()
	}
}

// runSession performs the registry sweep, repopulates the catalog cache,
// subscribes to state changes, and drives the ingest frame loop until the
// session fails or ctx is cancelled.
func runSession(
	ctx context.Context,
	sess *connection.Session,
	disc *registry.Discoverer,
	store *catalog.Store,
	cache *ingest.CatalogCache,
	ing *ingest.Ingestor,
	logger *slog.Logger,
) error {
	if err := disc.Sweep(ctx, sess); err != nil {
		return fmt.Errorf("registry sweep: %w", err)
	}
	if err := repopulateCache(ctx, store, cache); err != nil {
		logger.Warn("repopulating catalog cache", "error", err)
	}

	if err := ingest.Subscribe(sess); err != nil {
		return fmt.Errorf("subscribing to state_changed: %w", err)
	}
	if err := disc.SubscribeUpdates(sess); err != nil {
		return fmt.Errorf("subscribing to registry updates: %w", err)
	}
	logger.Info("session established", "endpoint", sess.Endpoint)

	return ingest.Run(ctx, sess, ing)
}

// repopulateCache rebuilds the in-memory CatalogLookup from the Catalog
// Store's current rows, run once per sweep so the Ingestor's join never
// reads a torn or partially-reconciled state.
func repopulateCache(ctx context.Context, store *catalog.Store, cache *ingest.CatalogCache) error {
	entities, err := store.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("listing entities: %w", err)
	}
	cache.Reset()
	for _, e := range entities {
		cache.Set(e.EntityID, e.DeviceID, e.AreaID)
	}
	return nil
}
