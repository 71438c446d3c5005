// ha-ingestord ingests Home Assistant state_changed events over a managed
// WebSocket session, enriches and batches them into a Time-Series Store,
// dispatches matching webhooks, and runs the scheduled retention and
// aggregation passes.
//
// Usage:
//
//	ha-ingestord [--config <path>]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/homelab/ha-ingestor/internal/catalog"
	"github.com/homelab/ha-ingestor/internal/config"
	"github.com/homelab/ha-ingestor/internal/connection"
	"github.com/homelab/ha-ingestor/internal/enrichment"
	"github.com/homelab/ha-ingestor/internal/httpapi"
	"github.com/homelab/ha-ingestor/internal/ingest"
	"github.com/homelab/ha-ingestor/internal/pipeline"
	"github.com/homelab/ha-ingestor/internal/registry"
	"github.com/homelab/ha-ingestor/internal/retention"
	"github.com/homelab/ha-ingestor/internal/telemetry"
	"github.com/homelab/ha-ingestor/internal/tsdb"
	"github.com/homelab/ha-ingestor/internal/webhook"
	"github.com/homelab/ha-ingestor/internal/writer"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run is the entry point extracted from main so errors can propagate cleanly.
func run() error {
	defaultCfg, _ := config.DefaultPath()
	cfgPath := flag.String("config", defaultCfg, "path to config.yaml")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	logger.Info("config loaded", "catalog_db", cfg.CatalogDB, "endpoints", len(cfg.HA.Endpoints))

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	store, err := catalog.Open(cfg.CatalogDB)
	if err != nil {
		return fmt.Errorf("opening catalog DB at %q: %w", cfg.CatalogDB, err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing catalog DB", "error", closeErr)
		}
	}()
	logger.Info("catalog DB opened", "path", cfg.CatalogDB)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	mgr := connection.New(cfg.HA, cfg.Breaker)
	disc := registry.New(store)
	cache := ingest.NewCatalogCache()

	pl := pipeline.New(cfg.Pipeline.Capacity)
	dispatcher := webhook.New(store, cfg.Webhook)
	if err := dispatcher.LoadSubscriptions(ctx); err != nil {
		logger.Warn("loading webhook subscriptions", "error", err)
	}

	ing := ingest.New(pl, cache)
	ing.SetTee(dispatcher)
	ing.SetUpdateRouter(disc)

	tsdbClient := tsdb.New(cfg.Writer.TSDBURL, cfg.Writer.TSDBToken, &http.Client{Timeout: cfg.Writer.TSDBTimeout})

	enrichSources := buildEnrichmentSources(cfg.Enrichment)
	snapshotSources := make([]writer.SnapshotSource, len(enrichSources))
	for i, s := range enrichSources {
		snapshotSources[i] = s.cache
	}
	wr, err := writer.New(pl, tsdbClient, cfg.Writer, snapshotSources, logger)
	if err != nil {
		return fmt.Errorf("constructing batch writer: %w", err)
	}
	if err := writer.Replay(cfg.Writer.SpoolPath, func(b tsdb.Batch) error {
		return tsdbClient.Write(ctx, b)
	}); err != nil {
		return fmt.Errorf("replaying failed-batch spool: %w", err)
	}

	sched := retention.New(store, tsdbClient, *cfg, logger)

	api := httpapi.New(cfg.HTTPAPI.ListenAddr, httpapi.Deps{
		Store:      store,
		ConnMgr:    mgr,
		Pipeline:   pl,
		Dispatcher: dispatcher,
	}, logger)

	var tasks []func() error
	tasks = append(tasks,
		func() error { return runSupervisor(ctx, mgr, disc, store, cache, ing, logger) },
		func() error { return wr.Run(ctx) },
		func() error { dispatcher.Run(ctx); return nil },
		func() error { return sched.Run(ctx) },
		func() error { return api.Run(ctx) },
	)
	for _, s := range enrichSources {
		s := s
		tasks = append(tasks, func() error { s.cache.Run(ctx, s.interval); return nil })
	}

	logger.Info("ha-ingestord started", "listen_addr", cfg.HTTPAPI.ListenAddr)
	if err := runAll(tasks); err != nil && !isShutdownErr(err) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// runAll runs every task concurrently and waits for all of them to return,
// surfacing the first non-shutdown error encountered.
func runAll(tasks []func() error) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(tasks))
	for _, t := range tasks {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- t()
		}()
	}
	wg.Wait()
	close(errCh)

	var first error
	for err := range errCh {
		if err != nil && !isShutdownErr(err) && first == nil {
			first = err
		}
	}
	return first
}

func isShutdownErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type enrichSource struct {
	cache    *enrichment.Cache
	interval time.Duration
}

// buildEnrichmentSources constructs a refresh loop per enabled enrichment
// source, polling at half its TTL so Snapshot rarely observes a stale
// cache crossing the TTL boundary.
func buildEnrichmentSources(cfg config.EnrichmentConfig) []enrichSource {
	var out []enrichSource
	for name, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		fetcher := &enrichment.HTTPFetcher{URL: src.URL, HC: &http.Client{Timeout: 10 * time.Second}}
		interval := src.TTL / 2
		if interval <= 0 {
			interval = src.TTL
		}
		out = append(out, enrichSource{cache: enrichment.NewCache(name, src.TTL, fetcher), interval: interval})
	}
	return out
}
