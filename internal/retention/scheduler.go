package retention

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/homelab/ha-ingestor/internal/catalog"
	"github.com/homelab/ha-ingestor/internal/config"
	"github.com/homelab/ha-ingestor/internal/tsdb"
)

const (
	jobDaily          = "daily"
	jobWeekly         = "weekly"
	jobMonthly        = "monthly"
	jobRetentionSweep = "retention_sweep"
)

// Scheduler is the Retention & Aggregator (C6): a cron-driven scheduler
// running the daily/weekly/monthly aggregation passes and the retention
// sweep, each gated by an advisory lock in the Catalog so only one process
// instance executes a given scheduled instant.
type Scheduler struct {
	store  *catalog.Store
	client *tsdb.Client
	cfg    config.Config
	log    *slog.Logger
	holder string

	cron    *cron.Cron
	workers chan struct{}
}

// New returns a Scheduler. Its lock holder id, which identifies this process
// instance for lock ownership, is the hostname joined with a random uuid.
func New(store *catalog.Store, client *tsdb.Client, cfg config.Config, logger *slog.Logger) *Scheduler {
	holder := fmt.Sprintf("%s-%s", hostname(), uuid.New().String())
	workers := cfg.Retention.Workers
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		store:   store,
		client:  client,
		cfg:     cfg,
		log:     logger,
		holder:  holder,
		cron:    cron.New(),
		workers: make(chan struct{}, workers),
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// Run registers the four scheduled jobs and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	jobs := []struct {
		spec string
		name string
		run  func(ctx context.Context) error
	}{
		{s.cfg.Schedule.DailyAggregate, jobDaily, s.runDaily},
		{s.cfg.Schedule.WeeklyAggregate, jobWeekly, s.runWeekly},
		{s.cfg.Schedule.MonthlyAggregate, jobMonthly, s.runMonthly},
		{s.cfg.Schedule.RetentionSweep, jobRetentionSweep, s.runRetentionSweep},
	}

	for _, j := range jobs {
		j := j
		_, err := s.cron.AddFunc(j.spec, func() {
			s.dispatch(ctx, j.name, j.run)
		})
		if err != nil {
			return fmt.Errorf("scheduling job %q with spec %q: %w", j.name, j.spec, err)
		}
	}

	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

// dispatch bounds concurrent job execution to the configured worker pool
// and runs fn under the job's advisory lock.
func (s *Scheduler) dispatch(ctx context.Context, name string, fn func(ctx context.Context) error) {
	select {
	case s.workers <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.workers }()

	s.runLocked(ctx, name, fn)
}

func writeBatch(ctx context.Context, client *tsdb.Client, measurement string, points []tsdb.Point) error {
	if len(points) == 0 {
		return nil
	}
	return client.Write(ctx, tsdb.Batch{BatchID: pointsBatchID(measurement, points), Measurement: measurement, Points: points})
}

// pointsBatchID derives a deterministic idempotence key from the
// measurement and the JSON-encoded point set, so replaying the same daily
// run (e.g. after a crash) produces the same batch id.
func pointsBatchID(measurement string, points []tsdb.Point) string {
	body, _ := json.Marshal(points)
	sum := sha256.Sum256(append([]byte(measurement+"|"), body...))
	return hex.EncodeToString(sum[:])
}

func weekEndingFor(at time.Time) time.Time {
	d := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Sunday {
		d = d.Add(-24 * time.Hour)
	}
	return d
}

func monthEndingFor(at time.Time) time.Time {
	first := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.Add(-24 * time.Hour)
}
