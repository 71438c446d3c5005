package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/homelab/ha-ingestor/internal/catalog"
	"github.com/homelab/ha-ingestor/internal/metrics"
	"github.com/homelab/ha-ingestor/internal/model"
	"github.com/homelab/ha-ingestor/internal/tsdb"
)

// lockTTL bounds how long a held job lock survives a crashed holder. It
// must comfortably exceed any single job's expected runtime.
const lockTTL = 30 * time.Minute

// runLocked acquires the advisory lock for jobName, persists the
// Scheduled→Running→{Complete|Failed} transitions, and invokes fn only
// while holding the lock. If the lock is already held (by this or another
// instance), runLocked returns immediately without error: the job is
// at-most-once per scheduled instant, so losing the race is not a failure.
func (s *Scheduler) runLocked(ctx context.Context, jobName string, fn func(ctx context.Context) error) {
	acquired, err := s.store.TryAcquireLock(ctx, jobName, s.holder, lockTTL)
	if err != nil {
		s.log.Error("acquiring job lock", "job", jobName, "error", err)
		return
	}
	if !acquired {
		s.log.Info("job lock held elsewhere, skipping this instant", "job", jobName)
		return
	}
	defer func() {
		if err := s.store.ReleaseLock(context.Background(), jobName, s.holder); err != nil {
			s.log.Error("releasing job lock", "job", jobName, "error", err)
		}
	}()

	now := time.Now().UTC()
	run := &model.JobRun{JobName: jobName, Status: model.JobScheduled, StartedAt: now}
	if err := s.store.UpsertJobRun(ctx, run); err != nil {
		s.log.Error("persisting job run schedule", "job", jobName, "error", err)
	}
	run.Status = model.JobRunning
	if err := s.store.UpsertJobRun(ctx, run); err != nil {
		s.log.Error("persisting job run start", "job", jobName, "error", err)
	}

	err = fn(ctx)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if err != nil {
		run.Status = model.JobFailed
		run.Reason = err.Error()
		metrics.RetentionJobRuns.WithLabelValues(jobName, "failed").Inc()
		s.log.Error("job run failed", "job", jobName, "error", err)
	} else {
		run.Status = model.JobComplete
		metrics.RetentionJobRuns.WithLabelValues(jobName, "complete").Inc()
		s.log.Info("job run complete", "job", jobName)
	}
	if err := s.store.UpsertJobRun(context.Background(), run); err != nil {
		s.log.Error("persisting job run completion", "job", jobName, "error", err)
	}
}

// backfillCatalog returns a lookup of entity_id -> (device_id, area_id)
// built from the current Catalog, used to fill in tags on raw points whose
// device_id/area_id were unknown at ingest time.
func backfillCatalog(ctx context.Context, store *catalog.Store) (map[string]struct{ deviceID, areaID string }, error) {
	entities, err := store.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing entities for backfill: %w", err)
	}
	out := make(map[string]struct{ deviceID, areaID string }, len(entities))
	for _, e := range entities {
		var deviceID, areaID string
		if e.DeviceID != nil {
			deviceID = *e.DeviceID
		}
		if e.AreaID != nil {
			areaID = *e.AreaID
		}
		out[e.EntityID] = struct{ deviceID, areaID string }{deviceID, areaID}
	}
	return out, nil
}

// applyBackfill fills missing device_id/area_id tags on raw points in
// place, using a lookup built from the current Catalog.
func applyBackfill(points []tsdb.Point, lookup map[string]struct{ deviceID, areaID string }) {
	for i := range points {
		entityID := points[i].Tags["entity_id"]
		if entityID == "" {
			continue
		}
		info, ok := lookup[entityID]
		if !ok {
			continue
		}
		if points[i].Tags["device_id"] == "" && info.deviceID != "" {
			points[i].Tags["device_id"] = info.deviceID
		}
		if points[i].Tags["area_id"] == "" && info.areaID != "" {
			points[i].Tags["area_id"] = info.areaID
		}
	}
}
