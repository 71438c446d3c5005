// Package writer implements the Enrichment & Batch Writer (C4): normalize,
// enrich, route, batch, write, backpressure, and spool, consuming Events
// off the shared Pipeline and writing Points to the Time-Series Store.
package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/homelab/ha-ingestor/internal/config"
	"github.com/homelab/ha-ingestor/internal/metrics"
	"github.com/homelab/ha-ingestor/internal/model"
	"github.com/homelab/ha-ingestor/internal/pipeline"
	"github.com/homelab/ha-ingestor/internal/tsdb"
)

// Writer owns one target bucket's write path: it is the single consumer of
// the Pipeline channel, accumulating points into per-flush batches and
// writing them to the Time-Series Store with retry and backpressure.
type Writer struct {
	pipeline    *pipeline.Pipeline
	client      *tsdb.Client
	cfg         config.WriterConfig
	cardinality *cardinalityTracker
	sources     []SnapshotSource
	spool       *spool
	logger      *slog.Logger

	inFlightBytes atomic.Int64
	now           func() time.Time
}

// New returns a Writer reading from p, writing through client, and
// spooling failed batches to cfg.SpoolPath.
func New(p *pipeline.Pipeline, client *tsdb.Client, cfg config.WriterConfig, sources []SnapshotSource, logger *slog.Logger) (*Writer, error) {
	sp, err := openSpool(cfg.SpoolPath)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		pipeline:    p,
		client:      client,
		cfg:         cfg,
		cardinality: newCardinalityTracker(),
		sources:     sources,
		spool:       sp,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// pendingBatch accumulates one measurement's points between flushes,
// keeping the source Events alongside for batch-id derivation and
// diagnostic logging.
type pendingBatch struct {
	events []*model.Event
	points []tsdb.Point
}

func (b *pendingBatch) add(ev *model.Event, pt tsdb.Point) {
	b.events = append(b.events, ev)
	b.points = append(b.points, pt)
}

func (b *pendingBatch) len() int { return len(b.events) }

func (b *pendingBatch) reset() {
	b.events = nil
	b.points = nil
}

// Run drives the writer loop until ctx is cancelled, then drains
// outstanding points within cfg.DrainTimeout before returning.
func (w *Writer) Run(ctx context.Context) error {
	var pending pendingBatch
	timer := time.NewTimer(w.cfg.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.drain(&pending)

		case ev, ok := <-w.pipeline.Chan():
			if !ok {
				return w.drain(&pending)
			}
			w.ingest(&pending, ev)
			if pending.len() >= w.cfg.BatchSize {
				w.flush(ctx, &pending)
				resetTimer(timer, w.cfg.FlushInterval)
			}

		case <-timer.C:
			if pending.len() > 0 {
				w.flush(ctx, &pending)
			}
			resetTimer(timer, w.cfg.FlushInterval)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (w *Writer) ingest(pending *pendingBatch, ev *model.Event) {
	normalize(ev)
	enrich(ev, w.sources)
	pending.add(ev, w.route(ev))
}

// drain flushes whatever remains within the configured grace period,
// spooling anything still unwritten after it expires.
func (w *Writer) drain(pending *pendingBatch) error {
	if pending.len() == 0 {
		return nil
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), w.cfg.DrainTimeout)
	defer cancel()
	w.flush(drainCtx, pending)
	return nil
}

// flush builds a batch from pending, writes it with retry, and resets
// pending regardless of outcome: a batch that exhausts retries is spooled,
// never held in memory past its flush.
func (w *Writer) flush(ctx context.Context, pending *pendingBatch) {
	if pending.len() == 0 {
		return
	}
	batch := tsdb.Batch{
		BatchID:     model.BatchID(measurementRawEvents, pending.events[0].TimeFired, pending.events),
		Measurement: measurementRawEvents,
		Points:      pending.points,
	}

	size := approxSize(batch)
	w.inFlightBytes.Add(size)
	w.updateBackpressure()

	err := w.writeWithRetry(ctx, batch)

	w.inFlightBytes.Add(-size)
	w.updateBackpressure()

	switch {
	case err == nil:
		metrics.WrittenTotal.Add(float64(len(batch.Points)))
	case isNonRetriable(err):
		// already counted and logged inside writeWithRetry
	default:
		if spoolErr := w.spool.Append(batch); spoolErr != nil {
			w.logger.Error("failed to spool batch after exhausting retries", "error", spoolErr, "batch_id", batch.BatchID)
		}
	}

	pending.reset()
}

// writeWithRetry issues the write, retrying retriable failures with full
// jitter exponential backoff up to MaxRetries. Non-retriable failures drop
// the batch immediately.
func (w *Writer) writeWithRetry(ctx context.Context, batch tsdb.Batch) error {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		err := w.client.Write(ctx, batch)
		if err == nil {
			return nil
		}
		lastErr = err

		if isNonRetriable(err) {
			metrics.WriteDropped.Inc()
			w.logFirstRejectedPoint(batch, err)
			return err
		}

		if attempt == w.cfg.MaxRetries {
			break
		}
		metrics.WriteRetries.Inc()

		delay := backoffDelay(attempt, w.cfg.BaseDelay, w.cfg.MaxDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("exhausted %d retries: %w", w.cfg.MaxRetries, lastErr)
}

func isNonRetriable(err error) bool {
	var nonRetriable *tsdb.ErrNonRetriable
	return errors.As(err, &nonRetriable)
}

func (w *Writer) logFirstRejectedPoint(batch tsdb.Batch, err error) {
	if len(batch.Points) == 0 {
		return
	}
	w.logger.Warn("dropping non-retriable batch",
		"measurement", batch.Measurement,
		"batch_id", batch.BatchID,
		"first_point_time", batch.Points[0].Time,
		"first_point_tags", batch.Points[0].Tags,
		"error", err,
	)
}

// updateBackpressure flips the pipeline from drop-tail to reject-incoming
// once in-flight bytes exceed the high-water mark, and back once they fall
// below it.
func (w *Writer) updateBackpressure() {
	w.pipeline.SetBackpressure(w.inFlightBytes.Load() > w.cfg.HighWaterBytes)
}

func approxSize(b tsdb.Batch) int64 {
	data, err := json.Marshal(b)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
