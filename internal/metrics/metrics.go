// Package metrics holds the process-wide Prometheus collectors exposed on
// the read-side HTTP API's /metrics endpoint. Collectors are registered
// against the default registry at package init so every component can
// import this package and record against the same series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineDropped counts events dropped at the tail of the bounded
	// Pipeline channel because it was full (C3).
	PipelineDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_dropped_total",
		Help: "Events dropped at the tail of the ingest pipeline because it was full.",
	})

	// PipelineBackpressured counts events rejected by the Ingestor's
	// enqueue path while the Writer signals high-water backpressure.
	PipelineBackpressured = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_backpressured_total",
		Help: "Events rejected at enqueue time while the writer is backpressured.",
	})

	// PipelineAccepted counts events successfully enqueued onto the
	// pipeline channel.
	PipelineAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_accepted_total",
		Help: "Events successfully enqueued onto the ingest pipeline.",
	})

	// EventsValidationDropped counts inbound frames dropped for failing
	// structural validation before they reach the pipeline.
	EventsValidationDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "events_validation_dropped_total",
		Help: "Inbound event frames dropped for failing validation.",
	})

	// WriteDropped counts batches dropped as non-retriable by the Writer.
	WriteDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "write_dropped_total",
		Help: "Batches dropped by the writer as non-retriable.",
	})

	// WrittenTotal counts points successfully written to the time-series store.
	WrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "written_total",
		Help: "Points successfully written to the time-series store.",
	})

	// WriteRetries counts retry attempts issued by the Writer.
	WriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "write_retries_total",
		Help: "Retry attempts issued by the batch writer.",
	})

	// TagCardinalityOverflow counts tag values collapsed to OVERFLOW for
	// exceeding the per-tag cardinality bound.
	TagCardinalityOverflow = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tag_cardinality_overflow_total",
		Help: "Tag values collapsed to OVERFLOW for exceeding the cardinality bound.",
	}, []string{"tag"})

	// BreakerState is a gauge per endpoint: 0=closed, 1=open, 2=half_open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "breaker_state",
		Help: "Circuit breaker state per HA endpoint (0=closed, 1=open, 2=half_open).",
	}, []string{"endpoint"})

	// CatalogWarnings counts registry rows accepted with a dangling
	// device_id reference.
	CatalogWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_warnings_total",
		Help: "Catalog rows accepted despite referencing an unknown device_id.",
	})

	// WebhookDeliveries counts delivery attempts by outcome.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome.",
	}, []string{"outcome"}) // delivered, retried, giving_up

	// WebhookMailboxDropped counts oldest-dropped events from an
	// overflowing per-subscription mailbox.
	WebhookMailboxDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_mailbox_dropped_total",
		Help: "Events dropped from a subscription mailbox because it overflowed.",
	}, []string{"subscription_id"})

	// RetentionJobRuns counts C6 job runs by kind and outcome.
	RetentionJobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_job_runs_total",
		Help: "Retention/aggregation job runs by kind and outcome.",
	}, []string{"kind", "outcome"}) // kind=daily|weekly|monthly|retention_sweep, outcome=complete|failed
)
