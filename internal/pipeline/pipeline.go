// Package pipeline implements the bounded, in-process channel carrying
// canonical Events from the Event Ingestor (C3) to the Enrichment & Batch
// Writer (C4). Backpressure is a first-class return value rather than a
// blocking call or an exception, per the design notes on flow regulation.
package pipeline

import (
	"sync/atomic"

	"github.com/homelab/ha-ingestor/internal/metrics"
	"github.com/homelab/ha-ingestor/internal/model"
)

// Outcome reports what happened to an Enqueue call.
type Outcome int

const (
	// Accepted means the event was placed on the channel.
	Accepted Outcome = iota
	// Dropped means the channel was full and the event was dropped at
	// the tail (drop-tail semantics protect the WebSocket reader).
	Dropped
	// Backpressured means the Writer has signaled high-water pressure
	// and the pipeline is rejecting new enqueues rather than buffering.
	Backpressured
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Dropped:
		return "dropped"
	case Backpressured:
		return "backpressured"
	default:
		return "unknown"
	}
}

// Pipeline is a bounded FIFO of canonical Events.
type Pipeline struct {
	ch chan *model.Event

	backpressured atomic.Bool

	enqueued int64
	dropped  int64
}

// New returns a Pipeline with the given channel capacity.
func New(capacity int) *Pipeline {
	return &Pipeline{ch: make(chan *model.Event, capacity)}
}

// SetBackpressure is called by the Writer when total in-flight bytes cross
// writer_high_water. While set, Enqueue returns Backpressured instead of
// buffering further events.
func (p *Pipeline) SetBackpressure(on bool) {
	p.backpressured.Store(on)
}

// Enqueue attempts to place ev on the pipeline. It never blocks.
func (p *Pipeline) Enqueue(ev *model.Event) Outcome {
	if p.backpressured.Load() {
		metrics.PipelineBackpressured.Inc()
		return Backpressured
	}

	select {
	case p.ch <- ev:
		atomic.AddInt64(&p.enqueued, 1)
		metrics.PipelineAccepted.Inc()
		return Accepted
	default:
		atomic.AddInt64(&p.dropped, 1)
		metrics.PipelineDropped.Inc()
		return Dropped
	}
}

// Chan exposes the underlying receive-only channel for consumers.
func (p *Pipeline) Chan() <-chan *model.Event {
	return p.ch
}

// Close closes the underlying channel. Callers must ensure no further
// Enqueue calls occur afterward.
func (p *Pipeline) Close() {
	close(p.ch)
}

// Stats is a point-in-time snapshot of pipeline counters, used to verify
// the drop-accounting invariant (pipeline_dropped_total + written_total +
// in_flight = enqueued_total).
type Stats struct {
	Enqueued int64
	Dropped  int64
	InFlight int
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Enqueued: atomic.LoadInt64(&p.enqueued),
		Dropped:  atomic.LoadInt64(&p.dropped),
		InFlight: len(p.ch),
	}
}
