// Package ingest implements the Event Ingestor (C3): decodes inbound
// state_changed frames, flattens them to the canonical Event, joins
// against the in-memory Catalog read replica, and enqueues onto the
// Pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/homelab/ha-ingestor/internal/connection"
	"github.com/homelab/ha-ingestor/internal/metrics"
	"github.com/homelab/ha-ingestor/internal/model"
	"github.com/homelab/ha-ingestor/internal/pipeline"
)

// CatalogLookup resolves device_id/area_id for an entity_id from the
// Catalog read replica held in memory. A cache miss does not block; the
// event is enqueued with nulls.
type CatalogLookup interface {
	DeviceAndAreaFor(entityID string) (deviceID, areaID *string, ok bool)
}

// Tee receives every successfully flattened Event alongside the Pipeline
// enqueue, regardless of the enqueue outcome. The Webhook Dispatcher (C5)
// implements this to tee from the same in-memory stream as C4.
type Tee interface {
	Publish(ev *model.Event)
}

// UpdateRouter hands a non-ingest event frame off to another component
// before HandleFrame applies its own state_changed-only filtering. The
// Registry Discoverer (C2) implements this to reconcile registry-update
// events off the same session reader C3 owns.
type UpdateRouter interface {
	ApplyUpdateFrame(ctx context.Context, frame *connection.Frame) (bool, error)
}

// Ingestor consumes frames from a live Session and enqueues canonical
// Events onto a Pipeline.
type Ingestor struct {
	pipeline *pipeline.Pipeline
	catalog  CatalogLookup
	tee      Tee
	router   UpdateRouter
	now      func() time.Time
}

// New returns an Ingestor writing to p and joining against catalog lookups.
func New(p *pipeline.Pipeline, catalog CatalogLookup) *Ingestor {
	return &Ingestor{pipeline: p, catalog: catalog, now: time.Now}
}

// SetTee attaches a secondary broadcast sink that receives every flattened
// Event independent of the Pipeline's accept/drop decision.
func (i *Ingestor) SetTee(tee Tee) {
	i.tee = tee
}

// SetUpdateRouter attaches the component that handles non-state_changed
// event frames read from the same session. The single-reader-per-session
// rule means this, not a second reader goroutine, is how C2 sees
// registry-update events once C3's frame loop is running.
func (i *Ingestor) SetUpdateRouter(router UpdateRouter) {
	i.router = router
}

// haStateChangedEvent mirrors the upstream state_changed event payload.
type haStateChangedEvent struct {
	EntityID string          `json:"entity_id"`
	OldState *haState        `json:"old_state"`
	NewState *haState        `json:"new_state"`
}

type haState struct {
	State       string          `json:"state"`
	Attributes  json.RawMessage `json:"attributes"`
	LastChanged time.Time       `json:"last_changed"`
	LastUpdated time.Time       `json:"last_updated"`
}

type haEventFrame struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
	Origin    string          `json:"origin"`
	Context   model.Context   `json:"context"`
}

// Subscribe issues subscribe_events for state_changed on sess. Must be
// called only after C2's initial sweep completes.
func Subscribe(sess *connection.Session) error {
	id := sess.NextRequestID()
	return sess.Send(&connection.Frame{ID: id, Type: connection.TypeSubscribeEvents, EventType: "state_changed"})
}

// HandleFrame processes one inbound event frame: validate, flatten, join,
// enqueue. Returns an error only for conditions that should terminate the
// session (never for a single malformed event, which is dropped and
// counted instead).
func (i *Ingestor) HandleFrame(ctx context.Context, frame *connection.Frame) error {
	if frame.Type != connection.TypeEvent {
		return nil
	}

	if i.router != nil {
		handled, err := i.router.ApplyUpdateFrame(ctx, frame)
		if err != nil {
			return fmt.Errorf("applying registry update: %w", err)
		}
		if handled {
			return nil
		}
	}

	var envelope haEventFrame
	if err := json.Unmarshal(frame.Event, &envelope); err != nil {
		metrics.EventsValidationDropped.Inc()
		return nil
	}
	if envelope.EventType != "state_changed" {
		return nil
	}

	var data haStateChangedEvent
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		metrics.EventsValidationDropped.Inc()
		return nil
	}

	if !i.validate(data) {
		metrics.EventsValidationDropped.Inc()
		return nil
	}

	ev := i.flatten(envelope, data)
	i.join(ev)

	outcome := i.pipeline.Enqueue(ev)
	_ = outcome // recorded via metrics inside Pipeline.Enqueue

	if i.tee != nil {
		i.tee.Publish(ev)
	}
	return nil
}

// validate checks presence of entity_id and new_state, per the ingestion
// contract; frames failing validation are dropped with a counter.
func (i *Ingestor) validate(data haStateChangedEvent) bool {
	if data.EntityID == "" || !model.ValidEntityID(data.EntityID) {
		return false
	}
	if data.NewState == nil {
		return false
	}
	return true
}

func (i *Ingestor) flatten(envelope haEventFrame, data haStateChangedEvent) *model.Event {
	ev := &model.Event{
		EventType:  envelope.EventType,
		EntityID:   data.EntityID,
		Domain:     model.DomainOf(data.EntityID),
		TimeFired:  envelope.TimeFired.UTC(),
		IngestTime: i.now().UTC(),
		Origin:     model.Origin(envelope.Origin),
		Context:    envelope.Context,
	}

	ev.NewState = &model.State{
		State:       data.NewState.State,
		Attributes:  data.NewState.Attributes,
		LastChanged: data.NewState.LastChanged.UTC(),
		LastUpdated: data.NewState.LastUpdated.UTC(),
	}
	if data.OldState != nil {
		ev.OldState = &model.State{
			State:       data.OldState.State,
			Attributes:  data.OldState.Attributes,
			LastChanged: data.OldState.LastChanged.UTC(),
			LastUpdated: data.OldState.LastUpdated.UTC(),
		}
	}

	ev.ComputeDuration()
	return ev
}

// join attaches device_id/area_id from the in-memory catalog replica. A
// cache miss is not an error: nulls are left for C6 to back-fill later.
func (i *Ingestor) join(ev *model.Event) {
	if i.catalog == nil {
		return
	}
	if deviceID, areaID, ok := i.catalog.DeviceAndAreaFor(ev.EntityID); ok {
		ev.DeviceID = deviceID
		ev.AreaID = areaID
	}
}

// Run drives the frame-dispatch loop for one session: decode and enqueue
// only, no CPU-bound work beyond that, per the no-work-in-reader rule.
func Run(ctx context.Context, sess *connection.Session, ing *Ingestor) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := sess.Next()
		if err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}
		if err := ing.HandleFrame(ctx, frame); err != nil {
			return err
		}
	}
}
