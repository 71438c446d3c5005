package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/homelab/ha-ingestor/internal/connection"
)

// UpdateAction is the action field of a device_registry_updated /
// entity_registry_updated / area_registry_updated event.
type UpdateAction string

const (
	ActionCreate UpdateAction = "create"
	ActionUpdate UpdateAction = "update"
	ActionRemove UpdateAction = "remove"
)

type registryUpdateEvent struct {
	Action UpdateAction `json:"action"`
	// DeviceID/EntityID/AreaID: exactly one is populated depending on
	// which of the three registry-updated event types fired.
	DeviceID string `json:"device_id"`
	EntityID string `json:"entity_id"`
	AreaID   string `json:"area_id"`
}

// SubscribeUpdates issues subscribe_events for the three registry-update
// event types on sess, in addition to C3's state_changed subscription. Must
// be called only after Sweep completes.
func (d *Discoverer) SubscribeUpdates(sess *connection.Session) error {
	for _, eventType := range []string{
		connection.TypeDeviceRegistryUpdated,
		connection.TypeEntityRegistryUpdated,
		connection.TypeAreaRegistryUpdated,
	} {
		id := sess.NextRequestID()
		if err := sess.Send(&connection.Frame{ID: id, Type: connection.TypeSubscribeEvents, EventType: eventType}); err != nil {
			return fmt.Errorf("subscribing to %s: %w", eventType, err)
		}
	}
	return nil
}

// registryEventEnvelope is the outer event shape common to every inbound
// event frame, read far enough to route it without assuming its domain.
type registryEventEnvelope struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// ApplyUpdateFrame routes one inbound event frame to the matching
// registry-update handler. It reports handled=false for any frame that is
// not a device/entity/area registry update, so callers can fall through to
// their own event-type dispatch (e.g. state_changed).
func (d *Discoverer) ApplyUpdateFrame(ctx context.Context, frame *connection.Frame) (bool, error) {
	if frame.Type != connection.TypeEvent {
		return false, nil
	}

	var envelope registryEventEnvelope
	if err := json.Unmarshal(frame.Event, &envelope); err != nil {
		return false, nil
	}

	switch envelope.EventType {
	case connection.TypeDeviceRegistryUpdated:
		return true, d.ApplyDeviceUpdate(ctx, envelope.Data)
	case connection.TypeEntityRegistryUpdated:
		return true, d.ApplyEntityUpdate(ctx, envelope.Data)
	case connection.TypeAreaRegistryUpdated:
		return true, d.ApplyAreaUpdate(ctx, envelope.Data)
	default:
		return false, nil
	}
}

// ApplyDeviceUpdate applies one device_registry_updated event.
func (d *Discoverer) ApplyDeviceUpdate(ctx context.Context, payload json.RawMessage) error {
	var upd registryUpdateEvent
	if err := json.Unmarshal(payload, &upd); err != nil {
		return fmt.Errorf("decoding device_registry_updated: %w", err)
	}
	if upd.Action == ActionRemove {
		return d.store.SoftDeleteDevice(ctx, upd.DeviceID, formatNow(d.now()))
	}

	var dev haDevice
	if err := json.Unmarshal(payload, &dev); err != nil {
		return fmt.Errorf("decoding device payload: %w", err)
	}
	dev.ID = upd.DeviceID
	return d.upsertDevice(ctx, dev)
}

// ApplyEntityUpdate applies one entity_registry_updated event.
func (d *Discoverer) ApplyEntityUpdate(ctx context.Context, payload json.RawMessage) error {
	var upd registryUpdateEvent
	if err := json.Unmarshal(payload, &upd); err != nil {
		return fmt.Errorf("decoding entity_registry_updated: %w", err)
	}
	if upd.Action == ActionRemove {
		return d.store.SoftDeleteEntity(ctx, upd.EntityID, formatNow(d.now()))
	}

	var e haEntity
	if err := json.Unmarshal(payload, &e); err != nil {
		return fmt.Errorf("decoding entity payload: %w", err)
	}
	e.EntityID = upd.EntityID
	return d.upsertEntity(ctx, e)
}

// ApplyAreaUpdate applies one area_registry_updated event. Areas have no
// soft-delete column in this schema; a remove simply drops the alias/name
// refresh and leaves the row for historical joins, matching the spec's
// silence on area tombstoning (areas are rarely removed in practice).
func (d *Discoverer) ApplyAreaUpdate(ctx context.Context, payload json.RawMessage) error {
	var upd registryUpdateEvent
	if err := json.Unmarshal(payload, &upd); err != nil {
		return fmt.Errorf("decoding area_registry_updated: %w", err)
	}
	if upd.Action == ActionRemove {
		return nil
	}

	var a haArea
	if err := json.Unmarshal(payload, &a); err != nil {
		return fmt.Errorf("decoding area payload: %w", err)
	}
	a.ID = upd.AreaID
	return d.upsertArea(ctx, a)
}

func formatNow(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
