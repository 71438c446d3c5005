// Package registry implements the Registry Discoverer (C2): on every
// transition to a live session it enumerates the device/entity/area
// registries and subscribes to registry-update events, reconciling the
// results into the Catalog Store.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/homelab/ha-ingestor/internal/catalog"
	"github.com/homelab/ha-ingestor/internal/connection"
	"github.com/homelab/ha-ingestor/internal/metrics"
	"github.com/homelab/ha-ingestor/internal/model"
)

// Discoverer runs the reconciliation protocol against a live Session.
type Discoverer struct {
	store *catalog.Store
	now   func() time.Time
}

// New returns a Discoverer backed by the given Catalog Store.
func New(store *catalog.Store) *Discoverer {
	return &Discoverer{store: store, now: time.Now}
}

// haDevice/haEntity/haArea mirror the upstream config/*_registry/list
// result row shapes.
type haDevice struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	NameByUser   *string `json:"name_by_user"`
	Manufacturer *string `json:"manufacturer"`
	Model        *string `json:"model"`
	SWVersion    *string `json:"sw_version"`
	AreaID       *string `json:"area_id"`
	EntryType    *string `json:"entry_type"`
	// Identifiers hints at the owning integration; HA does not return
	// an "integration" field directly, so the domain of the first
	// identifier pair (Identifiers[0][0]) is used.
	Identifiers [][]string `json:"identifiers"`
	// Exposes carries a typed expose schema for integrations that report
	// one (e.g. the MQTT/Zigbee2MQTT bridge). Devices with no entry here
	// get capabilities inferred from their entities' domains instead.
	Exposes []exposeEntry `json:"exposes,omitempty"`
}

type haEntity struct {
	EntityID string  `json:"entity_id"`
	DeviceID *string `json:"device_id"`
	Platform string  `json:"platform"`
	UniqueID string  `json:"unique_id"`
	AreaID   *string `json:"area_id"`
	Disabled *string `json:"disabled_by"`
}

type haArea struct {
	ID      string   `json:"area_id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// Sweep performs the initial reconciliation sweep: three sequential
// registry-list commands matched by monotonically increasing request id.
func (d *Discoverer) Sweep(ctx context.Context, sess *connection.Session) error {
	devices, err := d.listDevices(ctx, sess)
	if err != nil {
		return fmt.Errorf("listing device registry: %w", err)
	}
	for _, dev := range devices {
		if err := d.upsertDevice(ctx, dev); err != nil {
			return err
		}
	}

	entities, err := d.listEntities(ctx, sess)
	if err != nil {
		return fmt.Errorf("listing entity registry: %w", err)
	}
	for _, e := range entities {
		if err := d.upsertEntity(ctx, e); err != nil {
			return err
		}
	}

	domainsByDevice := make(map[string][]string)
	for _, e := range entities {
		if e.DeviceID == nil {
			continue
		}
		domainsByDevice[*e.DeviceID] = append(domainsByDevice[*e.DeviceID], model.DomainOf(e.EntityID))
	}
	for _, dev := range devices {
		if len(dev.Exposes) > 0 {
			if err := ApplyExposeSchema(ctx, d.store, dev.ID, dev.Exposes); err != nil {
				return fmt.Errorf("applying expose schema for device %q: %w", dev.ID, err)
			}
			continue
		}
		if err := InferCapabilities(ctx, d.store, dev.ID, domainsByDevice[dev.ID]); err != nil {
			return fmt.Errorf("inferring capabilities for device %q: %w", dev.ID, err)
		}
	}

	areas, err := d.listAreas(ctx, sess)
	if err != nil {
		return fmt.Errorf("listing area registry: %w", err)
	}
	for _, a := range areas {
		if err := d.upsertArea(ctx, a); err != nil {
			return err
		}
	}

	return nil
}

func (d *Discoverer) listDevices(ctx context.Context, sess *connection.Session) ([]haDevice, error) {
	var out []haDevice
	err := requestList(ctx, sess, connection.TypeListDeviceRegistry, &out)
	return out, err
}

func (d *Discoverer) listEntities(ctx context.Context, sess *connection.Session) ([]haEntity, error) {
	var out []haEntity
	err := requestList(ctx, sess, connection.TypeListEntityRegistry, &out)
	return out, err
}

func (d *Discoverer) listAreas(ctx context.Context, sess *connection.Session) ([]haArea, error) {
	var out []haArea
	err := requestList(ctx, sess, connection.TypeListAreaRegistry, &out)
	return out, err
}

// requestList sends a registry-list command and blocks for the matching
// result frame. C2 owns the session exclusively during the sweep; C3 does
// not begin subscribing until the sweep completes.
func requestList(ctx context.Context, sess *connection.Session, cmdType string, out any) error {
	id := sess.NextRequestID()
	if err := sess.Send(&connection.Frame{ID: id, Type: cmdType}); err != nil {
		return fmt.Errorf("sending %s: %w", cmdType, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := sess.Next()
		if err != nil {
			return fmt.Errorf("reading %s response: %w", cmdType, err)
		}
		if frame.Type != connection.TypeResult || frame.ID != id {
			continue
		}
		if !frame.Success {
			msg := "unknown error"
			if frame.Error != nil {
				msg = frame.Error.Message
			}
			return fmt.Errorf("%s failed: %s", cmdType, msg)
		}
		return json.Unmarshal(frame.Result, out)
	}
}

func (d *Discoverer) upsertDevice(ctx context.Context, dev haDevice) error {
	now := d.now().UTC()
	integration := ""
	if len(dev.Identifiers) > 0 && len(dev.Identifiers[0]) > 0 {
		integration = dev.Identifiers[0][0]
	}

	existing, err := d.store.GetDevice(ctx, dev.ID)
	if err != nil {
		return err
	}
	created := now
	if existing != nil {
		created = existing.CreatedAt
	}

	return d.store.UpsertDevice(ctx, &model.Device{
		DeviceID:     dev.ID,
		Name:         dev.Name,
		NameByUser:   dev.NameByUser,
		Manufacturer: dev.Manufacturer,
		Model:        dev.Model,
		SWVersion:    dev.SWVersion,
		AreaID:       dev.AreaID,
		Integration:  integration,
		EntryType:    dev.EntryType,
		LastSeen:     &now,
		CreatedAt:    created,
		UpdatedAt:    now,
	})
}

func (d *Discoverer) upsertEntity(ctx context.Context, e haEntity) error {
	now := d.now().UTC()

	if e.DeviceID != nil {
		exists, err := d.store.DeviceExists(ctx, *e.DeviceID)
		if err != nil {
			return err
		}
		if !exists {
			metrics.CatalogWarnings.Inc()
		}
	}

	existing, err := d.store.GetEntity(ctx, e.EntityID)
	if err != nil {
		return err
	}
	created := now
	if existing != nil {
		created = existing.CreatedAt
	}

	return d.store.UpsertEntity(ctx, &model.Entity{
		EntityID:  e.EntityID,
		DeviceID:  e.DeviceID,
		Domain:    model.DomainOf(e.EntityID),
		Platform:  e.Platform,
		UniqueID:  e.UniqueID,
		AreaID:    e.AreaID,
		Disabled:  e.Disabled != nil,
		CreatedAt: created,
		UpdatedAt: now,
	})
}

func (d *Discoverer) upsertArea(ctx context.Context, a haArea) error {
	now := d.now().UTC()

	existing, err := d.store.GetArea(ctx, a.ID)
	if err != nil {
		return err
	}
	created := now
	if existing != nil {
		created = existing.CreatedAt
	}

	return d.store.UpsertArea(ctx, &model.Area{
		AreaID:    a.ID,
		Name:      a.Name,
		Aliases:   a.Aliases,
		CreatedAt: created,
		UpdatedAt: now,
	})
}
