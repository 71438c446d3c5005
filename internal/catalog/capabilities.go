package catalog

import (
	"context"
	"fmt"

	"github.com/homelab/ha-ingestor/internal/model"
)

func scanCapability(s scanner) (*model.Capability, error) {
	var c model.Capability
	var propertiesJSON string
	var exposed int

	if err := s.Scan(&c.DeviceID, &c.Name, &c.Type, &propertiesJSON, &exposed, &c.Source); err != nil {
		return nil, fmt.Errorf("scanning capability row: %w", err)
	}
	c.Properties = []byte(propertiesJSON)
	c.Exposed = exposed != 0
	return &c, nil
}

// ListCapabilities returns every capability row for a device.
func (s *Store) ListCapabilities(ctx context.Context, deviceID string) ([]*model.Capability, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, name, type, properties, exposed, source FROM device_capabilities WHERE device_id = ?`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("listing capabilities for device %q: %w", deviceID, err)
	}
	defer rows.Close()

	var out []*model.Capability
	for rows.Next() {
		c, err := scanCapability(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertCapability inserts or updates a capability row keyed by (device_id, name).
func (s *Store) UpsertCapability(ctx context.Context, c *model.Capability) error {
	const q = `
		INSERT INTO device_capabilities (device_id, name, type, properties, exposed, source)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, name) DO UPDATE SET
		    type       = excluded.type,
		    properties = excluded.properties,
		    exposed    = excluded.exposed,
		    source     = excluded.source`

	props := c.Properties
	if len(props) == 0 {
		props = []byte("{}")
	}

	_, err := s.exec(ctx, q, c.DeviceID, c.Name, string(c.Type), string(props), boolToInt(c.Exposed), c.Source)
	if err != nil {
		return fmt.Errorf("upserting capability (%q,%q): %w", c.DeviceID, c.Name, err)
	}
	return nil
}
