package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/homelab/ha-ingestor/internal/model"
)

const deviceColumns = `device_id, name, name_by_user, manufacturer, model, sw_version,
	area_id, integration, entry_type, health_score, last_seen, disabled, created_at, updated_at`

func scanDevice(s scanner) (*model.Device, error) {
	var d model.Device
	var nameByUser, manufacturer, modelName, swVersion, areaID, entryType sql.NullString
	var healthScore sql.NullInt64
	var lastSeen sql.NullString
	var disabled int
	var createdAt, updatedAt string

	err := s.Scan(&d.DeviceID, &d.Name, &nameByUser, &manufacturer, &modelName, &swVersion,
		&areaID, &d.Integration, &entryType, &healthScore, &lastSeen, &disabled, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning device row: %w", err)
	}

	d.NameByUser = stringPtr(nameByUser)
	d.Manufacturer = stringPtr(manufacturer)
	d.Model = stringPtr(modelName)
	d.SWVersion = stringPtr(swVersion)
	d.AreaID = stringPtr(areaID)
	d.EntryType = stringPtr(entryType)
	d.HealthScore = intPtr(healthScore)
	d.LastSeen = parseTimePtr(lastSeen)
	d.Disabled = disabled != 0
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

// GetDevice returns the device with the given id, or (nil, nil) if absent.
func (s *Store) GetDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`, deviceID)
	return scanDevice(row)
}

// ListDevices returns every non-tombstoned device row.
func (s *Store) ListDevices(ctx context.Context) ([]*model.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE disabled = 0`)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	defer rows.Close()

	var out []*model.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertDevice inserts or updates a device row keyed by device_id, per the
// reconciliation protocol's natural-key upsert rule.
func (s *Store) UpsertDevice(ctx context.Context, d *model.Device) error {
	const q = `
		INSERT INTO devices (` + deviceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
		    name          = excluded.name,
		    name_by_user  = excluded.name_by_user,
		    manufacturer  = excluded.manufacturer,
		    model         = excluded.model,
		    sw_version    = excluded.sw_version,
		    area_id       = excluded.area_id,
		    integration   = excluded.integration,
		    entry_type    = excluded.entry_type,
		    health_score  = excluded.health_score,
		    last_seen     = excluded.last_seen,
		    disabled      = excluded.disabled,
		    updated_at    = excluded.updated_at`

	_, err := s.exec(ctx, q,
		d.DeviceID, d.Name, nullString(d.NameByUser), nullString(d.Manufacturer), nullString(d.Model),
		nullString(d.SWVersion), nullString(d.AreaID), d.Integration, nullString(d.EntryType),
		nullInt(d.HealthScore), formatTimePtr(d.LastSeen), boolToInt(d.Disabled),
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting device %q: %w", d.DeviceID, err)
	}
	return nil
}

// SoftDeleteDevice marks a device tombstoned (disabled=true, updated_at=now)
// without removing the row, per the reconciliation protocol's remove action.
func (s *Store) SoftDeleteDevice(ctx context.Context, deviceID string, now string) error {
	_, err := s.exec(ctx, `UPDATE devices SET disabled = 1, updated_at = ? WHERE device_id = ?`, now, deviceID)
	if err != nil {
		return fmt.Errorf("soft-deleting device %q: %w", deviceID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
