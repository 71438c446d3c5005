package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/homelab/ha-ingestor/internal/model"
)

const entityColumns = `entity_id, device_id, domain, platform, unique_id, area_id, disabled, created_at, updated_at`

func scanEntity(s scanner) (*model.Entity, error) {
	var e model.Entity
	var deviceID, areaID sql.NullString
	var disabled int
	var createdAt, updatedAt string

	err := s.Scan(&e.EntityID, &deviceID, &e.Domain, &e.Platform, &e.UniqueID, &areaID, &disabled, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entity row: %w", err)
	}

	e.DeviceID = stringPtr(deviceID)
	e.AreaID = stringPtr(areaID)
	e.Disabled = disabled != 0
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

// GetEntity returns the entity with the given id, or (nil, nil) if absent.
func (s *Store) GetEntity(ctx context.Context, entityID string) (*model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE entity_id = ?`, entityID)
	return scanEntity(row)
}

// ListEntities returns every non-tombstoned entity row.
func (s *Store) ListEntities(ctx context.Context) ([]*model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE disabled = 0`)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var out []*model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertEntity inserts or updates an entity row keyed by entity_id.
// Entities whose device_id does not reference a known device are still
// accepted; callers are responsible for incrementing the catalog-warning
// counter in that case.
func (s *Store) UpsertEntity(ctx context.Context, e *model.Entity) error {
	const q = `
		INSERT INTO entities (` + entityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
		    device_id  = excluded.device_id,
		    domain     = excluded.domain,
		    platform   = excluded.platform,
		    unique_id  = excluded.unique_id,
		    area_id    = excluded.area_id,
		    disabled   = excluded.disabled,
		    updated_at = excluded.updated_at`

	_, err := s.exec(ctx, q,
		e.EntityID, nullString(e.DeviceID), e.Domain, e.Platform, e.UniqueID, nullString(e.AreaID),
		boolToInt(e.Disabled), formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting entity %q: %w", e.EntityID, err)
	}
	return nil
}

// SoftDeleteEntity tombstones an entity.
func (s *Store) SoftDeleteEntity(ctx context.Context, entityID string, now string) error {
	_, err := s.exec(ctx, `UPDATE entities SET disabled = 1, updated_at = ? WHERE entity_id = ?`, now, entityID)
	if err != nil {
		return fmt.Errorf("soft-deleting entity %q: %w", entityID, err)
	}
	return nil
}

// DeviceExists reports whether device_id refers to a known device row,
// used by the reconciliation protocol to flag dangling references without
// raising a referential integrity error.
func (s *Store) DeviceExists(ctx context.Context, deviceID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE device_id = ?`, deviceID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking device existence %q: %w", deviceID, err)
	}
	return count > 0, nil
}
