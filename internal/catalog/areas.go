package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/homelab/ha-ingestor/internal/model"
)

func scanArea(s scanner) (*model.Area, error) {
	var a model.Area
	var aliasesJSON, createdAt, updatedAt string

	err := s.Scan(&a.AreaID, &a.Name, &aliasesJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning area row: %w", err)
	}

	_ = json.Unmarshal([]byte(aliasesJSON), &a.Aliases)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}

// GetArea returns the area with the given id, or (nil, nil) if absent.
func (s *Store) GetArea(ctx context.Context, areaID string) (*model.Area, error) {
	row := s.db.QueryRowContext(ctx, `SELECT area_id, name, aliases, created_at, updated_at FROM areas WHERE area_id = ?`, areaID)
	return scanArea(row)
}

// ListAreas returns every area row.
func (s *Store) ListAreas(ctx context.Context) ([]*model.Area, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT area_id, name, aliases, created_at, updated_at FROM areas`)
	if err != nil {
		return nil, fmt.Errorf("listing areas: %w", err)
	}
	defer rows.Close()

	var out []*model.Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertArea inserts or updates an area row keyed by area_id.
func (s *Store) UpsertArea(ctx context.Context, a *model.Area) error {
	aliasesJSON, err := json.Marshal(a.Aliases)
	if err != nil {
		return fmt.Errorf("marshaling aliases for area %q: %w", a.AreaID, err)
	}

	const q = `
		INSERT INTO areas (area_id, name, aliases, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(area_id) DO UPDATE SET
		    name       = excluded.name,
		    aliases    = excluded.aliases,
		    updated_at = excluded.updated_at`

	_, err = s.exec(ctx, q, a.AreaID, a.Name, string(aliasesJSON), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting area %q: %w", a.AreaID, err)
	}
	return nil
}
