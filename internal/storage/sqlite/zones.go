package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yegors/co-utm/internal/conflict"
	"github.com/yegors/co-utm/internal/physics"
)

type zoneRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Type      string    `db:"type"`
	Status    string    `db:"status"`
	Boundary  string    `db:"boundary"`
	FloorM    float64   `db:"floor_m"`
	CeilingM  float64   `db:"ceiling_m"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SaveZone inserts or replaces an airspace zone
func (s *DB) SaveZone(ctx context.Context, z conflict.AirspaceZone) error {
	boundary, err := json.Marshal(z.Boundary)
	if err != nil {
		return fmt.Errorf("failed to encode zone boundary: %w", err)
	}
	row := zoneRow{
		ID:        z.ID,
		Name:      z.Name,
		Type:      string(z.Type),
		Status:    string(z.Status),
		Boundary:  string(boundary),
		FloorM:    z.FloorM,
		CeilingM:  z.CeilingM,
		UpdatedAt: z.UpdatedAt,
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO airspace_zones (id, name, type, status, boundary, floor_m, ceiling_m, updated_at)
		VALUES (:id, :name, :type, :status, :boundary, :floor_m, :ceiling_m, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			status = excluded.status,
			boundary = excluded.boundary,
			floor_m = excluded.floor_m,
			ceiling_m = excluded.ceiling_m,
			updated_at = excluded.updated_at`, row)
	if err != nil {
		return fmt.Errorf("failed to save zone %s: %w", z.ID, err)
	}
	return nil
}

// LoadZones returns every stored zone
func (s *DB) LoadZones(ctx context.Context) ([]conflict.AirspaceZone, error) {
	var rows []zoneRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, type, status, boundary, floor_m, ceiling_m, updated_at
		FROM airspace_zones
		ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to load zones: %w", err)
	}

	zones := make([]conflict.AirspaceZone, 0, len(rows))
	for _, r := range rows {
		var boundary []physics.Coordinate
		if err := json.Unmarshal([]byte(r.Boundary), &boundary); err != nil {
			s.logger.Warn("Skipping zone with unreadable boundary",
				String("zone_id", r.ID), Error(err))
			continue
		}
		zones = append(zones, conflict.AirspaceZone{
			ID:        r.ID,
			Name:      r.Name,
			Type:      conflict.ZoneType(r.Type),
			Status:    conflict.ZoneStatus(r.Status),
			Boundary:  boundary,
			FloorM:    r.FloorM,
			CeilingM:  r.CeilingM,
			UpdatedAt: r.UpdatedAt.UTC(),
		})
	}
	return zones, nil
}
