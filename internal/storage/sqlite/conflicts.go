package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/yegors/co-utm/internal/conflict"
	"github.com/yegors/co-utm/internal/physics"
)

type conflictRow struct {
	ID                  string       `db:"id"`
	Key                 string       `db:"conflict_key"`
	Type                string       `db:"type"`
	Severity            string       `db:"severity"`
	Status              string       `db:"status"`
	FlightIDs           string       `db:"flight_ids"`
	ZoneID              string       `db:"zone_id"`
	Lat                 float64      `db:"lat"`
	Lon                 float64      `db:"lon"`
	HorizontalDistanceM float64      `db:"horizontal_distance_m"`
	VerticalDistanceM   float64      `db:"vertical_distance_m"`
	DetectedAt          time.Time    `db:"detected_at"`
	LastSeenAt          time.Time    `db:"last_seen_at"`
	AcknowledgedAt      sql.NullTime `db:"acknowledged_at"`
	ResolvedAt          sql.NullTime `db:"resolved_at"`
}

func toConflictRow(c conflict.Conflict) conflictRow {
	return conflictRow{
		ID:                  c.ID,
		Key:                 c.Key,
		Type:                string(c.Type),
		Severity:            string(c.Severity),
		Status:              string(c.Status),
		FlightIDs:           strings.Join(c.FlightIDs, ","),
		ZoneID:              c.ZoneID,
		Lat:                 c.Location.Lat,
		Lon:                 c.Location.Lon,
		HorizontalDistanceM: c.HorizontalDistanceM,
		VerticalDistanceM:   c.VerticalDistanceM,
		DetectedAt:          c.DetectedAt,
		LastSeenAt:          c.LastSeenAt,
		AcknowledgedAt:      nullTime(c.AcknowledgedAt),
		ResolvedAt:          nullTime(c.ResolvedAt),
	}
}

func (r conflictRow) conflict() conflict.Conflict {
	var flights []string
	if r.FlightIDs != "" {
		flights = strings.Split(r.FlightIDs, ",")
	}
	return conflict.Conflict{
		ID:                  r.ID,
		Key:                 r.Key,
		Type:                conflict.Type(r.Type),
		Severity:            conflict.Severity(r.Severity),
		Status:              conflict.Status(r.Status),
		FlightIDs:           flights,
		ZoneID:              r.ZoneID,
		Location:            physics.Coordinate{Lat: r.Lat, Lon: r.Lon},
		HorizontalDistanceM: r.HorizontalDistanceM,
		VerticalDistanceM:   r.VerticalDistanceM,
		DetectedAt:          r.DetectedAt.UTC(),
		LastSeenAt:          r.LastSeenAt.UTC(),
		AcknowledgedAt:      timePtr(r.AcknowledgedAt),
		ResolvedAt:          timePtr(r.ResolvedAt),
	}
}

// SaveConflict inserts or updates a conflict's audit row
func (s *DB) SaveConflict(ctx context.Context, c conflict.Conflict) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO conflicts (id, conflict_key, type, severity, status, flight_ids, zone_id,
			lat, lon, horizontal_distance_m, vertical_distance_m,
			detected_at, last_seen_at, acknowledged_at, resolved_at)
		VALUES (:id, :conflict_key, :type, :severity, :status, :flight_ids, :zone_id,
			:lat, :lon, :horizontal_distance_m, :vertical_distance_m,
			:detected_at, :last_seen_at, :acknowledged_at, :resolved_at)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			severity = excluded.severity,
			status = CASE WHEN conflicts.status = 'resolved' THEN conflicts.status ELSE excluded.status END,
			lat = excluded.lat,
			lon = excluded.lon,
			horizontal_distance_m = excluded.horizontal_distance_m,
			vertical_distance_m = excluded.vertical_distance_m,
			last_seen_at = excluded.last_seen_at,
			acknowledged_at = COALESCE(excluded.acknowledged_at, conflicts.acknowledged_at),
			resolved_at = COALESCE(excluded.resolved_at, conflicts.resolved_at)`, toConflictRow(c))
	if err != nil {
		return fmt.Errorf("failed to save conflict %s: %w", c.ID, err)
	}
	return nil
}

// ListConflicts returns conflicts detected since the given time, newest first
func (s *DB) ListConflicts(ctx context.Context, since time.Time, limit int) ([]conflict.Conflict, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []conflictRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, conflict_key, type, severity, status, flight_ids, zone_id,
			lat, lon, horizontal_distance_m, vertical_distance_m,
			detected_at, last_seen_at, acknowledged_at, resolved_at
		FROM conflicts
		WHERE detected_at >= ?
		ORDER BY detected_at DESC
		LIMIT ?`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}

	out := make([]conflict.Conflict, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.conflict())
	}
	return out, nil
}
