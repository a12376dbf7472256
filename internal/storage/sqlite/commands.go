package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yegors/co-utm/internal/commands"
)

type commandRow struct {
	ID             string       `db:"id"`
	DroneID        string       `db:"drone_id"`
	FlightID       string       `db:"flight_id"`
	Type           string       `db:"command_type"`
	Status         string       `db:"status"`
	Message        string       `db:"message"`
	Payload        string       `db:"payload"`
	IssuedAt       time.Time    `db:"issued_at"`
	AcknowledgedAt sql.NullTime `db:"acknowledged_at"`
	CompletedAt    sql.NullTime `db:"completed_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func toCommandRow(c commands.Command) commandRow {
	return commandRow{
		ID:             c.ID,
		DroneID:        c.DroneID,
		FlightID:       c.FlightID,
		Type:           string(c.Type),
		Status:         string(c.Status),
		Message:        c.Message,
		Payload:        string(c.Payload),
		IssuedAt:       c.IssuedAt,
		AcknowledgedAt: nullTime(c.AcknowledgedAt),
		CompletedAt:    nullTime(c.CompletedAt),
		UpdatedAt:      c.UpdatedAt,
	}
}

func (r commandRow) command() commands.Command {
	c := commands.Command{
		ID:             r.ID,
		DroneID:        r.DroneID,
		FlightID:       r.FlightID,
		Type:           commands.Type(r.Type),
		Status:         commands.Status(r.Status),
		Message:        r.Message,
		IssuedAt:       r.IssuedAt.UTC(),
		AcknowledgedAt: timePtr(r.AcknowledgedAt),
		CompletedAt:    timePtr(r.CompletedAt),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.Payload != "" {
		c.Payload = json.RawMessage(r.Payload)
	}
	return c
}

// SaveCommand inserts or updates a command's audit row
func (s *DB) SaveCommand(ctx context.Context, c commands.Command) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO commands (id, drone_id, flight_id, command_type, status, message, payload,
			issued_at, acknowledged_at, completed_at, updated_at)
		VALUES (:id, :drone_id, :flight_id, :command_type, :status, :message, :payload,
			:issued_at, :acknowledged_at, :completed_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			acknowledged_at = excluded.acknowledged_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
		WHERE excluded.updated_at >= commands.updated_at`, toCommandRow(c))
	if err != nil {
		return fmt.Errorf("failed to save command %s: %w", c.ID, err)
	}
	return nil
}

// ListCommands returns the most recently issued commands, newest first.
// An empty droneID matches every drone.
func (s *DB) ListCommands(ctx context.Context, droneID string, limit int) ([]commands.Command, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []commandRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, drone_id, flight_id, command_type, status, message, payload,
			issued_at, acknowledged_at, completed_at, updated_at
		FROM commands
		WHERE ? = '' OR drone_id = ?
		ORDER BY issued_at DESC
		LIMIT ?`, droneID, droneID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}

	out := make([]commands.Command, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.command())
	}
	return out, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
