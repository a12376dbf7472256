package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yegors/co-utm/internal/commands"
	"github.com/yegors/co-utm/internal/conflict"
	"github.com/yegors/co-utm/internal/metrics"
	"github.com/yegors/co-utm/internal/physics"
	"github.com/yegors/co-utm/pkg/logger"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "utm.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCommandRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	cmd := commands.Command{
		ID:        "c1",
		DroneID:   "D1",
		FlightID:  "F1",
		Type:      commands.TypeTakeoff,
		Status:    commands.StatusPending,
		Payload:   json.RawMessage(`{"altitude":50}`),
		IssuedAt:  base,
		UpdatedAt: base,
	}
	if err := db.SaveCommand(ctx, cmd); err != nil {
		t.Fatalf("save: %v", err)
	}

	ack := base.Add(time.Second)
	cmd.Status = commands.StatusAcknowledged
	cmd.AcknowledgedAt = &ack
	cmd.UpdatedAt = ack
	if err := db.SaveCommand(ctx, cmd); err != nil {
		t.Fatalf("update: %v", err)
	}

	// an older snapshot arriving late must not regress the row
	stale := cmd
	stale.Status = commands.StatusSent
	stale.AcknowledgedAt = nil
	stale.UpdatedAt = base.Add(500 * time.Millisecond)
	if err := db.SaveCommand(ctx, stale); err != nil {
		t.Fatalf("stale update: %v", err)
	}

	got, err := db.ListCommands(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 command, got %d", len(got))
	}
	c := got[0]
	if c.Status != commands.StatusAcknowledged || c.AcknowledgedAt == nil || !c.AcknowledgedAt.Equal(ack) {
		t.Fatalf("unexpected command: %+v", c)
	}
	if c.CompletedAt != nil || string(c.Payload) != `{"altitude":50}` || c.FlightID != "F1" {
		t.Fatalf("fields not round-tripped: %+v", c)
	}

	if other, _ := db.ListCommands(ctx, "D2", 10); len(other) != 0 {
		t.Fatalf("drone filter not applied")
	}
}

func TestConflictRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	c := conflict.Conflict{
		ID:                  "x1",
		Key:                 "sep:F1|F2",
		Type:                conflict.TypeSeparation,
		Severity:            conflict.SeverityWarning,
		Status:              conflict.StatusDetected,
		FlightIDs:           []string{"F1", "F2"},
		Location:            physics.Coordinate{Lat: 43.6, Lon: -79.4},
		HorizontalDistanceM: 80,
		VerticalDistanceM:   5,
		DetectedAt:          base,
		LastSeenAt:          base,
	}
	if err := db.SaveConflict(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	resolved := base.Add(time.Minute)
	c.Status = conflict.StatusResolved
	c.ResolvedAt = &resolved
	c.LastSeenAt = resolved
	if err := db.SaveConflict(ctx, c); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got, err := db.ListConflicts(ctx, base.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(got))
	}
	if got[0].Status != conflict.StatusResolved || got[0].ResolvedAt == nil || len(got[0].FlightIDs) != 2 {
		t.Fatalf("unexpected conflict: %+v", got[0])
	}
}

func TestZonesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	zone := conflict.AirspaceZone{
		ID:     "Z1",
		Name:   "Stadium",
		Type:   conflict.ZoneRestricted,
		Status: conflict.ZoneActive,
		Boundary: []physics.Coordinate{
			{Lat: 43.64, Lon: -79.39}, {Lat: 43.64, Lon: -79.38}, {Lat: 43.65, Lon: -79.38},
		},
		FloorM:    0,
		CeilingM:  150,
		UpdatedAt: base,
	}
	zones := conflict.NewZoneSet(db)
	if _, err := zones.Upsert(ctx, zone); err != nil {
		t.Fatalf("upsert through zone set: %v", err)
	}

	loaded, err := db.LoadZones(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Name != "Stadium" || len(loaded[0].Boundary) != 3 || loaded[0].CeilingM != 150 {
		t.Fatalf("unexpected zones: %+v", loaded)
	}

	reseeded := conflict.NewZoneSet(db)
	reseeded.Load(loaded)
	if len(reseeded.ActiveRestricted()) != 1 {
		t.Fatalf("reloaded zone should be active restricted")
	}
}

func TestAuditWriterFlushesOnStop(t *testing.T) {
	db := openTestDB(t)
	w := NewAuditWriter(db, 16, nil, logger.NewNop())
	w.Start()

	for i := 0; i < 5; i++ {
		w.RecordCommand(commands.Command{
			ID:        string(rune('a' + i)),
			DroneID:   "D1",
			Type:      commands.TypeHover,
			Status:    commands.StatusPending,
			IssuedAt:  base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	w.RecordConflict(conflict.Conflict{ID: "x1", Key: "k", FlightIDs: []string{"F1"}, DetectedAt: base, LastSeenAt: base})
	w.Stop()
	w.Stop()

	// records after stop are ignored
	w.RecordCommand(commands.Command{ID: "late"})

	cmds, err := db.ListCommands(context.Background(), "", 0)
	if err != nil || len(cmds) != 5 {
		t.Fatalf("expected 5 commands, got %d (%v)", len(cmds), err)
	}
	if cmds[0].ID != "e" {
		t.Fatalf("expected newest first, got %s", cmds[0].ID)
	}
	conflicts, _ := db.ListConflicts(context.Background(), time.Time{}, 0)
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(conflicts))
	}
}

func TestAuditWriterDropsWhenFull(t *testing.T) {
	db := openTestDB(t)
	reg := metrics.NewRegistry()
	w := NewAuditWriter(db, 2, reg, logger.NewNop())

	// not started: the queue fills up
	for i := 0; i < 5; i++ {
		w.RecordCommand(commands.Command{ID: "c", IssuedAt: base, UpdatedAt: base})
	}
	if v := testutil.ToFloat64(reg.AuditDropped); v != 3 {
		t.Fatalf("expected 3 dropped records, got %v", v)
	}
	w.Start()
	w.Stop()
}
