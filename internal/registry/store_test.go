package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/internal/physics"
	"github.com/yegors/co-utm/internal/subscriptions"
	"github.com/yegors/co-utm/pkg/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []subscriptions.Event
}

func (p *recordingPublisher) Publish(topic subscriptions.Topic, event subscriptions.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return 1
}

func (p *recordingPublisher) kinds(topic subscriptions.Topic) []subscriptions.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []subscriptions.EventKind
	for _, ev := range p.events {
		if ev.Topic == topic {
			out = append(out, ev.Kind)
		}
	}
	return out
}

func newTestStore(t *testing.T) (*Store, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	s := NewStore(logger.NewNop(), WithPublisher(pub))
	if _, err := s.UpsertHub(Hub{ID: "H1", Name: "North", Location: physics.Coordinate{Lat: 43.65, Lon: -79.38}}); err != nil {
		t.Fatalf("upsert hub: %v", err)
	}
	if _, err := s.RegisterDrone(Drone{ID: "D1", HubID: "H1"}); err != nil {
		t.Fatalf("register drone: %v", err)
	}
	return s, pub
}

func point(flightID string, ts time.Time, lat float64) TelemetryPoint {
	return TelemetryPoint{
		FlightID:  flightID,
		Timestamp: ts,
		Position:  Position{Lat: lat, Lon: -79.38, AltitudeMSL: 120},
	}
}

func TestRegisterDrone(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.RegisterDrone(Drone{ID: "D1"}); !domainerrors.HasCode(err, domainerrors.ErrConflict) {
		t.Fatalf("expected CONFLICT for duplicate drone, got %v", err)
	}
	if _, err := s.RegisterDrone(Drone{ID: "D2", HubID: "nope"}); !domainerrors.HasCode(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND for unknown hub, got %v", err)
	}
	if _, err := s.RegisterDrone(Drone{ID: "  "}); !domainerrors.HasCode(err, domainerrors.ErrValidation) {
		t.Fatalf("expected VALIDATION for empty id, got %v", err)
	}

	d, ok := s.GetDrone("D1")
	if !ok || d.Status != DroneIdle || d.HubID != "H1" {
		t.Fatalf("unexpected drone: %+v ok=%v", d, ok)
	}
	if s.DroneCount() != 1 {
		t.Fatalf("expected 1 drone, got %d", s.DroneCount())
	}
}

func TestFlightLifecycle(t *testing.T) {
	s, pub := newTestStore(t)

	f, err := s.CreateFlight(Flight{ID: "F1", DroneID: "D1"})
	if err != nil {
		t.Fatalf("create flight: %v", err)
	}
	if f.Status != FlightAuthorized || f.HubID != "H1" || f.FlightNumber != "F1" {
		t.Fatalf("unexpected defaults: %+v", f)
	}
	if _, err := s.CreateFlight(Flight{ID: "F1", DroneID: "D1"}); !domainerrors.HasCode(err, domainerrors.ErrConflict) {
		t.Fatalf("expected CONFLICT for duplicate flight, got %v", err)
	}
	if _, err := s.CreateFlight(Flight{ID: "F2", DroneID: "ghost"}); !domainerrors.HasCode(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND for unknown drone, got %v", err)
	}

	if _, err := s.SetFlightStatus("F1", FlightLanded); !domainerrors.HasCode(err, domainerrors.ErrInvalidTransition) {
		t.Fatalf("authorized -> landed should be rejected, got %v", err)
	}

	if _, err := s.SetFlightStatus("F1", FlightActive); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if d, _ := s.GetDrone("D1"); d.Status != DroneAirborne {
		t.Fatalf("drone should be airborne, got %s", d.Status)
	}
	if len(s.ActiveFlights()) != 1 {
		t.Fatalf("expected one active flight")
	}

	f, err = s.SetFlightStatus("F1", FlightLanded)
	if err != nil {
		t.Fatalf("land: %v", err)
	}
	if f.EndTime == nil {
		t.Fatalf("terminal flight should have an end time")
	}
	if d, _ := s.GetDrone("D1"); d.Status != DroneGrounded {
		t.Fatalf("drone should be grounded, got %s", d.Status)
	}
	if _, err := s.SetFlightStatus("F1", FlightActive); !domainerrors.HasCode(err, domainerrors.ErrInvalidTransition) {
		t.Fatalf("landed flight must not reactivate, got %v", err)
	}

	got := pub.kinds(subscriptions.FlightTopic("F1"))
	if len(got) != 2 || got[0] != subscriptions.EventFlightStatusChanged {
		t.Fatalf("expected two flight_status_changed events, got %v", got)
	}
	if len(pub.kinds(subscriptions.HubTopic("H1"))) == 0 {
		t.Fatalf("hub topic should receive status events")
	}
	if len(pub.kinds(subscriptions.DroneTopic("D1"))) == 0 {
		t.Fatalf("drone topic should receive status events")
	}
}

func TestDeleteDroneInUse(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.CreateFlight(Flight{ID: "F1", DroneID: "D1"}); err != nil {
		t.Fatalf("create flight: %v", err)
	}

	if err := s.DeleteDrone("D1"); !domainerrors.HasCode(err, domainerrors.ErrConflict) {
		t.Fatalf("expected CONFLICT while flight is open, got %v", err)
	}
	if _, err := s.SetFlightStatus("F1", FlightAborted); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if err := s.DeleteDrone("D1"); err != nil {
		t.Fatalf("delete after abort: %v", err)
	}
	if err := s.DeleteDrone("D1"); !domainerrors.HasCode(err, domainerrors.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND on second delete, got %v", err)
	}
	if _, ok := s.GetFlight("F1"); !ok {
		t.Fatalf("terminal flights are retained for history")
	}
}

func TestApplyTelemetryOutOfOrder(t *testing.T) {
	s, _ := newTestStore(t)
	s.CreateFlight(Flight{ID: "F1", DroneID: "D1", Status: FlightActive})

	t1 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	res, err := s.ApplyTelemetry(point("F1", t2, 43.2))
	if err != nil || !res.Current {
		t.Fatalf("t2 should become current: %+v %v", res, err)
	}
	res, err = s.ApplyTelemetry(point("F1", t1, 43.1))
	if err != nil {
		t.Fatalf("late point should not fail: %v", err)
	}
	if res.Current {
		t.Fatalf("late point must not become current")
	}

	f, _ := s.GetFlight("F1")
	if f.Current == nil || !f.Current.Timestamp.Equal(t2) || f.Current.Position.Lat != 43.2 {
		t.Fatalf("current snapshot should reflect t2, got %+v", f.Current)
	}
	if f.Current.DroneID != "D1" {
		t.Fatalf("drone id should be filled from the flight, got %q", f.Current.DroneID)
	}
	d, _ := s.GetDrone("D1")
	if d.Position == nil || d.Position.Lat != 43.2 || !d.LastTelemetryAt.Equal(t2) {
		t.Fatalf("drone position should follow t2, got %+v", d.Position)
	}
}

func TestApplyTelemetryTerminalFlight(t *testing.T) {
	s, _ := newTestStore(t)
	s.CreateFlight(Flight{ID: "F1", DroneID: "D1", Status: FlightActive})

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.ApplyTelemetry(point("F1", base, 43.0))
	s.SetFlightStatus("F1", FlightLanded)
	before, _ := s.GetFlight("F1")

	for _, ts := range []time.Time{base.Add(-time.Minute), base.Add(time.Hour)} {
		_, err := s.ApplyTelemetry(point("F1", ts, 44.0))
		if !domainerrors.HasCode(err, domainerrors.ErrUnknownOrInactiveFlight) {
			t.Fatalf("expected UNKNOWN_OR_INACTIVE_FLIGHT, got %v", err)
		}
	}
	after, _ := s.GetFlight("F1")
	if !after.Current.Timestamp.Equal(before.Current.Timestamp) || after.Current.Position.Lat != 43.0 {
		t.Fatalf("terminal flight snapshot changed: %+v", after.Current)
	}

	if _, err := s.ApplyTelemetry(point("nope", base, 1)); !domainerrors.HasCode(err, domainerrors.ErrUnknownOrInactiveFlight) {
		t.Fatalf("expected UNKNOWN_OR_INACTIVE_FLIGHT for unknown flight, got %v", err)
	}
}

func TestApplyTelemetryWrongDrone(t *testing.T) {
	s, _ := newTestStore(t)
	s.RegisterDrone(Drone{ID: "D2"})
	s.CreateFlight(Flight{ID: "F1", DroneID: "D1", Status: FlightActive})

	p := point("F1", time.Now(), 43)
	p.DroneID = "D2"
	if _, err := s.ApplyTelemetry(p); !domainerrors.HasCode(err, domainerrors.ErrValidation) {
		t.Fatalf("expected VALIDATION, got %v", err)
	}
}

func TestMarkSilentDronesLost(t *testing.T) {
	s, pub := newTestStore(t)
	s.CreateFlight(Flight{ID: "F1", DroneID: "D1", Status: FlightActive})

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.ApplyTelemetry(point("F1", base, 43))

	if lost := s.MarkSilentDronesLost(base.Add(-time.Second)); len(lost) != 0 {
		t.Fatalf("drone reported recently must not be lost")
	}
	lost := s.MarkSilentDronesLost(base.Add(time.Minute))
	if len(lost) != 1 || lost[0].Status != DroneLost {
		t.Fatalf("expected D1 lost, got %+v", lost)
	}
	if again := s.MarkSilentDronesLost(base.Add(time.Minute)); len(again) != 0 {
		t.Fatalf("lost drone should not be reported twice")
	}

	found := false
	for _, k := range pub.kinds(subscriptions.DroneTopic("D1")) {
		if k == subscriptions.EventDroneStatusChanged {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected drone_status_changed on drone topic")
	}

	s.ApplyTelemetry(point("F1", base.Add(2*time.Minute), 43))
	if d, _ := s.GetDrone("D1"); d.Status != DroneAirborne {
		t.Fatalf("fresh telemetry should recover the drone, got %s", d.Status)
	}
}

func TestReadersGetCopies(t *testing.T) {
	s, _ := newTestStore(t)
	s.CreateFlight(Flight{ID: "F1", DroneID: "D1", Status: FlightActive})
	p := point("F1", time.Now(), 43)
	p.Warnings = []string{"low battery"}
	s.ApplyTelemetry(p)

	f, _ := s.GetFlight("F1")
	f.Current.Warnings[0] = "mutated"
	f.Status = FlightAborted

	again, _ := s.GetFlight("F1")
	if again.Current.Warnings[0] != "low battery" || again.Status != FlightActive {
		t.Fatalf("stored flight was mutated through a copy: %+v", again)
	}
}

func TestConcurrentTelemetryAndStatus(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("D%d", i+10)
		s.RegisterDrone(Drone{ID: id})
		s.CreateFlight(Flight{ID: "F-" + id, DroneID: id, Status: FlightActive})
	}

	base := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		flightID := fmt.Sprintf("F-D%d", i+10)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				s.ApplyTelemetry(point(flightID, base.Add(time.Duration(n)*time.Millisecond), 43))
			}
		}()
		go func() {
			defer wg.Done()
			s.SetFlightStatus(flightID, FlightPaused)
			s.SetFlightStatus(flightID, FlightActive)
			s.ListFlights()
		}()
	}
	wg.Wait()

	for _, f := range s.ListFlights() {
		if f.Status != FlightActive {
			t.Fatalf("flight %s ended in %s", f.ID, f.Status)
		}
	}
}
