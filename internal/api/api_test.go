package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/yegors/co-utm/internal/commands"
	"github.com/yegors/co-utm/internal/config"
	"github.com/yegors/co-utm/internal/conflict"
	"github.com/yegors/co-utm/internal/dashboard"
	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/internal/metrics"
	"github.com/yegors/co-utm/internal/registry"
	"github.com/yegors/co-utm/internal/simulation"
	"github.com/yegors/co-utm/internal/subscriptions"
	"github.com/yegors/co-utm/internal/telemetry"
	"github.com/yegors/co-utm/internal/websocket"
	"github.com/yegors/co-utm/pkg/logger"
)

type testAPI struct {
	server   *httptest.Server
	store    *registry.Store
	detector *conflict.Detector
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := logger.NewNop()
	m := metrics.NewRegistry()

	router := subscriptions.NewRouter(subscriptions.Config{QueueSize: 16}, m, log)
	store := registry.NewStore(log, registry.WithPublisher(router))
	tracker := commands.NewTracker(commands.Config{}, store, log, commands.WithPublisher(router))
	ingest := telemetry.NewService(telemetry.Config{}, store, log, telemetry.WithPublisher(router))
	zones := conflict.NewZoneSet(nil)
	detector := conflict.NewDetector(conflict.Config{
		HorizontalSeparationM: 150,
		VerticalSeparationM:   30,
		ZoneBufferM:           100,
	}, store, zones, log, conflict.WithPublisher(router))
	agg := dashboard.NewAggregator(store, detector, tracker, router, log)
	ws := websocket.NewServer(router, websocket.DashboardFunc(func() any { return agg.Snapshot() }), log)
	sim := simulation.NewService(simulation.Config{Tick: time.Hour, MaxDrones: 2}, store, ingest, log)

	cfg := config.Default()
	cfg.Server.CORSAllowedOrigins = []string{"*"}

	api := NewRouter(Services{
		Registry:   store,
		Commands:   tracker,
		Telemetry:  ingest,
		Conflicts:  detector,
		Zones:      zones,
		Dashboard:  agg,
		WebSocket:  ws,
		Simulation: sim,
		Metrics:    m,
	}, cfg, log)

	srv := httptest.NewServer(api.Routes())
	t.Cleanup(func() {
		srv.Close()
		ws.Shutdown()
		router.Close()
	})
	return &testAPI{server: srv, store: store, detector: detector}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return v
}

func (a *testAPI) seedFlight(t *testing.T, droneID, flightID string) {
	t.Helper()
	if status, body := a.do(t, http.MethodPost, "/api/v1/drones", map[string]any{"id": droneID}); status != http.StatusCreated {
		t.Fatalf("register drone: %d %s", status, body)
	}
	if status, body := a.do(t, http.MethodPost, "/api/v1/flights", map[string]any{"id": flightID, "drone_id": droneID, "status": "active"}); status != http.StatusCreated {
		t.Fatalf("create flight: %d %s", status, body)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[string]int{
		domainerrors.ErrInvalidTransition:       http.StatusConflict,
		domainerrors.ErrConflict:                http.StatusConflict,
		domainerrors.ErrNotFound:                http.StatusNotFound,
		domainerrors.ErrValidation:              http.StatusBadRequest,
		domainerrors.ErrUnknownOrInactiveFlight: http.StatusUnprocessableEntity,
		domainerrors.ErrRateLimited:             http.StatusTooManyRequests,
		domainerrors.ErrInternal:                http.StatusInternalServerError,
		"":                                      http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := StatusFor(code); got != want {
			t.Fatalf("StatusFor(%q) = %d, want %d", code, got, want)
		}
	}
}

func TestDroneEndpoints(t *testing.T) {
	a := newTestAPI(t)

	status, _ := a.do(t, http.MethodPost, "/api/v1/drones", map[string]any{"id": "D1", "name": "Alpha"})
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", status)
	}
	status, body := a.do(t, http.MethodPost, "/api/v1/drones", map[string]any{"id": "D1"})
	if status != http.StatusConflict {
		t.Fatalf("duplicate register should be 409, got %d", status)
	}
	errBody := decode[ErrorBody](t, body)
	if errBody.Error.Code != domainerrors.ErrConflict || errBody.Error.Message == "" {
		t.Fatalf("unexpected error body: %+v", errBody)
	}

	status, body = a.do(t, http.MethodGet, "/api/v1/drones/D1", nil)
	if status != http.StatusOK || decode[registry.Drone](t, body).Name != "Alpha" {
		t.Fatalf("get drone: %d %s", status, body)
	}
	if status, _ = a.do(t, http.MethodGet, "/api/v1/drones/missing", nil); status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}

	status, body = a.do(t, http.MethodGet, "/api/v1/drones", nil)
	if status != http.StatusOK || len(decode[[]registry.Drone](t, body)) != 1 {
		t.Fatalf("list drones: %d %s", status, body)
	}

	if status, _ = a.do(t, http.MethodDelete, "/api/v1/drones/D1", nil); status != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", status)
	}
}

func TestMalformedBodyIsValidationError(t *testing.T) {
	a := newTestAPI(t)
	resp, err := http.Post(a.server.URL+"/api/v1/drones", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestFlightLifecycleAndTelemetry(t *testing.T) {
	a := newTestAPI(t)
	a.seedFlight(t, "D1", "F1")

	point := map[string]any{
		"flight_id": "F1",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"position":  map[string]any{"lat": 43.65, "lon": -79.38, "altitude_msl": 120},
	}
	status, body := a.do(t, http.MethodPost, "/api/v1/telemetry", point)
	if status != http.StatusAccepted {
		t.Fatalf("ingest: %d %s", status, body)
	}
	if got := decode[map[string]any](t, body)["outcome"]; got != telemetry.ResultAccepted {
		t.Fatalf("expected accepted outcome, got %v", got)
	}

	status, body = a.do(t, http.MethodGet, "/api/v1/flights/F1/telemetry?limit=5", nil)
	if status != http.StatusOK || len(decode[[]registry.TelemetryPoint](t, body)) != 1 {
		t.Fatalf("telemetry history: %d %s", status, body)
	}
	if status, _ = a.do(t, http.MethodGet, "/api/v1/flights/F1/telemetry?limit=abc", nil); status != http.StatusBadRequest {
		t.Fatalf("bad limit should be 400, got %d", status)
	}

	status, body = a.do(t, http.MethodGet, "/api/v1/flights?status=active", nil)
	if status != http.StatusOK || len(decode[[]registry.Flight](t, body)) != 1 {
		t.Fatalf("active flights: %d %s", status, body)
	}
	if status, _ = a.do(t, http.MethodGet, "/api/v1/flights?status=bogus", nil); status != http.StatusBadRequest {
		t.Fatalf("bad status filter should be 400, got %d", status)
	}

	status, body = a.do(t, http.MethodPut, "/api/v1/flights/F1/status", map[string]any{"status": "landed"})
	if status != http.StatusOK || decode[registry.Flight](t, body).EndTime == nil {
		t.Fatalf("land flight: %d %s", status, body)
	}
	if status, _ = a.do(t, http.MethodPut, "/api/v1/flights/F1/status", map[string]any{"status": "active"}); status != http.StatusConflict {
		t.Fatalf("terminal flight transition should be 409, got %d", status)
	}

	status, body = a.do(t, http.MethodPost, "/api/v1/telemetry", point)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("telemetry for landed flight should be 422, got %d %s", status, body)
	}
	if code := decode[ErrorBody](t, body).Error.Code; code != domainerrors.ErrUnknownOrInactiveFlight {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestCommandEndpoints(t *testing.T) {
	a := newTestAPI(t)
	a.seedFlight(t, "D1", "F1")

	status, body := a.do(t, http.MethodPost, "/api/v1/commands", map[string]any{
		"drone_id": "D1", "flight_id": "F1", "command_type": "takeoff",
	})
	if status != http.StatusCreated {
		t.Fatalf("issue: %d %s", status, body)
	}
	cmd := decode[commands.Command](t, body)
	if cmd.Status != commands.StatusPending {
		t.Fatalf("new command should be pending, got %s", cmd.Status)
	}

	status, body = a.do(t, http.MethodGet, "/api/v1/commands/pending/count", nil)
	if status != http.StatusOK || decode[map[string]int](t, body)["pending"] != 1 {
		t.Fatalf("pending count: %d %s", status, body)
	}

	for _, next := range []string{"sent", "acknowledged", "completed"} {
		status, body = a.do(t, http.MethodPut, "/api/v1/commands/"+cmd.ID+"/status", map[string]any{"status": next})
		if status != http.StatusOK {
			t.Fatalf("transition to %s: %d %s", next, status, body)
		}
	}
	status, body = a.do(t, http.MethodPut, "/api/v1/commands/"+cmd.ID+"/status", map[string]any{"status": "sent"})
	if status != http.StatusConflict || decode[ErrorBody](t, body).Error.Code != domainerrors.ErrInvalidTransition {
		t.Fatalf("terminal command transition: %d %s", status, body)
	}

	status, body = a.do(t, http.MethodGet, "/api/v1/commands/"+cmd.ID, nil)
	if status != http.StatusOK || decode[commands.Command](t, body).CompletedAt == nil {
		t.Fatalf("get command: %d %s", status, body)
	}
	if drone, _ := a.store.GetDrone("D1"); drone.Status != registry.DroneAirborne {
		t.Fatalf("completed takeoff should make drone airborne, got %s", drone.Status)
	}

	status, body = a.do(t, http.MethodGet, "/api/v1/commands?limit=10&drone_id=D1", nil)
	if status != http.StatusOK || len(decode[[]commands.Command](t, body)) != 1 {
		t.Fatalf("list commands: %d %s", status, body)
	}

	status, _ = a.do(t, http.MethodPost, "/api/v1/commands", map[string]any{
		"drone_id": "D1", "flight_id": "F1", "command_type": "barrel-roll",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("invalid command type should be 400, got %d", status)
	}
}

func TestConflictEndpoints(t *testing.T) {
	a := newTestAPI(t)
	a.seedFlight(t, "D1", "F1")
	a.seedFlight(t, "D2", "F2")

	now := time.Now().UTC()
	for _, p := range []registry.TelemetryPoint{
		{FlightID: "F1", Timestamp: now, Position: registry.Position{Lat: 43.65, Lon: -79.38, AltitudeMSL: 100}},
		{FlightID: "F2", Timestamp: now, Position: registry.Position{Lat: 43.6502, Lon: -79.38, AltitudeMSL: 105}},
	} {
		if _, err := a.store.ApplyTelemetry(p); err != nil {
			t.Fatalf("apply telemetry: %v", err)
		}
	}
	if !a.detector.Tick(context.Background()) {
		t.Fatalf("tick did not run")
	}

	status, body := a.do(t, http.MethodGet, "/api/v1/conflicts", nil)
	open := decode[[]conflict.Conflict](t, body)
	if status != http.StatusOK || len(open) != 1 {
		t.Fatalf("expected one conflict: %d %s", status, body)
	}

	status, body = a.do(t, http.MethodPost, "/api/v1/conflicts/"+open[0].ID+"/acknowledge", nil)
	if status != http.StatusOK || decode[conflict.Conflict](t, body).Status != conflict.StatusAcknowledged {
		t.Fatalf("acknowledge: %d %s", status, body)
	}
	if status, _ = a.do(t, http.MethodPost, "/api/v1/conflicts/nope/acknowledge", nil); status != http.StatusNotFound {
		t.Fatalf("unknown conflict should be 404, got %d", status)
	}

	status, body = a.do(t, http.MethodGet, "/api/v1/dashboard", nil)
	snap := decode[dashboard.Snapshot](t, body)
	if status != http.StatusOK || snap.ActiveConflicts != 1 || snap.ActiveFlights != 2 {
		t.Fatalf("dashboard: %d %+v", status, snap)
	}

	if status, _ = a.do(t, http.MethodGet, "/api/v1/conflicts?include_resolved=maybe", nil); status != http.StatusBadRequest {
		t.Fatalf("bad include_resolved should be 400, got %d", status)
	}
}

func TestZoneEndpoints(t *testing.T) {
	a := newTestAPI(t)
	zone := map[string]any{
		"name": "Stadium",
		"type": "restricted",
		"boundary": []map[string]float64{
			{"lat": 43.64, "lon": -79.39}, {"lat": 43.64, "lon": -79.38}, {"lat": 43.65, "lon": -79.38},
		},
		"floor_m":   0,
		"ceiling_m": 400,
	}
	status, body := a.do(t, http.MethodPut, "/api/v1/zones/Z1", zone)
	if status != http.StatusOK {
		t.Fatalf("put zone: %d %s", status, body)
	}
	if saved := decode[conflict.AirspaceZone](t, body); saved.ID != "Z1" || saved.Status != conflict.ZoneActive {
		t.Fatalf("unexpected zone: %+v", saved)
	}

	zone["id"] = "OTHER"
	if status, _ = a.do(t, http.MethodPut, "/api/v1/zones/Z1", zone); status != http.StatusBadRequest {
		t.Fatalf("mismatched id should be 400, got %d", status)
	}

	status, body = a.do(t, http.MethodGet, "/api/v1/zones", nil)
	if status != http.StatusOK || len(decode[[]conflict.AirspaceZone](t, body)) != 1 {
		t.Fatalf("list zones: %d %s", status, body)
	}
}

func TestSimulationEndpoints(t *testing.T) {
	a := newTestAPI(t)

	status, body := a.do(t, http.MethodPost, "/api/v1/simulation/drones", map[string]any{
		"lat": 43.65, "lon": -79.38, "altitude_msl": 100, "heading": 90, "speed": 10,
	})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}
	drone := decode[simulation.SimulatedDrone](t, body)
	if _, ok := a.store.GetFlight(drone.FlightID); !ok {
		t.Fatalf("simulated drone should have a flight")
	}

	status, body = a.do(t, http.MethodPut, "/api/v1/simulation/drones/"+drone.DroneID, map[string]any{"heading": 180, "speed": 5})
	if status != http.StatusOK || decode[simulation.SimulatedDrone](t, body).TargetHeading != 180 {
		t.Fatalf("update: %d %s", status, body)
	}

	if status, _ = a.do(t, http.MethodDelete, "/api/v1/simulation/drones/"+drone.DroneID, nil); status != http.StatusNoContent {
		t.Fatalf("remove: expected 204, got %d", status)
	}
	if status, _ = a.do(t, http.MethodDelete, "/api/v1/simulation/drones/"+drone.DroneID, nil); status != http.StatusNotFound {
		t.Fatalf("second remove should be 404, got %d", status)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)

	status, body := a.do(t, http.MethodGet, "/health", nil)
	if status != http.StatusOK || decode[map[string]any](t, body)["status"] != "ok" {
		t.Fatalf("health: %d %s", status, body)
	}

	status, body = a.do(t, http.MethodGet, "/metrics", nil)
	if status != http.StatusOK || !strings.Contains(string(body), "utm_http_requests_total") {
		t.Fatalf("metrics should include the request counter: %d", status)
	}
}

func TestWebSocketThroughRouter(t *testing.T) {
	a := newTestAPI(t)
	a.seedFlight(t, "D1", "F1")

	url := "ws" + strings.TrimPrefix(a.server.URL, "http") + "/ws"
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteJSON(websocket.Message{Type: websocket.MessageTypeSubscribe, Topic: "flight:F1"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var ack websocket.Message
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != websocket.MessageTypeSubscribed {
		t.Fatalf("expected subscribed ack, got %+v (%v)", ack, err)
	}

	if status, _ := a.do(t, http.MethodPut, "/api/v1/flights/F1/status", map[string]any{"status": "paused"}); status != http.StatusOK {
		t.Fatalf("pause flight: %d", status)
	}
	var event map[string]any
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event["type"] != string(subscriptions.EventFlightStatusChanged) {
		t.Fatalf("expected flight status event, got %v", event["type"])
	}
}
