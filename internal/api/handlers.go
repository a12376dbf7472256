package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/co-utm/internal/commands"
	"github.com/yegors/co-utm/internal/conflict"
	"github.com/yegors/co-utm/internal/dashboard"
	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/internal/registry"
	"github.com/yegors/co-utm/internal/simulation"
	"github.com/yegors/co-utm/internal/telemetry"
	"github.com/yegors/co-utm/internal/websocket"
	"github.com/yegors/co-utm/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	registry   *registry.Store
	commands   *commands.Tracker
	telemetry  *telemetry.Service
	conflicts  *conflict.Detector
	zones      *conflict.ZoneSet
	dashboard  *dashboard.Aggregator
	wsServer   *websocket.Server
	simulation *simulation.Service
	logger     *logger.Logger
	startedAt  time.Time
}

// NewHandler creates a new API handler
func NewHandler(services Services, logger *logger.Logger) *Handler {
	return &Handler{
		registry:   services.Registry,
		commands:   services.Commands,
		telemetry:  services.Telemetry,
		conflicts:  services.Conflicts,
		zones:      services.Zones,
		dashboard:  services.Dashboard,
		wsServer:   services.WebSocket,
		simulation: services.Simulation,
		logger:     logger.Named("api-handler"),
		startedAt:  time.Now().UTC(),
	}
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"active_flights": len(h.registry.ActiveFlights()),
	}
	if h.wsServer != nil {
		response["websocket_clients"] = h.wsServer.ClientCount()
	}
	WriteJSON(w, http.StatusOK, response)
}

// HandleWebSocket upgrades the request to a subscription connection
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.wsServer == nil {
		http.Error(w, "WebSocket server not available", http.StatusServiceUnavailable)
		return
	}
	h.wsServer.HandleConnection(w, r)
}

// GetDashboard returns the aggregated operational snapshot
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.dashboard.Snapshot())
}

// --- Hubs ---

// ListHubs returns all hubs
func (h *Handler) ListHubs(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.registry.ListHubs())
}

// UpsertHub creates or replaces a hub
func (h *Handler) UpsertHub(w http.ResponseWriter, r *http.Request) {
	var hub registry.Hub
	if err := decodeJSON(w, r, &hub); err != nil {
		WriteError(w, err)
		return
	}
	saved, err := h.registry.UpsertHub(hub)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, saved)
}

// --- Drones ---

// ListDrones returns all registered drones
func (h *Handler) ListDrones(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.registry.ListDrones())
}

// RegisterDrone adds a drone to the registry
func (h *Handler) RegisterDrone(w http.ResponseWriter, r *http.Request) {
	var drone registry.Drone
	if err := decodeJSON(w, r, &drone); err != nil {
		WriteError(w, err)
		return
	}
	saved, err := h.registry.RegisterDrone(drone)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.logger.Info("Registered drone via API", logger.String("drone_id", saved.ID))
	WriteJSON(w, http.StatusCreated, saved)
}

// GetDrone returns one drone
func (h *Handler) GetDrone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	drone, ok := h.registry.GetDrone(id)
	if !ok {
		WriteError(w, domainerrors.DroneNotFound(id))
		return
	}
	WriteJSON(w, http.StatusOK, drone)
}

// DeleteDrone removes a drone with no unfinished flights
func (h *Handler) DeleteDrone(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteDrone(chi.URLParam(r, "id")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Flights ---

// ListFlights returns flights, optionally filtered by ?status=active,paused
func (h *Handler) ListFlights(w http.ResponseWriter, r *http.Request) {
	var statuses []registry.FlightStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := registry.FlightStatus(strings.TrimSpace(s))
			if !status.Valid() {
				writeValidation(w, "invalid flight status: "+string(status))
				return
			}
			statuses = append(statuses, status)
		}
	}
	WriteJSON(w, http.StatusOK, h.registry.ListFlights(statuses...))
}

// CreateFlight authorizes a new flight
func (h *Handler) CreateFlight(w http.ResponseWriter, r *http.Request) {
	var flight registry.Flight
	if err := decodeJSON(w, r, &flight); err != nil {
		WriteError(w, err)
		return
	}
	saved, err := h.registry.CreateFlight(flight)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.logger.Info("Created flight via API",
		logger.String("flight_id", saved.ID),
		logger.String("drone_id", saved.DroneID))
	WriteJSON(w, http.StatusCreated, saved)
}

// GetFlight returns one flight with its current telemetry
func (h *Handler) GetFlight(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flight, ok := h.registry.GetFlight(id)
	if !ok {
		WriteError(w, domainerrors.FlightNotFound(id))
		return
	}
	WriteJSON(w, http.StatusOK, flight)
}

// UpdateFlightStatus moves a flight through its lifecycle
func (h *Handler) UpdateFlightStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status registry.FlightStatus `json:"status"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	flight, err := h.registry.SetFlightStatus(chi.URLParam(r, "id"), req.Status)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, flight)
}

// GetFlightTelemetry returns recent telemetry for a flight, newest first
func (h *Handler) GetFlightTelemetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.registry.GetFlight(id); !ok {
		WriteError(w, domainerrors.FlightNotFound(id))
		return
	}
	limit, ok := queryInt(w, r, "limit", 0)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, h.telemetry.History(id, limit))
}

// IngestTelemetry accepts one telemetry point
func (h *Handler) IngestTelemetry(w http.ResponseWriter, r *http.Request) {
	var point registry.TelemetryPoint
	if err := decodeJSON(w, r, &point); err != nil {
		WriteError(w, err)
		return
	}
	result, err := h.telemetry.Ingest(r.Context(), point)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"outcome": result.Outcome,
		"flight":  result.Flight,
	})
}

// queryInt parses an optional integer query parameter. It writes a
// validation error and returns false when the value is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeValidation(w, "invalid "+name+" parameter")
		return 0, false
	}
	return v, true
}

// queryBool parses an optional boolean query parameter
func queryBool(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		writeValidation(w, "invalid "+name+" parameter")
		return false, false
	}
	return v, true
}
