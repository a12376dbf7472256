package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/co-utm/internal/simulation"
	"github.com/yegors/co-utm/pkg/logger"
)

// CreateSimulatedDrone starts simulating a new drone with an active flight
func (h *Handler) CreateSimulatedDrone(w http.ResponseWriter, r *http.Request) {
	var req simulation.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	drone, err := h.simulation.CreateDrone(req)
	if err != nil {
		WriteError(w, err)
		return
	}

	h.logger.Info("Created simulated drone via API",
		logger.String("drone_id", drone.DroneID),
		logger.String("flight_id", drone.FlightID))
	WriteJSON(w, http.StatusCreated, drone)
}

// UpdateSimulationControls updates the control parameters for a simulated drone
func (h *Handler) UpdateSimulationControls(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Heading       float64 `json:"heading"`
		Speed         float64 `json:"speed"`
		VerticalSpeed float64 `json:"vertical_speed"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	drone, err := h.simulation.UpdateControls(chi.URLParam(r, "id"), req.Heading, req.Speed, req.VerticalSpeed)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, drone)
}

// RemoveSimulatedDrone stops simulating a drone and lands its flight
func (h *Handler) RemoveSimulatedDrone(w http.ResponseWriter, r *http.Request) {
	if err := h.simulation.RemoveDrone(chi.URLParam(r, "id")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSimulatedDrones returns all simulated drones
func (h *Handler) ListSimulatedDrones(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.simulation.ListDrones())
}
