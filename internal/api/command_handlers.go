package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/co-utm/internal/commands"
	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/pkg/logger"
)

type issueCommandRequest struct {
	DroneID  string          `json:"drone_id"`
	FlightID string          `json:"flight_id"`
	Type     commands.Type   `json:"command_type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type updateCommandStatusRequest struct {
	Status  commands.Status `json:"status"`
	Message string          `json:"message,omitempty"`
}

// IssueCommand creates a pending command for a drone
func (h *Handler) IssueCommand(w http.ResponseWriter, r *http.Request) {
	var req issueCommandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	cmd, err := h.commands.Issue(req.DroneID, req.FlightID, req.Type, req.Payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.logger.Info("Issued command via API",
		logger.String("command_id", cmd.ID),
		logger.String("drone_id", cmd.DroneID),
		logger.String("type", string(cmd.Type)))
	WriteJSON(w, http.StatusCreated, cmd)
}

// UpdateCommandStatus applies a lifecycle transition
func (h *Handler) UpdateCommandStatus(w http.ResponseWriter, r *http.Request) {
	var req updateCommandStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	cmd, err := h.commands.UpdateStatus(chi.URLParam(r, "id"), req.Status, req.Message)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, cmd)
}

// GetCommand returns one command
func (h *Handler) GetCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cmd, ok := h.commands.Get(id)
	if !ok {
		WriteError(w, domainerrors.CommandNotFound(id))
		return
	}
	WriteJSON(w, http.StatusOK, cmd)
}

// ListCommands returns recent commands, newest first. ?drone_id narrows
// the list to one drone.
func (h *Handler) ListCommands(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	if droneID := r.URL.Query().Get("drone_id"); droneID != "" {
		WriteJSON(w, http.StatusOK, h.commands.ForDrone(droneID, limit))
		return
	}
	WriteJSON(w, http.StatusOK, h.commands.History(limit))
}

// GetPendingCommandCount returns the number of commands still in flight
func (h *Handler) GetPendingCommandCount(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]int{"pending": h.commands.PendingCount()})
}
