package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/co-utm/internal/conflict"
	domainerrors "github.com/yegors/co-utm/internal/errors"
	"github.com/yegors/co-utm/pkg/logger"
)

// ListConflicts returns open conflicts, plus retained resolved ones when
// ?include_resolved=true
func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	includeResolved, ok := queryBool(w, r, "include_resolved")
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, h.conflicts.History(includeResolved))
}

// GetConflict returns one conflict
func (h *Handler) GetConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, ok := h.conflicts.Get(id)
	if !ok {
		WriteError(w, domainerrors.ConflictNotFound(id))
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// AcknowledgeConflict marks an open conflict as seen by an operator
func (h *Handler) AcknowledgeConflict(w http.ResponseWriter, r *http.Request) {
	c, err := h.conflicts.Acknowledge(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, c)
}

// ListZones returns all airspace zones
func (h *Handler) ListZones(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.zones.List())
}

// PutZone creates or replaces an airspace zone
func (h *Handler) PutZone(w http.ResponseWriter, r *http.Request) {
	var zone conflict.AirspaceZone
	if err := decodeJSON(w, r, &zone); err != nil {
		WriteError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if zone.ID != "" && zone.ID != id {
		writeValidation(w, "zone id does not match path")
		return
	}
	zone.ID = id

	saved, err := h.zones.Upsert(r.Context(), zone)
	if err != nil {
		WriteError(w, err)
		return
	}
	h.logger.Info("Saved airspace zone",
		logger.String("zone_id", saved.ID),
		logger.String("type", string(saved.Type)),
		logger.String("status", string(saved.Status)))
	WriteJSON(w, http.StatusOK, saved)
}
