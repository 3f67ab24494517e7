package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskweave/recall/internal/memory"
	"github.com/taskweave/recall/internal/models"
)

type AssociationHandler struct {
	svc *memory.Service
}

func NewAssociationHandler(svc *memory.Service) *AssociationHandler {
	return &AssociationHandler{svc: svc}
}

// Create handles POST /memories/{id}/associations
func (h *AssociationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.AssociateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	assoc, err := h.svc.Associate(chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, assoc)
}

// List handles GET /memories/{id}/associations
func (h *AssociationHandler) List(w http.ResponseWriter, r *http.Request) {
	assocs, err := h.svc.GetAssociations(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if assocs == nil {
		assocs = []models.Association{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"associations": assocs})
}

// UpdateStrength handles PATCH /associations/{id}
func (h *AssociationHandler) UpdateStrength(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strength float64 `json:"strength"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	assoc, err := h.svc.UpdateAssociationStrength(chi.URLParam(r, "id"), req.Strength)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if assoc == nil {
		writeError(w, http.StatusNotFound, "association not found")
		return
	}
	writeJSON(w, http.StatusOK, assoc)
}
