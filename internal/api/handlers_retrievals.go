package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskweave/recall/internal/memory"
)

type RetrievalHandler struct {
	svc *memory.Service
}

func NewRetrievalHandler(svc *memory.Service) *RetrievalHandler {
	return &RetrievalHandler{svc: svc}
}

// MarkUseful handles POST /retrievals/{id}/feedback
func (h *RetrievalHandler) MarkUseful(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Useful *bool `json:"useful"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Useful == nil {
		writeError(w, http.StatusBadRequest, "useful is required")
		return
	}

	entry, err := h.svc.MarkUseful(chi.URLParam(r, "id"), *req.Useful)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "retrieval not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Stats handles GET /memories/{id}/retrievals/stats
func (h *RetrievalHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.RetrievalStats(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
