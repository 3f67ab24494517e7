package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/taskweave/recall/internal/memory"
	"github.com/taskweave/recall/internal/models"
)

type MemoryHandler struct {
	svc *memory.Service
}

func NewMemoryHandler(svc *memory.Service) *MemoryHandler {
	return &MemoryHandler{svc: svc}
}

// Store handles POST /memories
func (h *MemoryHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req models.StoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if !req.MemoryType.IsValid() {
		writeError(w, http.StatusBadRequest, "invalid memoryType")
		return
	}

	result, err := h.svc.Store(r.Context(), &req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// Get handles GET /memories/{id}
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	mem, err := h.svc.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if mem == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

// Update handles PATCH /memories/{id}
func (h *MemoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	mem, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if mem == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

// Delete handles DELETE /memories/{id}
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ok, err := h.svc.Delete(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Supersede handles POST /memories/{id}/supersede
func (h *MemoryHandler) Supersede(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewMemoryID string `json:"newMemoryId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.NewMemoryID == "" {
		writeError(w, http.StatusBadRequest, "newMemoryId is required")
		return
	}

	oldID := chi.URLParam(r, "id")
	if err := h.svc.Supersede(oldID, req.NewMemoryID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"supersededId": oldID,
		"newMemoryId":  req.NewMemoryID,
	})
}

// Recent handles GET /memories/recent
func (h *MemoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := h.svc.GetRecent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeResults(w, results)
}

// statusFor maps service errors to HTTP status codes. Validation failures
// and missing references surface with their natural codes; everything else
// is a 500.
func statusFor(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not found"):
		return http.StatusNotFound
	case strings.Contains(msg, "required") ||
		strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "must be") ||
		strings.Contains(msg, "cannot"):
		return http.StatusBadRequest
	case strings.Contains(msg, "already superseded"):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeResults(w http.ResponseWriter, results []models.SearchResult) {
	if results == nil {
		results = []models.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}
