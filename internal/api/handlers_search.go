package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/taskweave/recall/internal/memory"
	"github.com/taskweave/recall/internal/models"
)

type SearchHandler struct {
	svc *memory.Service
}

func NewSearchHandler(svc *memory.Service) *SearchHandler {
	return &SearchHandler{svc: svc}
}

// Search handles POST /memories/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp, err := h.svc.Search(r.Context(), &req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Keyword handles POST /memories/search/keyword
func (h *SearchHandler) Keyword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		models.KeywordQuery
		Limit int `json:"limit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.svc.KeywordSearch(&req.KeywordQuery, req.Limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ForOutcome handles GET /outcomes/{id}/memories
func (h *SearchHandler) ForOutcome(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := h.svc.GetForOutcome(chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeResults(w, results)
}

// ForTask handles GET /tasks/{id}/memories
func (h *SearchHandler) ForTask(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := h.svc.GetForTask(chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeResults(w, results)
}

// ByTag handles GET /tags/{name}/memories
func (h *SearchHandler) ByTag(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := h.svc.GetByTag(chi.URLParam(r, "name"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeResults(w, results)
}

// Tags handles GET /tags
func (h *SearchHandler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.ListTags()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tags == nil {
		tags = []models.Tag{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}
