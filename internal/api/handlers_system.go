package api

import (
	"net/http"

	"github.com/taskweave/recall/internal/memory"
)

type SystemHandler struct {
	svc *memory.Service
}

func NewSystemHandler(svc *memory.Service) *SystemHandler {
	return &SystemHandler{svc: svc}
}

// Health handles GET /health. Always 200 unless the database is down; a
// degraded embedding or completion service is reported, not failed.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := h.svc.Health(r.Context())
	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Stats handles GET /stats
func (h *SystemHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Cleanup handles POST /maintenance/cleanup
func (h *SystemHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.CleanupExpired()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

// Reindex handles POST /maintenance/reindex
func (h *SystemHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RebuildIndex(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

// Backfill handles POST /maintenance/backfill
func (h *SystemHandler) Backfill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchSize int `json:"batchSize"`
	}
	// Body is optional; an empty batch size uses the default.
	_ = decodeJSON(r, &req)

	result, err := h.svc.BackfillEmbeddings(r.Context(), req.BatchSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
