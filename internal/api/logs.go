package api

import (
	"io"
	"net/http"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type logPageResponse struct {
	Items      []models.LogRecord `json:"items"`
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	PageCount  int                `json:"page_count"`
	Stale      bool               `json:"stale"`
	Error      string             `json:"error,omitempty"`
}

// GetLogPageHandler shows one detection log page. A failed refresh still answers 200 with the
// previous page marked stale.
func (h *Handlers) GetLogPageHandler(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)

	shown, err := h.logs.Show(r.Context(), page)
	resp := logPageResponse{
		Items:      shown.Items,
		TotalCount: shown.TotalCount,
		Page:       shown.Page,
		PageSize:   shown.PageSize,
		PageCount:  shown.PageCount(),
	}
	if err != nil {
		resp.Stale = true
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSnapshotHandler proxies the stored detection image of a log record
func (h *Handlers) GetSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	body, contentType, err := h.snapshots.FetchSnapshot(r.Context(), name)
	if err != nil {
		h.logger.Warn("fetch snapshot", zap.String("name", name), zap.Error(err))
		http.Error(w, "snapshot not available", http.StatusBadGateway)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.Debug("copy snapshot", zap.Error(err))
	}
}
