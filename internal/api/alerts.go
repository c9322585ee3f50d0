package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

const maxAlertsLimit = 100

type dismissResponse struct {
	Dismissed bool `json:"dismissed"`
}

func (h *Handlers) DismissAlertHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dismissResponse{Dismissed: h.alerts.Dismiss()})
}

// ListAlertsHandler pages through the alert journal, newest first
func (h *Handlers) ListAlertsHandler(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "alert journal is not configured", http.StatusNotImplemented)
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > maxAlertsLimit {
		http.Error(w, "limit must be between 1 and 100", http.StatusBadRequest)
		return
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		http.Error(w, "offset must not be negative", http.StatusBadRequest)
		return
	}

	episodes, err := h.journal.ListEpisodes(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list alert episodes", zap.Error(err))
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, episodes)
}

// queryInt returns def when the parameter is absent and -1 when it is not a number
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}
