package api

import (
	"errors"
	"net/http"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/goccy/go-json"
)

type devicesResponse struct {
	Devices  []models.CameraDevice `json:"devices"`
	Selected string                `json:"selected,omitempty"`
}

type selectRequest struct {
	DeviceID string `json:"device_id"`
}

// ListDevicesHandler lists video inputs; an empty list is a normal answer
func (h *Handlers) ListDevicesHandler(w http.ResponseWriter, r *http.Request) {
	devices := h.pipeline.Devices()
	writeJSON(w, http.StatusOK, devicesResponse{
		Devices:  devices,
		Selected: h.pipeline.Status().Selected,
	})
}

func (h *Handlers) SelectDeviceHandler(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	if err := h.pipeline.Select(req.DeviceID); err != nil {
		if errors.Is(err, models.ErrDeviceUnavailable) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
