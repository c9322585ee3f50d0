package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/Capitan-Parrot/firewatch/internal/audio"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const reasonAPIStop = "stopped via API"

type startRequest struct {
	DeviceID string `json:"device_id"`
	ArmAudio bool   `json:"arm_audio"`
}

// StartPipelineHandler starts capture and polling. arm_audio is the operator's consent to
// the alarm sound; without it the pipeline refuses to start unless audio was armed before.
func (h *Handlers) StartPipelineHandler(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.pipeline.Start(r.Context(), req.DeviceID, audio.StaticGate(req.ArmAudio))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, h.pipeline.Status())
	case errors.Is(err, models.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, models.ErrDeviceUnavailable):
		writeError(w, http.StatusConflict, err)
	default:
		h.logger.Error("start pipeline", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

// StopPipelineHandler always succeeds
func (h *Handlers) StopPipelineHandler(w http.ResponseWriter, r *http.Request) {
	h.pipeline.Stop(reasonAPIStop)
	writeJSON(w, http.StatusOK, h.pipeline.Status())
}

func (h *Handlers) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Status())
}

func (h *Handlers) GetPreviewHandler(w http.ResponseWriter, r *http.Request) {
	sample, err := h.preview.Capture(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrCaptureNotReady) {
			http.Error(w, "camera not ready", http.StatusServiceUnavailable)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(sample.Data)
}
