package api

import (
	"context"
	"io"
	"net/http"

	"github.com/Capitan-Parrot/firewatch/internal/audio"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/Capitan-Parrot/firewatch/internal/runner"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Pipeline interface {
	Devices() []models.CameraDevice
	Select(deviceID string) error
	Start(ctx context.Context, deviceID string, gate audio.Gate) error
	Stop(reason string) bool
	Status() runner.Status
}

type Alerts interface {
	Dismiss() bool
}

type LogBrowser interface {
	Show(ctx context.Context, page int) (*models.LogPage, error)
}

type Snapshots interface {
	FetchSnapshot(ctx context.Context, resultImage string) (io.ReadCloser, string, error)
}

type Journal interface {
	ListEpisodes(ctx context.Context, limit, offset int) ([]models.AlertEpisode, error)
}

type Previewer interface {
	Capture(ctx context.Context) (*models.FrameSample, error)
}

type Handlers struct {
	pipeline  Pipeline
	alerts    Alerts
	logs      LogBrowser
	snapshots Snapshots
	journal   Journal // nil when no database is configured
	preview   Previewer
	hub       *Hub
	logger    *zap.Logger
}

type Deps struct {
	Pipeline  Pipeline
	Alerts    Alerts
	Logs      LogBrowser
	Snapshots Snapshots
	Journal   Journal
	Preview   Previewer
	Hub       *Hub
	Logger    *zap.Logger
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		pipeline:  deps.Pipeline,
		alerts:    deps.Alerts,
		logs:      deps.Logs,
		snapshots: deps.Snapshots,
		journal:   deps.Journal,
		preview:   deps.Preview,
		hub:       deps.Hub,
		logger:    deps.Logger.With(zap.String("component", "api")),
	}
}

func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/devices", h.ListDevicesHandler).Methods(http.MethodGet)
	api.HandleFunc("/devices/select", h.SelectDeviceHandler).Methods(http.MethodPost)
	api.HandleFunc("/pipeline/start", h.StartPipelineHandler).Methods(http.MethodPost)
	api.HandleFunc("/pipeline/stop", h.StopPipelineHandler).Methods(http.MethodPost)
	api.HandleFunc("/status", h.GetStatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/alert/dismiss", h.DismissAlertHandler).Methods(http.MethodPost)
	api.HandleFunc("/alerts", h.ListAlertsHandler).Methods(http.MethodGet)
	api.HandleFunc("/logs", h.GetLogPageHandler).Methods(http.MethodGet)
	api.HandleFunc("/logs/snapshot/{name}", h.GetSnapshotHandler).Methods(http.MethodGet)
	api.HandleFunc("/preview", h.GetPreviewHandler).Methods(http.MethodGet)

	if h.hub != nil {
		r.HandleFunc("/ws", h.hub.ServeWS)
	}
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
