package watchdog

import (
	"context"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Devices interface {
	Has(deviceID string) bool
}

type Pipeline interface {
	ActiveDevice() string
	StopDevice(deviceID, reason string) bool
}

// Watchdog stops the pipeline when its camera disappears from the device list
type Watchdog struct {
	devices  Devices
	pipeline Pipeline
	interval time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
}

func New(devices Devices, pipeline Pipeline, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *Watchdog {
	return &Watchdog{
		devices:  devices,
		pipeline: pipeline,
		interval: interval,
		clock:    clock,
		logger:   logger.With(zap.String("component", "watchdog")),
	}
}

func (w *Watchdog) Start(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watchdog stopped")
			return
		case <-ticker.Chan():
			w.checkDevice()
		}
	}
}

func (w *Watchdog) checkDevice() {
	deviceID := w.pipeline.ActiveDevice()
	if deviceID == "" || w.devices.Has(deviceID) {
		return
	}

	w.logger.Warn("active camera no longer enumerated", zap.String("device", deviceID))
	w.pipeline.StopDevice(deviceID, models.ErrDeviceLost.Error())
}
