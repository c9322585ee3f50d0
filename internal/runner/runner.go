package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/alert"
	"github.com/Capitan-Parrot/firewatch/internal/audio"
	"github.com/Capitan-Parrot/firewatch/internal/metrics"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/Capitan-Parrot/firewatch/internal/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const heartbeatInterval = 5 * time.Second

type Capture interface {
	scheduler.Capturer
	Start(ctx context.Context, deviceID string) error
	Stop()
	Active() bool
	DeviceID() string
	OnDeviceLost(fn func(deviceID string))
}

type Alerts interface {
	Deliver(deviceID string, result *models.DetectionResult) bool
	Reset(reason string) bool
	Snapshot() alert.Snapshot
}

type Alarm interface {
	Arm(ctx context.Context, gate audio.Gate) error
	Armed() bool
}

type Devices interface {
	ListVideoInputs() []models.CameraDevice
}

type Archive interface {
	SaveSnapshot(ctx context.Context, sample *models.FrameSample, result *models.DetectionResult) error
}

type HeartbeatSender interface {
	SendHeartbeat(msg models.Heartbeat) error
}

type Deps struct {
	Capture      Capture
	Inferer      scheduler.Inferer
	Alerts       Alerts
	Alarm        Alarm
	Devices      Devices
	Archive      Archive         // optional
	Heartbeats   HeartbeatSender // optional
	PollInterval time.Duration
	Clock        clockwork.Clock
	Logger       *zap.Logger
}

type Status struct {
	Streaming  bool            `json:"streaming"`
	Polling    bool            `json:"polling"`
	Busy       bool            `json:"busy"`
	DeviceID   string          `json:"device_id,omitempty"`
	Selected   string          `json:"selected,omitempty"`
	AudioArmed bool            `json:"audio_armed"`
	LastStop   string          `json:"last_stop,omitempty"`
	Alert      alert.Snapshot  `json:"alert"`
	Polls      scheduler.Stats `json:"polls"`
}

// Runner ties capture, polling and alerting together. Start brings them up in order and aborts
// at the first failure; Stop tears all three down before anyone can observe a partial state.
type Runner struct {
	capture    Capture
	poller     *scheduler.Scheduler
	alerts     Alerts
	alarm      Alarm
	devices    Devices
	archive    Archive
	heartbeats HeartbeatSender
	clock      clockwork.Clock
	logger     *zap.Logger

	mu       sync.Mutex
	selected string
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastStop string
}

func New(deps Deps) *Runner {
	r := &Runner{
		capture:    deps.Capture,
		alerts:     deps.Alerts,
		alarm:      deps.Alarm,
		devices:    deps.Devices,
		archive:    deps.Archive,
		heartbeats: deps.Heartbeats,
		clock:      deps.Clock,
		logger:     deps.Logger.With(zap.String("component", "runner")),
	}
	r.poller = scheduler.New(deps.Capture, deps.Inferer, r.handleResult, deps.PollInterval, deps.Clock, deps.Logger)
	r.capture.OnDeviceLost(func(deviceID string) {
		r.StopDevice(deviceID, models.ErrDeviceLost.Error())
	})
	return r
}

// Devices lists cameras and preselects the first one when nothing is selected yet
func (r *Runner) Devices() []models.CameraDevice {
	devices := r.devices.ListVideoInputs()

	r.mu.Lock()
	defer r.mu.Unlock()
	if first, ok := lo.First(devices); ok && r.selected == "" {
		r.selected = first.ID
	}
	return devices
}

func (r *Runner) Select(deviceID string) error {
	devices := r.devices.ListVideoInputs()
	if !lo.ContainsBy(devices, func(d models.CameraDevice) bool { return d.ID == deviceID }) {
		return fmt.Errorf("%w: no camera %q", models.ErrDeviceUnavailable, deviceID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = deviceID
	return nil
}

// Start resolves the audio gate, opens the camera and enables polling, in that order. An empty
// deviceID means the selected camera. Starting on another camera while running restarts.
// The gate is resolved before the runner lock is taken, so a pending prompt does not block
// Status or Stop.
func (r *Runner) Start(ctx context.Context, deviceID string, gate audio.Gate) error {
	if err := r.alarm.Arm(ctx, gate); err != nil {
		r.logger.Warn("pipeline not started, alarm unavailable", zap.Error(err))
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if deviceID == "" {
		deviceID = r.selected
	}
	if deviceID == "" {
		return fmt.Errorf("%w: no camera selected", models.ErrDeviceUnavailable)
	}

	if r.running {
		if r.capture.DeviceID() == deviceID {
			return nil
		}
		r.stopLocked("switching camera")
	}

	if err := r.capture.Start(ctx, deviceID); err != nil {
		r.logger.Warn("pipeline not started, camera unavailable", zap.String("device", deviceID), zap.Error(err))
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.poller.Enable(runCtx)
	r.running = true
	r.selected = deviceID
	r.lastStop = ""
	metrics.Streaming.Set(1)

	if r.heartbeats != nil {
		r.wg.Add(1)
		go r.heartbeatLoop(runCtx, deviceID)
	}

	r.logger.Info("pipeline started", zap.String("device", deviceID))
	return nil
}

// Stop always succeeds and reports whether anything was running
func (r *Runner) Stop(reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked(reason)
}

// StopDevice stops only if deviceID is the camera currently streaming
func (r *Runner) StopDevice(deviceID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running || r.capture.DeviceID() != deviceID {
		return false
	}
	r.logger.Error("camera lost while streaming", zap.String("device", deviceID))
	return r.stopLocked(reason)
}

func (r *Runner) stopLocked(reason string) bool {
	if !r.running {
		return false
	}

	deviceID := r.capture.DeviceID()
	r.cancel()
	r.alerts.Reset(alert.ReasonStopped)
	// closing the stream unblocks a poll still waiting on a frame, so it goes before Disable
	r.capture.Stop()
	r.poller.Disable()
	// a result that slipped past the cancel may have re-entered Alerting
	r.alerts.Reset(alert.ReasonStopped)
	r.wg.Wait()

	r.running = false
	r.cancel = nil
	r.lastStop = reason
	metrics.Streaming.Set(0)

	if r.heartbeats != nil {
		if err := r.heartbeats.SendHeartbeat(r.heartbeat(deviceID, models.CommandStop)); err != nil {
			r.logger.Warn("send stop heartbeat", zap.Error(err))
		}
	}

	r.logger.Info("pipeline stopped", zap.String("device", deviceID), zap.String("reason", reason))
	return true
}

// Running reports whether capture and polling are both up
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ActiveDevice is the streaming camera, or empty when stopped
func (r *Runner) ActiveDevice() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ""
	}
	return r.capture.DeviceID()
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Status{
		Streaming:  r.running,
		Polling:    r.poller.Enabled(),
		Busy:       r.poller.Busy(),
		DeviceID:   r.capture.DeviceID(),
		Selected:   r.selected,
		AudioArmed: r.alarm.Armed(),
		LastStop:   r.lastStop,
		Alert:      r.alerts.Snapshot(),
		Polls:      r.poller.Stats(),
	}
}

func (r *Runner) handleResult(ctx context.Context, sample *models.FrameSample, result *models.DetectionResult) {
	r.alerts.Deliver(sample.DeviceID, result)

	if !result.FireDetected() || r.archive == nil {
		return
	}
	if err := r.archive.SaveSnapshot(ctx, sample, result); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("archive fire frame", zap.Error(err))
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context, deviceID string) {
	defer r.wg.Done()

	if err := r.heartbeats.SendHeartbeat(r.heartbeat(deviceID, models.CommandStart)); err != nil {
		r.logger.Warn("send heartbeat", zap.Error(err))
	}

	ticker := r.clock.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := r.heartbeats.SendHeartbeat(r.heartbeat(deviceID, models.CommandStart)); err != nil {
				r.logger.Warn("send heartbeat", zap.Error(err))
			}
		}
	}
}

func (r *Runner) heartbeat(deviceID string, action models.CommandAction) models.Heartbeat {
	return models.Heartbeat{
		DeviceID:  deviceID,
		Action:    action,
		Requests:  r.poller.Stats().Sent,
		Alerting:  r.alerts.Snapshot().Alerting,
		TimeStamp: r.clock.Now().UTC(),
	}
}
