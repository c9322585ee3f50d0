package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/Capitan-Parrot/firewatch/internal/config"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"go.uber.org/zap"
)

var ErrNotArmed = errors.New("audio alarm is not armed")

type Player interface {
	Play()
	Pause()
	Close() error
}

type Backend interface {
	NewPlayer(r io.Reader) Player
}

type BackendFactory func() (Backend, error)

// Alarm owns the siren. The backend is created on the first granted Arm and reused by every
// later tone; at most one player exists at a time.
type Alarm struct {
	factory BackendFactory
	cfg     config.Audio
	logger  *zap.Logger

	// armMu serializes Arm; mu guards the backend and player and is never held across a prompt
	armMu   sync.Mutex
	mu      sync.Mutex
	backend Backend
	player  Player
}

func NewAlarm(factory BackendFactory, cfg config.Audio, logger *zap.Logger) *Alarm {
	return &Alarm{
		factory: factory,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "audio")),
	}
}

// Arm asks the gate once. A declined gate leaves the alarm unarmed and returns ErrPermissionDenied.
func (a *Alarm) Arm(ctx context.Context, gate Gate) error {
	a.armMu.Lock()
	defer a.armMu.Unlock()

	if a.Armed() {
		return nil
	}

	granted, err := gate.Request(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	}
	if !granted {
		return fmt.Errorf("%w: alarm sound declined", models.ErrPermissionDenied)
	}

	backend, err := a.factory()
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrDeviceUnavailable, err)
	}

	a.mu.Lock()
	a.backend = backend
	a.mu.Unlock()
	a.logger.Info("audio alarm armed")
	return nil
}

func (a *Alarm) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backend != nil
}

func (a *Alarm) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.player != nil
}

// Start plays a fresh siren, stopping any tone still playing first
func (a *Alarm) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.backend == nil {
		return ErrNotArmed
	}
	a.stopLocked()

	sweep := NewSweep(a.cfg.SampleRate, a.cfg.SweepLowHz, a.cfg.SweepHighHz, a.cfg.SweepPeriod)
	a.player = a.backend.NewPlayer(sweep)
	a.player.Play()
	return nil
}

// Stop silences the siren. Safe to call when nothing is playing.
func (a *Alarm) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Alarm) stopLocked() {
	if a.player == nil {
		return
	}
	a.player.Pause()
	if err := a.player.Close(); err != nil {
		a.logger.Warn("close player", zap.Error(err))
	}
	a.player = nil
}
