package alert

import (
	"sync"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/metrics"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type State int

const (
	Idle State = iota
	Alerting
)

func (s State) String() string {
	if s == Alerting {
		return "alerting"
	}
	return "idle"
}

const (
	ReasonDwellElapsed = "dwell elapsed"
	ReasonStopped      = "pipeline stopped"
)

// Siren is the audible part of an alert
type Siren interface {
	Start() error
	Stop()
}

// Presenter renders alert state. Called with the controller locked; must not block or call back.
type Presenter interface {
	Present(Snapshot)
}

// Observer is told about every episode boundary, under the same rules as Presenter
type Observer interface {
	AlertStarted(models.AlertEpisode)
	AlertEnded(models.AlertEpisode)
}

// Snapshot is the declarative view of the alert. Flash is set only on the entry snapshot.
type Snapshot struct {
	Alerting     bool               `json:"alerting"`
	StartedAt    time.Time          `json:"started_at,omitempty"`
	EpisodeID    string             `json:"episode_id,omitempty"`
	DeviceID     string             `json:"device_id,omitempty"`
	Message      string             `json:"message,omitempty"`
	Detections   []models.Detection `json:"detections,omitempty"`
	ToastVisible bool               `json:"toast_visible"`
	Flash        bool               `json:"flash"`
}

// Controller is the Idle/Alerting state machine. Entering Alerting starts the siren, shows the
// toast and arms the dwell timer; leaving it runs the same exit actions whether the timer
// elapsed or Reset forced it.
type Controller struct {
	siren  Siren
	dwell  time.Duration
	clock  clockwork.Clock
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	episode    *models.AlertEpisode
	toast      bool
	timer      clockwork.Timer
	quietUntil time.Time
	presenters []Presenter
	observers  []Observer
}

func NewController(siren Siren, dwell time.Duration, clock clockwork.Clock, logger *zap.Logger) *Controller {
	return &Controller{
		siren:  siren,
		dwell:  dwell,
		clock:  clock,
		logger: logger.With(zap.String("component", "alert")),
	}
}

func (c *Controller) AddPresenter(p Presenter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presenters = append(c.presenters, p)
}

func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Deliver feeds one inference result. It reports whether the result started a new episode.
// Anything but "fire detected" is ignored, and so is a fire while already alerting: neither
// restarts the dwell timer. The dwell window is inclusive, so a fire arriving at the very
// instant the dwell elapsed belongs to the episode that just ended.
func (c *Controller) Deliver(deviceID string, result *models.DetectionResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !result.FireDetected() || c.state == Alerting {
		return false
	}
	if !c.clock.Now().After(c.quietUntil) {
		return false
	}

	c.enterLocked(deviceID, result)
	return true
}

// Reset forces Idle. It reports whether an episode was ended.
func (c *Controller) Reset(reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.quietUntil = time.Time{}
	if c.state == Idle {
		return false
	}
	c.exitLocked(reason)
	return true
}

// Dismiss hides the toast; the alert itself keeps running until the dwell elapses
func (c *Controller) Dismiss() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Alerting || !c.toast {
		return false
	}
	c.toast = false
	c.presentLocked(c.snapshotLocked())
	return true
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) enterLocked(deviceID string, result *models.DetectionResult) {
	episode := &models.AlertEpisode{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Message:    result.Message,
		Detections: result.Detections,
		StartedAt:  c.clock.Now(),
	}
	c.state = Alerting
	c.episode = episode
	c.toast = true

	if err := c.siren.Start(); err != nil {
		c.logger.Error("start siren", zap.Error(err))
	}

	id := episode.ID
	c.timer = c.clock.AfterFunc(c.dwell, func() {
		c.expire(id)
	})

	metrics.AlertEpisodesTotal.Inc()
	metrics.Alerting.Set(1)
	c.logger.Warn("fire detected",
		zap.String("episode", id),
		zap.String("device", deviceID),
		zap.Int("detections", len(result.Detections)),
	)

	snap := c.snapshotLocked()
	snap.Flash = true
	c.presentLocked(snap)
	for _, o := range c.observers {
		o.AlertStarted(*episode)
	}
}

func (c *Controller) expire(episodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a timer that lost the race against Reset, or belongs to an older episode
	if c.state != Alerting || c.episode.ID != episodeID {
		return
	}
	c.quietUntil = c.episode.StartedAt.Add(c.dwell)
	c.exitLocked(ReasonDwellElapsed)
}

func (c *Controller) exitLocked(reason string) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.siren.Stop()

	episode := *c.episode
	ended := c.clock.Now()
	episode.EndedAt = &ended
	episode.EndReason = reason

	c.state = Idle
	c.episode = nil
	c.toast = false

	metrics.Alerting.Set(0)
	c.logger.Info("alert cleared",
		zap.String("episode", episode.ID),
		zap.String("reason", reason),
		zap.Duration("duration", ended.Sub(episode.StartedAt)),
	)

	c.presentLocked(c.snapshotLocked())
	for _, o := range c.observers {
		o.AlertEnded(episode)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	if c.state == Idle {
		return Snapshot{}
	}
	return Snapshot{
		Alerting:     true,
		StartedAt:    c.episode.StartedAt,
		EpisodeID:    c.episode.ID,
		DeviceID:     c.episode.DeviceID,
		Message:      c.episode.Message,
		Detections:   c.episode.Detections,
		ToastVisible: c.toast,
	}
}

func (c *Controller) presentLocked(s Snapshot) {
	for _, p := range c.presenters {
		p.Present(s)
	}
}
