package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/metrics"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type Capturer interface {
	Capture(ctx context.Context) (*models.FrameSample, error)
}

type Inferer interface {
	Predict(ctx context.Context, sample *models.FrameSample) (*models.DetectionResult, error)
}

// ResultHandler receives every successful inference result while polling is enabled
type ResultHandler func(ctx context.Context, sample *models.FrameSample, result *models.DetectionResult)

type Stats struct {
	Ticks           uint64 `json:"ticks"`
	Sent            uint64 `json:"sent"`
	SkippedBusy     uint64 `json:"skipped_busy"`
	SkippedNotReady uint64 `json:"skipped_not_ready"`
	Failed          uint64 `json:"failed"`
	Malformed       uint64 `json:"malformed"`
}

// Scheduler polls the capturer on a fixed interval and keeps at most one inference request
// outstanding. A tick that finds a request in flight is dropped, not queued.
type Scheduler struct {
	capturer Capturer
	inferer  Inferer
	onResult ResultHandler
	interval time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	busy   atomic.Bool

	ticks, sent, skippedBusy, skippedNotReady, failed, malformed atomic.Uint64
}

func New(capturer Capturer, inferer Inferer, onResult ResultHandler, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		capturer: capturer,
		inferer:  inferer,
		onResult: onResult,
		interval: interval,
		clock:    clock,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// Enable starts the tick loop. The first tick fires one interval later. Enabling twice is a no-op.
func (s *Scheduler) Enable(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ticker := s.clock.NewTicker(s.interval)
	s.wg.Add(1)
	go s.loop(ctx, ticker)

	s.logger.Info("polling enabled", zap.Duration("interval", s.interval))
}

// Disable stops the loop and waits for an outstanding request to settle. Its result is dropped.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()

	s.logger.Info("polling disabled")
}

func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Busy reports whether an inference request is outstanding
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:           s.ticks.Load(),
		Sent:            s.sent.Load(),
		SkippedBusy:     s.skippedBusy.Load(),
		SkippedNotReady: s.skippedNotReady.Load(),
		Failed:          s.failed.Load(),
		Malformed:       s.malformed.Load(),
	}
}

func (s *Scheduler) loop(ctx context.Context, ticker clockwork.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.ticks.Add(1)

	if !s.busy.CompareAndSwap(false, true) {
		s.skippedBusy.Add(1)
		metrics.PollTicksTotal.WithLabelValues(metrics.TickBusy).Inc()
		s.logger.Debug("request still pending, tick skipped")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		s.poll(ctx)
	}()
}

func (s *Scheduler) poll(ctx context.Context) {
	sample, err := s.capturer.Capture(ctx)
	if err != nil {
		if errors.Is(err, models.ErrCaptureNotReady) {
			s.skippedNotReady.Add(1)
			metrics.PollTicksTotal.WithLabelValues(metrics.TickNotReady).Inc()
			s.logger.Debug("capture not ready, tick skipped")
			return
		}
		s.failed.Add(1)
		metrics.PollTicksTotal.WithLabelValues(metrics.TickFailed).Inc()
		s.logger.Warn("capture failed", zap.Error(err))
		return
	}

	s.sent.Add(1)
	metrics.PollTicksTotal.WithLabelValues(metrics.TickSent).Inc()

	result, err := s.inferer.Predict(ctx, sample)
	if ctx.Err() != nil {
		s.logger.Debug("polling disabled during request, result dropped")
		return
	}
	if err != nil {
		if errors.Is(err, models.ErrMalformedResponse) {
			s.malformed.Add(1)
			metrics.PollTicksTotal.WithLabelValues(metrics.TickMalformed).Inc()
		} else {
			s.failed.Add(1)
			metrics.PollTicksTotal.WithLabelValues(metrics.TickFailed).Inc()
		}
		s.logger.Warn("inference request failed", zap.Error(err))
		return
	}

	s.logger.Debug("inference result",
		zap.String("message", result.Message),
		zap.Int("detections", len(result.Detections)),
	)

	if s.onResult != nil {
		s.onResult(ctx, sample, result)
	}
}
