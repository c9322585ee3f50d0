package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const interval = 5 * time.Second

type fakeCapturer struct {
	ready atomic.Bool
	calls atomic.Int32
}

func (f *fakeCapturer) Capture(context.Context) (*models.FrameSample, error) {
	f.calls.Add(1)
	if !f.ready.Load() {
		return nil, models.ErrCaptureNotReady
	}
	return &models.FrameSample{DeviceID: "cam0", Data: []byte{1}}, nil
}

// slowInferer blocks every request until release is signalled
type slowInferer struct {
	release  chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
	err      error
}

func (s *slowInferer) Predict(ctx context.Context, _ *models.FrameSample) (*models.DetectionResult, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.DetectionResult{Message: models.MessageFireDetected}, nil
}

type results struct {
	mu  sync.Mutex
	got []*models.DetectionResult
}

func (r *results) handle(_ context.Context, _ *models.FrameSample, result *models.DetectionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, result)
}

func (r *results) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func tickOnce(fc *clockwork.FakeClock) {
	fc.BlockUntil(1)
	fc.Advance(interval)
}

func TestSchedulerSkipsWhileBusy(t *testing.T) {
	fc := clockwork.NewFakeClock()
	capturer := &fakeCapturer{}
	capturer.ready.Store(true)
	inferer := &slowInferer{release: make(chan struct{})}
	res := &results{}

	s := New(capturer, inferer, res.handle, interval, fc, zap.NewNop())
	s.Enable(context.Background())
	defer s.Disable()

	tickOnce(fc)
	require.Eventually(t, func() bool { return inferer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// the response takes longer than three intervals
	for i := 0; i < 3; i++ {
		tickOnce(fc)
		want := uint64(i + 1)
		require.Eventually(t, func() bool { return s.Stats().SkippedBusy == want }, time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, int32(1), inferer.calls.Load())
	assert.True(t, s.Busy())

	inferer.release <- struct{}{}
	require.Eventually(t, func() bool { return !s.Busy() && res.len() == 1 }, time.Second, 5*time.Millisecond)

	tickOnce(fc)
	require.Eventually(t, func() bool { return inferer.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	inferer.release <- struct{}{}
	require.Eventually(t, func() bool { return res.len() == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), inferer.maxSeen.Load())
	stats := s.Stats()
	assert.Equal(t, uint64(5), stats.Ticks)
	assert.Equal(t, uint64(2), stats.Sent)
}

func TestSchedulerNotReadyKeepsLoopAlive(t *testing.T) {
	fc := clockwork.NewFakeClock()
	capturer := &fakeCapturer{}
	inferer := &slowInferer{}
	res := &results{}

	s := New(capturer, inferer, res.handle, interval, fc, zap.NewNop())
	s.Enable(context.Background())
	defer s.Disable()

	tickOnce(fc)
	require.Eventually(t, func() bool { return s.Stats().SkippedNotReady == 1 && !s.Busy() }, time.Second, 5*time.Millisecond)
	assert.Zero(t, inferer.calls.Load())

	capturer.ready.Store(true)
	tickOnce(fc)
	require.Eventually(t, func() bool { return res.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), inferer.calls.Load())
}

func TestSchedulerDoesNotRetryFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(Stats) bool
	}{
		{"request failed", fmt.Errorf("%w: 500", models.ErrInferenceRequestFailed), func(s Stats) bool { return s.Failed == 1 }},
		{"malformed", fmt.Errorf("%w: no message", models.ErrMalformedResponse), func(s Stats) bool { return s.Malformed == 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := clockwork.NewFakeClock()
			capturer := &fakeCapturer{}
			capturer.ready.Store(true)
			inferer := &slowInferer{err: tt.err}
			res := &results{}

			s := New(capturer, inferer, res.handle, interval, fc, zap.NewNop())
			s.Enable(context.Background())
			defer s.Disable()

			tickOnce(fc)
			require.Eventually(t, func() bool { return tt.check(s.Stats()) && !s.Busy() }, time.Second, 5*time.Millisecond)
			assert.Equal(t, int32(1), inferer.calls.Load())
			assert.Zero(t, res.len())
		})
	}
}

func TestSchedulerDisableDropsPendingResult(t *testing.T) {
	fc := clockwork.NewFakeClock()
	capturer := &fakeCapturer{}
	capturer.ready.Store(true)
	inferer := &slowInferer{release: make(chan struct{})}
	res := &results{}

	s := New(capturer, inferer, res.handle, interval, fc, zap.NewNop())
	s.Enable(context.Background())
	assert.True(t, s.Enabled())

	tickOnce(fc)
	require.Eventually(t, func() bool { return inferer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Disable()
	assert.False(t, s.Enabled())
	assert.False(t, s.Busy())
	assert.Zero(t, res.len())

	s.Disable()
	fc.Advance(3 * interval)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), inferer.calls.Load())
}

func TestSchedulerFirstTickAfterOneInterval(t *testing.T) {
	fc := clockwork.NewFakeClock()
	capturer := &fakeCapturer{}

	s := New(capturer, &slowInferer{}, nil, interval, fc, zap.NewNop())
	s.Enable(context.Background())
	s.Enable(context.Background())
	defer s.Disable()

	fc.BlockUntil(1)
	fc.Advance(interval - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, capturer.calls.Load())

	fc.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return capturer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}
