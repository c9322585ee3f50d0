package runner

import (
	"context"
	"fmt"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/alert"
	"github.com/Capitan-Parrot/firewatch/internal/audio"
	"github.com/Capitan-Parrot/firewatch/internal/capture"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const pollInterval = 5 * time.Second

type fakeCapture struct {
	mu       sync.Mutex
	opens    int
	stops    int
	deviceID string
	failWith error
	onLost   func(string)
}

func (f *fakeCapture) Start(_ context.Context, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.failWith != nil {
		return f.failWith
	}
	f.deviceID = deviceID
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deviceID != "" {
		f.stops++
	}
	f.deviceID = ""
}

func (f *fakeCapture) Active() bool { return f.DeviceID() != "" }

func (f *fakeCapture) DeviceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceID
}

func (f *fakeCapture) OnDeviceLost(fn func(string)) { f.onLost = fn }

func (f *fakeCapture) Capture(context.Context) (*models.FrameSample, error) {
	id := f.DeviceID()
	if id == "" {
		return nil, models.ErrCaptureNotReady
	}
	return &models.FrameSample{DeviceID: id, Data: []byte{0xff, 0xd8}}, nil
}

func (f *fakeCapture) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.stops
}

type fakeInferer struct {
	mu     sync.Mutex
	result *models.DetectionResult
}

func (f *fakeInferer) Predict(context.Context, *models.FrameSample) (*models.DetectionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, nil
}

type fakeAlarm struct {
	mu    sync.Mutex
	armed bool
}

func (a *fakeAlarm) Arm(ctx context.Context, gate audio.Gate) error {
	if a.Armed() {
		return nil
	}
	ok, err := gate.Request(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: declined", models.ErrPermissionDenied)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.armed = true
	return nil
}

func (a *fakeAlarm) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.armed
}

// heldGate grants once released
type heldGate struct {
	asked   chan struct{}
	release chan struct{}
}

func (g heldGate) Request(ctx context.Context) (bool, error) {
	close(g.asked)
	select {
	case <-g.release:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// stalledStream never yields a frame; ReadFrame returns only once the stream is closed
type stalledStream struct {
	reading chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newStalledStream() *stalledStream {
	return &stalledStream{reading: make(chan struct{}, 1), closed: make(chan struct{})}
}

func (s *stalledStream) ReadFrame() (image.Image, error) {
	select {
	case s.reading <- struct{}{}:
	default:
	}
	<-s.closed
	return nil, nil
}

func (s *stalledStream) Done() <-chan struct{} { return s.closed }

func (s *stalledStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type stalledSource struct{ stream *stalledStream }

func (src stalledSource) Open(context.Context, string) (capture.Stream, error) {
	return src.stream, nil
}

type fakeSiren struct {
	mu      sync.Mutex
	playing bool
}

func (s *fakeSiren) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = true
	return nil
}

func (s *fakeSiren) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
}

func (s *fakeSiren) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

type fakeDevices []models.CameraDevice

func (d fakeDevices) ListVideoInputs() []models.CameraDevice { return d }

type fakeArchive struct {
	mu    sync.Mutex
	saved int
}

func (a *fakeArchive) SaveSnapshot(context.Context, *models.FrameSample, *models.DetectionResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved++
	return nil
}

func (a *fakeArchive) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saved
}

type fakeHeartbeats struct {
	mu   sync.Mutex
	sent []models.Heartbeat
}

func (h *fakeHeartbeats) SendHeartbeat(msg models.Heartbeat) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, msg)
	return nil
}

func (h *fakeHeartbeats) all() []models.Heartbeat {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Heartbeat(nil), h.sent...)
}

type harness struct {
	runner  *Runner
	capture *fakeCapture
	inferer *fakeInferer
	alarm   *fakeAlarm
	siren   *fakeSiren
	alerts  *alert.Controller
	archive *fakeArchive
	clock   *clockwork.FakeClock
	beats   *fakeHeartbeats
}

func newHarness(t *testing.T, withHeartbeats bool) *harness {
	t.Helper()

	h := &harness{
		capture: &fakeCapture{},
		inferer: &fakeInferer{result: &models.DetectionResult{Message: "no fire"}},
		alarm:   &fakeAlarm{},
		siren:   &fakeSiren{},
		archive: &fakeArchive{},
		clock:   clockwork.NewFakeClock(),
		beats:   &fakeHeartbeats{},
	}
	h.alerts = alert.NewController(h.siren, 10*time.Second, clockwork.NewFakeClock(), zap.NewNop())

	deps := Deps{
		Capture:      h.capture,
		Inferer:      h.inferer,
		Alerts:       h.alerts,
		Alarm:        h.alarm,
		Devices:      fakeDevices{{ID: "cam0", Label: "front"}, {ID: "cam1", Label: "back"}},
		Archive:      h.archive,
		PollInterval: pollInterval,
		Clock:        h.clock,
		Logger:       zap.NewNop(),
	}
	if withHeartbeats {
		deps.Heartbeats = h.beats
	}
	h.runner = New(deps)
	t.Cleanup(func() { h.runner.Stop("test cleanup") })
	return h
}

func TestStartDeclinedAudioNeverOpensCamera(t *testing.T) {
	h := newHarness(t, false)

	err := h.runner.Start(context.Background(), "cam0", audio.StaticGate(false))
	assert.ErrorIs(t, err, models.ErrPermissionDenied)

	opens, _ := h.capture.counts()
	assert.Zero(t, opens)
	assert.False(t, h.runner.Running())
	assert.False(t, h.runner.Status().Polling)
}

func TestStartCaptureFailureLeavesPollingDisabled(t *testing.T) {
	h := newHarness(t, false)
	h.capture.failWith = fmt.Errorf("%w: busy", models.ErrDeviceUnavailable)

	err := h.runner.Start(context.Background(), "cam0", audio.StaticGate(true))
	assert.ErrorIs(t, err, models.ErrDeviceUnavailable)

	status := h.runner.Status()
	assert.False(t, status.Streaming)
	assert.False(t, status.Polling)
	assert.True(t, status.AudioArmed)
}

func TestStartWithoutSelectionFails(t *testing.T) {
	h := newHarness(t, false)

	err := h.runner.Start(context.Background(), "", audio.StaticGate(true))
	assert.ErrorIs(t, err, models.ErrDeviceUnavailable)
}

func TestDevicesPreselectsFirst(t *testing.T) {
	h := newHarness(t, false)

	devices := h.runner.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "cam0", h.runner.Status().Selected)

	require.NoError(t, h.runner.Select("cam1"))
	h.runner.Devices()
	assert.Equal(t, "cam1", h.runner.Status().Selected)

	assert.ErrorIs(t, h.runner.Select("cam9"), models.ErrDeviceUnavailable)

	require.NoError(t, h.runner.Start(context.Background(), "", audio.StaticGate(true)))
	assert.Equal(t, "cam1", h.capture.DeviceID())
}

func TestStopIsIdempotentAndComplete(t *testing.T) {
	h := newHarness(t, false)
	h.inferer.result = &models.DetectionResult{Message: models.MessageFireDetected}

	require.NoError(t, h.runner.Start(context.Background(), "cam0", audio.StaticGate(true)))
	status := h.runner.Status()
	assert.True(t, status.Streaming)
	assert.True(t, status.Polling)

	h.clock.BlockUntil(1)
	h.clock.Advance(pollInterval)
	require.Eventually(t, func() bool { return h.alerts.State() == alert.Alerting }, time.Second, 5*time.Millisecond)
	assert.True(t, h.siren.Playing())
	assert.Eventually(t, func() bool { return h.archive.count() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, h.runner.Stop("operator"))
	assert.False(t, h.runner.Stop("operator"))

	status = h.runner.Status()
	assert.False(t, status.Streaming)
	assert.False(t, status.Polling)
	assert.Empty(t, status.DeviceID)
	assert.Equal(t, "operator", status.LastStop)
	assert.Equal(t, alert.Idle, h.alerts.State())
	assert.False(t, h.siren.Playing())

	_, stops := h.capture.counts()
	assert.Equal(t, 1, stops)
}

func TestStartSameDeviceTwiceIsNoop(t *testing.T) {
	h := newHarness(t, false)

	require.NoError(t, h.runner.Start(context.Background(), "cam0", audio.StaticGate(true)))
	require.NoError(t, h.runner.Start(context.Background(), "cam0", audio.StaticGate(true)))
	opens, _ := h.capture.counts()
	assert.Equal(t, 1, opens)

	require.NoError(t, h.runner.Start(context.Background(), "cam1", audio.StaticGate(true)))
	opens, stops := h.capture.counts()
	assert.Equal(t, 2, opens)
	assert.Equal(t, 1, stops)
	assert.Equal(t, "cam1", h.capture.DeviceID())
}

func TestDeviceLostStopsPipeline(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.runner.Start(context.Background(), "cam0", audio.StaticGate(true)))

	// a stale report about another camera is ignored
	h.capture.onLost("cam1")
	assert.True(t, h.runner.Running())

	h.capture.onLost("cam0")
	status := h.runner.Status()
	assert.False(t, status.Streaming)
	assert.False(t, status.Polling)
	assert.Equal(t, models.ErrDeviceLost.Error(), status.LastStop)
}

func TestNonFireResultsAreNotArchived(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.runner.Start(context.Background(), "cam0", audio.StaticGate(true)))

	h.clock.BlockUntil(1)
	h.clock.Advance(pollInterval)
	require.Eventually(t, func() bool { return h.runner.Status().Polls.Sent == 1 && !h.runner.Status().Busy }, time.Second, 5*time.Millisecond)

	assert.Zero(t, h.archive.count())
	assert.Equal(t, alert.Idle, h.alerts.State())
}

func TestHeartbeats(t *testing.T) {
	h := newHarness(t, true)
	require.NoError(t, h.runner.Start(context.Background(), "cam0", audio.StaticGate(true)))

	require.Eventually(t, func() bool { return len(h.beats.all()) == 1 }, time.Second, 5*time.Millisecond)

	// scheduler ticker plus heartbeat ticker
	h.clock.BlockUntil(2)
	h.clock.Advance(heartbeatInterval)
	require.Eventually(t, func() bool { return len(h.beats.all()) == 2 }, time.Second, 5*time.Millisecond)

	h.runner.Stop("operator")
	beats := h.beats.all()
	require.Len(t, beats, 3)
	assert.Equal(t, models.CommandStart, beats[0].Action)
	assert.Equal(t, "cam0", beats[1].DeviceID)
	assert.Equal(t, models.CommandStop, beats[2].Action)
}

func TestStopReleasesCameraWhileFrameReadIsStalled(t *testing.T) {
	stream := newStalledStream()
	cam := capture.NewService(stalledSource{stream}, 80, zap.NewNop())
	fc := clockwork.NewFakeClock()

	r := New(Deps{
		Capture:      cam,
		Inferer:      &fakeInferer{result: &models.DetectionResult{Message: "no fire"}},
		Alerts:       alert.NewController(&fakeSiren{}, 10*time.Second, clockwork.NewFakeClock(), zap.NewNop()),
		Alarm:        &fakeAlarm{},
		Devices:      fakeDevices{{ID: "cam0", Label: "front"}},
		PollInterval: pollInterval,
		Clock:        fc,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, r.Start(context.Background(), "cam0", audio.StaticGate(true)))

	fc.BlockUntil(1)
	fc.Advance(pollInterval)
	select {
	case <-stream.reading:
	case <-time.After(time.Second):
		t.Fatal("poll never reached the camera")
	}
	assert.True(t, r.Status().Busy)

	stopped := make(chan bool, 1)
	go func() { stopped <- r.Stop("operator") }()

	select {
	case ok := <-stopped:
		assert.True(t, ok)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while a frame read was stalled")
	}
	assert.False(t, cam.Active())

	status := r.Status()
	assert.False(t, status.Streaming)
	assert.False(t, status.Polling)
	assert.False(t, status.Busy)
}

func TestPendingAudioPromptDoesNotBlockStatus(t *testing.T) {
	h := newHarness(t, false)
	gate := heldGate{asked: make(chan struct{}), release: make(chan struct{})}

	started := make(chan error, 1)
	go func() { started <- h.runner.Start(context.Background(), "cam0", gate) }()
	<-gate.asked

	statusDone := make(chan Status, 1)
	go func() { statusDone <- h.runner.Status() }()
	select {
	case status := <-statusDone:
		assert.False(t, status.Streaming)
		assert.False(t, status.AudioArmed)
	case <-time.After(time.Second):
		t.Fatal("Status blocked behind the audio prompt")
	}
	assert.False(t, h.runner.Stop("operator"))

	close(gate.release)
	require.NoError(t, <-started)
	assert.True(t, h.runner.Running())
	assert.Equal(t, "cam0", h.capture.DeviceID())
}
