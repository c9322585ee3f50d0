package audio

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/config"
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePlayer struct {
	mu      sync.Mutex
	playing bool
	closes  int
}

func (p *fakePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
}

func (p *fakePlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	if p.closes > 1 {
		return errors.New("player already closed")
	}
	return nil
}

type fakeBackend struct {
	players []*fakePlayer
}

func (b *fakeBackend) NewPlayer(r io.Reader) Player {
	buf := make([]byte, 64)
	if _, err := r.Read(buf); err != nil {
		panic(err)
	}
	p := &fakePlayer{}
	b.players = append(b.players, p)
	return p
}

func newTestAlarm() (*Alarm, *fakeBackend, *int) {
	backend := &fakeBackend{}
	created := 0
	factory := func() (Backend, error) {
		created++
		return backend, nil
	}
	cfg := config.Audio{SampleRate: 8000, SweepLowHz: 600, SweepHighHz: 1400, SweepPeriod: time.Second}
	return NewAlarm(factory, cfg, zap.NewNop()), backend, &created
}

func TestAlarmDeclinedNeverOpensBackend(t *testing.T) {
	alarm, backend, created := newTestAlarm()

	err := alarm.Arm(context.Background(), StaticGate(false))
	assert.ErrorIs(t, err, models.ErrPermissionDenied)
	assert.False(t, alarm.Armed())
	assert.Zero(t, *created)

	assert.ErrorIs(t, alarm.Start(), ErrNotArmed)
	assert.Empty(t, backend.players)
}

func TestAlarmBackendCreatedOnce(t *testing.T) {
	alarm, backend, created := newTestAlarm()

	require.NoError(t, alarm.Arm(context.Background(), StaticGate(true)))
	require.NoError(t, alarm.Arm(context.Background(), StaticGate(false)))
	assert.True(t, alarm.Armed())

	require.NoError(t, alarm.Start())
	alarm.Stop()
	require.NoError(t, alarm.Start())
	alarm.Stop()

	assert.Equal(t, 1, *created)
	assert.Len(t, backend.players, 2)
}

func TestAlarmStartReplacesPlayingTone(t *testing.T) {
	alarm, backend, _ := newTestAlarm()
	require.NoError(t, alarm.Arm(context.Background(), StaticGate(true)))

	require.NoError(t, alarm.Start())
	require.NoError(t, alarm.Start())
	require.Len(t, backend.players, 2)

	first, second := backend.players[0], backend.players[1]
	assert.False(t, first.playing)
	assert.Equal(t, 1, first.closes)
	assert.True(t, second.playing)
	assert.True(t, alarm.Playing())
}

func TestAlarmStopIsIdempotent(t *testing.T) {
	alarm, backend, _ := newTestAlarm()
	alarm.Stop()

	require.NoError(t, alarm.Arm(context.Background(), StaticGate(true)))
	require.NoError(t, alarm.Start())

	alarm.Stop()
	alarm.Stop()

	assert.False(t, alarm.Playing())
	assert.Equal(t, 1, backend.players[0].closes)
}

func TestAlarmBackendFailure(t *testing.T) {
	factory := func() (Backend, error) { return nil, errors.New("no output device") }
	alarm := NewAlarm(factory, config.Audio{SampleRate: 8000}, zap.NewNop())

	err := alarm.Arm(context.Background(), StaticGate(true))
	assert.ErrorIs(t, err, models.ErrDeviceUnavailable)
	assert.False(t, alarm.Armed())
}

func TestPromptGate(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"\n", true},
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"no thanks\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out strings.Builder
			granted, err := PromptGate{In: strings.NewReader(tt.input), Out: &out}.Request(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, granted)
			assert.Contains(t, out.String(), "[Y/n]")
		})
	}
}

func TestPromptGateCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	granted, err := PromptGate{In: pr, Out: io.Discard}.Request(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, granted)
}

func TestAlarmStateReadableWhilePromptPending(t *testing.T) {
	alarm, _, _ := newTestAlarm()
	pr, pw := io.Pipe()
	defer pw.Close()

	armed := make(chan error, 1)
	go func() { armed <- alarm.Arm(context.Background(), PromptGate{In: pr, Out: io.Discard}) }()

	checked := make(chan bool, 1)
	go func() { checked <- alarm.Armed() || alarm.Playing() }()
	select {
	case busy := <-checked:
		assert.False(t, busy)
	case <-time.After(time.Second):
		t.Fatal("alarm state blocked behind the prompt")
	}
	alarm.Stop()

	_, err := pw.Write([]byte("y\n"))
	require.NoError(t, err)
	require.NoError(t, <-armed)
	assert.True(t, alarm.Armed())
}
