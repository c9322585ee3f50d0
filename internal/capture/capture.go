package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"go.uber.org/zap"
)

// Stream is an exclusive, video-only media stream bound to one device
type Stream interface {
	// ReadFrame returns the current frame; an empty image means the source is not ready yet
	ReadFrame() (image.Image, error)
	// Done is closed when the stream ends for any reason, including Close
	Done() <-chan struct{}
	// Close stops every track of the stream
	Close() error
}

// Source acquires streams for a device id
type Source interface {
	Open(ctx context.Context, deviceID string) (Stream, error)
}

// Service owns at most one active stream and turns its current frame into a JPEG sample
type Service struct {
	source  Source
	quality int
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	stream   Stream
	deviceID string
	onLost   func(deviceID string)
}

func NewService(source Source, quality int, logger *zap.Logger) *Service {
	return &Service{
		source:  source,
		quality: quality,
		logger:  logger.With(zap.String("component", "capture")),
		now:     time.Now,
	}
}

// OnDeviceLost registers the callback fired when the active stream ends without Stop
func (s *Service) OnDeviceLost(fn func(deviceID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLost = fn
}

// Start releases any active stream, then acquires deviceID. On failure nothing is active.
func (s *Service) Start(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()

	stream, err := s.source.Open(ctx, deviceID)
	if err != nil {
		s.logger.Warn("stream acquisition failed", zap.String("device_id", deviceID), zap.Error(err))
		return err
	}

	s.stream = stream
	s.deviceID = deviceID
	go s.watch(stream, deviceID)

	s.logger.Info("stream started", zap.String("device_id", deviceID))
	return nil
}

// Stop is idempotent
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *Service) releaseLocked() {
	if s.stream == nil {
		return
	}
	stream, deviceID := s.stream, s.deviceID
	s.stream = nil
	s.deviceID = ""

	if err := stream.Close(); err != nil {
		s.logger.Warn("stream close failed", zap.String("device_id", deviceID), zap.Error(err))
	}
	s.logger.Info("stream stopped", zap.String("device_id", deviceID))
}

func (s *Service) watch(stream Stream, deviceID string) {
	<-stream.Done()

	s.mu.Lock()
	current := s.stream == stream
	onLost := s.onLost
	s.mu.Unlock()

	// Streams released through Stop/Start are no longer current
	if current && onLost != nil {
		s.logger.Warn("stream ended unexpectedly", zap.String("device_id", deviceID))
		onLost(deviceID)
	}
}

func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

func (s *Service) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Capture encodes the current frame. It returns models.ErrCaptureNotReady when there is no
// active stream or the frame dimensions are still unknown.
func (s *Service) Capture(ctx context.Context) (*models.FrameSample, error) {
	s.mu.Lock()
	stream, deviceID := s.stream, s.deviceID
	s.mu.Unlock()

	if stream == nil {
		return nil, fmt.Errorf("no active stream: %w", models.ErrCaptureNotReady)
	}

	img, err := stream.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("frame dimensions unknown: %w", models.ErrCaptureNotReady)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	bounds := img.Bounds()
	return &models.FrameSample{
		DeviceID:   deviceID,
		Data:       buf.Bytes(),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		CapturedAt: s.now(),
	}, nil
}
