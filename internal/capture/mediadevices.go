package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"sync"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
)

// MediaDevicesSource opens cameras through pion/mediadevices. A camera driver must be
// registered by the binary (blank import of pkg/driver/camera).
type MediaDevicesSource struct{}

func (MediaDevicesSource) Open(_ context.Context, deviceID string) (Stream, error) {
	ms, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.StringExact(deviceID)
		},
	})
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("open %s: %w: %v", deviceID, models.ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("open %s: %w: %v", deviceID, models.ErrDeviceUnavailable, err)
	}

	tracks := ms.GetVideoTracks()
	if len(tracks) == 0 {
		closeTracks(ms.GetTracks())
		return nil, fmt.Errorf("open %s: %w: no video track", deviceID, models.ErrDeviceUnavailable)
	}
	videoTrack, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		closeTracks(ms.GetTracks())
		return nil, fmt.Errorf("open %s: %w: unexpected track type %T", deviceID, models.ErrDeviceUnavailable, tracks[0])
	}

	stream := &mediaStream{
		tracks: ms.GetTracks(),
		reader: videoTrack.NewReader(true),
		done:   make(chan struct{}),
	}
	videoTrack.OnEnded(func(error) { stream.end() })
	return stream, nil
}

type mediaStream struct {
	tracks []mediadevices.Track
	reader video.Reader

	mu     sync.Mutex
	once   sync.Once
	done   chan struct{}
	closed bool
}

func (m *mediaStream) ReadFrame() (image.Image, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, nil
	}

	img, release, err := m.reader.Read()
	if err != nil {
		return nil, err
	}
	// reader copies frames, the image stays valid after release
	release()
	return img, nil
}

func (m *mediaStream) Done() <-chan struct{} {
	return m.done
}

func (m *mediaStream) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	err := closeTracks(m.tracks)
	m.end()
	return err
}

func (m *mediaStream) end() {
	m.once.Do(func() { close(m.done) })
}

func closeTracks(tracks []mediadevices.Track) error {
	var errs []error
	for _, track := range tracks {
		if err := track.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
