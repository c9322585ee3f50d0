package device

import (
	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/pion/mediadevices"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Enumerator lists the video inputs the platform exposes
type Enumerator struct {
	enumerate func() []mediadevices.MediaDeviceInfo
	logger    *zap.Logger
}

func NewEnumerator(logger *zap.Logger) *Enumerator {
	return &Enumerator{
		enumerate: mediadevices.EnumerateDevices,
		logger:    logger.With(zap.String("component", "devices")),
	}
}

// ListVideoInputs never fails: a denied or broken enumeration yields an empty list
func (e *Enumerator) ListVideoInputs() (devices []models.CameraDevice) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("device enumeration failed", zap.Any("panic", r))
			devices = nil
		}
	}()

	infos := lo.Filter(e.enumerate(), func(info mediadevices.MediaDeviceInfo, _ int) bool {
		return info.Kind == mediadevices.VideoInput
	})
	devices = lo.Map(infos, func(info mediadevices.MediaDeviceInfo, idx int) models.CameraDevice {
		label := info.Label
		if label == "" {
			label = "camera " + info.DeviceID
		}
		return models.CameraDevice{ID: info.DeviceID, Label: label}
	})

	if len(devices) == 0 {
		e.logger.Warn("no video input devices available")
	}
	return devices
}

// Has reports whether deviceID is still enumerated
func (e *Enumerator) Has(deviceID string) bool {
	return lo.ContainsBy(e.ListVideoInputs(), func(d models.CameraDevice) bool {
		return d.ID == deviceID
	})
}

// Preselect picks the first reported device, in platform order
func Preselect(devices []models.CameraDevice) (models.CameraDevice, bool) {
	return lo.First(devices)
}
