package models

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

type CommandAction string

const (
	CommandStart CommandAction = "start"
	CommandStop  CommandAction = "stop"
)

// MessageFireDetected is the inference message that arms the alert
const MessageFireDetected = "fire detected"

// CameraDevice is a video input reported by the platform
type CameraDevice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// FrameSample is one JPEG still taken from the live stream
type FrameSample struct {
	DeviceID   string
	Data       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Detection is one box reported by the inference service
type Detection struct {
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // [x1, y1, x2, y2]
}

// DetectionResult is the body returned by POST /predict_fire
type DetectionResult struct {
	Message     string      `json:"message"`
	Detections  []Detection `json:"detections"`
	ResultImage string      `json:"result_image,omitempty"`
	Date        string      `json:"date,omitempty"`
}

func (r *DetectionResult) FireDetected() bool {
	return r != nil && r.Message == MessageFireDetected
}

// LogRecord is a server-owned row of the detection log
type LogRecord struct {
	ID          int64       `json:"id"`
	FileName    string      `json:"file_name"`
	Message     string      `json:"message"`
	CreatedAt   Timestamp   `json:"created_at"`
	ResultImage string      `json:"result_image"`
	Detections  []Detection `json:"detections"`
}

// LogPage is one page of the detection log. Page and PageSize are the request key.
type LogPage struct {
	Items      []LogRecord `json:"items"`
	TotalCount int         `json:"total_count"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
}

// PageCount never reports zero pages, even for an empty log
func (p *LogPage) PageCount() int {
	return PageCount(p.TotalCount, p.PageSize)
}

func PageCount(totalCount, pageSize int) int {
	if pageSize <= 0 || totalCount <= 0 {
		return 1
	}
	return (totalCount + pageSize - 1) / pageSize
}

// AlertEpisode covers one Idle -> Alerting -> Idle cycle
type AlertEpisode struct {
	ID         string      `json:"id"`
	DeviceID   string      `json:"device_id"`
	Message    string      `json:"message"`
	Detections []Detection `json:"detections"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    *time.Time  `json:"ended_at,omitempty"`
	EndReason  string      `json:"end_reason,omitempty"`
}

// AlertEvent is what gets published for each alert transition
type AlertEvent struct {
	Type    string       `json:"type"` // alert_started | alert_ended
	Episode AlertEpisode `json:"episode"`
}

const (
	EventAlertStarted = "alert_started"
	EventAlertEnded   = "alert_ended"
)

// PipelineCommand is a remote start/stop request
type PipelineCommand struct {
	Action   CommandAction `json:"action"`
	DeviceID string        `json:"device_id"`
	ArmAudio bool          `json:"arm_audio"`
}

type Heartbeat struct {
	DeviceID  string        `json:"device_id"`
	Action    CommandAction `json:"action"`
	Requests  uint64        `json:"requests"`
	Alerting  bool          `json:"alerting"`
	TimeStamp time.Time     `json:"timestamp"`
}

// Timestamp accepts the RFC 3339 and "2006-01-02 15:04:05" forms the log backend emits
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}

	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// OutboxMessage is a journalled alert event waiting to be published
type OutboxMessage struct {
	ID        string    `json:"id"`
	EpisodeID string    `json:"episode_id"`
	EventType string    `json:"event_type"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}
