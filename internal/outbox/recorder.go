package outbox

import (
	"context"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"go.uber.org/zap"
)

const drainTimeout = 5 * time.Second

type Journal interface {
	RecordEpisodeStart(ctx context.Context, episode models.AlertEpisode) error
	RecordEpisodeEnd(ctx context.Context, episode models.AlertEpisode) error
}

// Recorder receives alert transitions without blocking the alert controller and writes them
// to the journal from its own goroutine
type Recorder struct {
	journal Journal
	events  chan models.AlertEvent
	logger  *zap.Logger
}

func NewRecorder(journal Journal, buffer int, logger *zap.Logger) *Recorder {
	return &Recorder{
		journal: journal,
		events:  make(chan models.AlertEvent, buffer),
		logger:  logger.With(zap.String("component", "journal")),
	}
}

func (r *Recorder) AlertStarted(episode models.AlertEpisode) {
	r.enqueue(models.AlertEvent{Type: models.EventAlertStarted, Episode: episode})
}

func (r *Recorder) AlertEnded(episode models.AlertEpisode) {
	r.enqueue(models.AlertEvent{Type: models.EventAlertEnded, Episode: episode})
}

func (r *Recorder) enqueue(event models.AlertEvent) {
	select {
	case r.events <- event:
	default:
		r.logger.Error("journal queue full, event dropped",
			zap.String("type", event.Type),
			zap.String("episode", event.Episode.ID),
		)
	}
}

// Run writes queued events until ctx is done, then flushes what is left
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case event := <-r.events:
			r.write(ctx, event)
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case event := <-r.events:
			r.write(ctx, event)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, event models.AlertEvent) {
	var err error
	if event.Type == models.EventAlertStarted {
		err = r.journal.RecordEpisodeStart(ctx, event.Episode)
	} else {
		err = r.journal.RecordEpisodeEnd(ctx, event.Episode)
	}
	if err != nil {
		r.logger.Error("journal write failed",
			zap.String("type", event.Type),
			zap.String("episode", event.Episode.ID),
			zap.Error(err),
		)
	}
}
