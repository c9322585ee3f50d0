package outbox

import (
	"context"
	"time"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const batchSize = 50

type Store interface {
	GetPendingOutboxMessages(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkOutboxMessageAsProcessed(ctx context.Context, id string) error
}

type Publisher interface {
	Send(topic, key string, payload []byte) error
}

// Dispatcher publishes pending outbox rows to Kafka, in order, at least once
type Dispatcher struct {
	store     Store
	publisher Publisher
	topic     string
	interval  time.Duration
	clock     clockwork.Clock
	logger    *zap.Logger
}

func NewDispatcher(store Store, publisher Publisher, topic string, interval time.Duration, clock clockwork.Clock, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		topic:     topic,
		interval:  interval,
		clock:     clock,
		logger:    logger.With(zap.String("component", "outbox")),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return
		case <-ticker.Chan():
			d.Dispatch(ctx)
		}
	}
}

// Dispatch sends one batch and returns how many messages were published. It stops at the
// first failed send so later events never overtake an earlier one.
func (d *Dispatcher) Dispatch(ctx context.Context) int {
	messages, err := d.store.GetPendingOutboxMessages(ctx, batchSize)
	if err != nil {
		d.logger.Warn("fetch outbox messages", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if err := d.publisher.Send(d.topic, msg.EpisodeID, msg.Payload); err != nil {
			d.logger.Warn("publish outbox message", zap.String("id", msg.ID), zap.Error(err))
			return sent
		}
		if err := d.store.MarkOutboxMessageAsProcessed(ctx, msg.ID); err != nil {
			d.logger.Error("mark outbox message processed", zap.String("id", msg.ID), zap.Error(err))
			return sent
		}
		sent++
	}
	return sent
}
