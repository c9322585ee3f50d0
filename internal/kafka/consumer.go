package kafka

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const consumeRetryDelay = 5 * time.Second

// Consumer wraps a sarama ConsumerGroup and hands messages over one at a time
type Consumer struct {
	group    sarama.ConsumerGroup
	topic    string
	messages chan Message
	closed   chan struct{}
	logger   *zap.Logger
}

// Message is a consumed record. Ack marks it only after the command was handled.
type Message struct {
	Key   string
	Value []byte
	ack   func()
}

func NewMessage(key string, value []byte, ack func()) Message {
	return Message{Key: key, Value: value, ack: ack}
}

func (m Message) Ack() {
	if m.ack != nil {
		m.ack()
	}
}

func NewConsumer(brokers []string, groupID, topic string, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_6_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetNewest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:    group,
		topic:    topic,
		messages: make(chan Message),
		closed:   make(chan struct{}),
		logger:   logger.With(zap.String("component", "kafka-consumer"), zap.String("topic", topic)),
	}, nil
}

// StartListening consumes in the background until ctx is cancelled, rejoining the group on errors
func (c *Consumer) StartListening(ctx context.Context) {
	handler := &consumerGroupHandler{
		messages: c.messages,
		closed:   c.closed,
	}

	go func() {
		defer close(c.messages)

		for {
			c.logger.Debug("starting consumption cycle")
			if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
				c.logger.Warn("consume failed", zap.Error(err), zap.Duration("retry_in", consumeRetryDelay))
				select {
				case <-ctx.Done():
					return
				case <-time.After(consumeRetryDelay):
				}
				continue
			}

			if ctx.Err() != nil {
				c.logger.Info("context cancelled, consumer stopped")
				return
			}
		}
	}()
}

func (c *Consumer) Close() error {
	close(c.closed)
	return c.group.Close()
}

func (c *Consumer) Messages() <-chan Message {
	return c.messages
}

type consumerGroupHandler struct {
	messages chan<- Message
	closed   <-chan struct{}
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			select {
			case h.messages <- NewMessage(string(msg.Key), msg.Value, func() { sess.MarkMessage(msg, "") }):
			case <-sess.Context().Done():
				return nil
			case <-h.closed:
				return nil
			}
		case <-sess.Context().Done():
			return nil
		case <-h.closed:
			return nil
		}
	}
}
