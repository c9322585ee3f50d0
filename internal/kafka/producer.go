package kafka

import (
	"fmt"

	"github.com/Capitan-Parrot/firewatch/internal/models"
	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
)

type Producer struct {
	producer       sarama.SyncProducer
	heartbeatTopic string
}

func NewProducer(brokers []string, heartbeatTopic string) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, err
	}
	return NewProducerFrom(producer, heartbeatTopic), nil
}

func ProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	return config
}

// NewProducerFrom wraps an existing SyncProducer
func NewProducerFrom(producer sarama.SyncProducer, heartbeatTopic string) *Producer {
	return &Producer{
		producer:       producer,
		heartbeatTopic: heartbeatTopic,
	}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

func (p *Producer) SendHeartbeat(msg models.Heartbeat) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.Send(p.heartbeatTopic, msg.DeviceID, payload)
}

// Send publishes one already encoded payload
func (p *Producer) Send(topic, key string, payload []byte) error {
	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err := p.producer.SendMessage(kafkaMsg); err != nil {
		return fmt.Errorf("send to %s: %w", topic, err)
	}
	return nil
}
