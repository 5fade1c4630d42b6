package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
)

type producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer connects a synchronous Kafka producer. Messages are keyed by
// job id and acknowledged by all in-sync replicas before Enqueue returns, so
// an accepted submission survives a broker restart.
func NewProducer(brokers []string, topic string) (Enqueuer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("queue: connect producer: %w", err)
	}
	return &producer{producer: p, topic: topic}, nil
}

func (p *producer) Enqueue(ctx context.Context, msg *TaskMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: encode task: %w", err)
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(msg.JobID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("queue: send task: %w", err)
	}
	return nil
}

func (p *producer) Close() error {
	return p.producer.Close()
}
