package queue

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// MessageHandler processes one task message. Returning an error leaves the
// offset unmarked, so the message is redelivered after rebalance or restart;
// handlers record per-task failures in the job store themselves and return
// nil for those.
type MessageHandler func(ctx context.Context, msg *TaskMessage) error

// Consumer wraps a Kafka consumer group delivering task messages at least
// once.
type Consumer struct {
	group  sarama.ConsumerGroup
	logger zerolog.Logger
}

// NewConsumer joins the given consumer group, starting from the oldest
// offset so tasks enqueued while no worker was running are not lost.
func NewConsumer(brokers []string, groupID string, logger zerolog.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}
	return &Consumer{group: group, logger: logger}, nil
}

// Consume blocks processing messages from the topic until ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, topic string, handler MessageHandler) error {
	h := &groupHandler{fn: handler, ctx: ctx, logger: c.logger}
	for {
		if err := c.group.Consume(ctx, []string{topic}, h); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	fn     MessageHandler
	ctx    context.Context
	logger zerolog.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var task TaskMessage
		if err := json.Unmarshal(msg.Value, &task); err != nil {
			// Malformed payload: nothing a redelivery can fix.
			h.logger.Error().Err(err).Msg("queue: dropping undecodable task message")
			session.MarkMessage(msg, "")
			continue
		}
		if err := h.fn(h.ctx, &task); err != nil {
			h.logger.Error().Err(err).Str("job_id", task.JobID).Msg("queue: task handling failed, leaving for redelivery")
			continue
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
