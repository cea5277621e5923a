package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// ConfirmLostHandler processes confirm-lost events. Returning an error leaves
// the message unmarked so the consumer group redelivers it; the downstream
// confirm is idempotent, so redelivery is safe.
type ConfirmLostHandler interface {
	HandleConfirmLost(ctx context.Context, event ConfirmLostEvent) error
}

type KafkaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	handler       ConfirmLostHandler
	logger        *logrus.Logger
	topics        []string
}

func NewKafkaConsumer(brokers, groupID string, handler ConfirmLostHandler, logger *logrus.Logger) (*KafkaConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(strings.Split(brokers, ","), groupID, config)
	if err != nil {
		return nil, err
	}

	return &KafkaConsumer{
		consumerGroup: consumerGroup,
		handler:       handler,
		logger:        logger,
		topics:        []string{OrderConfirmLostTopic},
	}, nil
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{handler: c.handler, logger: c.logger}

	for {
		if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
			c.logger.WithError(err).Error("Error from consumer group")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.consumerGroup.Close()
}

type consumerGroupHandler struct {
	handler ConfirmLostHandler
	logger  *logrus.Logger
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var event ConfirmLostEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			h.logger.WithError(err).WithField("offset", message.Offset).Error("Failed to unmarshal confirm-lost event")
			session.MarkMessage(message, "")
			continue
		}

		if err := h.handler.HandleConfirmLost(session.Context(), event); err != nil {
			h.logger.WithError(err).WithField("order_id", event.OrderID).Error("Failed to process confirm-lost event")
			// Left unmarked for redelivery.
			continue
		}

		session.MarkMessage(message, "")
	}
	return nil
}
