package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/platewise/orderflow/pkg/models"
)

const (
	OrderConfirmedTopic     = "order.confirmed"
	OrderStatusChangedTopic = "order.status.changed"
	OrderConfirmLostTopic   = "order.confirm.lost"
)

type OrderConfirmedEvent struct {
	OrderID     string    `json:"order_id"`
	UserID      string    `json:"user_id"`
	TotalAmount int64     `json:"total_amount"`
	EventTime   time.Time `json:"event_time"`
}

type OrderStatusChangedEvent struct {
	OrderID   string             `json:"order_id"`
	OldStatus models.OrderStatus `json:"old_status"`
	NewStatus models.OrderStatus `json:"new_status"`
	Actor     models.Actor       `json:"actor"`
	EventTime time.Time          `json:"event_time"`
}

// ConfirmLostEvent records a payment that was captured while the
// order-confirm call failed. The reconciler replays the idempotent confirm
// until the stored state matches the captured payment.
type ConfirmLostEvent struct {
	OrderID   string    `json:"order_id"`
	IntentID  string    `json:"intent_id"`
	Reason    string    `json:"reason"`
	EventTime time.Time `json:"event_time"`
}

// Publisher is the slice of the producer the checkout and API layers use.
// Publish failures are logged by callers and never fail the request.
type Publisher interface {
	PublishOrderConfirmed(event OrderConfirmedEvent) error
	PublishStatusChanged(event OrderStatusChangedEvent) error
	PublishConfirmLost(event ConfirmLostEvent) error
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers string, logger *logrus.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
	if err != nil {
		return nil, err
	}

	return &KafkaProducer{producer: producer, logger: logger}, nil
}

func (p *KafkaProducer) PublishOrderConfirmed(event OrderConfirmedEvent) error {
	event.EventTime = time.Now()
	return p.publish(OrderConfirmedTopic, event.OrderID, event)
}

func (p *KafkaProducer) PublishStatusChanged(event OrderStatusChangedEvent) error {
	event.EventTime = time.Now()
	return p.publish(OrderStatusChangedTopic, event.OrderID, event)
}

func (p *KafkaProducer) PublishConfirmLost(event ConfirmLostEvent) error {
	event.EventTime = time.Now()
	return p.publish(OrderConfirmLostTopic, event.OrderID, event)
}

func (p *KafkaProducer) publish(topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"key":       key,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
