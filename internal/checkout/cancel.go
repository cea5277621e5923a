package checkout

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/platewise/orderflow/internal/events"
	"github.com/platewise/orderflow/internal/orders"
	"github.com/platewise/orderflow/pkg/models"
)

// Canceller is the customer-facing cancellation handler. Legality is enforced
// by the store's state machine; the handler's own job is clearing the
// session's cached order reference so the next checkout starts clean.
type Canceller struct {
	store     orders.Store
	publisher events.Publisher // nil when Kafka is not configured
	session   *Session
	logger    *logrus.Logger
}

func NewCanceller(store orders.Store, session *Session, logger *logrus.Logger) *Canceller {
	return &Canceller{store: store, session: session, logger: logger}
}

func (c *Canceller) SetPublisher(p events.Publisher) {
	c.publisher = p
}

func (c *Canceller) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := c.store.CancelOrder(ctx, orderID)
	if err != nil {
		c.logger.WithError(err).WithField("order_id", orderID).Warn("Cancellation rejected")
		return nil, err
	}

	if c.session.CurrentOrderID() == orderID {
		c.session.clearCurrentOrder()
	}

	if c.publisher != nil {
		pubErr := c.publisher.PublishStatusChanged(events.OrderStatusChangedEvent{
			OrderID:   order.ID,
			NewStatus: models.StatusCancelled,
			Actor:     models.ActorCustomer,
		})
		if pubErr != nil {
			c.logger.WithError(pubErr).WithField("order_id", order.ID).Error("Failed to publish cancellation event")
		}
	}

	c.logger.WithField("order_id", orderID).Info("Order cancelled by customer")
	return order, nil
}
