package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/platewise/orderflow/internal/cart"
	"github.com/platewise/orderflow/internal/events"
	"github.com/platewise/orderflow/internal/gateway"
	"github.com/platewise/orderflow/internal/metrics"
	"github.com/platewise/orderflow/internal/orders"
	"github.com/platewise/orderflow/internal/payment"
	"github.com/platewise/orderflow/pkg/models"
)

// PaymentError is an explicit gateway decline. The order stays pending and
// the user may retry with a fresh intent.
type PaymentError struct {
	Reason string
}

func (e *PaymentError) Error() string {
	return "payment failed: " + e.Reason
}

// RunState tracks where a single confirmation run is; used for logging and
// metrics, never persisted.
type RunState int

const (
	RunNotStarted RunState = iota
	RunAwaitingGatewayConfirmation
	RunAwaitingOrderConfirmation
	RunConfirmed
	RunFailed
)

func (s RunState) String() string {
	switch s {
	case RunNotStarted:
		return "not_started"
	case RunAwaitingGatewayConfirmation:
		return "awaiting_gateway_confirmation"
	case RunAwaitingOrderConfirmation:
		return "awaiting_order_confirmation"
	case RunConfirmed:
		return "confirmed"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of a confirmation run. RequiresAction means the
// gateway suspended the confirmation pending a client-side redirect; the run
// is neither confirmed nor failed and must be resumed with the same intent.
type Outcome struct {
	OrderID        string `json:"order_id"`
	RequiresAction bool   `json:"requires_action,omitempty"`
	RedirectURL    string `json:"redirect_url,omitempty"`
}

// IntentManager is the slice of the payment manager the orchestrator needs.
type IntentManager interface {
	CreateIntent(ctx context.Context, cart *models.CartSnapshot, userID string, delivery models.DeliveryDetails) (*models.PaymentIntent, error)
	GatewayFor(intent *models.PaymentIntent) gateway.Adapter
	// InvalidateIntent consumes a settled intent so it cannot be confirmed
	// again.
	InvalidateIntent(intentID string)
}

// RetryPolicy bounds user re-attempts after an explicit payment decline.
// Each attempt gets a fresh intent.
type RetryPolicy struct {
	MaxAttempts int
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3}

// Session holds the client-side checkout state shared between the
// orchestrator and the cancellation handler: the id of the order the current
// session considers "in flight".
type Session struct {
	mutex          sync.Mutex
	currentOrderID string
}

func (s *Session) CurrentOrderID() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.currentOrderID
}

func (s *Session) setCurrentOrder(orderID string) {
	s.mutex.Lock()
	s.currentOrderID = orderID
	s.mutex.Unlock()
}

func (s *Session) clearCurrentOrder() {
	s.mutex.Lock()
	s.currentOrderID = ""
	s.mutex.Unlock()
}

// Orchestrator drives gateway confirmation, the idempotent order-confirm
// write, and the cart clear, in that order.
type Orchestrator struct {
	manager   IntentManager
	store     orders.Store
	cart      cart.Store
	publisher events.Publisher // nil when Kafka is not configured
	session   *Session
	retry     RetryPolicy
	logger    *logrus.Logger
}

func NewOrchestrator(manager IntentManager, store orders.Store, cartStore cart.Store, session *Session, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		manager: manager,
		store:   store,
		cart:    cartStore,
		session: session,
		retry:   DefaultRetryPolicy,
		logger:  logger,
	}
}

// SetPublisher installs the Kafka producer. Publish failures never fail a
// confirmation.
func (o *Orchestrator) SetPublisher(p events.Publisher) {
	o.publisher = p
}

func (o *Orchestrator) SetRetryPolicy(policy RetryPolicy) {
	if policy.MaxAttempts > 0 {
		o.retry = policy
	}
}

// Confirm runs one confirmation attempt for an existing intent.
//
// The one deliberately absorbed failure is the confirm-lost case: the gateway
// captured the payment but the order-confirm write failed. Rolling back the
// payment is not an option, so the original order id is reported as confirmed
// and the inconsistency is logged and published for reconciliation instead of
// telling the user a paid order failed.
func (o *Orchestrator) Confirm(ctx context.Context, intent *models.PaymentIntent, delivery models.DeliveryDetails) (Outcome, error) {
	state := RunNotStarted
	log := o.logger.WithFields(logrus.Fields{
		"intent_id": intent.IntentID,
		"order_id":  intent.OrderID,
		"gateway":   intent.GatewayKind,
	})

	if err := ValidateDelivery(delivery); err != nil {
		metrics.ConfirmAttempts.WithLabelValues("validation_failed").Inc()
		return Outcome{}, err
	}

	state = RunAwaitingGatewayConfirmation
	adapter := o.manager.GatewayFor(intent)
	result, err := adapter.ConfirmPayment(ctx, intent.IntentID, billingFrom(delivery))
	if err != nil {
		intent.Status = models.IntentFailed
		o.manager.InvalidateIntent(intent.IntentID)
		metrics.ConfirmAttempts.WithLabelValues("payment_failed").Inc()
		log.WithError(err).WithField("run_state", state.String()).Warn("Gateway confirmation errored")
		return Outcome{}, &PaymentError{Reason: err.Error()}
	}
	if result.RedirectURL != "" {
		// Suspension point, not a failure: the intent stays live and the
		// caller resumes once the external action completes.
		log.WithField("redirect_url", result.RedirectURL).Info("Gateway requires further user action")
		return Outcome{OrderID: intent.OrderID, RequiresAction: true, RedirectURL: result.RedirectURL}, nil
	}
	if !result.OK {
		intent.Status = models.IntentFailed
		o.manager.InvalidateIntent(intent.IntentID)
		metrics.ConfirmAttempts.WithLabelValues("payment_failed").Inc()
		log.WithField("reason", result.Reason).Warn("Gateway declined payment")
		return Outcome{}, &PaymentError{Reason: result.Reason}
	}

	intent.Status = models.IntentConfirmed
	state = RunAwaitingOrderConfirmation

	confirmedID := intent.OrderID
	order, err := o.store.ConfirmOrder(ctx, intent.OrderID)
	if err != nil {
		// Payment captured, confirm call lost. Absorb.
		metrics.ConfirmLost.Inc()
		log.WithError(err).WithField("run_state", state.String()).
			Error("Order confirm failed after payment capture, keeping original order id for reconciliation")
		o.publishConfirmLost(intent, err)
	} else {
		confirmedID = order.ID
		metrics.OrderAmount.Observe(float64(order.TotalAmount))
		o.publishConfirmed(order)
	}

	state = RunConfirmed
	o.cart.Clear()
	o.session.setCurrentOrder(confirmedID)
	// The intent is spent; the next confirm must start a fresh checkout.
	o.manager.InvalidateIntent(intent.IntentID)
	metrics.ConfirmAttempts.WithLabelValues("confirmed").Inc()
	log.WithField("run_state", state.String()).Info("Order confirmed and cart cleared")

	return Outcome{OrderID: confirmedID}, nil
}

// Run is the full checkout flow: snapshot the cart, create an intent, and
// confirm, retrying declined payments with a fresh intent up to the policy
// bound. Non-payment errors stop the loop immediately.
func (o *Orchestrator) Run(ctx context.Context, userID string, delivery models.DeliveryDetails) (Outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		snapshot, err := o.cart.Snapshot()
		if err != nil {
			return Outcome{}, err
		}

		intent, err := o.manager.CreateIntent(ctx, snapshot, userID, delivery)
		if err != nil {
			if errors.Is(err, payment.ErrIntentSuperseded) {
				// A newer checkout attempt owns the session now; this one
				// is discarded silently.
				return Outcome{}, err
			}
			return Outcome{}, err
		}

		outcome, err := o.Confirm(ctx, intent, delivery)
		if err == nil {
			return outcome, nil
		}

		var payErr *PaymentError
		if !errors.As(err, &payErr) {
			return Outcome{}, err
		}
		lastErr = err
		o.logger.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": o.retry.MaxAttempts,
			"reason":       payErr.Reason,
		}).Warn("Payment attempt failed, retrying with a fresh intent")
	}
	return Outcome{}, fmt.Errorf("payment retries exhausted: %w", lastErr)
}

func (o *Orchestrator) publishConfirmed(order *models.Order) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.PublishOrderConfirmed(events.OrderConfirmedEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
	})
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to publish order confirmed event")
	}
}

func (o *Orchestrator) publishConfirmLost(intent *models.PaymentIntent, cause error) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.PublishConfirmLost(events.ConfirmLostEvent{
		OrderID:  intent.OrderID,
		IntentID: intent.IntentID,
		Reason:   cause.Error(),
	})
	if err != nil {
		o.logger.WithError(err).WithField("order_id", intent.OrderID).Error("Failed to publish confirm-lost event")
	}
}

func billingFrom(d models.DeliveryDetails) gateway.BillingDetails {
	return gateway.BillingDetails{
		Name:    d.Name,
		Email:   d.Email,
		Address: d.Address,
		City:    d.City,
		Country: d.Country,
	}
}
