package checkout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/platewise/orderflow/internal/events"
	"github.com/platewise/orderflow/internal/gateway"
	"github.com/platewise/orderflow/internal/orders"
	"github.com/platewise/orderflow/pkg/models"
)

// stubGateway scripts confirmation outcomes and counts invocations.
type stubGateway struct {
	confirmCalls int32
	result       gateway.ConfirmResult
	err          error
}

func (g *stubGateway) CreateIntent(_ context.Context, _ int64, _ string) (gateway.IntentRef, error) {
	return gateway.IntentRef{
		IntentID:     "pi_" + uuid.New().String(),
		ClientSecret: "secret_" + uuid.New().String(),
	}, nil
}

func (g *stubGateway) ConfirmPayment(_ context.Context, _ string, _ gateway.BillingDetails) (gateway.ConfirmResult, error) {
	atomic.AddInt32(&g.confirmCalls, 1)
	return g.result, g.err
}

func (g *stubGateway) calls() int32 {
	return atomic.LoadInt32(&g.confirmCalls)
}

// stubManager implements IntentManager over a real store and a stub gateway.
type stubManager struct {
	store         orders.Store
	gw            gateway.Adapter
	intentsIssued int32
	invalidated   []string
}

func (m *stubManager) CreateIntent(ctx context.Context, cart *models.CartSnapshot, userID string, delivery models.DeliveryDetails) (*models.PaymentIntent, error) {
	order, err := m.store.CreateProvisionalOrder(ctx, cart, userID, delivery)
	if err != nil {
		return nil, err
	}
	ref, err := m.gw.CreateIntent(ctx, cart.Subtotal(), "usd")
	if err != nil {
		return nil, err
	}
	atomic.AddInt32(&m.intentsIssued, 1)
	return &models.PaymentIntent{
		IntentID:     ref.IntentID,
		ClientSecret: ref.ClientSecret,
		Amount:       cart.Subtotal(),
		Currency:     "usd",
		GatewayKind:  models.GatewayMock,
		Status:       models.IntentCreated,
		OrderID:      order.ID,
		CreatedAt:    time.Now(),
	}, nil
}

func (m *stubManager) GatewayFor(_ *models.PaymentIntent) gateway.Adapter {
	return m.gw
}

func (m *stubManager) InvalidateIntent(intentID string) {
	m.invalidated = append(m.invalidated, intentID)
}

// failingConfirmStore makes the order-confirm write fail while everything
// else behaves normally.
type failingConfirmStore struct {
	orders.Store
	confirmErr error
}

func (s *failingConfirmStore) ConfirmOrder(_ context.Context, _ string) (*models.Order, error) {
	return nil, s.confirmErr
}

// capturePublisher records published events.
type capturePublisher struct {
	confirmed []events.OrderConfirmedEvent
	lost      []events.ConfirmLostEvent
	status    []events.OrderStatusChangedEvent
}

func (p *capturePublisher) PublishOrderConfirmed(e events.OrderConfirmedEvent) error {
	p.confirmed = append(p.confirmed, e)
	return nil
}

func (p *capturePublisher) PublishStatusChanged(e events.OrderStatusChangedEvent) error {
	p.status = append(p.status, e)
	return nil
}

func (p *capturePublisher) PublishConfirmLost(e events.ConfirmLostEvent) error {
	p.lost = append(p.lost, e)
	return nil
}
