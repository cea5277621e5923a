package payment

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/orderflow/internal/gateway"
	"github.com/platewise/orderflow/internal/orders"
	"github.com/platewise/orderflow/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// stubAdapter counts calls and optionally fails intent creation. onCreate, if
// set, runs inside CreateIntent with the one-based call number.
type stubAdapter struct {
	createCalls int32
	err         error
	onCreate    func(call int32)
}

func (a *stubAdapter) CreateIntent(_ context.Context, _ int64, _ string) (gateway.IntentRef, error) {
	call := atomic.AddInt32(&a.createCalls, 1)
	if a.onCreate != nil {
		a.onCreate(call)
	}
	if a.err != nil {
		return gateway.IntentRef{}, a.err
	}
	return gateway.IntentRef{IntentID: "pi_stub", ClientSecret: "secret_stub"}, nil
}

func (a *stubAdapter) ConfirmPayment(_ context.Context, _ string, _ gateway.BillingDetails) (gateway.ConfirmResult, error) {
	return gateway.ConfirmResult{OK: true}, nil
}

type stubLookup struct {
	id, name string
	err      error
}

func (l *stubLookup) ResolveRestaurant(_ context.Context, _ string) (string, string, error) {
	return l.id, l.name, l.err
}

// countingStore counts provisional-order writes.
type countingStore struct {
	orders.Store
	creates int32
}

func (s *countingStore) CreateProvisionalOrder(ctx context.Context, cart *models.CartSnapshot, userID string, delivery models.DeliveryDetails) (*models.Order, error) {
	atomic.AddInt32(&s.creates, 1)
	return s.Store.CreateProvisionalOrder(ctx, cart, userID, delivery)
}

func pizzaSnapshot() *models.CartSnapshot {
	return &models.CartSnapshot{
		Items: []models.CartItem{
			{ItemID: "pizza", Name: "Pizza", UnitPrice: 300, Quantity: 2, RestaurantID: "rest-1"},
		},
		RestaurantID:   "rest-1",
		RestaurantName: "Luigi's",
	}
}

func delivery() models.DeliveryDetails {
	return models.DeliveryDetails{
		Name:    "Ada",
		Email:   "ada@example.com",
		Address: "1 Main St",
		City:    "Springfield",
		Country: "US",
	}
}

func newManager(real, mock gateway.Adapter) (*Manager, *orders.MemoryStore) {
	store := orders.NewMemoryStore(testLogger())
	m := NewManager(real, mock, store, "usd", testLogger())
	m.SetDebounce(time.Millisecond)
	return m, store
}

func TestCreateIntentMockOnly(t *testing.T) {
	mock := &stubAdapter{}
	m, store := newManager(nil, mock)

	intent, err := m.CreateIntent(context.Background(), pizzaSnapshot(), "user-1", delivery())
	require.NoError(t, err)

	assert.Equal(t, models.GatewayMock, intent.GatewayKind)
	assert.Equal(t, int64(600), intent.Amount)
	assert.Equal(t, models.IntentCreated, intent.Status)
	require.NotEmpty(t, intent.OrderID)

	order, err := store.GetOrder(context.Background(), intent.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, intent.Amount, order.TotalAmount)

	assert.Same(t, intent, m.CurrentIntent())
}

func TestCreateIntentPrefersRealGateway(t *testing.T) {
	real := &stubAdapter{}
	mock := &stubAdapter{}
	m, _ := newManager(real, mock)

	intent, err := m.CreateIntent(context.Background(), pizzaSnapshot(), "user-1", delivery())
	require.NoError(t, err)
	assert.Equal(t, models.GatewayReal, intent.GatewayKind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&real.createCalls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&mock.createCalls))
}

func TestCreateIntentFallsBackToMock(t *testing.T) {
	real := &stubAdapter{err: gateway.ErrGatewayUnavailable}
	mock := &stubAdapter{}
	m, _ := newManager(real, mock)

	intent, err := m.CreateIntent(context.Background(), pizzaSnapshot(), "user-1", delivery())
	require.NoError(t, err)

	// Degraded mode is tagged, not hidden.
	assert.Equal(t, models.GatewayMock, intent.GatewayKind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&mock.createCalls))
}

func TestCreateIntentMissingRestaurantContext(t *testing.T) {
	mock := &stubAdapter{}
	m, _ := newManager(nil, mock)

	snapshot := &models.CartSnapshot{
		Items: []models.CartItem{{ItemID: "pizza", UnitPrice: 300, Quantity: 1}},
	}
	_, err := m.CreateIntent(context.Background(), snapshot, "user-1", delivery())
	assert.ErrorIs(t, err, ErrMissingRestaurantContext)
	assert.Equal(t, int32(0), atomic.LoadInt32(&mock.createCalls), "no network call without a merchant")
}

func TestCreateIntentResolvesRestaurantViaLookup(t *testing.T) {
	mock := &stubAdapter{}
	m, _ := newManager(nil, mock)
	m.SetRestaurantLookup(&stubLookup{id: "rest-9", name: "Nine Dragons"})

	snapshot := &models.CartSnapshot{
		Items: []models.CartItem{{ItemID: "dumplings", UnitPrice: 500, Quantity: 1}},
	}
	intent, err := m.CreateIntent(context.Background(), snapshot, "user-1", delivery())
	require.NoError(t, err)
	assert.Equal(t, "rest-9", snapshot.RestaurantID)
	assert.NotEmpty(t, intent.OrderID)
}

func TestCreateIntentInvalidAmount(t *testing.T) {
	mock := &stubAdapter{}
	m, _ := newManager(nil, mock)

	snapshot := &models.CartSnapshot{
		Items:        []models.CartItem{{ItemID: "freebie", UnitPrice: 0, Quantity: 1, RestaurantID: "rest-1"}},
		RestaurantID: "rest-1",
	}
	_, err := m.CreateIntent(context.Background(), snapshot, "user-1", delivery())
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, int32(0), atomic.LoadInt32(&mock.createCalls))
}

func TestCreateIntentDebounceSupersedes(t *testing.T) {
	mock := &stubAdapter{}
	m, _ := newManager(nil, mock)
	m.SetDebounce(50 * time.Millisecond)

	type result struct {
		intent *models.PaymentIntent
		err    error
	}
	first := make(chan result, 1)

	go func() {
		intent, err := m.CreateIntent(context.Background(), pizzaSnapshot(), "user-1", delivery())
		first <- result{intent, err}
	}()

	// Let the first request enter its debounce window, then fire a second.
	time.Sleep(10 * time.Millisecond)
	second, err := m.CreateIntent(context.Background(), pizzaSnapshot(), "user-1", delivery())
	require.NoError(t, err)

	got := <-first
	assert.ErrorIs(t, got.err, ErrIntentSuperseded, "the earlier request must be discarded")
	assert.Same(t, second, m.CurrentIntent())
	assert.Equal(t, int32(1), atomic.LoadInt32(&mock.createCalls), "superseded request must not reach the gateway")
}

func TestNewIntentInvalidatesPrevious(t *testing.T) {
	mock := &stubAdapter{}
	m, _ := newManager(nil, mock)

	firstIntent, err := m.CreateIntent(context.Background(), pizzaSnapshot(), "user-1", delivery())
	require.NoError(t, err)
	secondIntent, err := m.CreateIntent(context.Background(), pizzaSnapshot(), "user-1", delivery())
	require.NoError(t, err)

	assert.NotSame(t, firstIntent, secondIntent)
	assert.Same(t, secondIntent, m.CurrentIntent())
}

func TestInvalidateIntentConsumesCurrent(t *testing.T) {
	mock := &stubAdapter{}
	m, _ := newManager(nil, mock)

	intent, err := m.CreateIntent(context.Background(), pizzaSnapshot(), "user-1", delivery())
	require.NoError(t, err)
	require.Same(t, intent, m.CurrentIntent())

	m.InvalidateIntent(intent.IntentID)
	assert.Nil(t, m.CurrentIntent(), "a consumed intent must not remain outstanding")

	// Invalidating a stale id must not touch a newer intent.
	newer, err := m.CreateIntent(context.Background(), pizzaSnapshot(), "user-1", delivery())
	require.NoError(t, err)
	m.InvalidateIntent("pi_long_gone")
	assert.Same(t, newer, m.CurrentIntent())
}

func TestLateSupersedeSkipsProvisionalOrder(t *testing.T) {
	store := &countingStore{Store: orders.NewMemoryStore(testLogger())}

	gate := make(chan struct{})
	mock := &stubAdapter{onCreate: func(call int32) {
		if call == 1 {
			<-gate
		}
	}}

	m := NewManager(nil, mock, store, "usd", testLogger())
	m.SetDebounce(time.Millisecond)

	firstErr := make(chan error, 1)
	go func() {
		_, err := m.CreateIntent(context.Background(), pizzaSnapshot(), "user-1", delivery())
		firstErr <- err
	}()

	// Let the first request block inside its gateway call, then win the
	// session with a second request.
	time.Sleep(20 * time.Millisecond)
	second, err := m.CreateIntent(context.Background(), pizzaSnapshot(), "user-1", delivery())
	require.NoError(t, err)

	close(gate)
	assert.ErrorIs(t, <-firstErr, ErrIntentSuperseded)

	// The loser backed out before writing an order; only the winner's exists.
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.creates))
	assert.Same(t, second, m.CurrentIntent())
}

func TestGatewayForUsesTaggedKind(t *testing.T) {
	real := &stubAdapter{}
	mock := &stubAdapter{}
	m, _ := newManager(real, mock)

	assert.Same(t, real, m.GatewayFor(&models.PaymentIntent{GatewayKind: models.GatewayReal}).(*stubAdapter))
	assert.Same(t, mock, m.GatewayFor(&models.PaymentIntent{GatewayKind: models.GatewayMock}).(*stubAdapter))
}
