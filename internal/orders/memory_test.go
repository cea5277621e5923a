package orders

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platewise/orderflow/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testCart() *models.CartSnapshot {
	return &models.CartSnapshot{
		Items: []models.CartItem{
			{ItemID: "pizza", Name: "Pizza", UnitPrice: 300, Quantity: 2, RestaurantID: "rest-1"},
		},
		RestaurantID:   "rest-1",
		RestaurantName: "Luigi's",
	}
}

func testDelivery() models.DeliveryDetails {
	return models.DeliveryDetails{
		Name:    "Ada",
		Email:   "ada@example.com",
		Address: "1 Main St",
		City:    "Springfield",
		Country: "US",
	}
}

func TestCreateProvisionalOrderFixesTotal(t *testing.T) {
	store := NewMemoryStore(testLogger())

	order, err := store.CreateProvisionalOrder(context.Background(), testCart(), "user-1", testDelivery())
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, int64(600), order.TotalAmount)

	// Recomputing from the recorded snapshot must reproduce the stored figure.
	var recomputed int64
	for _, item := range order.Items {
		recomputed += item.UnitPrice * int64(item.Quantity)
	}
	assert.Equal(t, order.TotalAmount, recomputed)
}

func TestCreateProvisionalOrderRejectsEmptyCart(t *testing.T) {
	store := NewMemoryStore(testLogger())

	_, err := store.CreateProvisionalOrder(context.Background(), &models.CartSnapshot{RestaurantID: "rest-1"}, "user-1", testDelivery())
	assert.ErrorIs(t, err, models.ErrEmptyCart)
}

func TestConfirmOrderIdempotent(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	order, err := store.CreateProvisionalOrder(ctx, testCart(), "user-1", testDelivery())
	require.NoError(t, err)

	first, err := store.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, first.Status)

	second, err := store.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "duplicate confirm must have no side effect")
}

func TestConfirmOrderAfterMerchantAdvance(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	order, _ := store.CreateProvisionalOrder(ctx, testCart(), "user-1", testDelivery())
	_, err := store.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)
	_, err = store.TransitionOrder(ctx, order.ID, models.StatusPreparing, models.ActorMerchant)
	require.NoError(t, err)

	// A late duplicate confirm must not drag the order backwards.
	got, err := store.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreparing, got.Status)
}

func TestConfirmOrderOnCancelled(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	order, _ := store.CreateProvisionalOrder(ctx, testCart(), "user-1", testDelivery())
	_, err := store.CancelOrder(ctx, order.ID)
	require.NoError(t, err)

	_, err = store.ConfirmOrder(ctx, order.ID)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestTransitionRejectsBackwardMove(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	order, _ := store.CreateProvisionalOrder(ctx, testCart(), "user-1", testDelivery())
	_, err := store.TransitionOrder(ctx, order.ID, models.StatusPreparing, models.ActorMerchant)
	require.NoError(t, err)

	_, err = store.TransitionOrder(ctx, order.ID, models.StatusPending, models.ActorMerchant)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	stored, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreparing, stored.Status, "rejected transition must leave the order unchanged")
}

func TestCustomerCannotDriveHappyPath(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	order, _ := store.CreateProvisionalOrder(ctx, testCart(), "user-1", testDelivery())
	_, err := store.TransitionOrder(ctx, order.ID, models.StatusConfirmed, models.ActorCustomer)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestCancelOutsideWindow(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	order, _ := store.CreateProvisionalOrder(ctx, testCart(), "user-1", testDelivery())
	_, err := store.TransitionOrder(ctx, order.ID, models.StatusDelivered, models.ActorMerchant)
	require.NoError(t, err)

	_, err = store.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancelWithinWindow(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	for _, setup := range []models.OrderStatus{models.StatusPending, models.StatusConfirmed} {
		order, _ := store.CreateProvisionalOrder(ctx, testCart(), "user-1", testDelivery())
		if setup == models.StatusConfirmed {
			_, err := store.ConfirmOrder(ctx, order.ID)
			require.NoError(t, err)
		}
		cancelled, err := store.CancelOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, cancelled.Status)
	}
}

func TestUnknownOrder(t *testing.T) {
	store := NewMemoryStore(testLogger())
	_, err := store.GetOrder(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestConcurrentConfirms(t *testing.T) {
	store := NewMemoryStore(testLogger())
	ctx := context.Background()

	order, err := store.CreateProvisionalOrder(ctx, testCart(), "user-1", testDelivery())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const numGoroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConfirmOrder(ctx, order.ID); err != nil {
				t.Errorf("concurrent confirm: %v", err)
			}
		}()
	}
	wg.Wait()

	stored, err := store.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", stored.Status)
	}
}
