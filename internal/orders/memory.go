package orders

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platewise/orderflow/pkg/models"
)

// MemoryStore keeps orders in a process-local map. It backs development mode
// (no database configured) and tests. Writes to a single order are serialized
// by the store mutex.
type MemoryStore struct {
	orders map[string]*models.Order
	mutex  sync.RWMutex
	logger *logrus.Logger
}

func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*models.Order),
		logger: logger,
	}
}

func (s *MemoryStore) CreateProvisionalOrder(ctx context.Context, cart *models.CartSnapshot, userID string, delivery models.DeliveryDetails) (*models.Order, error) {
	if err := cart.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	order := &models.Order{
		ID:             uuid.New().String(),
		UserID:         userID,
		RestaurantID:   cart.RestaurantID,
		RestaurantName: cart.RestaurantName,
		Delivery:       delivery,
		Items:          append([]models.CartItem(nil), cart.Items...),
		TotalAmount:    cart.Subtotal(),
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mutex.Lock()
	s.orders[order.ID] = order
	s.mutex.Unlock()

	s.logger.WithFields(logrus.Fields{
		"order_id":     order.ID,
		"user_id":      userID,
		"total_amount": order.TotalAmount,
	}).Info("Provisional order created")

	return copyOrder(order), nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(order), nil
}

func (s *MemoryStore) ConfirmOrder(ctx context.Context, orderID string) (*models.Order, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}

	switch order.Status {
	case models.StatusPending:
		order.Status = models.StatusConfirmed
		order.UpdatedAt = time.Now()
	case models.StatusCancelled:
		return nil, ErrIllegalTransition
	default:
		// Already confirmed or further along; the duplicate call is a no-op.
	}
	return copyOrder(order), nil
}

func (s *MemoryStore) TransitionOrder(ctx context.Context, orderID string, newStatus models.OrderStatus, actor models.Actor) (*models.Order, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if err := checkTransition(order, newStatus, actor); err != nil {
		return nil, err
	}

	order.Status = newStatus
	order.UpdatedAt = time.Now()
	return copyOrder(order), nil
}

func (s *MemoryStore) CancelOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.TransitionOrder(ctx, orderID, models.StatusCancelled, models.ActorCustomer)
}

func copyOrder(order *models.Order) *models.Order {
	dup := *order
	dup.Items = append([]models.CartItem(nil), order.Items...)
	return &dup
}
