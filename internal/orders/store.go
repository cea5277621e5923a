package orders

import (
	"context"
	"errors"

	"github.com/platewise/orderflow/pkg/models"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrIllegalTransition = errors.New("illegal order status transition")
	ErrNotCancellable    = errors.New("order is no longer cancellable")
)

// Store is the durable order record store. Implementations must make
// ConfirmOrder idempotent and serialize writes to a single order so that two
// concurrent confirm attempts cannot both mutate state.
type Store interface {
	// CreateProvisionalOrder persists a pending order whose total is fixed
	// to the snapshot subtotal at creation time.
	CreateProvisionalOrder(ctx context.Context, cart *models.CartSnapshot, userID string, delivery models.DeliveryDetails) (*models.Order, error)

	GetOrder(ctx context.Context, orderID string) (*models.Order, error)

	// ConfirmOrder moves a pending order to confirmed. Repeat calls for an
	// order already at or past confirmed are no-ops returning the stored
	// order; confirming a cancelled order fails with ErrIllegalTransition.
	ConfirmOrder(ctx context.Context, orderID string) (*models.Order, error)

	// TransitionOrder applies a status change atomically, enforcing edge
	// legality and actor rules. Illegal requests leave the order unchanged.
	TransitionOrder(ctx context.Context, orderID string, newStatus models.OrderStatus, actor models.Actor) (*models.Order, error)

	// CancelOrder takes the cancelled edge; legal only from pending or
	// confirmed, otherwise ErrNotCancellable.
	CancelOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// checkTransition is the shared legality check used by both store
// implementations. It maps actor violations and illegal edges to the
// store-level sentinel errors.
func checkTransition(current *models.Order, newStatus models.OrderStatus, actor models.Actor) error {
	if !newStatus.Valid() {
		return ErrIllegalTransition
	}
	if !models.AllowedFor(actor, newStatus) {
		return ErrIllegalTransition
	}
	if !models.CanTransition(current.Status, newStatus) {
		if newStatus == models.StatusCancelled {
			return ErrNotCancellable
		}
		return ErrIllegalTransition
	}
	return nil
}
