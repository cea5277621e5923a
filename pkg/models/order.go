package models

import (
	"errors"
	"time"
)

var (
	ErrEmptyCart         = errors.New("cart snapshot has no items")
	ErrMixedRestaurants  = errors.New("cart snapshot mixes items from different restaurants")
	ErrInvalidCartItem   = errors.New("cart item has invalid price or quantity")
	ErrMissingRestaurant = errors.New("cart snapshot has no restaurant identity")
)

// CartItem is one line of a frozen cart. UnitPrice is in currency minor units.
type CartItem struct {
	ItemID       string `json:"item_id"`
	Name         string `json:"name"`
	UnitPrice    int64  `json:"unit_price"`
	Quantity     int    `json:"quantity"`
	ImageRef     string `json:"image_ref,omitempty"`
	RestaurantID string `json:"restaurant_id"`
}

// CartSnapshot is the immutable view of a cart taken when checkout opens.
// Once a payment intent exists the snapshot must not change; a changed cart
// requires a fresh snapshot and a fresh intent.
type CartSnapshot struct {
	Items          []CartItem `json:"items"`
	RestaurantID   string     `json:"restaurant_id"`
	RestaurantName string     `json:"restaurant_name"`
	TakenAt        time.Time  `json:"taken_at"`
}

// Subtotal returns the sum of unit price times quantity over all items.
func (c *CartSnapshot) Subtotal() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

// Validate enforces the snapshot invariants: non-empty, sane lines, one
// owning restaurant.
func (c *CartSnapshot) Validate() error {
	if len(c.Items) == 0 {
		return ErrEmptyCart
	}
	for _, item := range c.Items {
		if item.UnitPrice < 0 || item.Quantity < 1 {
			return ErrInvalidCartItem
		}
		if item.RestaurantID != "" && c.RestaurantID != "" && item.RestaurantID != c.RestaurantID {
			return ErrMixedRestaurants
		}
	}
	return nil
}

type GatewayKind string

const (
	GatewayReal GatewayKind = "real"
	GatewayMock GatewayKind = "mock"
)

type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentConfirmed IntentStatus = "confirmed"
	IntentFailed    IntentStatus = "failed"
)

// PaymentIntent is the gateway-side handle for one checkout attempt. It is
// bound to exactly one cart snapshot and one provisional order; a changed
// cart makes it stale and callers must request a new one.
type PaymentIntent struct {
	IntentID     string       `json:"intent_id"`
	ClientSecret string       `json:"client_secret"`
	Amount       int64        `json:"amount"`
	Currency     string       `json:"currency"`
	GatewayKind  GatewayKind  `json:"gateway_kind"`
	Status       IntentStatus `json:"status"`
	OrderID      string       `json:"order_id"`
	CreatedAt    time.Time    `json:"created_at"`
}

// DeliveryDetails must be fully filled in before an order may be confirmed.
type DeliveryDetails struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
}

type Order struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	RestaurantID   string          `json:"restaurant_id"`
	RestaurantName string          `json:"restaurant_name"`
	Delivery       DeliveryDetails `json:"delivery"`
	Items          []CartItem      `json:"items"`
	TotalAmount    int64           `json:"total_amount"`
	Status         OrderStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   *Order `json:"order,omitempty"`
}
