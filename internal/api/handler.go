package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platewise/orderflow/internal/cart"
	"github.com/platewise/orderflow/internal/checkout"
	"github.com/platewise/orderflow/internal/events"
	"github.com/platewise/orderflow/internal/orders"
	"github.com/platewise/orderflow/internal/payment"
	"github.com/platewise/orderflow/pkg/models"
)

// StatusBroadcaster pushes order transitions to connected status views.
type StatusBroadcaster interface {
	BroadcastStatus(order *models.Order)
}

// Handler wires the checkout core to the HTTP surface.
type Handler struct {
	manager      *payment.Manager
	orchestrator *checkout.Orchestrator
	canceller    *checkout.Canceller
	store        orders.Store
	cart         cart.Store
	publisher    events.Publisher // nil when Kafka is not configured
	broadcaster  StatusBroadcaster
	logger       *logrus.Logger
}

func NewHandler(manager *payment.Manager, orchestrator *checkout.Orchestrator, canceller *checkout.Canceller, store orders.Store, cartStore cart.Store, logger *logrus.Logger) *Handler {
	return &Handler{
		manager:      manager,
		orchestrator: orchestrator,
		canceller:    canceller,
		store:        store,
		cart:         cartStore,
		logger:       logger,
	}
}

func (h *Handler) SetPublisher(p events.Publisher) {
	h.publisher = p
}

func (h *Handler) SetBroadcaster(b StatusBroadcaster) {
	h.broadcaster = b
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/checkout/intent", h.CreateIntent).Methods("POST")
	router.HandleFunc("/checkout/confirm", h.ConfirmOrder).Methods("POST")
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}/status", h.UpdateStatus).Methods("POST")
	router.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods("POST")
}

type checkoutRequest struct {
	UserID   string                 `json:"user_id"`
	Delivery models.DeliveryDetails `json:"delivery"`
}

type intentResponse struct {
	Success  bool                  `json:"success"`
	Intent   *models.PaymentIntent `json:"intent,omitempty"`
	MockMode bool                  `json:"mock_mode"`
	Message  string                `json:"message,omitempty"`
}

// CreateIntent opens a checkout session: freezes the cart and requests a
// payment intent. MockMode in the response drives the degraded-mode notice.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode intent request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	snapshot, err := h.cart.Snapshot()
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	intent, err := h.manager.CreateIntent(r.Context(), snapshot, req.UserID, req.Delivery)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrIntentSuperseded):
			// A newer checkout view owns the session; nothing to surface.
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, payment.ErrMissingRestaurantContext),
			errors.Is(err, payment.ErrInvalidAmount),
			errors.Is(err, models.ErrEmptyCart):
			h.respondWithError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.WithError(err).Error("Failed to create payment intent")
			h.respondWithError(w, http.StatusBadGateway, "Failed to create payment intent")
		}
		return
	}

	h.respondWithJSON(w, http.StatusCreated, intentResponse{
		Success:  true,
		Intent:   intent,
		MockMode: intent.GatewayKind == models.GatewayMock,
	})
}

type confirmResponse struct {
	Success     bool   `json:"success"`
	OrderID     string `json:"order_id,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ConfirmOrder confirms the session's outstanding intent, or runs the whole
// flow (fresh intent included) when none is outstanding.
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode confirm request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// A confirmation that has started must run to completion even if the
	// checkout dialog goes away; the confirm-lost fallback depends on it.
	ctx := context.WithoutCancel(r.Context())

	var outcome checkout.Outcome
	var err error
	if intent := h.manager.CurrentIntent(); intent != nil {
		outcome, err = h.orchestrator.Confirm(ctx, intent, req.Delivery)
	} else {
		outcome, err = h.orchestrator.Run(ctx, req.UserID, req.Delivery)
	}

	if err != nil {
		var payErr *checkout.PaymentError
		switch {
		case errors.Is(err, checkout.ErrValidationFailed):
			h.respondWithError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &payErr):
			h.respondWithError(w, http.StatusPaymentRequired, payErr.Error())
		case errors.Is(err, payment.ErrIntentSuperseded):
			w.WriteHeader(http.StatusNoContent)
		default:
			h.logger.WithError(err).Error("Checkout confirmation failed")
			h.respondWithError(w, http.StatusInternalServerError, "Checkout confirmation failed")
		}
		return
	}

	if outcome.RequiresAction {
		h.respondWithJSON(w, http.StatusAccepted, confirmResponse{
			Success:     false,
			OrderID:     outcome.OrderID,
			RedirectURL: outcome.RedirectURL,
			Message:     "Further action required to complete payment",
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, confirmResponse{Success: true, OrderID: outcome.OrderID})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			h.respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.WithError(err).Error("Failed to get order")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to get order")
		return
	}

	h.respondWithJSON(w, http.StatusOK, order)
}

type statusRequest struct {
	Status models.OrderStatus `json:"status"`
}

// UpdateStatus is the merchant-side transition endpoint.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	before, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			h.respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.WithError(err).Error("Failed to load order for transition")
		h.respondWithError(w, http.StatusInternalServerError, "Failed to load order")
		return
	}

	order, err := h.store.TransitionOrder(r.Context(), orderID, req.Status, models.ActorMerchant)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			h.respondWithError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, orders.ErrIllegalTransition), errors.Is(err, orders.ErrNotCancellable):
			h.respondWithError(w, http.StatusConflict, err.Error())
		default:
			h.logger.WithError(err).Error("Failed to transition order")
			h.respondWithError(w, http.StatusInternalServerError, "Failed to transition order")
		}
		return
	}

	h.logger.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"old_status": before.Status,
		"new_status": order.Status,
	}).Info("Order status updated")

	h.announceTransition(before.Status, order)
	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order status updated",
		Order:   order,
	})
}

// CancelOrder is the customer-side cancellation endpoint.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := h.canceller.Cancel(r.Context(), orderID)
	if err != nil {
		switch {
		case errors.Is(err, orders.ErrOrderNotFound):
			h.respondWithError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, orders.ErrNotCancellable), errors.Is(err, orders.ErrIllegalTransition):
			h.respondWithError(w, http.StatusConflict, "Order is no longer cancellable")
		default:
			h.logger.WithError(err).Error("Failed to cancel order")
			h.respondWithError(w, http.StatusInternalServerError, "Failed to cancel order")
		}
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.BroadcastStatus(order)
	}
	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{
		Success: true,
		Message: "Order cancelled",
		Order:   order,
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "order-service",
	})
}

func (h *Handler) announceTransition(oldStatus models.OrderStatus, order *models.Order) {
	if h.broadcaster != nil {
		h.broadcaster.BroadcastStatus(order)
	}
	if h.publisher != nil {
		err := h.publisher.PublishStatusChanged(events.OrderStatusChangedEvent{
			OrderID:   order.ID,
			OldStatus: oldStatus,
			NewStatus: order.Status,
			Actor:     models.ActorMerchant,
		})
		if err != nil {
			h.logger.WithError(err).WithField("order_id", order.ID).Error("Failed to publish status changed event")
		}
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
