package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platewise/orderflow/internal/gateway"
	"github.com/platewise/orderflow/internal/metrics"
	"github.com/platewise/orderflow/internal/orders"
	"github.com/platewise/orderflow/pkg/models"
)

var (
	ErrMissingRestaurantContext = errors.New("restaurant identity could not be resolved")
	ErrInvalidAmount            = errors.New("payment amount must be positive")
	ErrIntentSuperseded         = errors.New("payment intent superseded by a newer request")
)

// DefaultDebounce absorbs rapid re-renders of the checkout view that would
// otherwise fire duplicate intent requests.
const DefaultDebounce = 150 * time.Millisecond

// RestaurantLookup resolves the owning restaurant when the snapshot itself
// does not carry it.
type RestaurantLookup interface {
	ResolveRestaurant(ctx context.Context, userID string) (id, name string, err error)
}

// Manager creates and tracks the single outstanding payment intent per
// checkout session. It prefers the real gateway and falls back to the mock
// when the real one is unconfigured or unreachable; the resulting intent is
// tagged with the gateway kind so callers can surface degraded mode.
type Manager struct {
	real     gateway.Adapter // nil when no processor is configured
	mock     gateway.Adapter
	store    orders.Store
	lookup   RestaurantLookup // optional
	currency string
	debounce time.Duration
	logger   *logrus.Logger

	mutex   sync.Mutex
	seq     uint64
	current *models.PaymentIntent
}

func NewManager(real, mock gateway.Adapter, store orders.Store, currency string, logger *logrus.Logger) *Manager {
	return &Manager{
		real:     real,
		mock:     mock,
		store:    store,
		currency: currency,
		debounce: DefaultDebounce,
		logger:   logger,
	}
}

// SetRestaurantLookup installs the secondary restaurant resolver.
func (m *Manager) SetRestaurantLookup(lookup RestaurantLookup) {
	m.lookup = lookup
}

// SetDebounce overrides the debounce window; tests shrink it.
func (m *Manager) SetDebounce(d time.Duration) {
	m.debounce = d
}

// CurrentIntent returns the outstanding intent for the session, if any.
func (m *Manager) CurrentIntent() *models.PaymentIntent {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.current
}

// InvalidateIntent consumes the outstanding intent once a confirmation run has
// settled it, so a later confirm starts a fresh checkout instead of replaying
// a spent intent. A stale id is a no-op; a newer intent may already own the
// session.
func (m *Manager) InvalidateIntent(intentID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.current != nil && m.current.IntentID == intentID {
		m.current = nil
	}
}

// CreateIntent freezes the cart into a provisional order and asks the gateway
// for an intent. Reopening the checkout view calls this again; the newer call
// supersedes the older one, which returns ErrIntentSuperseded and is
// discarded silently by the caller.
func (m *Manager) CreateIntent(ctx context.Context, cart *models.CartSnapshot, userID string, delivery models.DeliveryDetails) (*models.PaymentIntent, error) {
	if err := cart.Validate(); err != nil {
		return nil, err
	}
	if err := m.resolveRestaurant(ctx, cart, userID); err != nil {
		return nil, err
	}

	amount := cart.Subtotal()
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	m.mutex.Lock()
	m.seq++
	mySeq := m.seq
	m.mutex.Unlock()

	select {
	case <-time.After(m.debounce):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mutex.Lock()
	superseded := m.seq != mySeq
	m.mutex.Unlock()
	if superseded {
		m.logger.WithField("user_id", userID).Debug("Intent request superseded during debounce")
		return nil, ErrIntentSuperseded
	}

	adapter, kind := m.chooseAdapter()
	ref, err := adapter.CreateIntent(ctx, amount, m.currency)
	if err != nil && kind == models.GatewayReal && errors.Is(err, gateway.ErrGatewayUnavailable) {
		// Deliberate fallback, not a silent failure: the intent is tagged
		// mock so the checkout view shows degraded mode.
		m.logger.WithError(err).Warn("Real gateway unreachable, falling back to mock gateway")
		adapter, kind = m.mock, models.GatewayMock
		ref, err = adapter.CreateIntent(ctx, amount, m.currency)
	}
	if err != nil {
		return nil, fmt.Errorf("intent creation failed: %w", err)
	}

	// Re-check before committing a provisional order; losing the race here
	// would otherwise strand a pending order nothing will ever confirm.
	m.mutex.Lock()
	superseded = m.seq != mySeq
	m.mutex.Unlock()
	if superseded {
		m.logger.WithField("gateway_intent_id", ref.IntentID).
			Info("Intent request superseded after gateway call, abandoning gateway intent")
		return nil, ErrIntentSuperseded
	}

	order, err := m.store.CreateProvisionalOrder(ctx, cart, userID, delivery)
	if err != nil {
		return nil, fmt.Errorf("provisional order creation failed: %w", err)
	}

	intent := &models.PaymentIntent{
		IntentID:     ref.IntentID,
		ClientSecret: ref.ClientSecret,
		Amount:       amount,
		Currency:     m.currency,
		GatewayKind:  kind,
		Status:       models.IntentCreated,
		OrderID:      order.ID,
		CreatedAt:    time.Now(),
	}

	m.mutex.Lock()
	if m.seq != mySeq {
		// A newer request won the race while the order was being written;
		// this intent is stale and must not replace the current one. The
		// pending order it created is orphaned, so leave a trail for cleanup.
		m.mutex.Unlock()
		m.logger.WithFields(logrus.Fields{
			"order_id":          order.ID,
			"gateway_intent_id": ref.IntentID,
		}).Warn("Intent request superseded after provisional order creation, orphan pending order left behind")
		return nil, ErrIntentSuperseded
	}
	previous := m.current
	m.current = intent
	m.mutex.Unlock()

	if previous != nil {
		m.logger.WithFields(logrus.Fields{
			"stale_intent_id": previous.IntentID,
			"intent_id":       intent.IntentID,
		}).Info("Previous payment intent invalidated")
	}

	metrics.IntentsCreated.WithLabelValues(string(kind)).Inc()
	m.logger.WithFields(logrus.Fields{
		"intent_id": intent.IntentID,
		"order_id":  intent.OrderID,
		"amount":    amount,
		"gateway":   kind,
	}).Info("Payment intent created")

	return intent, nil
}

// GatewayFor returns the adapter matching an intent's kind; the choice is
// made once at intent creation, never re-sniffed from the secret.
func (m *Manager) GatewayFor(intent *models.PaymentIntent) gateway.Adapter {
	if intent.GatewayKind == models.GatewayReal && m.real != nil {
		return m.real
	}
	return m.mock
}

func (m *Manager) chooseAdapter() (gateway.Adapter, models.GatewayKind) {
	if m.real != nil {
		return m.real, models.GatewayReal
	}
	return m.mock, models.GatewayMock
}

func (m *Manager) resolveRestaurant(ctx context.Context, cart *models.CartSnapshot, userID string) error {
	if cart.RestaurantID != "" {
		return nil
	}
	for _, item := range cart.Items {
		if item.RestaurantID != "" {
			cart.RestaurantID = item.RestaurantID
			return nil
		}
	}
	if m.lookup != nil {
		id, name, err := m.lookup.ResolveRestaurant(ctx, userID)
		if err == nil && id != "" {
			cart.RestaurantID = id
			cart.RestaurantName = name
			return nil
		}
	}
	// No merchant identity means no order may be created; fail before any
	// network call.
	return ErrMissingRestaurantContext
}
