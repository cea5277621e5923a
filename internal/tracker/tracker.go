package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platewise/orderflow/internal/metrics"
	"github.com/platewise/orderflow/internal/orders"
	"github.com/platewise/orderflow/pkg/models"
)

const DefaultInterval = 30 * time.Second

// Tracker polls the authoritative store for one order's state on a fixed
// interval for the lifetime of the consuming view. Polls never overlap (the
// loop is synchronous), a failed poll is logged and skipped, and the loop
// stops itself once it observes a terminal status. Stop has exactly one
// effect no matter how many times it is called; no update is delivered after
// it returns a stopped tracker.
type Tracker struct {
	store    orders.Store
	orderID  string
	interval time.Duration
	onUpdate func(*models.Order)
	logger   *logrus.Logger

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(store orders.Store, orderID string, interval time.Duration, onUpdate func(*models.Order), logger *logrus.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		store:    store,
		orderID:  orderID,
		interval: interval,
		onUpdate: onUpdate,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start fetches once immediately, then polls on the interval until Stop is
// called, the context is cancelled, or a terminal status is observed.
func (t *Tracker) Start(ctx context.Context) {
	t.started.Store(true)
	go t.run(ctx)
}

func (t *Tracker) run(ctx context.Context) {
	defer close(t.done)

	if t.poll(ctx) {
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t.poll(ctx) {
				return
			}
		}
	}
}

// poll fetches the current state and reports whether polling should stop.
func (t *Tracker) poll(ctx context.Context) bool {
	select {
	case <-t.stop:
		return true
	default:
	}

	order, err := t.store.GetOrder(ctx, t.orderID)
	if err != nil {
		// Transient: the absence of a response is not a state change.
		metrics.PollFailures.Inc()
		t.logger.WithError(err).WithField("order_id", t.orderID).Warn("Status poll failed, skipping")
		return false
	}

	if t.onUpdate != nil {
		t.onUpdate(order)
	}

	if order.Status.IsTerminal() {
		t.logger.WithFields(logrus.Fields{
			"order_id": t.orderID,
			"status":   order.Status,
		}).Info("Terminal status observed, stopping tracker")
		return true
	}
	return false
}

// Stop tears the tracker down. Safe to call more than once and from any
// goroutine; returns after the polling loop has exited.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	if t.started.Load() {
		<-t.done
	}
}
