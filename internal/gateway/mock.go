package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultMockDelay = 2 * time.Second

// MockGateway is the deterministic local processor used when no real gateway
// is configured or reachable. Confirmation resolves after a fixed simulated
// delay and always succeeds, which keeps the orchestration path exercised in
// development.
type MockGateway struct {
	Delay  time.Duration
	logger *logrus.Logger
}

func NewMockGateway(logger *logrus.Logger) *MockGateway {
	return &MockGateway{Delay: DefaultMockDelay, logger: logger}
}

func (g *MockGateway) CreateIntent(ctx context.Context, amountMinorUnits int64, currency string) (IntentRef, error) {
	ref := IntentRef{
		IntentID:     "mock_pi_" + uuid.New().String(),
		ClientSecret: "mock_secret_" + uuid.New().String(),
	}
	g.logger.WithFields(logrus.Fields{
		"intent_id": ref.IntentID,
		"amount":    amountMinorUnits,
		"currency":  currency,
	}).Info("Mock payment intent created")
	return ref, nil
}

func (g *MockGateway) ConfirmPayment(ctx context.Context, intentID string, billing BillingDetails) (ConfirmResult, error) {
	select {
	case <-time.After(g.Delay):
	case <-ctx.Done():
		return ConfirmResult{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, ctx.Err())
	}

	g.logger.WithField("intent_id", intentID).Info("Mock payment confirmed")
	return ConfirmResult{OK: true}, nil
}
