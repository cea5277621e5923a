package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// RealGateway talks to the external payment processor over HTTP. All calls go
// through a circuit breaker; transport errors and an open breaker both
// surface as ErrGatewayUnavailable so the intent manager can fall back to the
// mock gateway.
type RealGateway struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

func NewRealGateway(baseURL, apiKey string, logger *logrus.Logger) *RealGateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "payment-gateway",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Info("Circuit breaker state changed")
		},
	})

	return &RealGateway{client: client, breaker: breaker, logger: logger}
}

type intentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (g *RealGateway) CreateIntent(ctx context.Context, amountMinorUnits int64, currency string) (IntentRef, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		var ref IntentRef
		resp, err := g.client.R().
			SetContext(ctx).
			SetBody(intentRequest{Amount: amountMinorUnits, Currency: currency}).
			SetResult(&ref).
			Post("/v1/payment_intents")
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode())
		}
		return ref, nil
	})
	if err != nil {
		g.logger.WithError(err).Warn("Gateway intent creation failed")
		return IntentRef{}, wrapUnavailable(err)
	}
	return result.(IntentRef), nil
}

func (g *RealGateway) ConfirmPayment(ctx context.Context, intentID string, billing BillingDetails) (ConfirmResult, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		var confirm ConfirmResult
		resp, err := g.client.R().
			SetContext(ctx).
			SetBody(billing).
			SetResult(&confirm).
			Post("/v1/payment_intents/" + intentID + "/confirm")
		if err != nil {
			return nil, err
		}
		// Declines come back with a 4xx and a reason in the body; that is a
		// result, not a transport failure, so it must not trip the breaker.
		if resp.IsError() && confirm.Reason == "" {
			return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode())
		}
		return confirm, nil
	})
	if err != nil {
		g.logger.WithError(err).WithField("intent_id", intentID).Warn("Gateway confirmation failed")
		return ConfirmResult{}, wrapUnavailable(err)
	}
	return result.(ConfirmResult), nil
}

func wrapUnavailable(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", ErrGatewayUnavailable)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}
