package gateway

import (
	"context"
	"errors"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// IntentRef is the processor-side handle returned by CreateIntent.
type IntentRef struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
}

// BillingDetails is the subset of delivery details the processor sees.
type BillingDetails struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// ConfirmResult is the shared outcome shape for both gateway variants. A
// non-empty RedirectURL means confirmation is suspended pending external user
// action (3-D-secure style); it is neither success nor failure yet.
type ConfirmResult struct {
	OK          bool   `json:"ok"`
	Reason      string `json:"reason,omitempty"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Adapter is the capability set a payment processor must offer. Transport
// failures are returned as errors; explicit declines arrive in ConfirmResult.
type Adapter interface {
	CreateIntent(ctx context.Context, amountMinorUnits int64, currency string) (IntentRef, error)
	ConfirmPayment(ctx context.Context, intentID string, billing BillingDetails) (ConfirmResult, error)
}
