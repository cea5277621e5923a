package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platewise/orderflow/pkg/models"
)

var ErrValidationFailed = errors.New("delivery details validation failed")

// placeholderSentinels are the profile-prefill values that mean the user
// never filled the field in. They must never reach the gateway.
var placeholderSentinels = []string{
	"update your name",
	"update your email",
	"update your address",
	"update your city",
	"update your country",
}

// ValidateDelivery rejects delivery details with empty or placeholder fields.
// It runs before any gateway call.
func ValidateDelivery(d models.DeliveryDetails) error {
	fields := map[string]string{
		"name":    d.Name,
		"email":   d.Email,
		"address": d.Address,
		"city":    d.City,
		"country": d.Country,
	}
	for field, value := range fields {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			return fmt.Errorf("%w: %s is empty", ErrValidationFailed, field)
		}
		lower := strings.ToLower(trimmed)
		for _, sentinel := range placeholderSentinels {
			if lower == sentinel {
				return fmt.Errorf("%w: %s is a placeholder", ErrValidationFailed, field)
			}
		}
	}
	return nil
}
