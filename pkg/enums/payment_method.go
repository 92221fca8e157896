package enums

import "fmt"

// PaymentMethod selects how an order is funded.
type PaymentMethod string

const (
	// PaymentMethodBalance charges the wallet synchronously.
	PaymentMethodBalance PaymentMethod = "balance"
	// PaymentMethodGateway waits for an asynchronous capture callback.
	PaymentMethodGateway PaymentMethod = "gateway"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodBalance,
	PaymentMethodGateway,
}

func (m PaymentMethod) String() string { return string(m) }

// IsValid reports whether the value matches the canonical payment method enum.
func (m PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParsePaymentMethod converts raw input into PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
