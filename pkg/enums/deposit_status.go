package enums

import "fmt"

// DepositStatus tracks a standalone balance top-up.
type DepositStatus string

const (
	DepositStatusPendingPayment DepositStatus = "pending_payment"
	DepositStatusPaid           DepositStatus = "paid"
	DepositStatusCanceled       DepositStatus = "canceled"
)

var validDepositStatuses = []DepositStatus{
	DepositStatusPendingPayment,
	DepositStatusPaid,
	DepositStatusCanceled,
}

func (s DepositStatus) String() string { return string(s) }

// IsValid reports whether the value matches the canonical deposit status enum.
func (s DepositStatus) IsValid() bool {
	for _, candidate := range validDepositStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusPaid || s == DepositStatusCanceled
}

// ParseDepositStatus converts raw input into DepositStatus.
func ParseDepositStatus(value string) (DepositStatus, error) {
	for _, candidate := range validDepositStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid deposit status %q", value)
}
