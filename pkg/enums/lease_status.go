package enums

import "fmt"

// LeaseStatus tracks a virtual-number lease from placement to settlement.
type LeaseStatus string

const (
	LeaseStatusWaiting   LeaseStatus = "waiting"
	LeaseStatusSuccess   LeaseStatus = "success"
	LeaseStatusCancelled LeaseStatus = "cancelled"
	LeaseStatusRefunded  LeaseStatus = "refunded"
)

var validLeaseStatuses = []LeaseStatus{
	LeaseStatusWaiting,
	LeaseStatusSuccess,
	LeaseStatusCancelled,
	LeaseStatusRefunded,
}

func (s LeaseStatus) String() string { return string(s) }

// IsValid reports whether the value matches the canonical lease status enum.
func (s LeaseStatus) IsValid() bool {
	for _, candidate := range validLeaseStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func (s LeaseStatus) IsTerminal() bool {
	return s != LeaseStatusWaiting
}

// ParseLeaseStatus converts raw input into LeaseStatus.
func ParseLeaseStatus(value string) (LeaseStatus, error) {
	for _, candidate := range validLeaseStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid lease status %q", value)
}
