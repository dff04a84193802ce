package models

// DeliveryState is the derived lifecycle state of an entry.
// PermanentlyFailed is not stored; it is status=failed with the retry budget spent.
type DeliveryState string

const (
	StatePending           DeliveryState = "pending"
	StateSucceeded         DeliveryState = "succeeded"
	StateFailed            DeliveryState = "failed"
	StatePermanentlyFailed DeliveryState = "permanently_failed"
)

// State derives the delivery state for the given retry budget
func (e *SyncLogEntry) State(maxRetryAttempts int) DeliveryState {
	switch e.Status {
	case StatusSuccess:
		return StateSucceeded
	case StatusFailed:
		if e.RetryCount >= maxRetryAttempts {
			return StatePermanentlyFailed
		}
		return StateFailed
	default:
		return StatePending
	}
}

// IsTerminal reports whether no further attempt will be made
func (s DeliveryState) IsTerminal() bool {
	return s == StateSucceeded || s == StatePermanentlyFailed
}
