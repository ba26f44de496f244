package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a Transaction.
type Status string

const (
	StatusPendingOTP Status = "PENDING_OTP"
	StatusProcessing Status = "PROCESSING"
	StatusExpired    Status = "EXPIRED"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
)

// ActiveStatuses are the non-terminal statuses. At most one transaction per
// (student, period) may be in one of them.
var ActiveStatuses = []Status{StatusPendingOTP, StatusProcessing, StatusExpired}

var transitions = map[Status][]Status{
	StatusPendingOTP: {StatusProcessing, StatusExpired, StatusFailed},
	StatusProcessing: {StatusSuccess, StatusFailed},
	StatusExpired:    {StatusPendingOTP, StatusFailed},
}

// Terminal reports whether no transition out of s exists.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Active reports whether s blocks a new transaction for the same bill.
func (s Status) Active() bool {
	for _, a := range ActiveStatuses {
		if s == a {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Active() || s.Terminal()
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError is returned when a status change is not allowed.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
}

// TransitionTo moves t to the given status, stamping CompletedAt on terminal
// states. It does not persist anything.
func (t *Transaction) TransitionTo(to Status, at time.Time) error {
	if !CanTransition(t.Status, to) {
		return &TransitionError{From: t.Status, To: to}
	}
	t.Status = to
	if to.Terminal() {
		t.CompletedAt = &at
	}
	return nil
}
