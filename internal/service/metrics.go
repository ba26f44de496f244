package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentsInitiated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuition_payments_initiated_total",
		Help: "Initiate calls, labeled by outcome",
	}, []string{"outcome"})

	paymentsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuition_payments_confirmed_total",
		Help: "Confirm calls, labeled by outcome",
	}, []string{"outcome"})

	otpResends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuition_otp_resends_total",
		Help: "OTP resend calls, labeled by outcome",
	}, []string{"outcome"})

	sweeperTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuition_sweeper_transitions_total",
		Help: "Transactions moved by the expiry sweeper, labeled by target status",
	}, []string{"to"})

	lockBusy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tuition_lock_busy_total",
		Help: "Operations rejected because a payer or bill lock was held",
	})
)

// outcome labels an error for the counters above.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidTransaction), errors.Is(err, ErrInvalidStatus):
		return "invalid"
	case errors.Is(err, ErrOTPExpired):
		return "expired"
	case errors.Is(err, ErrOTPMismatch):
		return "mismatch"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ErrCooldown):
		return "cooldown"
	case errors.Is(err, ErrResendBudgetExhausted):
		return "budget_exhausted"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	}
	return "error"
}
