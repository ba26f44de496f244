package service

import (
	"errors"

	"github.com/punchamoorthee/tuitionpay/internal/otp"
)

// Outcomes of payment operations. The HTTP layer maps each to a status code.
var (
	ErrBusy               = errors.New("resource busy, please try again later")
	ErrNotFound           = errors.New("no unpaid tuition for this student and period")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrConflict           = errors.New("transaction conflict, please retry")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrOTPExpired         = errors.New("otp expired, transaction failed")
	ErrOTPMismatch        = errors.New("invalid otp")
	ErrTooManyAttempts    = errors.New("too many otp attempts")
	ErrUnauthorized       = errors.New("transaction belongs to another payer")
	ErrInvalidStatus      = errors.New("invalid transaction status for resend")

	ErrResendBudgetExhausted = otp.ErrResendBudgetExhausted
	// ErrCooldown matches *otp.CooldownError, which carries the wait time.
	ErrCooldown = otp.ErrCooldown
)
