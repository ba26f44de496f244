// Package notify delivers OTP and payment confirmation messages to payers.
// Delivery is best-effort: failures are logged and never reach the payment
// path.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/tuitionpay/internal/domain"
)

// Kind is the message type.
type Kind string

const (
	KindOTP          Kind = "otp"
	KindConfirmation Kind = "confirmation"
)

// Message is everything a sender needs to render one notification.
type Message struct {
	Kind        Kind               `json:"kind"`
	Payer       domain.Account     `json:"payer"`
	Transaction domain.Transaction `json:"transaction"`
	Bill        domain.Bill        `json:"bill"`
	// Code is set only for KindOTP.
	Code string `json:"code,omitempty"`
	// TTL is the OTP validity window for KindOTP.
	TTL time.Duration `json:"ttl,omitempty"`
}

// Notifier sends one message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// sendTimeout bounds a single async delivery.
const sendTimeout = 5 * time.Second

// Async delivers msg in a goroutine detached from the caller's context.
// n may be nil, in which case nothing is sent.
func Async(n Notifier, logger *zap.Logger, msg Message) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.Send(ctx, msg); err != nil {
			logger.Warn("notification failed",
				zap.String("kind", string(msg.Kind)),
				zap.Int64("transaction_id", msg.Transaction.ID),
				zap.Int64("payer_id", msg.Payer.ID),
				zap.Error(err),
			)
		}
	}()
}
