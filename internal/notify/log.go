package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the log instead of delivering them.
// Codes are included only when ShowCodes is set, for local development.
type LogNotifier struct {
	Logger    *zap.Logger
	ShowCodes bool
}

func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	fields := []zap.Field{
		zap.String("kind", string(msg.Kind)),
		zap.Int64("transaction_id", msg.Transaction.ID),
		zap.Int64("payer_id", msg.Payer.ID),
		zap.String("email", msg.Payer.Email),
		zap.String("student_id", msg.Bill.StudentID),
		zap.String("period", msg.Bill.Period),
		zap.String("amount", msg.Transaction.Amount.StringFixed(2)),
	}
	if msg.Kind == KindOTP && n.ShowCodes {
		fields = append(fields, zap.String("otp", msg.Code), zap.Duration("ttl", msg.TTL))
	}
	n.Logger.Info("notification", fields...)
	return nil
}
