package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// webhookPayload is the JSON body POSTed to the delivery service.
type webhookPayload struct {
	Kind          Kind   `json:"kind"`
	PayerID       int64  `json:"payer_id"`
	PayerName     string `json:"payer_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	TransactionID int64  `json:"transaction_id"`
	StudentID     string `json:"student_id"`
	StudentName   string `json:"student_name"`
	Period        string `json:"period"`
	Amount        string `json:"amount"`
	Code          string `json:"code,omitempty"`
	TTLSeconds    int64  `json:"ttl_seconds,omitempty"`
	CompletedAt   string `json:"completed_at,omitempty"`
}

// WebhookNotifier hands messages to an external delivery service (email/SMS
// gateway) as a JSON POST.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "TuitionPay-Notifier/1.0")
	return &WebhookNotifier{client: client, url: url}
}

func (n *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	body := webhookPayload{
		Kind:          msg.Kind,
		PayerID:       msg.Payer.ID,
		PayerName:     msg.Payer.FullName,
		Email:         msg.Payer.Email,
		Phone:         msg.Payer.Phone,
		TransactionID: msg.Transaction.ID,
		StudentID:     msg.Bill.StudentID,
		StudentName:   msg.Bill.StudentName,
		Period:        msg.Bill.Period,
		Amount:        msg.Transaction.Amount.StringFixed(2),
		Code:          msg.Code,
		TTLSeconds:    int64(msg.TTL / time.Second),
	}
	if msg.Transaction.CompletedAt != nil {
		body.CompletedAt = msg.Transaction.CompletedAt.UTC().Format(time.RFC3339)
	}

	resp, err := n.client.R().SetContext(ctx).SetBody(body).Post(n.url)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
