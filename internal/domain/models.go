package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents a payer's balance. Accounts are owned by the banking
// side; payments only ever debit them.
type Account struct {
	ID       int64           `json:"id"`
	Username string          `json:"username"`
	FullName string          `json:"full_name"`
	Email    string          `json:"email"`
	Phone    string          `json:"phone"`
	Balance  decimal.Decimal `json:"balance"`
	Version  int64           `json:"-"`
}

// Bill is the tuition owed by a student for one period.
// At most one unpaid bill exists per (StudentID, Period).
type Bill struct {
	ID          int64           `json:"id"`
	StudentID   string          `json:"student_id"`
	StudentName string          `json:"student_name"`
	Period      string          `json:"period"`
	Amount      decimal.Decimal `json:"amount"`
	Paid        bool            `json:"paid"`
	PaidDate    *time.Time      `json:"paid_date,omitempty"`
	Version     int64           `json:"-"`
}

// Transaction is one OTP-gated payment attempt. Amount is a snapshot of the
// bill amount taken at initiation and never changes afterwards.
type Transaction struct {
	ID          int64           `json:"id"`
	PayerID     int64           `json:"payer_id"`
	StudentID   string          `json:"student_id"`
	Period      string          `json:"period"`
	Amount      decimal.Decimal `json:"amount"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	LeaseID     string          `json:"-"`
	LeaseExpiry time.Time       `json:"-"`
	Version     int64           `json:"-"`
}

// InitiateRequest is the DTO for POST /payments/initiate.
type InitiateRequest struct {
	StudentID string `json:"student_id"`
	Period    string `json:"period,omitempty"`
}

// ConfirmRequest is the DTO for POST /payments/confirm.
type ConfirmRequest struct {
	TransactionID int64  `json:"transaction_id"`
	OTP           string `json:"otp"`
}

// ResendRequest is the DTO for POST /payments/resend-otp.
type ResendRequest struct {
	TransactionID int64 `json:"transaction_id"`
}

// HistoryEntry is one row of a payer's payment history.
type HistoryEntry struct {
	ID          int64           `json:"id"`
	StudentID   string          `json:"student_id"`
	Period      string          `json:"period"`
	Amount      decimal.Decimal `json:"amount"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Receipt is returned by a successful confirm.
type Receipt struct {
	TransactionID int64           `json:"transaction_id"`
	StudentID     string          `json:"student_id"`
	StudentName   string          `json:"student_name"`
	Period        string          `json:"period"`
	Amount        decimal.Decimal `json:"amount"`
	PayerName     string          `json:"payer_name"`
	CompletedAt   time.Time       `json:"completed_at"`
}
