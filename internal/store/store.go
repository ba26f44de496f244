package store

import (
	"context"
	"errors"

	"github.com/punchamoorthee/tuitionpay/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict means the stored version no longer matches the
	// version the caller read.
	ErrVersionConflict = errors.New("optimistic version conflict")
	// ErrActiveTransactionExists means another non-terminal transaction
	// already holds the (student, period) pair.
	ErrActiveTransactionExists = errors.New("active transaction exists for bill")
)

// Queries are the reads and writes available both inside and outside a
// unit of work. Every Update* checks the caller's Version against the stored
// one, fails with ErrVersionConflict on mismatch and bumps Version on success.
type Queries interface {
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
	UpdateAccount(ctx context.Context, a *domain.Account) error

	FindBill(ctx context.Context, studentID, period string) (*domain.Bill, error)
	FindUnpaidBill(ctx context.Context, studentID, period string) (*domain.Bill, error)
	UpdateBill(ctx context.Context, b *domain.Bill) error

	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	ListActiveTransactions(ctx context.Context, studentID, period string) ([]domain.Transaction, error)
	ListTransactionsByPayer(ctx context.Context, payerID int64) ([]domain.Transaction, error)
	ListTransactionsByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Transaction, error)
	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	UpdateTransaction(ctx context.Context, t *domain.Transaction) error
}

// Ledger is the transaction ledger plus the account and bill records it
// settles against. It never interprets status transitions.
type Ledger interface {
	Queries
	// RunInTx runs fn in one serializable unit of work. Every write made
	// through q commits together, or none does.
	RunInTx(ctx context.Context, fn func(q Queries) error) error
}
