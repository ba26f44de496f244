package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/punchamoorthee/tuitionpay/internal/domain"
	"github.com/shopspring/decimal"
)

func TestMapErr(t *testing.T) {
	testCases := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", pgx.ErrNoRows), ErrNotFound},
		{"active index", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "payment_transactions_one_active"}, ErrActiveTransactionExists},
		{"serialization", &pgconn.PgError{Code: pgSerializationFailure}, ErrVersionConflict},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapErr(tc.in); !errors.Is(got, tc.want) {
				t.Errorf("mapErr = %v, want %v", got, tc.want)
			}
		})
	}

	other := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "accounts_username_key"}
	if got := mapErr(other); got != other {
		t.Errorf("unrelated unique violation should pass through, got %v", got)
	}
	if mapErr(nil) != nil {
		t.Error("mapErr(nil) should be nil")
	}
}

// openTestDB connects to TEST_DB_SOURCE, which must point at a migrated,
// disposable database.
func openTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DB_SOURCE")
	if dsn == "" {
		t.Skip("TEST_DB_SOURCE not set; skipping Postgres integration test")
	}
	s, err := NewPostgresStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	t.Cleanup(s.Close)
	if _, err := s.Db.Exec(context.Background(), "TRUNCATE payment_transactions, bills, accounts RESTART IDENTITY"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestPostgres_TransactionLifecycle(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	var payerID int64
	err := s.Db.QueryRow(ctx,
		"INSERT INTO accounts (username, full_name, email, phone, balance) VALUES ('p1', 'Payer', 'p@x', '0900', 2000000) RETURNING id",
	).Scan(&payerID)
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
	_, err = s.Db.Exec(ctx,
		"INSERT INTO bills (student_id, student_name, period, amount) VALUES ('523H0111', 'Student', '2026-1', 1500000.00)")
	if err != nil {
		t.Fatalf("insert bill: %v", err)
	}

	txn := &domain.Transaction{
		PayerID:     payerID,
		StudentID:   "523H0111",
		Period:      "2026-1",
		Amount:      decimal.RequireFromString("1500000.00"),
		Status:      domain.StatusPendingOTP,
		CreatedAt:   time.Now().UTC(),
		LeaseExpiry: time.Now().UTC(),
	}
	if err := s.RunInTx(ctx, func(q Queries) error { return q.CreateTransaction(ctx, txn) }); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	dup := *txn
	dup.ID = 0
	if err := s.CreateTransaction(ctx, &dup); !errors.Is(err, ErrActiveTransactionExists) {
		t.Errorf("duplicate active err = %v, want ErrActiveTransactionExists", err)
	}

	stale, _ := s.GetTransaction(ctx, txn.ID)
	txn.Status = domain.StatusProcessing
	if err := s.UpdateTransaction(ctx, txn); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	stale.Status = domain.StatusFailed
	if err := s.UpdateTransaction(ctx, stale); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale update err = %v, want ErrVersionConflict", err)
	}

	got, err := s.GetTransaction(ctx, txn.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Status != domain.StatusProcessing || !got.Amount.Equal(txn.Amount) {
		t.Errorf("GetTransaction = %+v", got)
	}

	bill, err := s.FindUnpaidBill(ctx, "523H0111", "2026-1")
	if err != nil {
		t.Fatalf("FindUnpaidBill: %v", err)
	}
	if !bill.Amount.Equal(decimal.RequireFromString("1500000")) {
		t.Errorf("bill amount = %s", bill.Amount)
	}
}
