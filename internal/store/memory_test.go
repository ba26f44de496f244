package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/punchamoorthee/tuitionpay/internal/domain"
	"github.com/shopspring/decimal"
)

func seedMemory(t *testing.T) (*MemoryStore, domain.Bill) {
	t.Helper()
	m := NewMemoryStore()
	m.PutAccount(domain.Account{ID: 1, Username: "payer", Balance: decimal.RequireFromString("2000000.00")})
	b := m.PutBill(domain.Bill{StudentID: "523H0111", Period: "2026-1", Amount: decimal.RequireFromString("1500000.00")})
	return m, b
}

func newPending(payer int64, student, period string) *domain.Transaction {
	return &domain.Transaction{
		PayerID:   payer,
		StudentID: student,
		Period:    period,
		Amount:    decimal.RequireFromString("1500000.00"),
		Status:    domain.StatusPendingOTP,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemory_UpdateAccount_VersionConflict(t *testing.T) {
	m, _ := seedMemory(t)
	ctx := context.Background()

	a1, _ := m.GetAccount(ctx, 1)
	a2, _ := m.GetAccount(ctx, 1)

	a1.Balance = a1.Balance.Sub(decimal.NewFromInt(100))
	if err := m.UpdateAccount(ctx, a1); err != nil {
		t.Fatalf("first UpdateAccount: %v", err)
	}
	if a1.Version != 1 {
		t.Errorf("version = %d, want 1", a1.Version)
	}

	a2.Balance = a2.Balance.Sub(decimal.NewFromInt(100))
	if err := m.UpdateAccount(ctx, a2); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale UpdateAccount err = %v, want ErrVersionConflict", err)
	}

	got, _ := m.GetAccount(ctx, 1)
	if !got.Balance.Equal(decimal.RequireFromString("1999900.00")) {
		t.Errorf("balance = %s, want 1999900.00", got.Balance)
	}
}

func TestMemory_CreateTransaction_OneActivePerBill(t *testing.T) {
	m, _ := seedMemory(t)
	ctx := context.Background()

	first := newPending(1, "523H0111", "2026-1")
	if err := m.CreateTransaction(ctx, first); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if err := m.CreateTransaction(ctx, newPending(2, "523H0111", "2026-1")); !errors.Is(err, ErrActiveTransactionExists) {
		t.Errorf("second CreateTransaction err = %v, want ErrActiveTransactionExists", err)
	}

	first.Status = domain.StatusFailed
	if err := m.UpdateTransaction(ctx, first); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	if err := m.CreateTransaction(ctx, newPending(2, "523H0111", "2026-1")); err != nil {
		t.Errorf("CreateTransaction after terminal: %v", err)
	}
}

func TestMemory_RunInTx_RollsBackOnError(t *testing.T) {
	m, bill := seedMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := m.RunInTx(ctx, func(q Queries) error {
		a, err := q.GetAccount(ctx, 1)
		if err != nil {
			return err
		}
		a.Balance = decimal.Zero
		if err := q.UpdateAccount(ctx, a); err != nil {
			return err
		}
		b, err := q.FindUnpaidBill(ctx, bill.StudentID, bill.Period)
		if err != nil {
			return err
		}
		b.Paid = true
		if err := q.UpdateBill(ctx, b); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx err = %v, want boom", err)
	}

	a, _ := m.GetAccount(ctx, 1)
	if a.Balance.IsZero() || a.Version != 0 {
		t.Errorf("account changed after rollback: %+v", a)
	}
	if _, err := m.FindUnpaidBill(ctx, bill.StudentID, bill.Period); err != nil {
		t.Errorf("bill should still be unpaid: %v", err)
	}
}

func TestMemory_RunInTx_Commits(t *testing.T) {
	m, bill := seedMemory(t)
	ctx := context.Background()

	err := m.RunInTx(ctx, func(q Queries) error {
		b, err := q.FindUnpaidBill(ctx, bill.StudentID, bill.Period)
		if err != nil {
			return err
		}
		now := time.Now()
		b.Paid, b.PaidDate = true, &now
		return q.UpdateBill(ctx, b)
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	if _, err := m.FindUnpaidBill(ctx, bill.StudentID, bill.Period); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindUnpaidBill err = %v, want ErrNotFound", err)
	}
	b, err := m.FindBill(ctx, bill.StudentID, bill.Period)
	if err != nil || !b.Paid {
		t.Errorf("FindBill = %+v, %v; want paid bill", b, err)
	}
}

func TestMemory_ListTransactionsByPayer_NewestFirst(t *testing.T) {
	m, _ := seedMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, period := range []string{"2025-1", "2025-2", "2026-1"} {
		txn := newPending(1, "523H0111", period)
		txn.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := m.CreateTransaction(ctx, txn); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	}
	_ = m.CreateTransaction(ctx, newPending(9, "OTHER", "2026-1"))

	list, err := m.ListTransactionsByPayer(ctx, 1)
	if err != nil {
		t.Fatalf("ListTransactionsByPayer: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	if list[0].Period != "2026-1" || list[2].Period != "2025-1" {
		t.Errorf("order = %s, %s, %s; want newest first", list[0].Period, list[1].Period, list[2].Period)
	}
}

func TestMemory_ListTransactionsByStatus(t *testing.T) {
	m, _ := seedMemory(t)
	ctx := context.Background()

	a := newPending(1, "A", "2026-1")
	b := newPending(1, "B", "2026-1")
	_ = m.CreateTransaction(ctx, a)
	_ = m.CreateTransaction(ctx, b)
	b.Status = domain.StatusProcessing
	_ = m.UpdateTransaction(ctx, b)

	got, _ := m.ListTransactionsByStatus(ctx, domain.StatusProcessing)
	if len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("PROCESSING = %+v, want only %d", got, b.ID)
	}
	got, _ = m.ListTransactionsByStatus(ctx, domain.StatusPendingOTP, domain.StatusProcessing)
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	if _, err := m.GetTransaction(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTransaction err = %v, want ErrNotFound", err)
	}
	if _, err := m.GetAccount(ctx, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAccount err = %v, want ErrNotFound", err)
	}
	if _, err := m.GetAccountByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAccountByUsername err = %v, want ErrNotFound", err)
	}
}
