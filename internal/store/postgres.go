package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/tuitionpay/internal/domain"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the Ledger backed by a pgx pool.
type PostgresStore struct {
	*queries
	Db *pgxpool.Pool
}

// NewPostgresStore opens a pool, sizes it and pings the database.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	config.MaxConns = 20
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{queries: &queries{db: pool}, Db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

// RunInTx executes fn inside a SERIALIZABLE transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

type queries struct {
	db dbtx
}

// mapErr turns driver errors into the package sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			if pgErr.ConstraintName == "payment_transactions_one_active" {
				return ErrActiveTransactionExists
			}
		case pgSerializationFailure:
			return fmt.Errorf("%w: %v", ErrVersionConflict, err)
		}
	}
	return err
}

const accountColumns = "id, username, full_name, email, phone, balance, version"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Username, &a.FullName, &a.Email, &a.Phone, &a.Balance, &a.Version)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (q *queries) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1", id))
}

func (q *queries) GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, "SELECT "+accountColumns+" FROM accounts WHERE username = $1", username))
}

func (q *queries) UpdateAccount(ctx context.Context, a *domain.Account) error {
	tag, err := q.db.Exec(ctx,
		"UPDATE accounts SET balance = $1, version = version + 1 WHERE id = $2 AND version = $3",
		a.Balance, a.ID, a.Version,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	a.Version++
	return nil
}

const billColumns = "id, student_id, student_name, period, amount, paid, paid_date, version"

func scanBill(row pgx.Row) (*domain.Bill, error) {
	var b domain.Bill
	err := row.Scan(&b.ID, &b.StudentID, &b.StudentName, &b.Period, &b.Amount, &b.Paid, &b.PaidDate, &b.Version)
	if err != nil {
		return nil, mapErr(err)
	}
	return &b, nil
}

// FindBill returns the most recent bill for the pair, paid or not.
func (q *queries) FindBill(ctx context.Context, studentID, period string) (*domain.Bill, error) {
	return scanBill(q.db.QueryRow(ctx,
		"SELECT "+billColumns+" FROM bills WHERE student_id = $1 AND period = $2 ORDER BY paid ASC, id DESC LIMIT 1",
		studentID, period))
}

func (q *queries) FindUnpaidBill(ctx context.Context, studentID, period string) (*domain.Bill, error) {
	return scanBill(q.db.QueryRow(ctx,
		"SELECT "+billColumns+" FROM bills WHERE student_id = $1 AND period = $2 AND NOT paid",
		studentID, period))
}

func (q *queries) UpdateBill(ctx context.Context, b *domain.Bill) error {
	tag, err := q.db.Exec(ctx,
		"UPDATE bills SET paid = $1, paid_date = $2, version = version + 1 WHERE id = $3 AND version = $4",
		b.Paid, b.PaidDate, b.ID, b.Version,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	b.Version++
	return nil
}

const txnColumns = "id, payer_account_id, student_id, period, amount, status, created_at, completed_at, lease_id, lease_expiry, version"

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(&t.ID, &t.PayerID, &t.StudentID, &t.Period, &t.Amount, &t.Status,
		&t.CreatedAt, &t.CompletedAt, &t.LeaseID, &t.LeaseExpiry, &t.Version)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (q *queries) listTransactions(ctx context.Context, sql string, args ...any) ([]domain.Transaction, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (q *queries) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, "SELECT "+txnColumns+" FROM payment_transactions WHERE id = $1", id))
}

func (q *queries) ListActiveTransactions(ctx context.Context, studentID, period string) ([]domain.Transaction, error) {
	return q.listTransactions(ctx,
		"SELECT "+txnColumns+" FROM payment_transactions WHERE student_id = $1 AND period = $2 AND status = ANY($3)",
		studentID, period, statusStrings(domain.ActiveStatuses))
}

func (q *queries) ListTransactionsByPayer(ctx context.Context, payerID int64) ([]domain.Transaction, error) {
	return q.listTransactions(ctx,
		"SELECT "+txnColumns+" FROM payment_transactions WHERE payer_account_id = $1 ORDER BY created_at DESC, id DESC",
		payerID)
}

func (q *queries) ListTransactionsByStatus(ctx context.Context, statuses ...domain.Status) ([]domain.Transaction, error) {
	return q.listTransactions(ctx,
		"SELECT "+txnColumns+" FROM payment_transactions WHERE status = ANY($1) ORDER BY id",
		statusStrings(statuses))
}

func (q *queries) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	err := q.db.QueryRow(ctx,
		`INSERT INTO payment_transactions
			(payer_account_id, student_id, period, amount, status, created_at, completed_at, lease_id, lease_expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, version`,
		t.PayerID, t.StudentID, t.Period, t.Amount, t.Status, t.CreatedAt, t.CompletedAt, t.LeaseID, t.LeaseExpiry,
	).Scan(&t.ID, &t.Version)
	return mapErr(err)
}

// UpdateTransaction writes the mutable columns. Amount is never rewritten.
func (q *queries) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE payment_transactions
		SET status = $1, completed_at = $2, lease_id = $3, lease_expiry = $4, version = version + 1
		WHERE id = $5 AND version = $6`,
		t.Status, t.CompletedAt, t.LeaseID, t.LeaseExpiry, t.ID, t.Version,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	t.Version++
	return nil
}
