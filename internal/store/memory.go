package store

import (
	"context"
	"sort"
	"sync"

	"github.com/punchamoorthee/tuitionpay/internal/domain"
)

// MemoryStore is an in-process Ledger. Units of work run against a copy of
// the state that replaces the live state only if fn succeeds, and they are
// serialized, so it behaves like a SERIALIZABLE database with one writer.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	accounts map[int64]domain.Account
	bills    map[int64]domain.Bill
	txns     map[int64]domain.Transaction
	nextBill int64
	nextTxn  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		accounts: make(map[int64]domain.Account),
		bills:    make(map[int64]domain.Bill),
		txns:     make(map[int64]domain.Transaction),
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		accounts: make(map[int64]domain.Account, len(s.accounts)),
		bills:    make(map[int64]domain.Bill, len(s.bills)),
		txns:     make(map[int64]domain.Transaction, len(s.txns)),
		nextBill: s.nextBill,
		nextTxn:  s.nextTxn,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.bills {
		c.bills[k] = v
	}
	for k, v := range s.txns {
		c.txns[k] = v
	}
	return c
}

// PutAccount inserts or replaces an account as-is.
func (m *MemoryStore) PutAccount(a domain.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.accounts[a.ID] = a
}

// PutBill inserts a bill, assigning an ID when zero. Returns the stored bill.
func (m *MemoryStore) PutBill(b domain.Bill) domain.Bill {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		m.state.nextBill++
		b.ID = m.state.nextBill
	}
	m.state.bills[b.ID] = b
	return b
}

// RunInTx runs fn against a private copy and publishes it on success.
func (m *MemoryStore) RunInTx(ctx context.Context, fn func(q Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.state.clone()
	if err := fn(&memQueries{s: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *MemoryStore) do(fn func(q *memQueries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memQueries{s: m.state})
}

func (m *MemoryStore) GetAccount(ctx context.Context, id int64) (a *domain.Account, err error) {
	err = m.do(func(q *memQueries) error { a, err = q.GetAccount(ctx, id); return err })
	return a, err
}

func (m *MemoryStore) GetAccountByUsername(ctx context.Context, username string) (a *domain.Account, err error) {
	err = m.do(func(q *memQueries) error { a, err = q.GetAccountByUsername(ctx, username); return err })
	return a, err
}

func (m *MemoryStore) UpdateAccount(ctx context.Context, a *domain.Account) error {
	return m.do(func(q *memQueries) error { return q.UpdateAccount(ctx, a) })
}

func (m *MemoryStore) FindBill(ctx context.Context, studentID, period string) (b *domain.Bill, err error) {
	err = m.do(func(q *memQueries) error { b, err = q.FindBill(ctx, studentID, period); return err })
	return b, err
}

func (m *MemoryStore) FindUnpaidBill(ctx context.Context, studentID, period string) (b *domain.Bill, err error) {
	err = m.do(func(q *memQueries) error { b, err = q.FindUnpaidBill(ctx, studentID, period); return err })
	return b, err
}

func (m *MemoryStore) UpdateBill(ctx context.Context, b *domain.Bill) error {
	return m.do(func(q *memQueries) error { return q.UpdateBill(ctx, b) })
}

func (m *MemoryStore) GetTransaction(ctx context.Context, id int64) (t *domain.Transaction, err error) {
	err = m.do(func(q *memQueries) error { t, err = q.GetTransaction(ctx, id); return err })
	return t, err
}

func (m *MemoryStore) ListActiveTransactions(ctx context.Context, studentID, period string) (out []domain.Transaction, err error) {
	err = m.do(func(q *memQueries) error { out, err = q.ListActiveTransactions(ctx, studentID, period); return err })
	return out, err
}

func (m *MemoryStore) ListTransactionsByPayer(ctx context.Context, payerID int64) (out []domain.Transaction, err error) {
	err = m.do(func(q *memQueries) error { out, err = q.ListTransactionsByPayer(ctx, payerID); return err })
	return out, err
}

func (m *MemoryStore) ListTransactionsByStatus(ctx context.Context, statuses ...domain.Status) (out []domain.Transaction, err error) {
	err = m.do(func(q *memQueries) error { out, err = q.ListTransactionsByStatus(ctx, statuses...); return err })
	return out, err
}

func (m *MemoryStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	return m.do(func(q *memQueries) error { return q.CreateTransaction(ctx, t) })
}

func (m *MemoryStore) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	return m.do(func(q *memQueries) error { return q.UpdateTransaction(ctx, t) })
}

// memQueries operates on one memState; callers hold the store mutex.
type memQueries struct {
	s *memState
}

func (q *memQueries) GetAccount(_ context.Context, id int64) (*domain.Account, error) {
	a, ok := q.s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (q *memQueries) GetAccountByUsername(_ context.Context, username string) (*domain.Account, error) {
	for _, a := range q.s.accounts {
		if a.Username == username {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (q *memQueries) UpdateAccount(_ context.Context, a *domain.Account) error {
	cur, ok := q.s.accounts[a.ID]
	if !ok || cur.Version != a.Version {
		return ErrVersionConflict
	}
	cur.Balance = a.Balance
	cur.Version++
	q.s.accounts[a.ID] = cur
	a.Version = cur.Version
	return nil
}

func (q *memQueries) FindBill(_ context.Context, studentID, period string) (*domain.Bill, error) {
	var found *domain.Bill
	for _, b := range q.s.bills {
		if b.StudentID != studentID || b.Period != period {
			continue
		}
		if found == nil || (found.Paid && !b.Paid) || (found.Paid == b.Paid && b.ID > found.ID) {
			b := b
			found = &b
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (q *memQueries) FindUnpaidBill(_ context.Context, studentID, period string) (*domain.Bill, error) {
	for _, b := range q.s.bills {
		if b.StudentID == studentID && b.Period == period && !b.Paid {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

func (q *memQueries) UpdateBill(_ context.Context, b *domain.Bill) error {
	cur, ok := q.s.bills[b.ID]
	if !ok || cur.Version != b.Version {
		return ErrVersionConflict
	}
	cur.Paid = b.Paid
	cur.PaidDate = b.PaidDate
	cur.Version++
	q.s.bills[b.ID] = cur
	b.Version = cur.Version
	return nil
}

func (q *memQueries) GetTransaction(_ context.Context, id int64) (*domain.Transaction, error) {
	t, ok := q.s.txns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (q *memQueries) filter(keep func(domain.Transaction) bool) []domain.Transaction {
	var out []domain.Transaction
	for _, t := range q.s.txns {
		if keep(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (q *memQueries) ListActiveTransactions(_ context.Context, studentID, period string) ([]domain.Transaction, error) {
	return q.filter(func(t domain.Transaction) bool {
		return t.StudentID == studentID && t.Period == period && t.Status.Active()
	}), nil
}

func (q *memQueries) ListTransactionsByPayer(_ context.Context, payerID int64) ([]domain.Transaction, error) {
	out := q.filter(func(t domain.Transaction) bool { return t.PayerID == payerID })
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (q *memQueries) ListTransactionsByStatus(_ context.Context, statuses ...domain.Status) ([]domain.Transaction, error) {
	return q.filter(func(t domain.Transaction) bool {
		for _, s := range statuses {
			if t.Status == s {
				return true
			}
		}
		return false
	}), nil
}

// hasOtherActive mirrors the partial unique index on active transactions.
func (q *memQueries) hasOtherActive(t *domain.Transaction) bool {
	if !t.Status.Active() {
		return false
	}
	for _, o := range q.s.txns {
		if o.ID != t.ID && o.StudentID == t.StudentID && o.Period == t.Period && o.Status.Active() {
			return true
		}
	}
	return false
}

func (q *memQueries) CreateTransaction(_ context.Context, t *domain.Transaction) error {
	if q.hasOtherActive(t) {
		return ErrActiveTransactionExists
	}
	q.s.nextTxn++
	t.ID = q.s.nextTxn
	t.Version = 0
	q.s.txns[t.ID] = *t
	return nil
}

func (q *memQueries) UpdateTransaction(_ context.Context, t *domain.Transaction) error {
	cur, ok := q.s.txns[t.ID]
	if !ok || cur.Version != t.Version {
		return ErrVersionConflict
	}
	if q.hasOtherActive(t) {
		return ErrActiveTransactionExists
	}
	cur.Status = t.Status
	cur.CompletedAt = t.CompletedAt
	cur.LeaseID = t.LeaseID
	cur.LeaseExpiry = t.LeaseExpiry
	cur.Version++
	q.s.txns[t.ID] = cur
	t.Version = cur.Version
	return nil
}
