// Package lock provides named, TTL-bounded leases held in Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBusy is returned when a lease is held by someone else.
var ErrBusy = errors.New("lock busy")

// Deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a held lock. Token is the random value stored under Name.
type Lease struct {
	Name      string
	Token     string
	ExpiresAt time.Time
}

// Config tunes acquisition.
type Config struct {
	TTL         time.Duration
	MaxAttempts int
	RetryBase   time.Duration
}

// Manager acquires and releases leases against a shared Redis.
type Manager struct {
	rdb redis.UniversalClient
	cfg Config
}

func NewManager(rdb redis.UniversalClient, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	return &Manager{rdb: rdb, cfg: cfg}
}

// TTL is the lease lifetime used by TryAcquireWithRetry and AcquireAll.
func (m *Manager) TTL() time.Duration { return m.cfg.TTL }

// Acquire takes name for ttl with a single SET NX PX. Returns ErrBusy when
// the key already exists.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := m.rdb.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return &Lease{Name: name, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
}

// Release deletes the lease if it is still ours. A lease that already expired
// or was taken over is left alone.
func (m *Manager) Release(ctx context.Context, l *Lease) error {
	if l == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, m.rdb, []string{l.Name}, l.Token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.Name, err)
	}
	return nil
}

// TryAcquireWithRetry attempts Acquire up to maxAttempts times, sleeping
// RetryBase*attempt between attempts.
func (m *Manager) TryAcquireWithRetry(ctx context.Context, name string, maxAttempts int) (*Lease, error) {
	if maxAttempts <= 0 {
		maxAttempts = m.cfg.MaxAttempts
	}
	for attempt := 1; ; attempt++ {
		l, err := m.Acquire(ctx, name, m.cfg.TTL)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrBusy) || attempt >= maxAttempts {
			return nil, err
		}
		t := time.NewTimer(m.cfg.RetryBase * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// AcquireAll takes every name in order. If any acquisition fails, the leases
// already taken are released and the error is returned. The returned release
// func is safe to call once on every exit path.
func (m *Manager) AcquireAll(ctx context.Context, names ...string) (func(context.Context), error) {
	held := make([]*Lease, 0, len(names))
	release := func(ctx context.Context) {
		for i := len(held) - 1; i >= 0; i-- {
			_ = m.Release(ctx, held[i])
		}
	}
	for _, name := range names {
		l, err := m.TryAcquireWithRetry(ctx, name, m.cfg.MaxAttempts)
		if err != nil {
			release(context.WithoutCancel(ctx))
			return nil, err
		}
		held = append(held, l)
	}
	return release, nil
}

// PayerKey names the lock guarding a payer's balance.
func PayerKey(payerID int64) string {
	return fmt.Sprintf("lock:payer:%d", payerID)
}

// BillKey names the lock guarding a student's bill for a period.
func BillKey(studentID, period string) string {
	return fmt.Sprintf("lock:tuition:%s:%s", studentID, period)
}
