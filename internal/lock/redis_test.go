package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewManager(rdb, cfg), mr
}

func TestAcquire_SecondCallerIsBusy(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	l, err := m.Acquire(ctx, "lock:payer:1", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if l.Token == "" {
		t.Error("lease token should be set")
	}
	if _, err := m.Acquire(ctx, "lock:payer:1", time.Minute); !errors.Is(err, ErrBusy) {
		t.Errorf("second Acquire err = %v, want ErrBusy", err)
	}
}

func TestAcquire_ExpiresAfterTTL(t *testing.T) {
	m, mr := newTestManager(t, Config{})
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "k", 30*time.Second); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	mr.FastForward(31 * time.Second)
	if _, err := m.Acquire(ctx, "k", 30*time.Second); err != nil {
		t.Errorf("Acquire after TTL: %v", err)
	}
}

func TestRelease_RequiresOwnership(t *testing.T) {
	m, mr := newTestManager(t, Config{})
	ctx := context.Background()

	stale, err := m.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)
	current, err := m.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("re-Acquire: %v", err)
	}

	if err := m.Release(ctx, stale); err != nil {
		t.Fatalf("Release(stale): %v", err)
	}
	if got, _ := mr.Get("k"); got != current.Token {
		t.Errorf("stale release removed the current lease: value = %q, want %q", got, current.Token)
	}

	if err := m.Release(ctx, current); err != nil {
		t.Fatalf("Release(current): %v", err)
	}
	if mr.Exists("k") {
		t.Error("key should be gone after owner releases")
	}
}

func TestTryAcquireWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	m, _ := newTestManager(t, Config{RetryBase: time.Millisecond})
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	start := time.Now()
	_, err := m.TryAcquireWithRetry(ctx, "k", 3)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	// 1ms + 2ms of backoff between three attempts.
	if elapsed := time.Since(start); elapsed < 3*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 3ms of backoff", elapsed)
	}
}

func TestTryAcquireWithRetry_SucceedsWhenFreed(t *testing.T) {
	m, _ := newTestManager(t, Config{RetryBase: 20 * time.Millisecond})
	ctx := context.Background()

	held, err := m.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = m.Release(context.Background(), held)
	}()
	if _, err := m.TryAcquireWithRetry(ctx, "k", 3); err != nil {
		t.Errorf("TryAcquireWithRetry: %v", err)
	}
}

func TestTryAcquireWithRetry_HonoursCancellation(t *testing.T) {
	m, _ := newTestManager(t, Config{RetryBase: time.Second})
	if _, err := m.Acquire(context.Background(), "k", time.Minute); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.TryAcquireWithRetry(ctx, "k", 3); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestAcquireAll_ReleasesPartialOnFailure(t *testing.T) {
	m, mr := newTestManager(t, Config{RetryBase: time.Millisecond})
	ctx := context.Background()

	if _, err := m.Acquire(ctx, BillKey("S1", "2026-1"), time.Minute); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_, err := m.AcquireAll(ctx, PayerKey(1), BillKey("S1", "2026-1"))
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if mr.Exists(PayerKey(1)) {
		t.Error("payer lock should have been released after bill lock failed")
	}
}

func TestAcquireAll_MutualExclusion(t *testing.T) {
	m, _ := newTestManager(t, Config{MaxAttempts: 1})
	ctx := context.Background()

	var acquired int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.AcquireAll(ctx, PayerKey(7), BillKey("S1", "2026-1")); err == nil {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	wg.Wait()
	if acquired != 1 {
		t.Errorf("acquired = %d, want exactly 1", acquired)
	}
}

func TestKeys(t *testing.T) {
	if got := PayerKey(42); got != "lock:payer:42" {
		t.Errorf("PayerKey = %q", got)
	}
	if got := BillKey("523H0111", "2026-1"); got != "lock:tuition:523H0111:2026-1" {
		t.Errorf("BillKey = %q", got)
	}
}
