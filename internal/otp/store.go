// Package otp holds per-transaction one-time-password challenges in Redis:
// the expected code, an attempt counter, and resend throttling state, each
// with its own expiry.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Result is the outcome of Verify.
type Result int

const (
	ResultOK Result = iota
	ResultMismatch
	ResultExpired
	ResultTooManyAttempts
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultMismatch:
		return "mismatch"
	case ResultExpired:
		return "expired"
	case ResultTooManyAttempts:
		return "too_many_attempts"
	}
	return "unknown"
}

var (
	// ErrResendBudgetExhausted is returned once MaxResends resends were issued.
	ErrResendBudgetExhausted = errors.New("otp resend budget exhausted")
	// ErrCooldown matches every *CooldownError.
	ErrCooldown = errors.New("otp resend cooldown")
)

// CooldownError reports how long the caller must wait before resending.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("otp resend cooldown: retry after %s", e.RetryAfter)
}

func (e *CooldownError) Is(target error) bool { return target == ErrCooldown }

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *CooldownError) RetryAfterSeconds() int64 {
	return int64((e.RetryAfter + time.Second - 1) / time.Second)
}

// KEYS: code, attempts. ARGV: submitted hash, max attempts, ttl ms.
// Returns a Result value.
var verifyScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[2])
if redis.call("PTTL", KEYS[2]) < 0 then
	redis.call("PEXPIRE", KEYS[2], ARGV[3])
end
if n > tonumber(ARGV[2]) then
	redis.call("DEL", KEYS[1])
	return 3
end
local code = redis.call("GET", KEYS[1])
if not code then
	return 2
end
if code == ARGV[1] then
	return 0
end
return 1
`)

// KEYS: code, attempts, resend count, last resend. ARGV: new hash, ttl ms,
// now ms, cooldown ms, max resends.
// Returns {count, 0} on success, {-1, 0} when the budget is spent and
// {-2, wait ms} during cooldown.
var resendScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[3]) or "0")
if count >= tonumber(ARGV[5]) then
	return {-1, 0}
end
local last = redis.call("GET", KEYS[4])
if last then
	local elapsed = tonumber(ARGV[3]) - tonumber(last)
	if elapsed < tonumber(ARGV[4]) then
		return {-2, tonumber(ARGV[4]) - elapsed}
	end
end
redis.call("DEL", KEYS[1], KEYS[2])
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SET", KEYS[2], "0", "PX", ARGV[2])
local n = redis.call("INCR", KEYS[3])
redis.call("PEXPIRE", KEYS[3], ARGV[2])
redis.call("SET", KEYS[4], ARGV[3], "PX", ARGV[2])
return {n, 0}
`)

// Config holds the challenge policy.
type Config struct {
	// TTL is the validity window of a code and of every counter.
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	MaxResends     int
}

// State describes what is left of a challenge in Redis.
type State struct {
	// CodeLive is true while a code can still be verified.
	CodeLive bool
	// ResendLive is true while resend throttling state exists.
	ResendLive bool
}

// Lapsed reports whether nothing of the challenge remains.
func (s State) Lapsed() bool { return !s.CodeLive && !s.ResendLive }

// Store is the Redis-backed challenge store.
type Store struct {
	rdb  redis.UniversalClient
	cfg  Config
	nowF func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for resend timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.nowF = now }
}

func NewStore(rdb redis.UniversalClient, cfg Config, opts ...Option) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 120 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = 30 * time.Second
	}
	if cfg.MaxResends <= 0 {
		cfg.MaxResends = 3
	}
	s := &Store{rdb: rdb, cfg: cfg, nowF: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// TTL is the validity window of an issued code.
func (s *Store) TTL() time.Duration { return s.cfg.TTL }

// MaxResends is the resend budget per transaction.
func (s *Store) MaxResends() int { return s.cfg.MaxResends }

func codeKey(id int64) string { return fmt.Sprintf("otp:txn:%d", id) }

func attemptKey(id int64) string { return fmt.Sprintf("otp:attempt:%d", id) }

func resendCountKey(id int64) string { return fmt.Sprintf("otp:resendCount:%d", id) }

func lastResendKey(id int64) string { return fmt.Sprintf("otp:lastResendAt:%d", id) }

// Issue installs code for txnID. The attempt and resend counters are only
// created if absent, so a retried Issue never resets an in-flight count.
func (s *Store) Issue(ctx context.Context, txnID int64, code string) error {
	ttl := s.cfg.TTL
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, codeKey(txnID), HashCode(code), ttl)
		p.SetNX(ctx, attemptKey(txnID), 0, ttl)
		p.SetNX(ctx, resendCountKey(txnID), 0, ttl)
		p.Set(ctx, lastResendKey(txnID), s.nowF().UnixMilli(), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("otp issue %d: %w", txnID, err)
	}
	return nil
}

// Verify counts one attempt and checks submitted against the stored code.
// Past MaxAttempts the code is deleted and ResultTooManyAttempts is returned
// whether or not submitted is correct.
func (s *Store) Verify(ctx context.Context, txnID int64, submitted string) (Result, error) {
	n, err := verifyScript.Run(ctx, s.rdb,
		[]string{codeKey(txnID), attemptKey(txnID)},
		HashCode(submitted), s.cfg.MaxAttempts, s.cfg.TTL.Milliseconds(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("otp verify %d: %w", txnID, err)
	}
	return Result(n), nil
}

// Resend replaces the code and resets the attempt counter, keeping resend
// throttling state. It fails with *CooldownError or ErrResendBudgetExhausted
// without touching anything. Returns the number of resends issued so far.
func (s *Store) Resend(ctx context.Context, txnID int64, code string) (int, error) {
	vals, err := resendScript.Run(ctx, s.rdb,
		[]string{codeKey(txnID), attemptKey(txnID), resendCountKey(txnID), lastResendKey(txnID)},
		HashCode(code), s.cfg.TTL.Milliseconds(), s.nowF().UnixMilli(),
		s.cfg.ResendCooldown.Milliseconds(), s.cfg.MaxResends,
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("otp resend %d: %w", txnID, err)
	}
	if len(vals) != 2 {
		return 0, fmt.Errorf("otp resend %d: unexpected reply %v", txnID, vals)
	}
	switch vals[0] {
	case -1:
		return 0, ErrResendBudgetExhausted
	case -2:
		return 0, &CooldownError{RetryAfter: time.Duration(vals[1]) * time.Millisecond}
	}
	return int(vals[0]), nil
}

// State reports which parts of the challenge are still alive.
func (s *Store) State(ctx context.Context, txnID int64) (State, error) {
	var codeN, resendN *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		codeN = p.Exists(ctx, codeKey(txnID))
		resendN = p.Exists(ctx, resendCountKey(txnID), lastResendKey(txnID))
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("otp state %d: %w", txnID, err)
	}
	return State{CodeLive: codeN.Val() > 0, ResendLive: resendN.Val() > 0}, nil
}

// Clear removes every key of the challenge.
func (s *Store) Clear(ctx context.Context, txnID int64) error {
	err := s.rdb.Del(ctx, codeKey(txnID), attemptKey(txnID), resendCountKey(txnID), lastResendKey(txnID)).Err()
	if err != nil {
		return fmt.Errorf("otp clear %d: %w", txnID, err)
	}
	return nil
}
