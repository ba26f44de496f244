package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/punchamoorthee/tuitionpay/internal/config"
	"github.com/punchamoorthee/tuitionpay/internal/notify"
	"github.com/punchamoorthee/tuitionpay/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:               "development",
		OTPTTL:            120 * time.Second,
		OTPLength:         6,
		OTPMaxAttempts:    5,
		OTPResendCooldown: 30 * time.Second,
		OTPMaxResends:     3,
		LockTTL:           30 * time.Second,
		LockMaxAttempts:   3,
		LockRetryBase:     100 * time.Millisecond,
		ProcessingTimeout: 30 * time.Second,
		NotifyTimeout:     5 * time.Second,
	}
}

func TestNewNotifier(t *testing.T) {
	cfg := testConfig()
	if _, ok := NewNotifier(cfg, zap.NewNop()).(*notify.LogNotifier); !ok {
		t.Error("expected log notifier without a webhook URL")
	}
	cfg.NotifyWebhookURL = "http://localhost:9999/notify"
	if _, ok := NewNotifier(cfg, zap.NewNop()).(*notify.WebhookNotifier); !ok {
		t.Error("expected webhook notifier with a webhook URL")
	}
}

func TestNewRedisAndPaymentService(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.RedisAddr = mr.Addr()

	rdb, err := NewRedis(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	defer rdb.Close()

	svc := NewPaymentService(cfg, store.NewMemoryStore(), rdb, zap.NewNop())
	report, err := svc.ReconcileExpired(context.Background())
	if err != nil || report.Scanned != 0 {
		t.Errorf("ReconcileExpired = %+v, %v", report, err)
	}
}

func TestNewRedis_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	if _, err := NewRedis(context.Background(), cfg); err == nil {
		t.Error("expected error for unreachable redis")
	}
}
