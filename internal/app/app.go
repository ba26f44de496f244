// Package app builds the shared runtime for the api and sweeper binaries:
// logger, Postgres ledger, Redis client and the payment service.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/punchamoorthee/tuitionpay/internal/config"
	"github.com/punchamoorthee/tuitionpay/internal/lock"
	"github.com/punchamoorthee/tuitionpay/internal/notify"
	"github.com/punchamoorthee/tuitionpay/internal/otp"
	"github.com/punchamoorthee/tuitionpay/internal/service"
	"github.com/punchamoorthee/tuitionpay/internal/store"
)

// NewLogger returns a JSON production logger for APP_ENV=production and a
// console development logger otherwise.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// NewRedis connects and pings Redis.
func NewRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("unable to reach redis at %s: %w", cfg.RedisAddr, err)
	}
	return rdb, nil
}

// NewNotifier picks the webhook notifier when a URL is configured and the
// log notifier otherwise.
func NewNotifier(cfg *config.Config, logger *zap.Logger) notify.Notifier {
	if cfg.NotifyWebhookURL != "" {
		return notify.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyTimeout)
	}
	return &notify.LogNotifier{Logger: logger.Named("notify"), ShowCodes: cfg.OTPLogCodes}
}

// NewPaymentService assembles the lock manager, OTP store and service.
func NewPaymentService(cfg *config.Config, ledger store.Ledger, rdb redis.UniversalClient, logger *zap.Logger) *service.PaymentService {
	locks := lock.NewManager(rdb, lock.Config{
		TTL:         cfg.LockTTL,
		MaxAttempts: cfg.LockMaxAttempts,
		RetryBase:   cfg.LockRetryBase,
	})
	otps := otp.NewStore(rdb, otp.Config{
		TTL:            cfg.OTPTTL,
		MaxAttempts:    cfg.OTPMaxAttempts,
		ResendCooldown: cfg.OTPResendCooldown,
		MaxResends:     cfg.OTPMaxResends,
	})
	return service.NewPaymentService(ledger, locks, otps, NewNotifier(cfg, logger), logger.Named("payments"), service.Options{
		CodeLength:        cfg.OTPLength,
		ProcessingTimeout: cfg.ProcessingTimeout,
	})
}

// Runtime holds the opened dependencies of a process.
type Runtime struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    *store.PostgresStore
	Redis    *redis.Client
	Payments *service.PaymentService
}

// Open connects to Postgres and Redis and builds the payment service.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	pg, err := store.NewPostgresStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, err
	}
	rdb, err := NewRedis(ctx, cfg)
	if err != nil {
		pg.Close()
		return nil, err
	}
	return &Runtime{
		Config:   cfg,
		Logger:   logger,
		Store:    pg,
		Redis:    rdb,
		Payments: NewPaymentService(cfg, pg, rdb, logger),
	}, nil
}

func (r *Runtime) Close() {
	if err := r.Redis.Close(); err != nil {
		r.Logger.Warn("redis close", zap.Error(err))
	}
	r.Store.Close()
}
