// Package config loads service configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"SERVER_PORT"`
	DBSource string `mapstructure:"DB_SOURCE"`
	Env      string `mapstructure:"APP_ENV"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	OTPTTL            time.Duration `mapstructure:"OTP_TTL"`
	OTPLength         int           `mapstructure:"OTP_LENGTH"`
	OTPMaxAttempts    int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	OTPResendCooldown time.Duration `mapstructure:"OTP_RESEND_COOLDOWN"`
	OTPMaxResends     int           `mapstructure:"OTP_MAX_RESENDS"`
	// OTPLogCodes writes plaintext codes to the log notifier. Development only.
	OTPLogCodes bool `mapstructure:"OTP_LOG_CODES"`

	LockTTL         time.Duration `mapstructure:"LOCK_TTL"`
	LockMaxAttempts int           `mapstructure:"LOCK_MAX_ATTEMPTS"`
	LockRetryBase   time.Duration `mapstructure:"LOCK_RETRY_BASE"`

	SweepInterval time.Duration `mapstructure:"SWEEP_INTERVAL"`
	// ProcessingTimeout defaults to LockTTL when unset.
	ProcessingTimeout time.Duration `mapstructure:"PROCESSING_TIMEOUT"`

	NotifyWebhookURL string        `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyTimeout    time.Duration `mapstructure:"NOTIFY_TIMEOUT"`
}

// Load reads .env if present, then the environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DB_SOURCE", "")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OTP_TTL", "120s")
	v.SetDefault("OTP_LENGTH", 6)
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("OTP_RESEND_COOLDOWN", "30s")
	v.SetDefault("OTP_MAX_RESENDS", 3)
	v.SetDefault("OTP_LOG_CODES", false)
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("LOCK_MAX_ATTEMPTS", 3)
	v.SetDefault("LOCK_RETRY_BASE", "100ms")
	v.SetDefault("SWEEP_INTERVAL", "30s")
	v.SetDefault("PROCESSING_TIMEOUT", "0s")
	v.SetDefault("NOTIFY_WEBHOOK_URL", "")
	v.SetDefault("NOTIFY_TIMEOUT", "5s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = cfg.LockTTL
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DBSource == "":
		return errors.New("config: DB_SOURCE must be set")
	case c.RedisAddr == "":
		return errors.New("config: REDIS_ADDR must be set")
	case c.OTPLogCodes && c.Production():
		return errors.New("config: OTP_LOG_CODES must not be true when APP_ENV=production")
	case c.OTPTTL <= 0:
		return errors.New("config: OTP_TTL must be positive")
	case c.OTPLength < 4 || c.OTPLength > 10:
		return errors.New("config: OTP_LENGTH must be between 4 and 10")
	case c.OTPMaxAttempts <= 0:
		return errors.New("config: OTP_MAX_ATTEMPTS must be positive")
	case c.OTPMaxResends <= 0:
		return errors.New("config: OTP_MAX_RESENDS must be positive")
	case c.OTPResendCooldown < 0:
		return errors.New("config: OTP_RESEND_COOLDOWN must not be negative")
	case c.LockTTL <= 0:
		return errors.New("config: LOCK_TTL must be positive")
	case c.LockMaxAttempts <= 0:
		return errors.New("config: LOCK_MAX_ATTEMPTS must be positive")
	case c.SweepInterval <= 0:
		return errors.New("config: SWEEP_INTERVAL must be positive")
	}
	return nil
}

// Production reports whether APP_ENV is production.
func (c *Config) Production() bool {
	return c.Env == "production"
}
