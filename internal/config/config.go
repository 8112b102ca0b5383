// Package config loads service configuration from the environment.
// An optional .env file is read first; real environment variables win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config holds every setting of the trading engine.
type Config struct {
	// --- Server ---
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// --- Storage ---
	// Empty DATABASE_URL selects the in-memory store.
	DatabaseURL string        `envconfig:"DATABASE_URL"`
	RedisURL    string        `envconfig:"REDIS_URL"`
	CacheTTL    time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	SeedFile    string        `envconfig:"SEED_FILE"`

	// --- Auth ---
	JWTSecret      string  `envconfig:"JWT_SECRET" required:"true"`
	AdminKeyHash   string  `envconfig:"ADMIN_KEY_HASH"`
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"50"`

	// --- Trading ---
	Pairs                 []string        `envconfig:"PAIRS" default:"BTC/USDT,ETH/USDT,BNB/USDT,SOL/USDT,XRP/USDT"`
	MinTradeDuration      time.Duration   `envconfig:"MIN_TRADE_DURATION" default:"30s"`
	MaxTradeDuration      time.Duration   `envconfig:"MAX_TRADE_DURATION" default:"1h"`
	MaxStakePerTrade      decimal.Decimal `envconfig:"MAX_STAKE_PER_TRADE" default:"10000"`
	MaxExposurePerPair    decimal.Decimal `envconfig:"MAX_EXPOSURE_PER_PAIR" default:"25000"`
	MaxCorrelatedExposure decimal.Decimal `envconfig:"MAX_CORRELATED_EXPOSURE" default:"50000"`

	// --- Background jobs (robfig/cron specs) ---
	SettleSchedule      string `envconfig:"SETTLE_SCHEDULE" default:"@every 5s"`
	SettleBatchSize     int    `envconfig:"SETTLE_BATCH_SIZE" default:"100"`
	BonusExpirySchedule string `envconfig:"BONUS_EXPIRY_SCHEDULE" default:"@every 1m"`

	// --- Price feed ---
	FeedRESTURL         string        `envconfig:"FEED_REST_URL" default:"https://api.binance.com"`
	FeedStreamURL       string        `envconfig:"FEED_STREAM_URL" default:"wss://stream.binance.com:9443"`
	FeedInitialDelay    time.Duration `envconfig:"FEED_INITIAL_DELAY" default:"5s"`
	FeedMaxDelay        time.Duration `envconfig:"FEED_MAX_DELAY" default:"1m"`
	FeedMaxAttempts     int           `envconfig:"FEED_MAX_ATTEMPTS" default:"10"`
	FeedPollInterval    time.Duration `envconfig:"FEED_POLL_INTERVAL" default:"10s"`
	FeedCircuitCooldown time.Duration `envconfig:"FEED_CIRCUIT_COOLDOWN" default:"2m"`

	// --- Email ---
	SMTPTimeout time.Duration `envconfig:"SMTP_TIMEOUT" default:"15s"`
}

// Validate enforces ranges envconfig cannot express.
func (c *Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("PAIRS must list at least one pair")
	}
	if c.MinTradeDuration <= 0 || c.MaxTradeDuration < c.MinTradeDuration {
		return fmt.Errorf("invalid MIN_TRADE_DURATION/MAX_TRADE_DURATION")
	}
	if c.MaxStakePerTrade.IsNegative() || c.MaxExposurePerPair.IsNegative() || c.MaxCorrelatedExposure.IsNegative() {
		return fmt.Errorf("exposure limits must not be negative")
	}
	if c.SettleBatchSize <= 0 {
		return fmt.Errorf("SETTLE_BATCH_SIZE must be > 0")
	}
	if c.FeedInitialDelay <= 0 || c.FeedMaxDelay < c.FeedInitialDelay {
		return fmt.Errorf("invalid FEED_INITIAL_DELAY/FEED_MAX_DELAY")
	}
	if c.FeedMaxAttempts <= 0 {
		return fmt.Errorf("FEED_MAX_ATTEMPTS must be > 0")
	}
	if c.FeedPollInterval <= 0 || c.FeedCircuitCooldown <= 0 {
		return fmt.Errorf("FEED_POLL_INTERVAL and FEED_CIRCUIT_COOLDOWN must be > 0")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level; unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads envFiles (missing files are skipped) and then the environment.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
