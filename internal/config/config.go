package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the paper-trading engine.
type Config struct {
	Port            int
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	DBDriver string // memory, sqlite or postgres
	DBDSN    string
	Symbols  []string // empty allows every well-formed symbol

	QuoteBaseURL     string
	QuoteTimeout     time.Duration
	FetchInterval    time.Duration
	FetchBatchSize   int
	FetchSpacing     time.Duration
	CacheWaitTimeout time.Duration
	PriceWaitTimeout time.Duration // request-path bound, below WriteTimeout

	MatchInterval       time.Duration
	MatchMaxAge         time.Duration
	MatcherMaxStaleness time.Duration // zero disables the ceiling

	BroadcastInterval time.Duration
	BroadcastSpacing  time.Duration

	WebhookURL     string // empty disables fill webhooks
	WebhookTimeout time.Duration

	RateLimitRequests int // per owner per minute, zero disables
	RateLimitTrades   int // order placements and cancels per owner per minute
}

// EnvFile is read before the environment when present. Variables already
// set in the environment take precedence over it.
var EnvFile = ".env"

var defaults = map[string]any{
	"PORT":                  "8080",
	"LOG_LEVEL":             "info",
	"READ_TIMEOUT":          "5s",
	"WRITE_TIMEOUT":         "10s",
	"IDLE_TIMEOUT":          "60s",
	"SHUTDOWN_TIMEOUT":      "10s",
	"DB_DRIVER":             "memory",
	"DB_DSN":                "",
	"SYMBOLS":               "",
	"QUOTE_BASE_URL":        "https://query1.finance.yahoo.com",
	"QUOTE_TIMEOUT":         "10s",
	"FETCH_INTERVAL":        "10s",
	"FETCH_BATCH_SIZE":      "10",
	"FETCH_SPACING":         "2s",
	"CACHE_WAIT_TIMEOUT":    "30s",
	"PRICE_WAIT_TIMEOUT":    "8s",
	"MATCH_INTERVAL":        "30s",
	"MATCH_MAX_AGE":         "30s",
	"MATCHER_MAX_STALENESS": "0s",
	"BROADCAST_INTERVAL":    "5s",
	"BROADCAST_SPACING":     "1s",
	"WEBHOOK_URL":           "",
	"WEBHOOK_TIMEOUT":       "5s",
	"RATE_LIMIT_REQUESTS":   "100",
	"RATE_LIMIT_TRADES":     "30",
}

// Load reads configuration from the env file and environment variables,
// applies defaults, and validates values. It returns an error for any
// invalid value.
func Load() (*Config, error) {
	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", EnvFile, err)
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()

	cfg := &Config{}
	var err error

	if cfg.Port, err = getInt(v, "PORT"); err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d, must be between 1 and 65535", cfg.Port)
	}

	cfg.LogLevel = v.GetString("LOG_LEVEL")
	if !isValidLogLevel(cfg.LogLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", cfg.LogLevel)
	}

	cfg.DBDriver = strings.ToLower(v.GetString("DB_DRIVER"))
	cfg.DBDSN = v.GetString("DB_DSN")
	switch cfg.DBDriver {
	case "memory":
	case "sqlite", "postgres":
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("invalid DB_DSN: required when DB_DRIVER is %s", cfg.DBDriver)
		}
	default:
		return nil, fmt.Errorf("invalid DB_DRIVER: %q, must be one of: memory, sqlite, postgres", cfg.DBDriver)
	}

	cfg.Symbols = splitList(v.GetString("SYMBOLS"))
	cfg.QuoteBaseURL = v.GetString("QUOTE_BASE_URL")
	if cfg.QuoteBaseURL == "" {
		return nil, errors.New("invalid QUOTE_BASE_URL: must not be empty")
	}
	cfg.WebhookURL = v.GetString("WEBHOOK_URL")

	if cfg.FetchBatchSize, err = getInt(v, "FETCH_BATCH_SIZE"); err != nil {
		return nil, fmt.Errorf("invalid FETCH_BATCH_SIZE: %w", err)
	}
	if cfg.FetchBatchSize < 1 {
		return nil, fmt.Errorf("invalid FETCH_BATCH_SIZE: %d, must be at least 1", cfg.FetchBatchSize)
	}

	limits := []struct {
		key string
		dst *int
	}{
		{"RATE_LIMIT_REQUESTS", &cfg.RateLimitRequests},
		{"RATE_LIMIT_TRADES", &cfg.RateLimitTrades},
	}
	for _, l := range limits {
		if *l.dst, err = getInt(v, l.key); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", l.key, err)
		}
		if *l.dst < 0 {
			return nil, fmt.Errorf("invalid %s: %d, must not be negative", l.key, *l.dst)
		}
	}

	durations := []struct {
		key      string
		dst      *time.Duration
		positive bool
	}{
		{"READ_TIMEOUT", &cfg.ReadTimeout, true},
		{"WRITE_TIMEOUT", &cfg.WriteTimeout, true},
		{"IDLE_TIMEOUT", &cfg.IdleTimeout, true},
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout, true},
		{"QUOTE_TIMEOUT", &cfg.QuoteTimeout, true},
		{"FETCH_INTERVAL", &cfg.FetchInterval, true},
		{"FETCH_SPACING", &cfg.FetchSpacing, false},
		{"CACHE_WAIT_TIMEOUT", &cfg.CacheWaitTimeout, true},
		{"PRICE_WAIT_TIMEOUT", &cfg.PriceWaitTimeout, true},
		{"MATCH_INTERVAL", &cfg.MatchInterval, true},
		{"MATCH_MAX_AGE", &cfg.MatchMaxAge, true},
		{"MATCHER_MAX_STALENESS", &cfg.MatcherMaxStaleness, false},
		{"BROADCAST_INTERVAL", &cfg.BroadcastInterval, true},
		{"BROADCAST_SPACING", &cfg.BroadcastSpacing, false},
		{"WEBHOOK_TIMEOUT", &cfg.WebhookTimeout, true},
	}
	for _, d := range durations {
		val, err := getDuration(v, d.key)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if val < 0 || (d.positive && val == 0) {
			return nil, fmt.Errorf("invalid %s: %s, must be positive", d.key, val)
		}
		*d.dst = val
	}

	// A price read that outlives the write deadline gets its connection
	// reset instead of a response.
	if cfg.PriceWaitTimeout >= cfg.WriteTimeout {
		return nil, fmt.Errorf("invalid PRICE_WAIT_TIMEOUT: %s, must be less than WRITE_TIMEOUT (%s)",
			cfg.PriceWaitTimeout, cfg.WriteTimeout)
	}

	return cfg, nil
}

// viper's typed getters swallow parse errors, so values are read as
// strings and parsed here.
func getInt(v *viper.Viper, key string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(v.GetString(key)))
}

func getDuration(v *viper.Viper, key string) (time.Duration, error) {
	return time.ParseDuration(strings.TrimSpace(v.GetString(key)))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
