package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG - Environment-driven configuration
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every range below is validated hard at load time. An out-of-range
// value is a load error, never silently clamped: no window may be
// created from a half-valid configuration.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds all configuration for the trigger engine
type Config struct {
	// Instrument
	Symbol string

	// Mode
	DryRun bool
	Debug  bool

	// Tracking windows
	BuyWindowDuration    time.Duration // 30m - 12h
	SellWindowDuration   time.Duration // 30m - 12h
	MaxConcurrentWindows int           // 1 - 20

	// Reversal detection
	ReversalThreshold   float64 // percent, 0.1 - 5.0
	ConfirmationPeriods int     // 1 - 5
	NoiseThreshold      float64 // percent, 0 - 1.0
	MaxMovePercent      float64 // strength normalization, > 0

	// Observation (position state machine)
	ObservationDuration time.Duration // 30m - 12h

	// Scheduler
	MonitorPollInterval time.Duration // > 0
	WarningThreshold    time.Duration // > 0

	// Retention
	CompletedRetention time.Duration

	// Persistence
	DatabasePath string

	// Telegram (optional)
	TelegramToken  string
	TelegramChatID int64
}

const (
	minWindowDuration = 30 * time.Minute
	maxWindowDuration = 12 * time.Hour
)

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Symbol: getEnv("SYMBOL", "BTCUSDT"),
		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		BuyWindowDuration:    getEnvDuration("BUY_WINDOW_DURATION", 4*time.Hour),
		SellWindowDuration:   getEnvDuration("SELL_WINDOW_DURATION", 4*time.Hour),
		MaxConcurrentWindows: getEnvInt("MAX_CONCURRENT_WINDOWS", 20),

		ReversalThreshold:   getEnvFloat("REVERSAL_THRESHOLD_PCT", 0.3),
		ConfirmationPeriods: getEnvInt("CONFIRMATION_PERIODS", 2),
		NoiseThreshold:      getEnvFloat("NOISE_THRESHOLD_PCT", 0.01),
		MaxMovePercent:      getEnvFloat("MAX_MOVE_PCT", 2.0),

		ObservationDuration: getEnvDuration("OBSERVATION_DURATION", 4*time.Hour),

		MonitorPollInterval: getEnvDuration("MONITOR_POLL_INTERVAL", 30*time.Second),
		WarningThreshold:    getEnvDuration("WARNING_THRESHOLD", 30*time.Minute),

		CompletedRetention: getEnvDuration("COMPLETED_RETENTION", 24*time.Hour),

		DatabasePath: getEnv("DATABASE_PATH", "data/dyntrack.db"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every configured range
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("SYMBOL must not be empty")
	}
	if c.BuyWindowDuration < minWindowDuration || c.BuyWindowDuration > maxWindowDuration {
		return fmt.Errorf("BUY_WINDOW_DURATION %s out of range [30m, 12h]", c.BuyWindowDuration)
	}
	if c.SellWindowDuration < minWindowDuration || c.SellWindowDuration > maxWindowDuration {
		return fmt.Errorf("SELL_WINDOW_DURATION %s out of range [30m, 12h]", c.SellWindowDuration)
	}
	if c.MaxConcurrentWindows < 1 || c.MaxConcurrentWindows > 20 {
		return fmt.Errorf("MAX_CONCURRENT_WINDOWS %d out of range [1, 20]", c.MaxConcurrentWindows)
	}
	if c.ReversalThreshold < 0.1 || c.ReversalThreshold > 5.0 {
		return fmt.Errorf("REVERSAL_THRESHOLD_PCT %.3f out of range [0.1, 5.0]", c.ReversalThreshold)
	}
	if c.ConfirmationPeriods < 1 || c.ConfirmationPeriods > 5 {
		return fmt.Errorf("CONFIRMATION_PERIODS %d out of range [1, 5]", c.ConfirmationPeriods)
	}
	if c.NoiseThreshold < 0 || c.NoiseThreshold > 1.0 {
		return fmt.Errorf("NOISE_THRESHOLD_PCT %.3f out of range [0, 1.0]", c.NoiseThreshold)
	}
	if c.MaxMovePercent <= 0 {
		return fmt.Errorf("MAX_MOVE_PCT must be positive, got %.3f", c.MaxMovePercent)
	}
	if c.ObservationDuration < minWindowDuration || c.ObservationDuration > maxWindowDuration {
		return fmt.Errorf("OBSERVATION_DURATION %s out of range [30m, 12h]", c.ObservationDuration)
	}
	if c.MonitorPollInterval <= 0 {
		return fmt.Errorf("MONITOR_POLL_INTERVAL must be positive, got %s", c.MonitorPollInterval)
	}
	if c.WarningThreshold <= 0 {
		return fmt.Errorf("WARNING_THRESHOLD must be positive, got %s", c.WarningThreshold)
	}
	if c.CompletedRetention <= 0 {
		return fmt.Errorf("COMPLETED_RETENTION must be positive, got %s", c.CompletedRetention)
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
