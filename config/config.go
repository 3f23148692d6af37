// Package config loads runtime settings from environment variables and the
// strategy bootstrap file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"candlebot/internal/strategy"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Coinbase credentials
	CoinbaseAPIKey    string
	CoinbaseAPISecret string
	CoinbaseRESTURL   string
	CoinbaseWSURL     string

	// Infrastructure
	RedisAddr     string // empty disables Redis publishing
	RedisPassword string
	WorkspacePath string
	MetricsAddr   string
	APIAddr       string
	LogLevel      string

	// Strategy bootstrap file (YAML); merged into the workspace on startup.
	StrategiesFile string

	// Notification backends (empty disables each).
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string

	// Trading behavior
	FillPollInterval     time.Duration
	FillPollMaxAttempts  int
	FillPollBackoff      float64
	AllowShortTakeProfit bool
	StaleTickAfter       time.Duration
	ReportInterval       time.Duration
	EventBuffer          int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		CoinbaseAPIKey:    mustEnv("COINBASE_API_KEY"),
		CoinbaseAPISecret: mustEnv("COINBASE_API_SECRET"),
		CoinbaseRESTURL:   getEnv("COINBASE_REST_URL", "https://api.coinbase.com"),
		CoinbaseWSURL:     getEnv("COINBASE_WS_URL", "wss://advanced-trade-ws.coinbase.com"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		WorkspacePath: getEnv("WORKSPACE_PATH", "data/workspace.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		APIAddr:       getEnv("API_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		StrategiesFile: getEnv("STRATEGIES_FILE", "strategies.yaml"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),

		FillPollInterval:     time.Duration(getEnvInt("FILL_POLL_INTERVAL_SECONDS", 2)) * time.Second,
		FillPollMaxAttempts:  getEnvInt("FILL_POLL_MAX_ATTEMPTS", 0),
		FillPollBackoff:      getEnvFloat("FILL_POLL_BACKOFF", 1.0),
		AllowShortTakeProfit: getEnvBool("ALLOW_SHORT_TAKE_PROFIT", false),
		StaleTickAfter:       time.Duration(getEnvInt("STALE_TICK_SECONDS", 2)) * time.Second,
		ReportInterval:       time.Duration(getEnvInt("REPORT_INTERVAL_SECONDS", 2)) * time.Second,
		EventBuffer:          getEnvInt("EVENT_BUFFER", 4096),
	}
}

// Bootstrap is the optional YAML file that seeds the workspace with a
// watchlist and strategy definitions on first start.
type Bootstrap struct {
	Watchlist  []string          `yaml:"watchlist"`
	Strategies []strategy.Config `yaml:"strategies"`
}

// LoadBootstrap parses and validates the bootstrap file. A missing file is
// not an error; it returns an empty bootstrap.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Bootstrap{}, nil
		}
		return nil, fmt.Errorf("bootstrap read: %w", err)
	}

	var b Bootstrap
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("bootstrap parse: %w", err)
	}
	for i, cfg := range b.Strategies {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("bootstrap strategy %d: %w", i, err)
		}
	}
	return &b, nil
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
