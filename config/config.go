package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds application configuration. It is loaded once at startup and
// passed explicitly to every component; there is no package-level state.
type Config struct {
	// Market data provider configuration
	Provider ProviderConfig

	// Database configuration
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	// Redis configuration
	RedisHost     string
	RedisPassword string
	RedisPort     string

	// Decision oracle configuration
	Oracle OracleConfig

	// Trading configuration
	Trading TradingConfig

	// API server port
	APIPort int

	// Webhook notification configuration
	Webhooks WebhookConfig
}

// WebhookConfig holds run lifecycle webhook configuration
type WebhookConfig struct {
	URLs              []string
	AuthToken         string
	MaxRetries        int
	RetryDelaySeconds int
}

// ProviderConfig holds market data provider configuration
type ProviderConfig struct {
	BaseURL            string
	APIKey             string
	PageSize           int
	MaxPages           int
	MaxRetries         int
	BackoffBaseMs      int
	RateLimitPerMinute int
	TimeoutSeconds     int
}

// OracleConfig holds decision oracle configuration
type OracleConfig struct {
	Endpoint       string
	APIKey         string
	Model          string
	TimeoutSeconds int
}

// TradingConfig holds trading parameters and thresholds
type TradingConfig struct {
	// Initial cash endowment per run
	InitialCash float64

	// Exchange timezone for session windows and cache keys
	ExchangeTimezone string

	// Regular session window, wall clock in the exchange timezone
	RegularOpen  string
	RegularClose string

	// Bar cache
	CacheNamespace       string
	CacheTTLSeconds      int
	CacheHealthSamples   int
	CacheHealthThreshold float64

	// Decision context windows
	DecisionWindowSize  int
	RejectionWindowSize int

	// Hard risk gate parameters
	MinCashReservePct   float64 // of total portfolio value, buys only
	MaxTradeNotionalPct float64 // single trade vs total portfolio value
	MaxDrawdownPct      float64 // run halts for buys past this

	// Optional tenant daily-loss circuit breaker; <= 0 disables it
	DailyLossLimitPct float64
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	return &Config{
		Provider: ProviderConfig{
			BaseURL:            getEnvOrDefault("PROVIDER_BASE_URL", "https://api.polygon.io"),
			APIKey:             os.Getenv("PROVIDER_API_KEY"),
			PageSize:           getEnvInt("PROVIDER_PAGE_SIZE", 5000),
			MaxPages:           getEnvInt("PROVIDER_MAX_PAGES", 200),
			MaxRetries:         getEnvInt("PROVIDER_MAX_RETRIES", 3),
			BackoffBaseMs:      getEnvInt("PROVIDER_BACKOFF_BASE_MS", 500),
			RateLimitPerMinute: getEnvInt("PROVIDER_RATE_LIMIT_PER_MINUTE", 100),
			TimeoutSeconds:     getEnvInt("PROVIDER_TIMEOUT_SECONDS", 10),
		},

		// Database configuration
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvOrDefault("DB_PORT", "5432"),
		DatabaseName:     getEnvOrDefault("DB_NAME", "autotrader"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "autotrader"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "autotrader123"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		// Oracle configuration
		Oracle: OracleConfig{
			Endpoint:       getEnvOrDefault("ORACLE_ENDPOINT", "https://api.openai.com/v1"),
			APIKey:         getEnvOrDefault("ORACLE_API_KEY", ""),
			Model:          getEnvOrDefault("ORACLE_MODEL", "gpt-4o-mini"),
			TimeoutSeconds: getEnvInt("ORACLE_TIMEOUT_SECONDS", 3),
		},

		// Trading configuration
		Trading: TradingConfig{
			InitialCash:      getEnvFloat("TRADING_INITIAL_CASH", 10000),
			ExchangeTimezone: getEnvOrDefault("TRADING_EXCHANGE_TZ", "America/New_York"),
			RegularOpen:      getEnvOrDefault("TRADING_SESSION_OPEN", "09:30"),
			RegularClose:     getEnvOrDefault("TRADING_SESSION_CLOSE", "16:00"),

			CacheNamespace:       getEnvOrDefault("CACHE_NAMESPACE", "bars"),
			CacheTTLSeconds:      getEnvInt("CACHE_TTL_SECONDS", 7200),
			CacheHealthSamples:   getEnvInt("CACHE_HEALTH_SAMPLES", 5),
			CacheHealthThreshold: getEnvFloat("CACHE_HEALTH_THRESHOLD", 0.8),

			DecisionWindowSize:  getEnvInt("TRADING_DECISION_WINDOW", 20),
			RejectionWindowSize: getEnvInt("TRADING_REJECTION_WINDOW", 10),

			MinCashReservePct:   getEnvFloat("TRADING_MIN_CASH_RESERVE_PCT", 10.0),
			MaxTradeNotionalPct: getEnvFloat("TRADING_MAX_TRADE_NOTIONAL_PCT", 50.0),
			MaxDrawdownPct:      getEnvFloat("TRADING_MAX_DRAWDOWN_PCT", 25.0),

			DailyLossLimitPct: getEnvFloat("TRADING_DAILY_LOSS_LIMIT_PCT", 0),
		},

		APIPort: getEnvInt("API_PORT", 8080),

		Webhooks: WebhookConfig{
			URLs:              splitCSV(os.Getenv("WEBHOOK_URLS")),
			AuthToken:         os.Getenv("WEBHOOK_AUTH_TOKEN"),
			MaxRetries:        getEnvInt("WEBHOOK_MAX_RETRIES", 3),
			RetryDelaySeconds: getEnvInt("WEBHOOK_RETRY_DELAY_SECONDS", 2),
		},
	}
}

// splitCSV splits a comma-separated value, dropping empty entries
func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// OracleTimeout returns the per-call oracle deadline
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}

// CacheTTL returns the bar cache entry lifetime
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Trading.CacheTTLSeconds) * time.Second
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
