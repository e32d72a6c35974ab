package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Payment gateway configuration
	GatewayBaseURL string
	GatewayAPIKey  string
	GatewayHMACKey string

	// Timeout configuration
	PaymentTimeout time.Duration
	StatusTimeout  time.Duration

	// Store configuration
	MaxTxRetries int

	// Cleanup configuration
	CleanupInterval   time.Duration
	PendingBookingTTL time.Duration

	// Rate limiting
	BookingRateLimit  int
	BookingRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Gateway
		GatewayBaseURL: getEnv("GATEWAY_BASE_URL", "http://localhost:9000"),
		GatewayAPIKey:  getEnv("GATEWAY_API_KEY", ""),
		GatewayHMACKey: getEnv("GATEWAY_HMAC_KEY", ""),

		// Timeouts
		PaymentTimeout: getEnvAsDuration("PAYMENT_TIMEOUT", "30s"),
		StatusTimeout:  getEnvAsDuration("STATUS_TIMEOUT", "15s"),

		// Store
		MaxTxRetries: getEnvAsInt("MAX_TX_RETRIES", 5),

		// Cleanup
		CleanupInterval:   getEnvAsDuration("CLEANUP_INTERVAL", "1m"),
		PendingBookingTTL: getEnvAsDuration("PENDING_BOOKING_TTL", "15m"),

		// Rate limiting
		BookingRateLimit:  getEnvAsInt("BOOKING_RATE_LIMIT", 10),
		BookingRateWindow: getEnvAsDuration("BOOKING_RATE_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
