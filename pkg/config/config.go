package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading console.
type Config struct {
	Port string

	// Gateway connection
	GatewayHost       string
	GatewayPort       int
	ClientID          int
	Account           string
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	ConnectAttempts   int
	MaxMessageRate    float64 // outbound messages per second
	MarketDataType    int     // 1 live, 2 frozen, 3 delayed, 4 delayed-frozen
	HeartbeatInterval time.Duration
	RequestIDBase     int64

	// Database
	DBPath string

	// Auth
	JWTSecret string

	// Bracket presets
	PresetsPath string

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		GatewayHost:       getEnv("GATEWAY_HOST", "127.0.0.1"),
		GatewayPort:       getEnvInt("GATEWAY_PORT", 4002),
		ClientID:          getEnvInt("GATEWAY_CLIENT_ID", 1),
		Account:           strings.TrimSpace(os.Getenv("GATEWAY_ACCOUNT")),
		ConnectTimeout:    getEnvDuration("CONNECT_TIMEOUT", 10*time.Second),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 15*time.Second),
		ConnectAttempts:   getEnvInt("CONNECT_ATTEMPTS", 3),
		MaxMessageRate:    getEnvFloat("MAX_MSG_RATE", 50),
		MarketDataType:    getEnvInt("MARKET_DATA_TYPE", 1),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second),
		RequestIDBase:     int64(getEnvInt("REQUEST_ID_BASE", 10_000_000)),
		DBPath:            getEnv("DB_PATH", "./data/console.db"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		PresetsPath:       getEnv("PRESETS_PATH", "./presets.yaml"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           os.Getenv("LOG_FILE"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("15s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
