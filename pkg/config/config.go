package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core process.
// Per-user trading parameters live in the database, not here.
type Config struct {
	Port string

	// Database
	DBPath string

	// Binance defaults; per-user configs may override the REST base URL.
	BinanceBaseURL   string
	BinanceStreamURL string
	BinanceTestnet   bool

	// Recovery
	EnableAutoRecovery bool
	RecoveryDelay      int // seconds to wait after boot before recovering engines

	// Auth
	JWTSecret string

	// Optional YAML file with engine-config presets applied to new users.
	PresetsPath string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DBPath:             getEnv("DB_PATH", "./data/tradecore.db"),
		// Empty base URLs let the clients pick the public hosts,
		// honoring the testnet flag.
		BinanceBaseURL:     getEnv("BINANCE_BASE_URL", ""),
		BinanceStreamURL:   getEnv("BINANCE_STREAM_URL", ""),
		BinanceTestnet:     getEnv("BINANCE_TESTNET", "false") == "true",
		EnableAutoRecovery: getEnv("ENABLE_AUTO_RECOVERY", "true") == "true",
		RecoveryDelay:      getEnvInt("RECOVERY_DELAY_SECONDS", 5),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret"),
		PresetsPath:        getEnv("ENGINE_PRESETS_PATH", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
