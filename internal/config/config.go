package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the engine reads from the environment
type Config struct {
	// HTTP
	HTTPAddr string

	// Database
	DBType      string // "sqlite" or "postgres"
	DatabaseURL string // postgres DSN, or sqlite file path
	DataDir     string

	// Optional Redis curve cache
	RedisAddr string

	// Optional xlsx catalog import on startup
	CatalogXLSX string

	// Logging: "dev" or "prod"
	LogMode string

	// Trigger thresholds
	AccuracyDropThreshold  float64
	AbilityChangeThreshold float64
	MasteryGapThreshold    float64
	StreakLength           int
	SpikeThreshold         float64
	SlidingWindowSize      int

	// Adjustment limits
	MaxAdjustmentsPerDay int
	Cooldown             time.Duration

	// Queue defaults
	DailyReviewTarget int
	SecondsPerCard    int
}

// Load reads .env (when present) and the process environment
func Load() *Config {
	// Missing .env is fine; environment variables win either way
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DBType:      getEnv("DB_TYPE", "sqlite"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DataDir:     getEnv("DATA_DIR", "data"),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		CatalogXLSX: getEnv("CATALOG_XLSX", ""),
		LogMode:     getEnv("LOG_MODE", "dev"),

		AccuracyDropThreshold:  getEnvFloat("ACCURACY_DROP_THRESHOLD", 60),
		AbilityChangeThreshold: getEnvFloat("ABILITY_CHANGE_THRESHOLD", 0.5),
		MasteryGapThreshold:    getEnvFloat("MASTERY_GAP_THRESHOLD", 1.0),
		StreakLength:           getEnvInt("STREAK_LENGTH", 3),
		SpikeThreshold:         getEnvFloat("SPIKE_THRESHOLD", 0.3),
		SlidingWindowSize:      getEnvInt("SLIDING_WINDOW_SIZE", 5),

		MaxAdjustmentsPerDay: getEnvInt("MAX_ADJUSTMENTS_PER_DAY", 3),
		Cooldown:             time.Duration(getEnvInt("COOLDOWN_MINUTES", 60)) * time.Minute,

		DailyReviewTarget: getEnvInt("DAILY_REVIEW_TARGET", 20),
		SecondsPerCard:    getEnvInt("SECONDS_PER_CARD", 30),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
