package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StorageDriver selects the durable store behind exam sessions.
type StorageDriver string

const (
	StorageRedis    StorageDriver = "redis"
	StoragePostgres StorageDriver = "postgres"
	StorageSQLite   StorageDriver = "sqlite"
	StorageMemory   StorageDriver = "memory"
)

// Config holds all application configuration.
type Config struct {
	ServerPort    string
	GinMode       string
	LogLevel      string
	LogFormat     string
	StorageDriver StorageDriver
	RedisURL      string
	// DatabaseURL is optional. When empty the attempt log is disabled and
	// the postgres storage driver is unavailable.
	DatabaseURL string
	MaxDBConns  int32
	SQLitePath  string

	ExamAPIBaseURL      string
	ExamAPITimeout      time.Duration
	ExamAPITokenURL     string
	ExamAPIClientID     string
	ExamAPIClientSecret string
	ExamAPIToken        string

	SyncConcurrency int
	SyncTimeout     time.Duration

	JWTSecret          string
	JWTExpiry          time.Duration
	RateLimitPerMinute int
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		GinMode:       getEnv("GIN_MODE", "debug"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "pretty"),
		StorageDriver: StorageDriver(strings.ToLower(getEnv("STORAGE_DRIVER", string(StorageRedis)))),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		MaxDBConns:    int32(getEnvInt("MAX_DB_CONNS", 8)),
		SQLitePath:    getEnv("SQLITE_PATH", "cbt-client.db"),

		ExamAPIBaseURL:      strings.TrimRight(getEnv("EXAM_API_BASE_URL", "https://admin.agpaiidigital.org"), "/"),
		ExamAPITimeout:      time.Duration(getEnvInt("EXAM_API_TIMEOUT_SECONDS", 15)) * time.Second,
		ExamAPITokenURL:     getEnv("EXAM_API_TOKEN_URL", ""),
		ExamAPIClientID:     getEnv("EXAM_API_CLIENT_ID", ""),
		ExamAPIClientSecret: getEnv("EXAM_API_CLIENT_SECRET", ""),
		ExamAPIToken:        getEnv("EXAM_API_TOKEN", ""),

		SyncConcurrency: getEnvInt("SYNC_CONCURRENCY", 8),
		SyncTimeout:     time.Duration(getEnvInt("SYNC_TIMEOUT_SECONDS", 10)) * time.Second,

		JWTSecret:          getEnv("JWT_SECRET", "change-this-to-a-secure-random-string"),
		JWTExpiry:          time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 240),
		AllowedOrigins:     parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
