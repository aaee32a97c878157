package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration loaded from the environment.
type Config struct {
	Port           string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	CacheTTL       time.Duration
	RoomIdleTTL    time.Duration
	JudgeURL       string
	JudgeTimeout   time.Duration
	MaxCodeBytes   int64
	AllowedOrigins []string
}

const (
	defaultPort         = "5001"
	defaultCacheTTL     = 30 * time.Minute
	defaultRoomIdleTTL  = 10 * time.Minute
	defaultJudgeTimeout = 15 * time.Second
	defaultMaxCodeBytes = int64(256 << 10) // 256 KiB
	defaultOrigins      = "*"
)

var ErrNoDatabase = errors.New("DATABASE_URL is not set")

// Load reads .env if present, then builds a Config from environment
// variables. The persistent store is the only mandatory dependency; an
// empty REDIS_ADDR disables the cache tier.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:           getEnv("PORT", defaultPort),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		CacheTTL:       getEnvDuration("REDIS_CACHE_TTL", defaultCacheTTL),
		RoomIdleTTL:    getEnvDuration("ROOM_IDLE_TTL", defaultRoomIdleTTL),
		JudgeURL:       os.Getenv("JUDGE_URL"),
		JudgeTimeout:   getEnvDuration("JUDGE_TIMEOUT", defaultJudgeTimeout),
		MaxCodeBytes:   defaultMaxCodeBytes,
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", defaultOrigins)),
	}

	if raw := os.Getenv("MAX_CODE_BYTES"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			cfg.MaxCodeBytes = v
		}
	}

	if cfg.DatabaseURL == "" {
		return Config{}, ErrNoDatabase
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		out = []string{defaultOrigins}
	}
	return out
}
