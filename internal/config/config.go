// Package config loads server configuration from the environment, with
// an optional .env file for development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultJWTSecret is only acceptable for local development; main logs
// a warning when it is still in use.
const DefaultJWTSecret = "pairgo-dev-secret"

// Config holds every tunable the server reads at startup.
type Config struct {
	HTTPAddr    string
	DatabaseDSN string

	// Redis is optional; with no address the relay runs in-process.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	TokenTTL  time.Duration

	// SearchAttempts bounds how many matchmaker rounds one start/skip
	// performs before reporting no partner available.
	SearchAttempts int
	// SearchInterval is the backoff between matchmaker rounds, during
	// which the client is claimable by other searchers.
	SearchInterval time.Duration
	// MatchRetryLimit bounds claim retries within a single matchmaker
	// round when a candidate is raced away.
	MatchRetryLimit int
	// StaleAfter is the heartbeat staleness window; clients inactive
	// longer are excluded from candidate selection.
	StaleAfter time.Duration

	ICEServers []string

	TelegramToken    string
	ModerationChatID int64

	LocalePath string
}

// Load reads the environment (after a best-effort .env load) and
// returns the config with defaults applied.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:    envStr("HTTP_ADDR", ":8080"),
		DatabaseDSN: envStr("DATABASE_DSN", "host=localhost user=pairgo password=pairgo dbname=pairgo port=5432 sslmode=disable"),

		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		JWTSecret: envStr("JWT_SECRET", DefaultJWTSecret),
		TokenTTL:  envDuration("TOKEN_TTL", 72*time.Hour),

		SearchAttempts:  envInt("SEARCH_ATTEMPTS", 20),
		SearchInterval:  envDuration("SEARCH_INTERVAL", 500*time.Millisecond),
		MatchRetryLimit: envInt("MATCH_RETRY_LIMIT", 3),
		StaleAfter:      envDuration("STALE_AFTER", 2*time.Minute),

		ICEServers: envList("ICE_SERVERS", []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		}),

		TelegramToken:    envStr("TELEGRAM_BOT_TOKEN", ""),
		ModerationChatID: envInt64("MODERATION_CHAT_ID", 0),

		LocalePath: envStr("LOCALE_PATH", ""),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
