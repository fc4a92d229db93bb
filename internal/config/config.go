// internal/config/config.go

// Package config reads the client's knobs from the environment, with
// defaults tuned to the directory's published rate limits.
package config

import (
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

// Config is the full set of tunables for the sync core and dev services.
type Config struct {
	DirectoryURL string
	RelayURL     string

	// Per-category cooldowns. The directory limits by operation class, so
	// each gets its own window.
	HostCooldown      time.Duration
	JoinCooldown      time.Duration
	QuickJoinCooldown time.Duration
	QueryCooldown     time.Duration

	// SyncPeriod spaces heartbeat push/pull rounds; KeepalivePeriod spaces
	// the host's liveness pings (the directory allows 5 per 30s, so aim
	// longer in case periods don't align).
	SyncPeriod      time.Duration
	KeepalivePeriod time.Duration

	ApprovalMaxTime time.Duration
	ApprovalWindow  time.Duration
	RetryDelay      time.Duration

	CallTimeout time.Duration
	TickFrame   time.Duration

	// Dev service settings, ignored by the client itself.
	DirectoryAddr string
	RelayAddr     string
	RedisAddr     string
	SessionTTL    time.Duration
	CredentialTTL time.Duration
}

// Load builds a Config from the environment, falling back to defaults.
func Load() Config {
	return Config{
		DirectoryURL: getEnv("DIRECTORY_URL", "http://localhost:7350"),
		RelayURL:     getEnv("RELAY_URL", "http://localhost:7360"),

		HostCooldown:      getEnvDuration("HOST_COOLDOWN", 3*time.Second),
		JoinCooldown:      getEnvDuration("JOIN_COOLDOWN", 3*time.Second),
		QuickJoinCooldown: getEnvDuration("QUICKJOIN_COOLDOWN", 3*time.Second),
		QueryCooldown:     getEnvDuration("QUERY_COOLDOWN", 2*time.Second),

		SyncPeriod:      getEnvDuration("SYNC_PERIOD", 6500*time.Millisecond),
		KeepalivePeriod: getEnvDuration("KEEPALIVE_PERIOD", 8*time.Second),

		ApprovalMaxTime: getEnvDuration("APPROVAL_MAX_TIME", 20*time.Second),
		ApprovalWindow:  getEnvDuration("APPROVAL_WINDOW", time.Second),
		RetryDelay:      getEnvDuration("RETRY_DELAY", 2*time.Second),

		CallTimeout: getEnvDuration("CALL_TIMEOUT", 10*time.Second),
		TickFrame:   getEnvDuration("TICK_FRAME", 100*time.Millisecond),

		DirectoryAddr: getEnv("DIRECTORY_ADDR", ":7350"),
		RelayAddr:     getEnv("RELAY_ADDR", ":7360"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 90*time.Second),
		CredentialTTL: getEnvDuration("CREDENTIAL_TTL", time.Hour),
	}
}

// getEnv reads an environment variable or returns a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvDuration parses an environment variable as a duration, else a
// default.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return v
}
