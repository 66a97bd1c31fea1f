// Package config loads the environment-driven configuration for the seeder
// process, in the style of NethServer-my/backend/configuration: a plain
// os.Getenv read into a Config struct returned by value, done once at
// startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full set of environment-driven settings for one process.
type Config struct {
	Port int

	RedisUseSentinel        bool
	RedisSentinelHosts      []string
	RedisSentinelMasterName string
	RedisHost               string
	RedisPort               int

	SQLiteDBPath string

	CircuitBreakerFailureThreshold int
	CircuitBreakerCooldown         time.Duration

	RecoveryChunkSize     int
	RecoveryCooldown      time.Duration
	RecoveryCheckInterval time.Duration
	CarGenerationInterval time.Duration
	MetricsLogDir         string
}

// Load reads every recognized environment variable, falling back to its
// documented default when unset or unparsable.
func Load() (Config, error) {
	cfg := Config{
		Port:                    envInt("PORT", 3000),
		RedisUseSentinel:        envBool("REDIS_USE_SENTINEL", false),
		RedisSentinelHosts:      envList("REDIS_SENTINEL_HOSTS"),
		RedisSentinelMasterName: envStr("REDIS_SENTINEL_MASTER_NAME", "mymaster"),
		RedisHost:               envStr("REDIS_HOST", "localhost"),
		RedisPort:               envInt("REDIS_PORT", 6379),

		SQLiteDBPath: envStr("SQLITE_DB_PATH", "./data/cars.db"),

		CircuitBreakerFailureThreshold: envInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
		CircuitBreakerCooldown:         envMillis("CIRCUIT_BREAKER_COOLDOWN_MS", 2000),

		RecoveryChunkSize:     envInt("RECOVERY_CHUNK_SIZE", 50),
		RecoveryCooldown:      envMillis("RECOVERY_COOLDOWN_MS", 10000),
		RecoveryCheckInterval: envMillis("RECOVERY_CHECK_INTERVAL_MS", 5000),
		CarGenerationInterval: envMillis("CAR_GENERATION_INTERVAL_MS", 30),

		MetricsLogDir: envStr("METRICS_LOG_DIR", "./logs"),
	}

	if cfg.RedisUseSentinel && len(cfg.RedisSentinelHosts) == 0 {
		return Config{}, fmt.Errorf("config: REDIS_USE_SENTINEL=true requires REDIS_SENTINEL_HOSTS")
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envMillis(key string, defMs int) time.Duration {
	return time.Duration(envInt(key, defMs)) * time.Millisecond
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
