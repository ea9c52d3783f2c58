package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies STACK_* environment variable overrides, and
// returns the final Config. An empty path skips the file and builds the
// config from defaults and the environment alone. The returned Config has
// NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known STACK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setStr(&cfg.Server.ListenAddr, "STACK_SERVER_LISTEN_ADDR")
	setStr(&cfg.Server.MetricsAddr, "STACK_SERVER_METRICS_ADDR")
	setStringSlice(&cfg.Server.CORSOrigins, "STACK_SERVER_CORS_ORIGINS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "STACK_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "STACK_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "STACK_POSTGRES_MAX_IDLE_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "STACK_POSTGRES_RUN_MIGRATIONS")

	// ── NATS ──
	setStr(&cfg.NATS.URL, "STACK_NATS_URL")
	setStr(&cfg.NATS.Stream, "STACK_NATS_STREAM")
	setStr(&cfg.NATS.SubjectPrefix, "STACK_NATS_SUBJECT_PREFIX")
	setStr(&cfg.NATS.NavStream, "STACK_NATS_NAV_STREAM")
	setStringSlice(&cfg.NATS.NavSubjects, "STACK_NATS_NAV_SUBJECTS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "STACK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STACK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STACK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STACK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "STACK_REDIS_MAX_RETRIES")
	setDuration(&cfg.Redis.TTL, "STACK_REDIS_TTL")

	// ── Engine ──
	setInt(&cfg.Engine.PersistChanCap, "STACK_ENGINE_PERSIST_CHAN_CAP")
	setInt(&cfg.Engine.PublishChanCap, "STACK_ENGINE_PUBLISH_CHAN_CAP")
	setInt(&cfg.Engine.PersistBatchSize, "STACK_ENGINE_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Engine.PersistFlush, "STACK_ENGINE_PERSIST_FLUSH")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "STACK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
