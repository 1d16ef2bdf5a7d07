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
// built-in defaults, applies PARIMUTUEL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PARIMUTUEL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setInt64(&cfg.Engine.MinBet, "PARIMUTUEL_ENGINE_MIN_BET")
	setInt64(&cfg.Engine.MaxBet, "PARIMUTUEL_ENGINE_MAX_BET")
	setInt64(&cfg.Engine.DefaultFeeBps, "PARIMUTUEL_ENGINE_DEFAULT_FEE_BPS")
	setInt64(&cfg.Engine.MaxFeeBps, "PARIMUTUEL_ENGINE_MAX_FEE_BPS")
	setInt(&cfg.Engine.EventBuffer, "PARIMUTUEL_ENGINE_EVENT_BUFFER")
	setDuration(&cfg.Engine.OwnerLeaseTTL, "PARIMUTUEL_ENGINE_OWNER_LEASE_TTL")

	// ── Storage ──
	setStr(&cfg.Storage.Journal, "PARIMUTUEL_STORAGE_JOURNAL")

	// ── Database ──
	setStr(&cfg.Database.DSN, "PARIMUTUEL_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "PARIMUTUEL_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PARIMUTUEL_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PARIMUTUEL_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "PARIMUTUEL_DATABASE_USER")
	setStr(&cfg.Database.Password, "PARIMUTUEL_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PARIMUTUEL_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "PARIMUTUEL_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PARIMUTUEL_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "PARIMUTUEL_DATABASE_RUN_MIGRATIONS")

	// ── SQLite ──
	setStr(&cfg.SQLite.Path, "PARIMUTUEL_SQLITE_PATH")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PARIMUTUEL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PARIMUTUEL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PARIMUTUEL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PARIMUTUEL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PARIMUTUEL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PARIMUTUEL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PARIMUTUEL_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.SnapshotTTL, "PARIMUTUEL_REDIS_SNAPSHOT_TTL")

	// ── Gold ──
	setStr(&cfg.Gold.Backend, "PARIMUTUEL_GOLD_BACKEND")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PARIMUTUEL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PARIMUTUEL_S3_REGION")
	setStr(&cfg.S3.Bucket, "PARIMUTUEL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PARIMUTUEL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PARIMUTUEL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PARIMUTUEL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PARIMUTUEL_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PARIMUTUEL_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PARIMUTUEL_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "PARIMUTUEL_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PARIMUTUEL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PARIMUTUEL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PARIMUTUEL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "PARIMUTUEL_SERVER_ADMIN_API_KEY")
	setBool(&cfg.Server.RateLimit.Enabled, "PARIMUTUEL_SERVER_RATE_LIMIT_ENABLED")
	setStr(&cfg.Server.RateLimit.Backend, "PARIMUTUEL_SERVER_RATE_LIMIT_BACKEND")
	setInt(&cfg.Server.RateLimit.Requests, "PARIMUTUEL_SERVER_RATE_LIMIT_REQUESTS")
	setDuration(&cfg.Server.RateLimit.Window, "PARIMUTUEL_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PARIMUTUEL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PARIMUTUEL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PARIMUTUEL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PARIMUTUEL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PARIMUTUEL_MODE")
	setStr(&cfg.LogLevel, "PARIMUTUEL_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
