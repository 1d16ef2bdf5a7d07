// Package config defines the top-level configuration for the parimutuel
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PARIMUTUEL_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Storage  StorageConfig  `toml:"storage"`
	Database DatabaseConfig `toml:"database"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	Gold     GoldConfig     `toml:"gold"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds wagering limits and engine tuning.
type EngineConfig struct {
	MinBet        int64    `toml:"min_bet"`
	MaxBet        int64    `toml:"max_bet"`
	DefaultFeeBps int64    `toml:"default_fee_bps"`
	MaxFeeBps     int64    `toml:"max_fee_bps"`
	EventBuffer   int      `toml:"event_buffer"`
	OwnerLeaseTTL duration `toml:"owner_lease_ttl"`
}

// StorageConfig selects the journal backend: "postgres", "sqlite" or "memory".
type StorageConfig struct {
	Journal string `toml:"journal"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// SQLiteConfig holds the embedded journal file location.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
}

// GoldConfig selects the balance authority: "redis" or "memory". Seed
// balances are applied to the memory backend only.
type GoldConfig struct {
	Backend string           `toml:"backend"`
	Seed    map[string]int64 `toml:"seed"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls export of settled markets to S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool            `toml:"enabled"`
	Port        int             `toml:"port"`
	CORSOrigins []string        `toml:"cors_origins"`
	AdminAPIKey string          `toml:"admin_api_key"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig bounds request rates per client. Backend is "redis" or
// "local".
type RateLimitConfig struct {
	Enabled  bool     `toml:"enabled"`
	Backend  string   `toml:"backend"`
	Requests int      `toml:"requests"`
	Window   duration `toml:"window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MinBet:        10,
			MaxBet:        100_000,
			DefaultFeeBps: 500,
			MaxFeeBps:     2000,
			EventBuffer:   1024,
			OwnerLeaseTTL: duration{30 * time.Second},
		},
		Storage: StorageConfig{
			Journal: "postgres",
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "parimutuel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		SQLite: SQLiteConfig{
			Path: "data/parimutuel.db",
		},
		Redis: RedisConfig{
			Enabled:     true,
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			SnapshotTTL: duration{10 * time.Minute},
		},
		Gold: GoldConfig{
			Backend: "redis",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "parimutuel-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit: RateLimitConfig{
				Enabled:  true,
				Backend:  "redis",
				Requests: 120,
				Window:   duration{time.Minute},
			},
		},
		Notify: NotifyConfig{
			Events: []string{"new_market", "market_resolved", "market_cancelled"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"full":    true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validJournals = map[string]bool{
	"postgres": true,
	"sqlite":   true,
	"memory":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, full, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.MinBet < 1 {
		errs = append(errs, "engine: min_bet must be >= 1")
	}
	if c.Engine.MaxBet < c.Engine.MinBet {
		errs = append(errs, "engine: max_bet must not be below min_bet")
	}
	if c.Engine.MaxFeeBps < 0 || c.Engine.MaxFeeBps > 10000 {
		errs = append(errs, fmt.Sprintf("engine: max_fee_bps must be 0-10000, got %d", c.Engine.MaxFeeBps))
	}
	if c.Engine.DefaultFeeBps < 0 || c.Engine.DefaultFeeBps > c.Engine.MaxFeeBps {
		errs = append(errs, fmt.Sprintf("engine: default_fee_bps must be 0-%d, got %d", c.Engine.MaxFeeBps, c.Engine.DefaultFeeBps))
	}
	if c.Engine.OwnerLeaseTTL.Duration < time.Second {
		errs = append(errs, "engine: owner_lease_ttl must be at least 1s")
	}

	// Storage
	journal := strings.ToLower(c.Storage.Journal)
	if !validJournals[journal] {
		errs = append(errs, fmt.Sprintf("storage: unknown journal %q (valid: postgres, sqlite, memory)", c.Storage.Journal))
	}
	if mode == "archive" && journal == "memory" {
		errs = append(errs, "storage: archive mode needs a persistent journal")
	}

	if journal == "postgres" {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if journal == "sqlite" && strings.TrimSpace(c.SQLite.Path) == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Redis
	switch c.Gold.Backend {
	case "redis":
		if !c.Redis.Enabled {
			errs = append(errs, "gold: redis backend requires redis.enabled")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("gold: unknown backend %q (valid: redis, memory)", c.Gold.Backend))
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.Archive.Enabled || mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		rl := c.Server.RateLimit
		if rl.Enabled {
			if rl.Requests < 1 || rl.Window.Duration <= 0 {
				errs = append(errs, "server: rate_limit requests and window must be positive")
			}
			if rl.Backend != "redis" && rl.Backend != "local" {
				errs = append(errs, fmt.Sprintf("server: unknown rate_limit backend %q (valid: redis, local)", rl.Backend))
			}
			if rl.Backend == "redis" && !c.Redis.Enabled {
				errs = append(errs, "server: redis rate_limit backend requires redis.enabled")
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
