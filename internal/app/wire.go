package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/parimutuel/internal/blob/s3"
	"github.com/alanyoungcy/parimutuel/internal/cache/redis"
	"github.com/alanyoungcy/parimutuel/internal/config"
	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/gold"
	"github.com/alanyoungcy/parimutuel/internal/notify"
	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/store/postgres"
	"github.com/alanyoungcy/parimutuel/internal/store/sqlite"
)

// redisKeyPrefix namespaces every Redis key and channel the service touches.
const redisKeyPrefix = "parimutuel:"

// Dependencies bundles the backends the run modes need. Optional backends
// are nil when disabled.
type Dependencies struct {
	// Persistence. Journal is nil for the memory backend.
	Journal      domain.Journal
	SettledStore domain.SettledMarketStore
	AuditStore   domain.AuditStore

	Gold domain.GoldLedger

	// Redis-backed, nil when redis.enabled is false.
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	Archiver domain.Archiver
	Notifier *notify.Notifier

	// Health maps dependency names to their reachability probes.
	Health map[string]handler.Pinger
}

// pingFunc adapts a health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsS3 reports whether mode exports settled markets.
func needsS3(cfg *config.Config, mode string) bool {
	return mode == "archive" || (mode == "full" && cfg.Archive.Enabled)
}

// Wire constructs every backend selected by cfg and returns them with a
// cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, mode string, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Health: make(map[string]handler.Pinger)}

	// --- Journal ---
	switch strings.ToLower(cfg.Storage.Journal) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Journal = postgres.NewJournal(pool)
		deps.SettledStore = postgres.NewMarketStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient

	case "sqlite":
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = store.Close() })

		deps.Journal = store
		deps.SettledStore = store
		deps.AuditStore = store
		deps.Health["sqlite"] = store

	default:
		logger.WarnContext(ctx, "wire: memory journal, state is lost on restart")
	}

	// --- Redis ---
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  redisKeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.SnapshotTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Health["redis"] = redisClient
	}

	// --- Gold ---
	if cfg.Gold.Backend == "redis" && redisClient != nil {
		deps.Gold = redis.NewGoldLedger(redisClient)
	} else {
		deps.Gold = gold.NewMemoryLedger(cfg.Gold.Seed)
	}

	// --- S3 archive ---
	if needsS3(cfg, mode) {
		if deps.SettledStore == nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: archive needs a persistent journal")
		}
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.SettledStore,
			deps.AuditStore,
			logger,
		)
		deps.Health["s3"] = pingFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// backendNames reports the journal and gold backends actually wired.
func backendNames(cfg *config.Config, deps *Dependencies) (journal, goldBackend string) {
	journal = strings.ToLower(cfg.Storage.Journal)
	if deps.Journal == nil {
		journal = "memory"
	}
	goldBackend = "memory"
	if _, ok := deps.Gold.(*redis.GoldLedger); ok {
		goldBackend = "redis"
	}
	return journal, goldBackend
}
