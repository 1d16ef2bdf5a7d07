package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/parimutuel/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Storage.Journal = "memory"
	cfg.Redis.Enabled = false
	cfg.Gold.Backend = "memory"
	cfg.Server.Enabled = false
	cfg.Server.RateLimit.Backend = "local"
	return &cfg
}

func TestWire_MemoryBackends(t *testing.T) {
	cfg := memoryConfig()
	cfg.Gold.Seed = map[string]int64{"alice": 100}

	deps, cleanup, err := Wire(context.Background(), cfg, "server", quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Journal)
	assert.Nil(t, deps.MarketCache)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.Archiver)
	assert.False(t, deps.Notifier.Enabled())

	bal, err := deps.Gold.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 100, bal)

	journal, goldBackend := backendNames(cfg, deps)
	assert.Equal(t, "memory", journal)
	assert.Equal(t, "memory", goldBackend)
}

func TestWire_SQLiteJournal(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Journal = "sqlite"
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "journal.db")

	deps, cleanup, err := Wire(context.Background(), cfg, "server", quietLogger())
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Journal)
	require.NotNil(t, deps.SettledStore)
	require.NotNil(t, deps.AuditStore)
	require.Contains(t, deps.Health, "sqlite")
	assert.NoError(t, deps.Health["sqlite"].Ping(context.Background()))

	journal, _ := backendNames(cfg, deps)
	assert.Equal(t, "sqlite", journal)
}

func TestWire_ArchiveNeedsPersistentJournal(t *testing.T) {
	_, _, err := Wire(context.Background(), memoryConfig(), "archive", quietLogger())
	assert.ErrorContains(t, err, "persistent journal")
}

func TestRateLimitSelection(t *testing.T) {
	a := New(memoryConfig(), quietLogger())
	deps := &Dependencies{}

	a.cfg.Server.RateLimit.Enabled = false
	assert.Nil(t, a.rateLimit(deps))

	a.cfg.Server.RateLimit.Enabled = true
	a.cfg.Server.RateLimit.Backend = "redis"
	assert.NotNil(t, a.rateLimit(deps), "falls back to the local limiter without redis")
}

type countingArchiver struct {
	calls  atomic.Int32
	cancel context.CancelFunc
}

func (c *countingArchiver) ArchiveSettled(_ context.Context, _ time.Time) (int64, error) {
	c.calls.Add(1)
	c.cancel()
	return 3, nil
}

func TestArchiveMode_RunsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	arch := &countingArchiver{cancel: cancel}

	a := New(memoryConfig(), quietLogger())
	err := a.ArchiveMode(ctx, &Dependencies{Archiver: arch})
	require.NoError(t, err)
	assert.EqualValues(t, 1, arch.calls.Load())
}

func TestArchiveMode_RequiresArchiver(t *testing.T) {
	a := New(memoryConfig(), quietLogger())
	assert.Error(t, a.ArchiveMode(context.Background(), &Dependencies{}))
}

func TestServerMode_StopsOnCancel(t *testing.T) {
	cfg := memoryConfig()
	deps, cleanup, err := Wire(context.Background(), cfg, "server", quietLogger())
	require.NoError(t, err)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	a := New(cfg, quietLogger())
	defer a.Close()
	err = a.ServerMode(ctx, deps)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
