package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parimutuel.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(10), cfg.Engine.MinBet)
	assert.Equal(t, int64(100_000), cfg.Engine.MaxBet)
	assert.Equal(t, int64(500), cfg.Engine.DefaultFeeBps)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
mode = "full"

[engine]
min_bet = 25
owner_lease_ttl = "45s"

[storage]
journal = "sqlite"

[sqlite]
path = "/tmp/p.db"

[gold]
backend = "memory"

[gold.seed]
alice = 500
`)
	t.Setenv("PARIMUTUEL_ENGINE_MAX_BET", "5000")
	t.Setenv("PARIMUTUEL_SERVER_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("PARIMUTUEL_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, int64(25), cfg.Engine.MinBet)
	assert.Equal(t, int64(5000), cfg.Engine.MaxBet)
	assert.Equal(t, 45*time.Second, cfg.Engine.OwnerLeaseTTL.Duration)
	assert.Equal(t, "sqlite", cfg.Storage.Journal)
	assert.Equal(t, map[string]int64{"alice": 500}, cfg.Gold.Seed)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8000, cfg.Server.Port, "untouched values keep their defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Engine.MinBet = 0
	cfg.Engine.DefaultFeeBps = 3000
	cfg.Storage.Journal = "mongo"
	cfg.Gold.Backend = "chain"
	cfg.Server.Port = 70000

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		`unknown mode "trade"`,
		"engine: min_bet",
		"engine: default_fee_bps",
		`storage: unknown journal "mongo"`,
		`gold: unknown backend "chain"`,
		"server: port",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_ArchiveNeedsPersistentJournal(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.Storage.Journal = "memory"
	assert.ErrorContains(t, cfg.Validate(), "archive mode needs a persistent journal")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Database.Password = "hunter2"
	cfg.Server.AdminAPIKey = "admin-secret"
	cfg.Gold.Seed = map[string]int64{"alice": 1}

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Database.Password)
	assert.Equal(t, "***", out.Server.AdminAPIKey)
	assert.Empty(t, out.Redis.Password, "empty secrets stay empty")

	out.Gold.Seed["alice"] = 99
	out.Server.CORSOrigins[0] = "changed"
	assert.Equal(t, int64(1), cfg.Gold.Seed["alice"])
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
