package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stable.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[postgres]
dsn = "postgres://file"

[persistence]
flush_timeout = "20ms"
snapshot_interval = 500

[governance]
ratio_scale = 100
mint_fee_bps = 25
`), 0o644))

	t.Setenv("STABLE_POSTGRES_DSN", "postgres://env")
	t.Setenv("STABLE_MAX_PRICE_AGE", "30s")
	t.Setenv("STABLE_PERSIST_BATCH_SIZE", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "postgres://env", cfg.Postgres.DSN)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 20*time.Millisecond, cfg.Persistence.FlushTimeout.Duration)
	require.Equal(t, int64(500), cfg.Persistence.SnapshotInterval)
	// unparsable overrides are ignored
	require.Equal(t, 256, cfg.Persistence.BatchSize)

	params := cfg.CoreParams()
	require.Equal(t, uint64(100), params.Governance.RatioScale)
	require.Equal(t, uint64(25), params.Governance.MintFeeBps)
	require.Equal(t, 30*time.Second, params.MaxPriceAge)
}

func TestLoadFromFlags_EnvPathFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\ngrpc_addr = \":7000\"\n"), 0o644))
	t.Setenv(EnvConfigPath, path)

	cfg, err := LoadFromFlags(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Server.GRPCAddr)
}

func TestLoad_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = "), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Postgres.DSN = ""
	cfg.Governance.RatioScale = 0
	cfg.Persistence.BatchSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"log_level", "dsn", "ratio_scale", "batch_size"} {
		require.Contains(t, err.Error(), want)
	}
}
