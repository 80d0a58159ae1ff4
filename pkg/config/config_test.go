package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, Default().Store.Path, cfg.Store.Path)

	opts, err := cfg.StoreOptions()
	require.NoError(t, err)
	assert.Equal(t, int64(32<<20), opts.CacheSize)
	assert.True(t, opts.SyncOnCommit)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "pagedb.yaml", `
store:
  path: /var/lib/pagedb/quads.db
  page_size: 8192
  cache_size: 128MiB
  backup_rate: 10MB
server:
  addr: 127.0.0.1:9000
  read_timeout: 2s
logger:
  level: debug
  format: console
  components:
    store: warn
`)
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/pagedb/quads.db", cfg.Store.Path)
	assert.Equal(t, 8192, cfg.Store.PageSize)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout, "unset fields keep defaults")
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, map[string]string{"store": "warn"}, cfg.Logger.Components)

	rate, err := cfg.BackupBytesPerSec()
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), rate)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "pagedb.yaml", "store:\n  pagesize: 1024\n")
	_, err := Load(path, "")
	assert.ErrorContains(t, err, "pagesize")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "pagedb.yaml", "store:\n  page_size: 8192\n")
	envFile := writeFile(t, ".env", "PAGEDB_LOG_LEVEL=warn\nPAGEDB_SYNC_ON_COMMIT=false\n")
	t.Setenv("PAGEDB_PAGE_SIZE", "1024")
	t.Setenv("PAGEDB_STORE_PATH", "/tmp/override.db")
	t.Setenv("PAGEDB_GRPC_ADDR", "")
	// godotenv never overwrites variables that are already set.
	t.Setenv("PAGEDB_LOG_LEVEL", "error")
	t.Cleanup(func() { os.Unsetenv("PAGEDB_SYNC_ON_COMMIT") })

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Store.PageSize)
	assert.Equal(t, "/tmp/override.db", cfg.Store.Path)
	assert.Equal(t, "error", cfg.Logger.Level)
	assert.False(t, cfg.Store.SyncOnCommit)
	assert.Empty(t, cfg.Server.GRPCAddr)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Store.PageSize = 64
	assert.ErrorContains(t, cfg.Validate(), "page_size")

	cfg = Default()
	cfg.Store.CacheSize = "lots"
	assert.ErrorContains(t, cfg.Validate(), "cache_size")

	cfg = Default()
	assert.Error(t, cfg.applyEnv(func(key string) (string, bool) {
		return "maybe", key == "PAGEDB_TELEMETRY_ENABLED"
	}))

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	assert.Error(t, err)
}

func TestSampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "pagedb.yaml"), "")
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.Store.PageSize)
	assert.Equal(t, 20.0, cfg.Server.RequestsPerSecond)
	assert.Equal(t, ":8089", cfg.Server.GRPCAddr)
	assert.Equal(t, "info", cfg.Logger.Components["store"])

	rate, err := cfg.BackupBytesPerSec()
	require.NoError(t, err)
	assert.Equal(t, int64(50_000_000), rate)
}
