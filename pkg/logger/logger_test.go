package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagedb.log")
	log, level, err := New(Config{Level: "warn", Format: "json", OutputFile: path})
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level.Level())

	log.Info("dropped")
	log.Warn("kept", zap.Int("page_id", 4))
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, DefaultService, entry["service"])
	assert.Equal(t, float64(4), entry["page_id"])

	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNewDefaults(t *testing.T) {
	_, level, err := New(Config{Level: "chatty", Service: "pagedb-cli"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level.Level())

	_, _, err = New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestComponentLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagedb.log")
	log, level, err := New(Config{
		Level:      "info",
		OutputFile: path,
		Components: map[string]string{"store": "debug", "http": "error"},
	})
	require.NoError(t, err)

	store := Component(log, "store")
	httpLog := Component(log, "http")
	grpcLog := Component(log, "grpc")

	store.Debug("page read", zap.Uint32("page_id", 3))
	httpLog.Warn("slow request")
	httpLog.Error("request failed")
	grpcLog.Debug("dropped")
	grpcLog.Info("listener started")
	require.NoError(t, log.Sync())

	entries := readEntries(t, path)
	require.Len(t, entries, 3)
	assert.Equal(t, "page read", entries[0]["msg"])
	assert.Equal(t, "store", entries[0]["component"])
	assert.Equal(t, "store", entries[0]["logger"])
	assert.Equal(t, DefaultService, entries[0]["service"])
	assert.Equal(t, "request failed", entries[1]["msg"])
	assert.Equal(t, "listener started", entries[2]["msg"])
	assert.Equal(t, "grpc", entries[2]["component"])

	// Components without an override follow the runtime level.
	level.SetLevel(zapcore.ErrorLevel)
	assert.False(t, grpcLog.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, store.Core().Enabled(zapcore.DebugLevel))
}

func TestComponentRejectsBadLevel(t *testing.T) {
	_, _, err := New(Config{OutputFile: "stderr", Components: map[string]string{"store": "loud"}})
	assert.ErrorContains(t, err, `component "store"`)
}

func TestComponentNilBase(t *testing.T) {
	log := Component(nil, "store")
	require.NotNil(t, log)
	log.Info("nowhere")
}
