package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFallsBackToDefaultsWithoutConfigFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Worker.MaxConcurrent)
	assert.Equal(t, 7, cfg.Retention.OlderThanDays)
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
worker:
  max_concurrent: 20
`), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 20, cfg.Worker.MaxConcurrent)
	// Untouched keys keep their defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvVarOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskstream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("TASKSTREAM_SERVER_ADDR", ":7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
}
