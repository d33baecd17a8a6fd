package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quipubase/quipubase/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5454", cfg.Server.Addr())
	assert.Equal(t, []string{"*"}, cfg.Server.Origins)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "./data/quipu.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quipu.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9000
origins = ["https://a.example.com", "https://b.example.com"]

[store]
backend = "badger"
path = "/var/lib/quipu"
timeout = "250ms"
`), 0o644))

	t.Setenv("QUIPU_SERVER_HOST", "127.0.0.1")
	t.Setenv("QUIPU_LOG_LEVEL", "debug")
	t.Setenv("QUIPU_STORE_BACKEND", "json")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.Origins)
	assert.Equal(t, "json", cfg.Store.Backend, "env overrides the file")
	assert.Equal(t, "/var/lib/quipu", cfg.Store.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Store.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadEnvOrigins(t *testing.T) {
	t.Setenv("QUIPU_SERVER_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("QUIPU_SERVER_PORT", "8081")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.Origins)
	assert.Equal(t, 8081, cfg.Server.Port)
}

func TestLoadErrors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[server\nport = "), 0o644))
	_, err = config.Load(bad)
	assert.Error(t, err)

	t.Setenv("QUIPU_SERVER_PORT", "70000")
	_, err = config.Load("")
	assert.ErrorContains(t, err, "server.port")
}
