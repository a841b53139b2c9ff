package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: badger
  path: /var/lib/factdb
query:
  timeout: 5s
  parallel: false
transactor:
  overflow: block
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, 5*time.Second, cfg.Query.Timeout)
	assert.False(t, cfg.Query.Parallel)
	assert.Equal(t, OverflowBlock, cfg.Transactor.Overflow)
	assert.Equal(t, 4, cfg.Query.Workers, "unset fields keep their defaults")
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FACTDB_BACKEND", "sqlite")
	t.Setenv("FACTDB_DB_PATH", "/tmp/x.db")
	t.Setenv("FACTDB_QUERY_TIMEOUT", "250ms")
	t.Setenv("FACTDB_FN_SECRET", "s3cret")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Query.Timeout)
	assert.Equal(t, "s3cret", cfg.Transactor.FnSecret)

	t.Setenv("FACTDB_QUERY_TIMEOUT", "soon")
	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backend", func(c *Config) { c.Storage.Backend = "tape" }},
		{"badger without path", func(c *Config) { c.Storage.Backend = "badger" }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"negative timeout", func(c *Config) { c.Query.Timeout = -time.Second }},
		{"no workers", func(c *Config) { c.Query.Workers = 0 }},
		{"bad overflow", func(c *Config) { c.Transactor.Overflow = "spill" }},
		{"zero queue", func(c *Config) { c.Transactor.QueueSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "factdb.yaml")
	cfg := DefaultConfig()
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.Path = "facts.db"
	require.NoError(t, cfg.Save(path))

	back, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
