package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8196, cfg.Server.Port)
	assert.Equal(t, 32, cfg.Sandbox.MaxSessions)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.DefaultTimeout)
	assert.NotEmpty(t, cfg.Sandbox.StorableExtensions)
	assert.NoError(t, Validate(cfg))
}

func TestLoader_MissingFileGivesDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
	assert.NotEmpty(t, cfg.Storage.Path, "derived paths are filled in")
	assert.NotEmpty(t, cfg.Uploads.Dir)
}

func TestLoader_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": 9000},
		"sandbox": {"max_sessions": 4},
		"data_dir": "`+t.TempDir()+`"
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Sandbox.MaxSessions)
	// Untouched sections keep defaults.
	assert.Equal(t, 8, cfg.Sandbox.MaxConcurrentKernels)
}

func TestLoader_InvalidConfigRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": -1}}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crucible.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Server.Port = 9999
	cfg.DataDir = t.TempDir()
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Server.Port)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"zero sessions", func(c *Config) { c.Sandbox.MaxSessions = 0 }},
		{"absurd sessions", func(c *Config) { c.Sandbox.MaxSessions = 100000 }},
		{"zero concurrency", func(c *Config) { c.Sandbox.MaxConcurrentKernels = 0 }},
		{"zero default timeout", func(c *Config) { c.Sandbox.DefaultTimeout = 0 }},
		{"max below default", func(c *Config) { c.Sandbox.MaxTimeout = time.Millisecond }},
		{"absurd max timeout", func(c *Config) { c.Sandbox.MaxTimeout = 48 * time.Hour }},
		{"negative memory", func(c *Config) { c.Sandbox.MemoryCeilingMB = -1 }},
		{"zero ttl", func(c *Config) { c.Storage.ArtifactTTL = 0 }},
		{"zero workers", func(c *Config) { c.Jobs.Workers = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}
