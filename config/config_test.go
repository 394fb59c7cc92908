package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofish2020/easyqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	chunkSize, err := cfg.ChunkSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(4096), chunkSize)
	assert.Equal(t, 10*time.Second, cfg.GCInterval)
	assert.NotEmpty(t, cfg.Dir)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "easyqueue.yaml")
	data := []byte(`
dir: /var/lib/easyqueue
listen: 127.0.0.1:9000
chunkSize: 1MiB
gcInterval: 30s
maxPayload: 1MiB
logFormat: console
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/var/lib/easyqueue", cfg.Dir)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.GCInterval)
	assert.Equal(t, "console", cfg.LogFormat)
	// 没写的字段保持默认值
	assert.Equal(t, 1024, cfg.CacheRecords)
	assert.Equal(t, "info", cfg.LogLevel)

	options, err := cfg.Options(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), options.ChunkSize)
	assert.Equal(t, int64(64<<10), options.MaxCachedRecordSize)
	assert.Equal(t, "/var/lib/easyqueue", options.DirPath)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunkSize: [1, 2"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("EASYQUEUE_DIR", "/srv/queue")
	t.Setenv("EASYQUEUE_CHUNK_SIZE", "64KiB")
	t.Setenv("EASYQUEUE_GC_INTERVAL", "-1s")
	t.Setenv("EASYQUEUE_CACHE_RECORDS", "not a number")
	t.Setenv("EASYQUEUE_NODE_ID", "7")

	cfg := Default()
	FromEnv(&cfg)
	assert.Equal(t, "/srv/queue", cfg.Dir)
	assert.Equal(t, "64KiB", cfg.ChunkSize)
	assert.Equal(t, -time.Second, cfg.GCInterval)
	assert.Equal(t, 1024, cfg.CacheRecords)
	assert.Equal(t, int64(7), cfg.NodeID)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty dir", func(c *Config) { c.Dir = "" }},
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"bad size", func(c *Config) { c.ChunkSize = "lots" }},
		{"decimal kilobytes", func(c *Config) { c.ChunkSize = "4KB" }},
		{"zero payload", func(c *Config) { c.MaxPayload = "0B" }},
		{"negative cache", func(c *Config) { c.CacheRecords = -1 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad node", func(c *Config) { c.NodeID = 1024 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
			_, err := cfg.Options(nil)
			assert.Error(t, err)
		})
	}

	cfg := Default()
	cfg.ChunkSize = "4KB"
	assert.ErrorIs(t, cfg.Validate(), easyqueue.ErrInvalidChunkSize)
}

func TestLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		cfg := Default()
		cfg.LogFormat = format
		cfg.LogLevel = "debug"
		logger, err := cfg.Logger()
		require.NoError(t, err)
		assert.NotNil(t, logger)
	}

	cfg := Default()
	cfg.LogLevel = "loud"
	_, err := cfg.Logger()
	assert.Error(t, err)
}
