package config

import (
	"os"
	"strconv"
	"time"

	"github.com/gofish2020/easyqueue/utils"
)

// FromEnv overlays EASYQUEUE_* environment variables onto cfg.
// Values that fail to parse are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("EASYQUEUE_DIR"); v != "" {
		cfg.Dir = v
	}
	if v := os.Getenv("EASYQUEUE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("EASYQUEUE_CHUNK_SIZE"); v != "" {
		cfg.ChunkSize = v
	}
	if v := os.Getenv("EASYQUEUE_GC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.GCInterval = d
		}
	}
	if v := os.Getenv("EASYQUEUE_CACHE_RECORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheRecords = n
		}
	}
	if v := os.Getenv("EASYQUEUE_MAX_CACHED_RECORD"); v != "" {
		cfg.MaxCachedRecord = v
	}
	if v := os.Getenv("EASYQUEUE_MAX_PAYLOAD"); v != "" {
		cfg.MaxPayload = v
	}
	if v := os.Getenv("EASYQUEUE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("EASYQUEUE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("EASYQUEUE_NODE_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.NodeID = n
		}
	}
}

// DefaultDataDir is the data directory next to the executable.
func DefaultDataDir() string {
	return utils.DataDir()
}
