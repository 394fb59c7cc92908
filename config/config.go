package config

import (
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofish2020/easyqueue"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration loaded from file/env.
// Sizes are human readable strings such as "4KiB" or "16MiB".
type Config struct {
	Dir             string        `yaml:"dir"`
	Listen          string        `yaml:"listen"`
	ChunkSize       string        `yaml:"chunkSize"`
	GCInterval      time.Duration `yaml:"gcInterval"`
	CacheRecords    int           `yaml:"cacheRecords"`
	MaxCachedRecord string        `yaml:"maxCachedRecord"`
	MaxPayload      string        `yaml:"maxPayload"`
	LogLevel        string        `yaml:"logLevel"`
	LogFormat       string        `yaml:"logFormat"`
	// snowflake node used for request ids, 0-1023
	NodeID int64 `yaml:"nodeID"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Dir:             DefaultDataDir(),
		Listen:          ":8080",
		ChunkSize:       "4KiB",
		GCInterval:      10 * time.Second,
		CacheRecords:    1024,
		MaxCachedRecord: "64KiB",
		MaxPayload:      "16MiB",
		LogLevel:        "info",
		LogFormat:       "json",
		NodeID:          1,
	}
}

// Load reads a YAML file over the defaults. If path is empty, returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

func parseSize(field, s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", field)
	}
	return int64(n), nil
}

func (c Config) ChunkSizeBytes() (int64, error) {
	return parseSize("chunkSize", c.ChunkSize)
}

func (c Config) MaxCachedRecordBytes() (int64, error) {
	return parseSize("maxCachedRecord", c.MaxCachedRecord)
}

func (c Config) MaxPayloadBytes() (int64, error) {
	return parseSize("maxPayload", c.MaxPayload)
}

// Validate checks every field and returns the first problem found.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.New("dir must not be empty")
	}
	if c.Listen == "" {
		return errors.New("listen must not be empty")
	}

	chunkSize, err := c.ChunkSizeBytes()
	if err != nil {
		return err
	}
	if chunkSize <= 0 || chunkSize&(chunkSize-1) != 0 {
		return errors.Wrapf(easyqueue.ErrInvalidChunkSize, "chunkSize %s (%d bytes)", c.ChunkSize, chunkSize)
	}
	if _, err := c.MaxCachedRecordBytes(); err != nil {
		return err
	}
	maxPayload, err := c.MaxPayloadBytes()
	if err != nil {
		return err
	}
	if maxPayload <= 0 {
		return errors.New("maxPayload must be positive")
	}
	if c.CacheRecords < 0 {
		return errors.New("cacheRecords must not be negative")
	}

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "logLevel")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return errors.Errorf("logFormat %q must be json or console", c.LogFormat)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return errors.Errorf("nodeID %d out of range 0-1023", c.NodeID)
	}
	return nil
}

// Options converts the config into queue options.
func (c Config) Options(logger *zap.Logger) (easyqueue.Options, error) {
	if err := c.Validate(); err != nil {
		return easyqueue.Options{}, err
	}
	chunkSize, _ := c.ChunkSizeBytes()
	maxCached, _ := c.MaxCachedRecordBytes()

	options := easyqueue.DefaultOptions
	options.DirPath = c.Dir
	options.ChunkSize = chunkSize
	options.GCInterval = c.GCInterval
	options.CacheRecords = c.CacheRecords
	options.MaxCachedRecordSize = maxCached
	options.Logger = logger
	return options, nil
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "logLevel")
	}

	var zc zap.Config
	if c.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
