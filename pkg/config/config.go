// Package config loads pagedb settings from a YAML file, a .env file and
// PAGEDB_* environment variables, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sushant-115/pagedb/core/write_engine/pagefile"
	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
)

// StoreConfig describes the database file.
type StoreConfig struct {
	Path     string `yaml:"path"`
	PageSize int    `yaml:"page_size"`
	// CacheSize is a human-readable byte size such as "64MiB". Empty or
	// "0" disables the shared page cache.
	CacheSize    string `yaml:"cache_size"`
	SyncOnCommit bool   `yaml:"sync_on_commit"`
	// BackupRate throttles Backup, e.g. "32MB" per second. Empty means
	// unthrottled.
	BackupRate string `yaml:"backup_rate"`
}

// ServerConfig configures the diagnostics HTTP server and the gRPC health
// listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RequestsPerSecond limits page dumps; zero disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// GRPCAddr is the gRPC health listener. Empty disables it.
	GRPCAddr string `yaml:"grpc_addr"`
}

type Config struct {
	Store     StoreConfig      `yaml:"store"`
	Server    ServerConfig     `yaml:"server"`
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Path:         "data/pagedb.db",
			PageSize:     pagefile.DefaultPageSize,
			CacheSize:    "32MiB",
			SyncOnCommit: true,
		},
		Server: ServerConfig{
			Addr:            ":8088",
			GRPCAddr:        ":8089",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "json",
		},
		Telemetry: telemetry.Config{
			Enabled:          true,
			ServiceName:      logger.DefaultService,
			TraceSampleRatio: 1,
		},
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped when
// path is empty), envFile (skipped when missing) and finally the process
// environment.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overlays PAGEDB_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("PAGEDB_STORE_PATH", &c.Store.Path)
	str("PAGEDB_CACHE_SIZE", &c.Store.CacheSize)
	str("PAGEDB_BACKUP_RATE", &c.Store.BackupRate)
	str("PAGEDB_HTTP_ADDR", &c.Server.Addr)
	str("PAGEDB_GRPC_ADDR", &c.Server.GRPCAddr)
	str("PAGEDB_LOG_LEVEL", &c.Logger.Level)
	str("PAGEDB_LOG_FORMAT", &c.Logger.Format)
	str("PAGEDB_LOG_OUTPUT", &c.Logger.OutputFile)

	if v, ok := lookup("PAGEDB_PAGE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PAGEDB_PAGE_SIZE: %w", err)
		}
		c.Store.PageSize = n
	}
	for key, dst := range map[string]*bool{
		"PAGEDB_SYNC_ON_COMMIT":     &c.Store.SyncOnCommit,
		"PAGEDB_TELEMETRY_ENABLED": &c.Telemetry.Enabled,
	} {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks values that Open would otherwise reject later.
func (c Config) Validate() error {
	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if ps := c.Store.PageSize; ps < pagefile.MinPageSize || ps > pagefile.MaxPageSize {
		return fmt.Errorf("store.page_size %d outside [%d, %d]", ps, pagefile.MinPageSize, pagefile.MaxPageSize)
	}
	if _, err := c.CacheBytes(); err != nil {
		return err
	}
	if _, err := c.BackupBytesPerSec(); err != nil {
		return err
	}
	return nil
}

// CacheBytes parses Store.CacheSize.
func (c Config) CacheBytes() (int64, error) {
	return parseSize("store.cache_size", c.Store.CacheSize)
}

// BackupBytesPerSec parses Store.BackupRate.
func (c Config) BackupBytesPerSec() (int64, error) {
	return parseSize("store.backup_rate", c.Store.BackupRate)
}

// StoreOptions converts the store section. Logger, Meter and Tracer are left
// for the caller.
func (c Config) StoreOptions() (pagefile.Options, error) {
	cache, err := c.CacheBytes()
	if err != nil {
		return pagefile.Options{}, err
	}
	return pagefile.Options{
		PageSize:     c.Store.PageSize,
		CacheSize:    cache,
		SyncOnCommit: c.Store.SyncOnCommit,
	}, nil
}

func parseSize(field, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return int64(n), nil
}
