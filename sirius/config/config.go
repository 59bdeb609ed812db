// Package config loads the hostdiff configuration: defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SiriusScan/host-diff/sirius/ingest"
	"github.com/SiriusScan/host-diff/sirius/queue"
	"github.com/SiriusScan/host-diff/sirius/slogger"
)

const (
	BackendValkey   = "valkey"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

type Config struct {
	Log    LogConfig    `yaml:"log"`
	Store  StoreConfig  `yaml:"store"`
	HTTP   HTTPConfig   `yaml:"http"`
	Queue  QueueConfig  `yaml:"queue"`
	Ingest IngestConfig `yaml:"ingest"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"`
	ValkeyAddress string `yaml:"valkey_address"`
	DatabaseURL   string `yaml:"database_url"`
}

type HTTPConfig struct {
	Address string `yaml:"address"`
}

type QueueConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Name    string `yaml:"name"`
}

type IngestConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Store:  StoreConfig{Backend: BackendValkey, ValkeyAddress: "localhost:6379"},
		HTTP:   HTTPConfig{Address: ":8080"},
		Queue:  QueueConfig{URL: queue.DefaultURL, Name: queue.DefaultQueue},
		Ingest: IngestConfig{MaxUploadBytes: ingest.DefaultMaxUploadBytes},
	}
}

// Load builds the configuration. path may be empty; a missing file named
// explicitly is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		if err := decode(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides cfg with non-empty environment variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("HOSTDIFF_STORE_BACKEND", &cfg.Store.Backend)
	str("HOSTDIFF_VALKEY_ADDRESS", &cfg.Store.ValkeyAddress)
	str("DATABASE_URL", &cfg.Store.DatabaseURL)
	str("HOSTDIFF_HTTP_ADDRESS", &cfg.HTTP.Address)
	str("HOSTDIFF_QUEUE_URL", &cfg.Queue.URL)
	str("HOSTDIFF_QUEUE_NAME", &cfg.Queue.Name)

	if v, ok := lookup("HOSTDIFF_QUEUE_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("HOSTDIFF_QUEUE_ENABLED: %w", err)
		}
		cfg.Queue.Enabled = enabled
	}
	if v, ok := lookup("HOSTDIFF_MAX_UPLOAD_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("HOSTDIFF_MAX_UPLOAD_BYTES: %w", err)
		}
		cfg.Ingest.MaxUploadBytes = n
	}
	return nil
}

// Validate rejects settings the service cannot start with.
func (c Config) Validate() error {
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	switch c.Store.Backend {
	case BackendValkey:
		if c.Store.ValkeyAddress == "" {
			return errors.New("store.valkey_address is required for the valkey backend")
		}
	case BackendPostgres, BackendSQLite:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the %s backend", c.Store.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown store.backend %q (want valkey, postgres, sqlite or memory)", c.Store.Backend)
	}

	if !slogger.IsValidLevel(c.Log.Level) {
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}

	if c.Ingest.MaxUploadBytes <= 0 {
		return errors.New("ingest.max_upload_bytes must be positive")
	}
	if c.Queue.Enabled && (c.Queue.URL == "" || c.Queue.Name == "") {
		return errors.New("queue.url and queue.name are required when the queue is enabled")
	}
	return nil
}

// Backend returns the normalized store backend name.
func (c Config) Backend() string {
	return strings.ToLower(c.Store.Backend)
}
