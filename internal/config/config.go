// Package config provides configuration loading for studyd.
//
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables, with hardcoded defaults for everything else.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete studyd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Bus           BusConfig           `koanf:"bus"`
	Storage       StorageConfig       `koanf:"storage"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// BusConfig holds event bus configuration.
type BusConfig struct {
	// Provider selects the bus implementation: "memory" or "jetstream".
	Provider string `koanf:"provider"`

	// URL is the NATS server address. Ignored when Embedded is set.
	URL string `koanf:"url"`

	// Embedded runs a NATS server inside the process. Single-node
	// deployments get durability without operating a broker.
	Embedded bool `koanf:"embedded"`

	// StoreDir is where the embedded server keeps stream data.
	StoreDir string `koanf:"store_dir"`

	// Stream is the JetStream stream name holding all topics.
	Stream string `koanf:"stream"`

	RetryBase Duration `koanf:"retry_base"`
	RetryCap  Duration `koanf:"retry_cap"`
	MaxAge    Duration `koanf:"max_age"`
}

// StorageConfig holds record and blob storage configuration.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `koanf:"path"`

	Blob BlobConfig `koanf:"blob"`
}

// BlobConfig holds blob store configuration.
type BlobConfig struct {
	// Provider selects the blob store: "memory" or "minio".
	Provider  string `koanf:"provider"`
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey Secret `koanf:"secret_key"`
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// PipelineConfig holds the shared worker discipline settings.
type PipelineConfig struct {
	HandlerTimeout      Duration `koanf:"handler_timeout"`
	NotReadyMaxAttempts int      `koanf:"not_ready_max_attempts"`
}

// ObservabilityConfig holds logging and telemetry configuration.
type ObservabilityConfig struct {
	ServiceName string `koanf:"service_name"`
	Development bool   `koanf:"development"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Bus.Provider == "" {
		cfg.Bus.Provider = "memory"
	}
	if cfg.Bus.URL == "" {
		cfg.Bus.URL = "nats://localhost:4222"
	}
	if cfg.Bus.Stream == "" {
		cfg.Bus.Stream = "STUDYD"
	}
	if cfg.Bus.RetryBase == 0 {
		cfg.Bus.RetryBase = Duration(time.Second)
	}
	if cfg.Bus.RetryCap == 0 {
		cfg.Bus.RetryCap = Duration(60 * time.Second)
	}
	if cfg.Bus.MaxAge == 0 {
		cfg.Bus.MaxAge = Duration(10 * time.Minute)
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "studyd.db"
	}
	if cfg.Storage.Blob.Provider == "" {
		cfg.Storage.Blob.Provider = "memory"
	}
	if cfg.Storage.Blob.Bucket == "" {
		cfg.Storage.Blob.Bucket = "studyd"
	}

	if cfg.Pipeline.HandlerTimeout == 0 {
		cfg.Pipeline.HandlerTimeout = Duration(30 * time.Second)
	}
	if cfg.Pipeline.NotReadyMaxAttempts == 0 {
		cfg.Pipeline.NotReadyMaxAttempts = 10
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "studyd"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Bus.Provider {
	case "memory", "jetstream":
	default:
		return fmt.Errorf("bus provider must be memory or jetstream, got %q", c.Bus.Provider)
	}
	if c.Bus.RetryBase.Duration() > c.Bus.RetryCap.Duration() {
		return errors.New("bus retry_base cannot exceed retry_cap")
	}

	switch c.Storage.Blob.Provider {
	case "memory":
	case "minio":
		if c.Storage.Blob.Endpoint == "" {
			return errors.New("blob endpoint is required for the minio provider")
		}
	default:
		return fmt.Errorf("blob provider must be memory or minio, got %q", c.Storage.Blob.Provider)
	}

	if c.Pipeline.NotReadyMaxAttempts < 1 {
		return fmt.Errorf("pipeline not_ready_max_attempts must be at least 1, got %d", c.Pipeline.NotReadyMaxAttempts)
	}
	return nil
}
