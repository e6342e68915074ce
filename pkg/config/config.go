// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Server, Redis, Kafka, RemoteSettings, Suggest, etc.) and
// the declarative provider-tree document that drives the suggestion pipeline.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Debug          bool                 `yaml:"debug"`
	Server         ServerConfig         `yaml:"server"`
	Redis          RedisConfig          `yaml:"redis"`
	Kafka          KafkaConfig          `yaml:"kafka"`
	RemoteSettings RemoteSettingsGlobal `yaml:"remoteSettings"`
	Suggest        SuggestConfig        `yaml:"suggest"`
	Logging        LoggingConfig        `yaml:"logging"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Location       LocationConfig       `yaml:"location"`

	// Providers is the declarative provider forest. Keys are the provider
	// IDs exposed to clients; values are recursive provider nodes.
	Providers map[string]*ProviderNode `yaml:"providers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// UnmarshalYAML accepts Go duration strings ("5s", "250ms") for the timeout
// fields, which plain YAML decoding of time.Duration does not.
func (s *ServerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Port            int    `yaml:"port"`
		ReadTimeout     string `yaml:"readTimeout"`
		WriteTimeout    string `yaml:"writeTimeout"`
		ShutdownTimeout string `yaml:"shutdownTimeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Port != 0 {
		s.Port = raw.Port
	}
	for _, field := range []struct {
		raw  string
		dest *time.Duration
	}{
		{raw.ReadTimeout, &s.ReadTimeout},
		{raw.WriteTimeout, &s.WriteTimeout},
		{raw.ShutdownTimeout, &s.ShutdownTimeout},
	} {
		if field.raw == "" {
			continue
		}
		d, err := time.ParseDuration(field.raw)
		if err != nil {
			return fmt.Errorf("parsing server timeout %q: %w", field.raw, err)
		}
		*field.dest = d
	}
	return nil
}

// RedisConfig holds Redis connection parameters for the shared cache tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker and topic settings for suggest telemetry.
type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	SuggestTopic string   `yaml:"suggestTopic"`
}

// RemoteSettingsGlobal holds the Remote Settings server defaults. Individual
// remote_settings provider nodes may override bucket and collection.
type RemoteSettingsGlobal struct {
	Server     string `yaml:"server"`
	Bucket     string `yaml:"bucket"`
	Collection string `yaml:"collection"`
}

// SuggestConfig controls request interpretation at the HTTP layer.
type SuggestConfig struct {
	// SupportedLocales is the list negotiated against Accept-Language.
	SupportedLocales []string `yaml:"supportedLocales"`
	// DefaultLocale is used when negotiation fails or the header is absent.
	DefaultLocale string `yaml:"defaultLocale"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LocationConfig provides a fixed location for deployments without a
// geolocation database, mainly development and tests.
type LocationConfig struct {
	Country string `yaml:"country"`
	Region  string `yaml:"region"`
	City    string `yaml:"city"`
	DMA     int    `yaml:"dma"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the provider forest for unknown node types and missing
// required fields. The error names the path of the failing node.
func (c *Config) Validate() error {
	for id, node := range c.Providers {
		if err := node.validate(id); err != nil {
			return err
		}
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			SuggestTopic: "suggest-events",
		},
		RemoteSettings: RemoteSettingsGlobal{
			Server:     "https://firefox.settings.services.mozilla.com/v1",
			Bucket:     "main",
			Collection: "quicksuggest",
		},
		Suggest: SuggestConfig{
			SupportedLocales: []string{"en-US"},
			DefaultLocale:    "en-US",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads MERINO_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MERINO_DEBUG"); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MERINO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MERINO_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MERINO_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MERINO_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("MERINO_REMOTE_SETTINGS_SERVER"); v != "" {
		cfg.RemoteSettings.Server = v
	}
	if v := os.Getenv("MERINO_REMOTE_SETTINGS_BUCKET"); v != "" {
		cfg.RemoteSettings.Bucket = v
	}
	if v := os.Getenv("MERINO_REMOTE_SETTINGS_COLLECTION"); v != "" {
		cfg.RemoteSettings.Collection = v
	}
	if v := os.Getenv("MERINO_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MERINO_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MERINO_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
