// Package config loads service configuration from an optional YAML file with
// environment variable overrides. Environment always wins so deployments can
// tune a single knob without editing the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Service      ServiceConfig      `yaml:"service"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	NATS         NATSConfig         `yaml:"nats"`
	Clients      ClientsConfig      `yaml:"clients"`
	Negotiations NegotiationsConfig `yaml:"negotiations"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the postgres pool.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

// NATSConfig configures the notification publisher connection.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// ClientsConfig holds addresses of the internal services we call.
type ClientsConfig struct {
	IdentityURL string `yaml:"identity_url"`
	CatalogURL  string `yaml:"catalog_url"`
}

// NegotiationsConfig holds the negotiation policy knobs. Monetary thresholds
// are in cents.
type NegotiationsConfig struct {
	// DirectorTotalThreshold escalates to director approval when the sum of
	// proposed item values exceeds it.
	DirectorTotalThreshold int64 `yaml:"director_total_threshold"`
	// DirectorItemThreshold escalates when any single item exceeds it.
	DirectorItemThreshold int64 `yaml:"director_item_threshold"`
	// DefaultMaxCycles bounds how many times a negotiation may be restarted.
	DefaultMaxCycles int `yaml:"default_max_cycles"`
}

// Load reads CONFIG_FILE (if set) and applies environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.Negotiations.DirectorTotalThreshold <= 0 {
		return nil, fmt.Errorf("negotiations.director_total_threshold must be positive")
	}
	if cfg.Negotiations.DirectorItemThreshold <= 0 {
		return nil, fmt.Errorf("negotiations.director_item_threshold must be positive")
	}
	if cfg.Negotiations.DefaultMaxCycles < 1 {
		return nil, fmt.Errorf("negotiations.default_max_cycles must be at least 1")
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "negotiations-service",
			Version:     "dev",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns: 10,
			MinConns: 1,
		},
		NATS: NATSConfig{},
		Clients: ClientsConfig{
			IdentityURL: "http://localhost:9081",
			CatalogURL:  "http://localhost:9082",
		},
		Negotiations: NegotiationsConfig{
			DirectorTotalThreshold: 5_000_000,
			DirectorItemThreshold:  1_000_000,
			DefaultMaxCycles:       3,
		},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Service.Name, "SERVICE_NAME")
	setString(&cfg.Service.Version, "SERVICE_VERSION")
	setString(&cfg.Service.Environment, "ENVIRONMENT")
	setString(&cfg.Service.LogLevel, "LOG_LEVEL")

	setInt(&cfg.Server.Port, "HTTP_PORT")

	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Clients.IdentityURL, "IDENTITY_URL")
	setString(&cfg.Clients.CatalogURL, "CATALOG_URL")

	setInt64(&cfg.Negotiations.DirectorTotalThreshold, "DIRECTOR_TOTAL_THRESHOLD")
	setInt64(&cfg.Negotiations.DirectorItemThreshold, "DIRECTOR_ITEM_THRESHOLD")
	setInt(&cfg.Negotiations.DefaultMaxCycles, "DEFAULT_MAX_CYCLES")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
