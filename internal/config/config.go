// Package config defines the keymeter configuration file format.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level keymeter configuration file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	Quota   QuotaConfig   `yaml:"quota"`
	Usage   UsageConfig   `yaml:"usage"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	JWTExpiry string `yaml:"jwt_expiry"`
	// LoginRateLimit caps login attempts per IP per minute.
	LoginRateLimit int `yaml:"login_rate_limit"`
}

// StoreConfig selects and configures the backing database.
type StoreConfig struct {
	// Driver is sqlite (default), postgres, or mysql.
	Driver string `yaml:"driver"`
	// DSN is the connection string for postgres/mysql; for mysql include
	// parseTime=true. Optional for sqlite.
	DSN string `yaml:"dsn"`
}

// QuotaConfig controls daily-budget enforcement.
type QuotaConfig struct {
	// Mode is "atomic" (default: counter upsert, exact under concurrency)
	// or "counted" (fresh event count, may overrun slightly under bursts).
	Mode string `yaml:"mode"`
}

// UsageConfig controls usage reporting.
type UsageConfig struct {
	// MaxScan caps how many recent events a summary reads. Stats are exact
	// up to this cap.
	MaxScan int `yaml:"max_scan"`
	// DefaultWindowDays is the trailing window when a stats request names
	// no window.
	DefaultWindowDays int `yaml:"default_window_days"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a YAML configuration file. Environment variables
// referenced as ${VAR_NAME} in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-filled with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			},
		},
		Auth: AuthConfig{
			JWTExpiry:      "24h",
			LoginRateLimit: 10,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Quota: QuotaConfig{
			Mode: "atomic",
		},
		Usage: UsageConfig{
			MaxScan:           10000,
			DefaultWindowDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefault writes the default configuration to a YAML file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
