package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Logging LogConfig     `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8005" yaml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
}

// SessionConfig holds session registry configuration.
type SessionConfig struct {
	Shell          string        `envconfig:"SESSION_SHELL" yaml:"shell"`
	ReaperInterval time.Duration `envconfig:"SESSION_REAPER_INTERVAL" default:"5m" yaml:"reaperInterval"`
	DisconnectTTL  time.Duration `envconfig:"SESSION_DISCONNECT_TTL" default:"5m" yaml:"disconnectTTL"`
	IdleTTL        time.Duration `envconfig:"SESSION_IDLE_TTL" default:"30m" yaml:"idleTTL"`
}

// StoreConfig holds session persistence configuration.
type StoreConfig struct {
	DataDir string `envconfig:"DATA_DIR" default:"/var/lib/gamedeck" yaml:"dataDir"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// Load loads configuration from environment variables. If path is non-empty,
// the YAML file at path is applied first and the environment overrides it.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		applyFile(&cfg, &fileCfg)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load("")
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8005",
			Host: "0.0.0.0",
		},
		Session: SessionConfig{
			ReaperInterval: 5 * time.Minute,
			DisconnectTTL:  5 * time.Minute,
			IdleTTL:        30 * time.Minute,
		},
		Store: StoreConfig{
			DataDir: "/var/lib/gamedeck",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// applyFile copies non-zero file values over dst, except where the
// environment set the value explicitly; the environment always wins.
func applyFile(dst, file *Config) {
	set := func(env string) bool {
		_, ok := os.LookupEnv(env)
		return ok
	}

	if file.Server.Port != "" && !set("PORT") {
		dst.Server.Port = file.Server.Port
	}
	if file.Server.Host != "" && !set("HOST") {
		dst.Server.Host = file.Server.Host
	}
	if file.Session.Shell != "" && !set("SESSION_SHELL") {
		dst.Session.Shell = file.Session.Shell
	}
	if file.Session.ReaperInterval > 0 && !set("SESSION_REAPER_INTERVAL") {
		dst.Session.ReaperInterval = file.Session.ReaperInterval
	}
	if file.Session.DisconnectTTL > 0 && !set("SESSION_DISCONNECT_TTL") {
		dst.Session.DisconnectTTL = file.Session.DisconnectTTL
	}
	if file.Session.IdleTTL > 0 && !set("SESSION_IDLE_TTL") {
		dst.Session.IdleTTL = file.Session.IdleTTL
	}
	if file.Store.DataDir != "" && !set("DATA_DIR") {
		dst.Store.DataDir = file.Store.DataDir
	}
	if file.Logging.Level != "" && !set("LOG_LEVEL") {
		dst.Logging.Level = file.Logging.Level
	}
	if file.Logging.Development && !set("LOG_DEV") {
		dst.Logging.Development = true
	}
}
