package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/simgate/internal/gate"
	"github.com/loykin/simgate/internal/logger"
	"github.com/loykin/simgate/internal/process"
)

// Defaults mirror the backend's own conventions: it listens on 8080 and
// serves its liveness endpoint at /api/health.
const (
	DefaultPort       = 8080
	DefaultHealthPath = "/api/health"
	DefaultListen     = "127.0.0.1:9090"
	DefaultBasePath   = "/api"
)

// Config is the top-level TOML structure.
type Config struct {
	LogLevel string         `toml:"log_level" mapstructure:"log_level"`
	Backend  BackendConfig  `toml:"backend" mapstructure:"backend"`
	Health   HealthConfig   `toml:"health" mapstructure:"health"`
	Server   *ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics  *MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Store    *StoreConfig   `toml:"store" mapstructure:"store"`
	History  *HistoryConfig `toml:"history" mapstructure:"history"`
}

// BackendConfig describes the backend executable to launch.
type BackendConfig struct {
	Name      string        `toml:"name" mapstructure:"name"`
	Path      string        `toml:"path" mapstructure:"path"`
	Args      []string      `toml:"args" mapstructure:"args"`
	Port      int           `toml:"port" mapstructure:"port"`
	WorkDir   string        `toml:"workdir" mapstructure:"workdir"`
	Env       []string      `toml:"env" mapstructure:"env"`
	StopGrace time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	Log       *LogConfig    `toml:"log" mapstructure:"log"`
}

// LogConfig configures the backend's stdout/stderr capture.
type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// HealthConfig bounds the readiness gate's polling loop.
type HealthConfig struct {
	Path        string        `toml:"path" mapstructure:"path"`
	MaxAttempts int           `toml:"max_attempts" mapstructure:"max_attempts"`
	Interval    time.Duration `toml:"interval" mapstructure:"interval"`
	Timeout     time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// ServerConfig configures the local control API the shell polls.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// StoreConfig configures the local launch-history database.
type StoreConfig struct {
	Path string `toml:"path" mapstructure:"path"`
}

// HistoryConfig configures optional external event sinks.
type HistoryConfig struct {
	Postgres   *PostgresSinkConfig   `toml:"postgres" mapstructure:"postgres"`
	ClickHouse *ClickHouseSinkConfig `toml:"clickhouse" mapstructure:"clickhouse"`
}

type PostgresSinkConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ClickHouseSinkConfig struct {
	Addr  string `toml:"addr" mapstructure:"addr"`
	Table string `toml:"table" mapstructure:"table"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Backend.Name == "" {
		c.Backend.Name = "backend"
	}
	if c.Backend.Port == 0 {
		c.Backend.Port = DefaultPort
	}
	if len(c.Backend.Args) == 0 {
		c.Backend.Args = []string{"--headless"}
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
	if c.Server != nil {
		if c.Server.Listen == "" {
			c.Server.Listen = DefaultListen
		}
		if c.Server.BasePath == "" {
			c.Server.BasePath = DefaultBasePath
		}
	}
}

// Validate rejects configurations that cannot possibly launch a backend.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.Path) == "" {
		return fmt.Errorf("backend.path is required")
	}
	if c.Backend.Port < 0 || c.Backend.Port > 65535 {
		return fmt.Errorf("backend.port %d out of range", c.Backend.Port)
	}
	if !strings.HasPrefix(c.Health.Path, "/") {
		return fmt.Errorf("health.path must start with '/': %q", c.Health.Path)
	}
	if c.Health.MaxAttempts < 0 {
		return fmt.Errorf("health.max_attempts cannot be negative")
	}
	if c.Health.Interval < 0 || c.Health.Timeout < 0 {
		return fmt.Errorf("health intervals cannot be negative")
	}
	return nil
}

// Spec builds the process spec; the configured port is appended to the
// argument list so the backend and the probe always agree on it.
func (c *Config) Spec() process.Spec {
	args := append([]string(nil), c.Backend.Args...)
	args = append(args, fmt.Sprintf("--port=%d", c.Backend.Port))
	s := process.Spec{
		Name:      c.Backend.Name,
		Path:      c.Backend.Path,
		Args:      args,
		WorkDir:   c.Backend.WorkDir,
		Env:       append([]string(nil), c.Backend.Env...),
		StopGrace: c.Backend.StopGrace,
	}
	if l := c.Backend.Log; l != nil {
		s.Log = logger.Config{
			Dir:        l.Dir,
			StdoutPath: l.Stdout,
			StderrPath: l.Stderr,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		}
	}
	return s
}

// Policy builds the gate policy; zero fields fall back to gate defaults.
func (c *Config) Policy() gate.Policy {
	return gate.Policy{
		MaxAttempts: c.Health.MaxAttempts,
		Interval:    c.Health.Interval,
		Timeout:     c.Health.Timeout,
	}.WithDefaults()
}

// BackendBaseURL is the backend's HTTP base, always on loopback.
func (c *Config) BackendBaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.Backend.Port)
}
