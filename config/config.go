// Package config loads the scheduler's settings from an optional YAML or
// JSON file, a .env file and SCHED_ environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment overrides. Nested keys use a double
// underscore: SCHED_SERVER__PORT=9000 sets server.port.
const EnvPrefix = "SCHED_"

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Search    SearchConfig    `json:"search"`
	Logging   LoggingConfig   `json:"logging"`
}

// Load reads path (may be empty), then .env from the working directory,
// then the environment.
func Load(path string) (*Config, error) {
	return load(path, ".env")
}

func load(path, dotenv string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// godotenv never overrides variables that are already set.
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Database.SetDefaults()
	c.Redis.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Search.SetDefaults()
	c.Logging.SetDefaults()
}

func (c Config) Validate() error {
	sections := []struct {
		name string
		v    interface{ Validate() error }
	}{
		{"server", c.Server},
		{"database", c.Database},
		{"redis", c.Redis},
		{"scheduler", c.Scheduler},
		{"search", c.Search},
		{"logging", c.Logging},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// =============================================================================
// SECTIONS
// =============================================================================

type ServerConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	// CORSOrigins lists allowed origins; "*" allows any.
	CORSOrigins []string `json:"cors_origins"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
}

func (c ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	return nil
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

type DatabaseConfig struct {
	// Path of the SQLite file; ":memory:" keeps everything in memory.
	Path string `json:"path"`
}

func (c *DatabaseConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "scheduler.db"
	}
}

func (c DatabaseConfig) Validate() error { return nil }

// RedisConfig enables the utilization cache and the shared run lock. An
// empty Addr disables Redis.
type RedisConfig struct {
	Addr           string        `json:"addr"`
	Password       string        `json:"password"`
	DB             int           `json:"db"`
	UtilizationTTL time.Duration `json:"utilization_ttl"`
	LockTTL        time.Duration `json:"lock_ttl"`
}

func (c *RedisConfig) SetDefaults() {
	if c.UtilizationTTL == 0 {
		c.UtilizationTTL = time.Minute
	}
	if c.LockTTL == 0 {
		c.LockTTL = 5 * time.Minute
	}
}

func (c RedisConfig) Validate() error {
	if c.DB < 0 {
		return fmt.Errorf("db must be >= 0")
	}
	if c.UtilizationTTL < 0 || c.LockTTL < 0 {
		return fmt.Errorf("ttl must not be negative")
	}
	return nil
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// SchedulerConfig controls the periodic background auto-assign.
type SchedulerConfig struct {
	Enabled                   bool          `json:"enabled"`
	Interval                  time.Duration `json:"interval"`
	AllowPriorityRescheduling bool          `json:"allow_priority_rescheduling"`
}

func (c *SchedulerConfig) SetDefaults() {
	if c.Interval == 0 {
		c.Interval = 15 * time.Minute
	}
}

func (c SchedulerConfig) Validate() error {
	if c.Enabled && c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s")
	}
	return nil
}

// SearchConfig bounds the alternative period search.
type SearchConfig struct {
	MaxAlternatives  int `json:"max_alternatives"`
	SearchWindowDays int `json:"search_window_days"`
}

func (c *SearchConfig) SetDefaults() {
	if c.MaxAlternatives == 0 {
		c.MaxAlternatives = 3
	}
	if c.SearchWindowDays == 0 {
		c.SearchWindowDays = 30
	}
}

func (c SearchConfig) Validate() error {
	if c.MaxAlternatives < 0 || c.SearchWindowDays < 0 {
		return fmt.Errorf("search bounds must not be negative")
	}
	return nil
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
}

func (c LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown level %s", c.Level)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("unknown format %s", c.Format)
	}
	return nil
}
