package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	MaxMessageBytes   int     `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendBuffer        int     `mapstructure:"send_buffer" yaml:"send_buffer"`
	CommandsPerSecond float64 `mapstructure:"commands_per_second" yaml:"commands_per_second"`
	CommandsBurst     int     `mapstructure:"commands_burst" yaml:"commands_burst"`
	DefaultPageSize   int     `mapstructure:"default_page_size" yaml:"default_page_size"`
	MaxPageSize       int     `mapstructure:"max_page_size" yaml:"max_page_size"`

	Redis RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig configures the cross-instance event relay.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Channel  string `mapstructure:"channel" yaml:"channel"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "agora.db",
		JWTSecret:         "change-me-in-production",
		JWTIssuer:         "agora",
		JWTAudience:       "agora-clients",
		JWTTTL:            24 * time.Hour,
		MaxMessageBytes:   4000,
		SendBuffer:        64,
		CommandsPerSecond: 20,
		CommandsBurst:     40,
		DefaultPageSize:   50,
		MaxPageSize:       100,
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "agora:events",
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}

// Validate reports configuration that cannot run.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("jwt_ttl must be positive"))
	}
	for name, v := range map[string]int{
		"max_message_bytes": c.MaxMessageBytes,
		"send_buffer":       c.SendBuffer,
		"commands_burst":    c.CommandsBurst,
		"default_page_size": c.DefaultPageSize,
		"max_page_size":     c.MaxPageSize,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.CommandsPerSecond <= 0 {
		errs = append(errs, errors.New("commands_per_second must be positive"))
	}
	if c.DefaultPageSize > c.MaxPageSize {
		errs = append(errs, errors.New("default_page_size exceeds max_page_size"))
	}
	if c.Redis.Enabled && (c.Redis.Addr == "" || c.Redis.Channel == "") {
		errs = append(errs, errors.New("redis.addr and redis.channel are required when redis is enabled"))
	}
	return errors.Join(errs...)
}
