// Package config loads and validates configuration for the status delivery
// server and the watcher client.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type ServerConfig struct {
	Port   string       `mapstructure:"port"`
	DBPath string       `mapstructure:"db_path"`
	Events EventsConfig `mapstructure:"events"`
	Audit  AuditConfig  `mapstructure:"audit"`
}

type EventsConfig struct {
	// Enabled is the real-time events kill switch. When off, the subscribe
	// endpoint answers 503 without opening a connection.
	Enabled         bool `mapstructure:"enabled"`
	MaxConnsPerUser int  `mapstructure:"max_conns_per_user"`
	HeartbeatMS     int  `mapstructure:"heartbeat_ms"`
}

type AuditConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
}

type WatcherConfig struct {
	ServerURL     string       `mapstructure:"server_url"`
	UserID        string       `mapstructure:"user_id"`
	RatePerSecond int          `mapstructure:"rate_per_second"`
	TimeoutSec    int          `mapstructure:"timeout_sec"`
	Stream        StreamConfig `mapstructure:"stream"`
	Poll          PollConfig   `mapstructure:"poll"`
}

type StreamConfig struct {
	DedupeCapacity   int     `mapstructure:"dedupe_capacity"`
	FailureThreshold int     `mapstructure:"failure_threshold"`
	BackoffBaseMS    int     `mapstructure:"backoff_base_ms"`
	JitterRatio      float64 `mapstructure:"jitter_ratio"`
}

type PollConfig struct {
	IntervalMS    int `mapstructure:"interval_ms"`
	MaxIntervalMS int `mapstructure:"max_interval_ms"`
	SoftTimeoutMS int `mapstructure:"soft_timeout_ms"`
	HardTimeoutMS int `mapstructure:"hard_timeout_ms"`
	MaxErrors     int `mapstructure:"max_errors"`
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.db_path", "data/jobs.db")
	v.SetDefault("server.events.enabled", true)
	v.SetDefault("server.events.max_conns_per_user", 3)
	v.SetDefault("server.events.heartbeat_ms", 25000)
	v.SetDefault("server.audit.enabled", true)
	v.SetDefault("server.audit.directory", "data/audit")
	v.SetDefault("watcher.server_url", "http://localhost:8080")
	v.SetDefault("watcher.rate_per_second", 5)
	v.SetDefault("watcher.timeout_sec", 10)
	v.SetDefault("watcher.stream.dedupe_capacity", 512)
	v.SetDefault("watcher.stream.failure_threshold", 3)
	v.SetDefault("watcher.stream.backoff_base_ms", 500)
	v.SetDefault("watcher.stream.jitter_ratio", 0.2)
	v.SetDefault("watcher.poll.interval_ms", 2000)
	v.SetDefault("watcher.poll.max_interval_ms", 30000)
	v.SetDefault("watcher.poll.soft_timeout_ms", 30000)
	v.SetDefault("watcher.poll.hard_timeout_ms", 300000)
	v.SetDefault("watcher.poll.max_errors", 5)
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")

	// Environment variable support
	v.SetEnvPrefix("PHOTOAPP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind the keys flipped most often in deployment
	_ = v.BindEnv("server.events.enabled", "PHOTOAPP_EVENTS_ENABLED")
	_ = v.BindEnv("server.port", "PHOTOAPP_PORT")

	// Load config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
