// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env                string        `yaml:"env"`
	LogLevel           string        `yaml:"log_level"`
	HTTPAddr           string        `yaml:"http_addr"`
	DatabasePath       string        `yaml:"database_path"`
	DatabaseURL        string        `yaml:"database_url"`
	AutoMigrate        bool          `yaml:"auto_migrate"`
	CORSOrigins        []string      `yaml:"cors_origins"`
	TrustProxyHeaders  bool          `yaml:"trust_proxy_headers"`
	SnapshotSize       int           `yaml:"snapshot_size"`
	RecentLimit        int           `yaml:"recent_limit"`
	MaxBodyBytes       int64         `yaml:"max_body_bytes"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	StreamQueueDepth   int           `yaml:"stream_queue_depth"`
	StreamWriteTimeout time.Duration `yaml:"stream_write_timeout"`
	StreamPingInterval time.Duration `yaml:"stream_ping_interval"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

func defaults() Config {
	return Config{
		Env:                "dev",
		LogLevel:           "info",
		HTTPAddr:           ":4000",
		DatabasePath:       "events.db",
		AutoMigrate:        true,
		CORSOrigins:        []string{"*"},
		SnapshotSize:       50,
		RecentLimit:        100,
		MaxBodyBytes:       10 << 20,
		StreamQueueDepth:   256,
		StreamWriteTimeout: 10 * time.Second,
		StreamPingInterval: 30 * time.Second,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Load reads configuration from the environment on top of the defaults.
// Malformed numeric or duration values fall back to the default.
func Load() Config {
	return applyEnv(defaults())
}

// LoadFile reads a YAML file over the defaults and then applies the
// environment, so env vars win over file values.
func LoadFile(path string) (Config, error) {
	cfg := defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	return applyEnv(cfg), nil
}

func applyEnv(cfg Config) Config {
	cfg.Env = getenv("ENV", cfg.Env)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabasePath = getenv("DATABASE_PATH", cfg.DatabasePath)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.AutoMigrate = getenvBool("AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.CORSOrigins = getenvList("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.TrustProxyHeaders = getenvBool("TRUST_PROXY_HEADERS", cfg.TrustProxyHeaders)
	cfg.SnapshotSize = getenvInt("SNAPSHOT_SIZE", cfg.SnapshotSize)
	cfg.RecentLimit = getenvInt("RECENT_LIMIT", cfg.RecentLimit)
	cfg.MaxBodyBytes = int64(getenvInt("MAX_BODY_BYTES", int(cfg.MaxBodyBytes)))
	cfg.RateLimitPerMinute = getenvInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	cfg.StreamQueueDepth = getenvInt("STREAM_QUEUE_DEPTH", cfg.StreamQueueDepth)
	cfg.StreamWriteTimeout = getenvDuration("STREAM_WRITE_TIMEOUT", cfg.StreamWriteTimeout)
	cfg.StreamPingInterval = getenvDuration("STREAM_PING_INTERVAL", cfg.StreamPingInterval)
	cfg.ShutdownTimeout = getenvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	return cfg
}

func getenv(key, defaultValue string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v != "" {
		return v
	}
	return defaultValue
}

func getenvBool(key string, defaultValue bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getenvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return defaultValue
	}
	return parsed
}

func getenvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}

	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func getenvList(key string, defaultValue []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
