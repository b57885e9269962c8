package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Backends for live status and trigger events.
const (
	backendMemory = "memory"
	backendRedis  = "redis"
)

// Config holds all nodeflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr        string        `json:"listen_addr"`
	DBPath            string        `json:"db_path"`
	LogLevel          string        `json:"log_level"`
	PoolSize          int           `json:"pool_size"`
	StatusBackend     string        `json:"status_backend"`
	QueueBackend      string        `json:"queue_backend"`
	RedisAddr         string        `json:"redis_addr"`
	RedisQueueKey     string        `json:"redis_queue_key"`
	SchedulerInterval time.Duration `json:"scheduler_interval"`
	HTTPTimeout       time.Duration `json:"http_timeout"`
	// The vault secret is read from the environment only and never written
	// to settings.json.
	VaultPassphrase string `json:"-"`
	VaultSalt       string `json:"vault_salt"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":4200",
		DBPath:            filepath.Join(nodeflowDir(), "nodeflow.db"),
		LogLevel:          "info",
		PoolSize:          10,
		StatusBackend:     backendMemory,
		QueueBackend:      backendMemory,
		RedisAddr:         "localhost:6379",
		RedisQueueKey:     "nodeflow:events",
		SchedulerInterval: time.Minute,
		HTTPTimeout:       30 * time.Second,
	}
}

func nodeflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodeflow"
	}
	return filepath.Join(home, ".nodeflow")
}

func settingsPath() string {
	return filepath.Join(nodeflowDir(), "settings.json")
}

func loadConfig() (Config, error) {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

// loadConfigFrom layers the settings file at path and the variables returned
// by getenv over the defaults. A missing settings file is not an error.
func loadConfigFrom(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	strVars := map[string]*string{
		"NODEFLOW_LISTEN_ADDR":     &cfg.ListenAddr,
		"NODEFLOW_DB_PATH":         &cfg.DBPath,
		"NODEFLOW_LOG_LEVEL":       &cfg.LogLevel,
		"NODEFLOW_STATUS_BACKEND":  &cfg.StatusBackend,
		"NODEFLOW_QUEUE_BACKEND":   &cfg.QueueBackend,
		"NODEFLOW_REDIS_ADDR":      &cfg.RedisAddr,
		"NODEFLOW_REDIS_QUEUE_KEY": &cfg.RedisQueueKey,
		"NODEFLOW_VAULT_KEY":       &cfg.VaultPassphrase,
		"NODEFLOW_VAULT_SALT":      &cfg.VaultSalt,
	}
	for name, dst := range strVars {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	if v := getenv("NODEFLOW_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("NODEFLOW_POOL_SIZE: %w", err)
		}
		cfg.PoolSize = n
	}
	durVars := map[string]*time.Duration{
		"NODEFLOW_SCHEDULER_INTERVAL": &cfg.SchedulerInterval,
		"NODEFLOW_HTTP_TIMEOUT":       &cfg.HTTPTimeout,
	}
	for name, dst := range durVars {
		if v := getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", name, err)
			}
			*dst = d
		}
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	for name, v := range map[string]string{"status_backend": c.StatusBackend, "queue_backend": c.QueueBackend} {
		if v != backendMemory && v != backendRedis {
			return fmt.Errorf("%s must be %q or %q, got %q", name, backendMemory, backendRedis, v)
		}
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	return nil
}

// usesRedis reports whether any backend needs a Redis client.
func (c Config) usesRedis() bool {
	return c.StatusBackend == backendRedis || c.QueueBackend == backendRedis
}

// writeSettings persists cfg as the settings file, creating its directory.
func writeSettings(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
