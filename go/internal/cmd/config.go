package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendNATS     = "nats"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the server configuration. Defaults are overlaid by the YAML
// file named in SPOKER_CONFIG, then by environment variables.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Store struct {
		Backend    string `yaml:"backend"`
		MaxRetries int    `yaml:"max_retries"`

		NATS struct {
			URL      string `yaml:"url"`
			Bucket   string `yaml:"bucket"`
			History  int    `yaml:"history"`
			Replicas int    `yaml:"replicas"`
		} `yaml:"nats"`

		Redis struct {
			Addr      string `yaml:"addr"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`

		Postgres struct {
			NotifyChannel    string        `yaml:"notify_channel"`
			FallbackInterval time.Duration `yaml:"fallback_interval"`
		} `yaml:"postgres"`
	} `yaml:"store"`

	Vote struct {
		StrictReveal bool `yaml:"strict_reveal"`
	} `yaml:"vote"`

	Gateway struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		IntentTimeout  time.Duration `yaml:"intent_timeout"`
		MaxMessageSize int64         `yaml:"max_message_size"`
	} `yaml:"gateway"`
}

func defaultConfig() *Config {
	var c Config
	c.Port = "8080"
	c.LogLevel = "info"
	c.Store.Backend = BackendMemory
	c.Store.MaxRetries = 16
	c.Store.NATS.URL = "nats://127.0.0.1:4222"
	c.Store.NATS.Bucket = "SPOKER_ROOMS"
	c.Store.NATS.History = 5
	c.Store.NATS.Replicas = 1
	c.Store.Redis.Addr = "localhost:6379"
	c.Store.Redis.KeyPrefix = "spoker:room:"
	c.Store.Postgres.NotifyChannel = "spoker_rooms"
	c.Store.Postgres.FallbackInterval = 30 * time.Second
	c.Vote.StrictReveal = true
	c.Gateway.PingInterval = 30 * time.Second
	c.Gateway.ReadTimeout = 60 * time.Second
	c.Gateway.WriteTimeout = 10 * time.Second
	c.Gateway.IntentTimeout = 5 * time.Second
	c.Gateway.MaxMessageSize = 8 * 1024
	return &c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// loadConfig overlays the YAML file at path onto config.
func loadConfig(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// setupConfig builds the effective configuration.
func setupConfig() (*Config, error) {
	config := defaultConfig()
	if path := os.Getenv("SPOKER_CONFIG"); path != "" {
		if err := loadConfig(path, config); err != nil {
			return nil, err
		}
	}

	config.Port = getEnv("PORT", config.Port)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.Store.Backend = strings.ToLower(getEnv("SPOKER_STORE", config.Store.Backend))
	config.Store.MaxRetries = getEnvAsInt("SPOKER_STORE_MAX_RETRIES", config.Store.MaxRetries)
	config.Store.NATS.URL = getEnv("NATS_URL", config.Store.NATS.URL)
	config.Store.Redis.Addr = getEnv("REDIS_ADDR", config.Store.Redis.Addr)
	config.Store.Redis.Password = getEnv("REDIS_PASSWORD", config.Store.Redis.Password)
	config.Store.Redis.DB = getEnvAsInt("REDIS_DB", config.Store.Redis.DB)
	config.Store.Postgres.FallbackInterval = getEnvAsDuration("SPOKER_PG_FALLBACK_INTERVAL", config.Store.Postgres.FallbackInterval)
	config.Vote.StrictReveal = getEnvAsBool("SPOKER_STRICT_REVEAL", config.Vote.StrictReveal)
	config.Gateway.PingInterval = getEnvAsDuration("SPOKER_WS_PING_INTERVAL", config.Gateway.PingInterval)

	switch config.Store.Backend {
	case BackendMemory, BackendNATS, BackendPostgres, BackendRedis:
	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Store.Backend)
	}
	if config.Store.NATS.History < 1 || config.Store.NATS.History > 64 {
		return nil, fmt.Errorf("nats history must be between 1 and 64, got %d", config.Store.NATS.History)
	}
	return config, nil
}
