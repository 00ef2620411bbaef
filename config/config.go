package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the whole middleware configuration. Values come from config.json
// with environment variables taking precedence.
type Config struct {
	Bybit   BybitConfig   `json:"bybit"`
	Server  ServerConfig  `json:"server"`
	Engine  EngineConfig  `json:"engine"`
	Guard   GuardConfig   `json:"guard"`
	Redis   RedisConfig   `json:"redis"`
	Logging LoggingConfig `json:"logging"`
}

// BybitConfig holds venue connectivity settings
type BybitConfig struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	BaseURL   string `json:"base_url"`
	TestNet   bool   `json:"testnet"`
	MockMode  bool   `json:"mock_mode"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	SharedSecret    string `json:"shared_secret"`
	ProductionMode  bool   `json:"production_mode"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// EngineConfig holds bracket execution settings
type EngineConfig struct {
	TP1SharePct      float64       `json:"tp1_share_pct"`
	FillPollAttempts int           `json:"fill_poll_attempts"`
	FillPollInterval time.Duration `json:"fill_poll_interval"`
	DedupWindow      time.Duration `json:"dedup_window"`
	EntryCooldown    time.Duration `json:"entry_cooldown"`
}

// GuardConfig holds the daily loss guard's startup defaults
type GuardConfig struct {
	Enabled  bool     `json:"enabled"`
	LimitPct *float64 `json:"limit_pct,omitempty"`
	LimitUsd *float64 `json:"limit_usd,omitempty"`
}

// RedisConfig holds Redis settings for the link-id sequence cache
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level      string `json:"level"`
	JSONFormat bool   `json:"json_format"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if !cfg.Bybit.MockMode {
		if cfg.Bybit.APIKey == "" || cfg.Bybit.SecretKey == "" {
			return nil, fmt.Errorf("BYBIT_KEY and BYBIT_SECRET are required outside mock mode")
		}
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Bybit config
	cfg.Bybit.APIKey = getEnvOrDefault("BYBIT_KEY", cfg.Bybit.APIKey)
	cfg.Bybit.SecretKey = getEnvOrDefault("BYBIT_SECRET", cfg.Bybit.SecretKey)
	cfg.Bybit.BaseURL = getEnvOrDefault("BYBIT_BASE", cfg.Bybit.BaseURL)
	cfg.Bybit.TestNet = getEnvOrDefault("BYBIT_TESTNET", boolString(cfg.Bybit.TestNet)) == "true"
	cfg.Bybit.MockMode = getEnvOrDefault("MOCK_MODE", boolString(cfg.Bybit.MockMode)) == "true"

	// Server config
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", defaultString(cfg.Server.Host, "0.0.0.0"))
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.Server.Port, 8080))
	cfg.Server.SharedSecret = getEnvOrDefault("SHARED_SECRET", cfg.Server.SharedSecret)
	cfg.Server.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", boolString(cfg.Server.ProductionMode)) == "true"
	cfg.Server.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.Server.ShutdownTimeout, 10))

	// Engine config
	cfg.Engine.TP1SharePct = getEnvFloatOrDefault("TP1_SHARE_PCT", defaultFloat(cfg.Engine.TP1SharePct, 30.0))
	cfg.Engine.FillPollAttempts = getEnvIntOrDefault("FILL_POLL_ATTEMPTS", defaultInt(cfg.Engine.FillPollAttempts, 12))
	cfg.Engine.FillPollInterval = getEnvDurationOrDefault("FILL_POLL_INTERVAL", defaultDuration(cfg.Engine.FillPollInterval, 250*time.Millisecond))
	cfg.Engine.DedupWindow = getEnvDurationOrDefault("DEDUP_WINDOW", defaultDuration(cfg.Engine.DedupWindow, 15*time.Second))
	cfg.Engine.EntryCooldown = getEnvDurationOrDefault("ENTRY_COOLDOWN", defaultDuration(cfg.Engine.EntryCooldown, 30*time.Second))

	// Guard startup defaults
	cfg.Guard.Enabled = getEnvOrDefault("GUARD_ENABLED", boolString(cfg.Guard.Enabled)) == "true"
	if v := os.Getenv("GUARD_LIMIT_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Guard.LimitPct = &f
		}
	}
	if v := os.Getenv("GUARD_LIMIT_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Guard.LimitUsd = &f
		}
	}

	// Redis config
	cfg.Redis.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.Redis.Enabled)) == "true"
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", defaultString(cfg.Redis.Address, "localhost:6379"))
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	// Logging config
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", defaultString(cfg.Logging.Level, "info"))
	cfg.Logging.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.Logging.JSONFormat)) == "true"
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func defaultFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func defaultDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
