// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.chronicle/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Security: Sensitive data (bot token, database password) is never logged;
// the config directory uses 0750 permissions.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingBotToken indicates the Telegram bot token is not set.
	ErrMissingBotToken = errors.New("missing Telegram bot token")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidTimeout indicates a staleness threshold or interval is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout")
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, tokens), update MarshalJSON.
type Config struct {
	// Telegram configuration
	TelegramToken string  `mapstructure:"telegram_token" json:"telegram_token"` // SENSITIVE: masked in MarshalJSON
	AdminIDs      []int64 `mapstructure:"admin_ids" json:"admin_ids"`

	// HTTP API configuration
	HTTPAddr   string `mapstructure:"http_addr" json:"http_addr"`
	TrustProxy bool   `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)
	RateBurst  int    `mapstructure:"rate_burst" json:"rate_burst"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Reconciler configuration
	IdleTimeout   time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
	EmptyTimeout  time.Duration `mapstructure:"empty_timeout" json:"empty_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".chronicle")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL takes priority over individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// HTTP defaults
	viper.SetDefault("http_addr", ":8080")
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "chronicle")
	viper.SetDefault("postgres_password", "chronicle_dev_password")
	viper.SetDefault("postgres_db_name", "chronicle")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Reconciler defaults
	viper.SetDefault("idle_timeout", time.Hour)
	viper.SetDefault("empty_timeout", 2*time.Hour)
	viper.SetDefault("sweep_interval", 30*time.Minute)

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// Telegram bot token (required secret)
	mustBind("telegram_token", "TELEGRAM_BOT_TOKEN")

	// Admin user ids (comma-separated list)
	mustBind("admin_ids", "CHRONICLE_ADMIN_IDS")

	// HTTP overrides
	mustBind("http_addr", "CHRONICLE_HTTP_ADDR")
	mustBind("trust_proxy", "CHRONICLE_TRUST_PROXY")

	// Logging overrides
	mustBind("log_level", "CHRONICLE_LOG_LEVEL")
	mustBind("log_json", "CHRONICLE_LOG_JSON")

	// NOTE: DATABASE_URL is read directly in parseDatabaseURL, not via Viper.
}

// Validate checks the configuration for obvious misconfiguration. The bot
// token is checked separately by commands that need Telegram.
func (c *Config) Validate() error {
	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return ErrInvalidPostgresDBName
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle_timeout must be positive", ErrInvalidTimeout)
	}
	if c.EmptyTimeout <= 0 {
		return fmt.Errorf("%w: empty_timeout must be positive", ErrInvalidTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep_interval must be positive", ErrInvalidTimeout)
	}
	return nil
}

// RequireTelegram verifies the bot token is present. Only the serve command
// needs Telegram; maintenance commands run without it.
func (c *Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("%w: set TELEGRAM_BOT_TOKEN", ErrMissingBotToken)
	}
	return nil
}

// maskedValue is the placeholder for masked sensitive data.
// Using ████████ (full-width blocks U+2588) to avoid substring matching.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Shows first 2 and last 2 characters, masks the rest.
// SECURITY: For secrets <=8 chars, fully masks to prevent substring attacks.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.TelegramToken = maskSecret(a.TelegramToken)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
