// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/perpdesk/perpdesk/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	Market      MarketConfig      `yaml:"market"`
	Risk        RiskConfig        `yaml:"risk"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Cache       CacheConfig       `yaml:"cache"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// AccountConfig holds exchange account credentials and reporting settings.
type AccountConfig struct {
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
	Passphrase string `yaml:"passphrase"`
	Simulated  bool   `yaml:"simulated"` // demo-trading environment
	Timezone   string `yaml:"timezone"`  // reporting timezone for order times
}

// MarketConfig holds the traded instrument universe.
type MarketConfig struct {
	Instruments []string `yaml:"instruments"`
	Timeframes  []string `yaml:"timeframes"`
}

// RiskConfig holds position sizing settings.
type RiskConfig struct {
	Leverage     int     `yaml:"leverage"`
	RiskFraction float64 `yaml:"risk_fraction"`
	MarginMode   string  `yaml:"margin_mode"` // cross | isolated
}

// ExecutionConfig holds order execution settings.
type ExecutionConfig struct {
	FillTimeoutSec     int `yaml:"fill_timeout_sec"`
	FillPollIntervalMs int `yaml:"fill_poll_interval_ms"`
	RateLimitPerSecond int `yaml:"rate_limit_per_second"`
}

// CacheConfig holds shared cache (Redis) settings.
type CacheConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Type string `yaml:"type"` // sqlite | postgres
	Path string `yaml:"path"` // for sqlite
	DSN  string `yaml:"dsn"`  // for postgres
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables so secrets stay out of the file
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate validates the configuration. It is checked before any
// network call is attempted, so misconfiguration never produces a
// half-performed side effect.
func (c *Config) Validate() error {
	var errs []string

	if c.Account.APIKey == "" {
		errs = append(errs, "account.api_key is required")
	}
	if c.Account.SecretKey == "" {
		errs = append(errs, "account.secret_key is required")
	}
	if c.Account.Passphrase == "" {
		errs = append(errs, "account.passphrase is required")
	}
	if c.Account.Timezone != "" {
		if _, err := time.LoadLocation(c.Account.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("account.timezone %q is not a valid location", c.Account.Timezone))
		}
	}

	if len(c.Market.Instruments) == 0 {
		errs = append(errs, "market.instruments must not be empty")
	}
	if len(c.Market.Timeframes) == 0 {
		errs = append(errs, "market.timeframes must not be empty")
	}

	if c.Risk.Leverage <= 0 {
		errs = append(errs, "risk.leverage must be positive")
	}
	if c.Risk.RiskFraction <= 0 || c.Risk.RiskFraction > 1 {
		errs = append(errs, "risk.risk_fraction must be between 0 and 1")
	}
	if c.Risk.MarginMode != "cross" && c.Risk.MarginMode != "isolated" {
		errs = append(errs, "risk.margin_mode must be 'cross' or 'isolated'")
	}

	if c.Execution.FillTimeoutSec <= 0 {
		c.Execution.FillTimeoutSec = 10 // default
	}
	if c.Execution.FillPollIntervalMs <= 0 {
		c.Execution.FillPollIntervalMs = 250 // default
	}
	if c.Execution.RateLimitPerSecond <= 0 {
		c.Execution.RateLimitPerSecond = 5 // default
	}

	if c.Cache.Addr == "" {
		errs = append(errs, "cache.addr is required")
	}

	switch c.Persistence.Type {
	case "sqlite":
		if c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required for sqlite")
		}
	case "postgres":
		if c.Persistence.DSN == "" {
			errs = append(errs, "persistence.dsn is required for postgres")
		}
	default:
		errs = append(errs, "persistence.type must be 'sqlite' or 'postgres'")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// RiskFractionDecimal returns the risk fraction as decimal.
func (c *Config) RiskFractionDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Risk.RiskFraction)
}

// FillTimeout returns the fill confirmation timeout duration.
func (c *Config) FillTimeout() time.Duration {
	return time.Duration(c.Execution.FillTimeoutSec) * time.Second
}

// FillPollInterval returns the fill polling interval duration.
func (c *Config) FillPollInterval() time.Duration {
	return time.Duration(c.Execution.FillPollIntervalMs) * time.Millisecond
}

// Location returns the account's reporting timezone, defaulting to UTC.
func (c *Config) Location() *time.Location {
	if c.Account.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Account.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
