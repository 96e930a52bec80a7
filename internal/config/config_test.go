package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/perpdesk/perpdesk/internal/types"
)

const validYAML = `
account:
  api_key: "test-key"
  secret_key: "test-secret"
  passphrase: "test-pass"
  simulated: true
  timezone: "Europe/Moscow"

market:
  instruments: ["BTC-USDT-SWAP", "ETH-USDT-SWAP"]
  timeframes: ["1H", "4H"]

risk:
  leverage: 5
  risk_fraction: 0.02
  margin_mode: "isolated"

execution:
  fill_timeout_sec: 10
  fill_poll_interval_ms: 250
  rate_limit_per_second: 5

cache:
  addr: "localhost:6379"
  db: 0

persistence:
  type: "sqlite"
  path: "trades.db"
`

func TestLoadFromBytes_Valid(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Account.APIKey != "test-key" {
		t.Errorf("APIKey = %q, want test-key", cfg.Account.APIKey)
	}
	if !cfg.Account.Simulated {
		t.Error("Simulated = false, want true")
	}
	if len(cfg.Market.Instruments) != 2 {
		t.Errorf("Instruments = %v, want 2 entries", cfg.Market.Instruments)
	}
	if cfg.Risk.Leverage != 5 {
		t.Errorf("Leverage = %d, want 5", cfg.Risk.Leverage)
	}
	if cfg.Risk.RiskFraction != 0.02 {
		t.Errorf("RiskFraction = %f, want 0.02", cfg.Risk.RiskFraction)
	}
	if got := cfg.FillTimeout(); got != 10*time.Second {
		t.Errorf("FillTimeout = %v, want 10s", got)
	}
	if got := cfg.Location().String(); got != "Europe/Moscow" {
		t.Errorf("Location = %q, want Europe/Moscow", got)
	}
}

func TestLoadFromBytes_EnvExpansion(t *testing.T) {
	t.Setenv("PERPDESK_TEST_SECRET", "expanded-secret")

	yaml := strings.Replace(validYAML, `secret_key: "test-secret"`,
		`secret_key: "${PERPDESK_TEST_SECRET}"`, 1)

	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Account.SecretKey != "expanded-secret" {
		t.Errorf("SecretKey = %q, want expanded-secret", cfg.Account.SecretKey)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.Account.APIKey = "" },
			wantMsg: "account.api_key",
		},
		{
			name:    "missing passphrase",
			mutate:  func(c *Config) { c.Account.Passphrase = "" },
			wantMsg: "account.passphrase",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Account.Timezone = "Mars/Olympus" },
			wantMsg: "account.timezone",
		},
		{
			name:    "no instruments",
			mutate:  func(c *Config) { c.Market.Instruments = nil },
			wantMsg: "market.instruments",
		},
		{
			name:    "zero leverage",
			mutate:  func(c *Config) { c.Risk.Leverage = 0 },
			wantMsg: "risk.leverage",
		},
		{
			name:    "risk fraction above 1",
			mutate:  func(c *Config) { c.Risk.RiskFraction = 1.5 },
			wantMsg: "risk.risk_fraction",
		},
		{
			name:    "bad margin mode",
			mutate:  func(c *Config) { c.Risk.MarginMode = "hedged" },
			wantMsg: "risk.margin_mode",
		},
		{
			name:    "missing cache addr",
			mutate:  func(c *Config) { c.Cache.Addr = "" },
			wantMsg: "cache.addr",
		},
		{
			name:    "bad persistence type",
			mutate:  func(c *Config) { c.Persistence.Type = "mongo" },
			wantMsg: "persistence.type",
		},
		{
			name: "postgres without dsn",
			mutate: func(c *Config) {
				c.Persistence.Type = "postgres"
				c.Persistence.DSN = ""
			},
			wantMsg: "persistence.dsn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadFromBytes([]byte(validYAML))
			if err != nil {
				t.Fatalf("load base config: %v", err)
			}

			tt.mutate(cfg)
			err = cfg.Validate()
			if !errors.Is(err, types.ErrInvalidConfig) {
				t.Fatalf("got %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidate_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	cfg.Execution.FillTimeoutSec = 0
	cfg.Execution.FillPollIntervalMs = 0
	cfg.Execution.RateLimitPerSecond = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Execution.FillTimeoutSec != 10 {
		t.Errorf("FillTimeoutSec default = %d, want 10", cfg.Execution.FillTimeoutSec)
	}
	if cfg.Execution.FillPollIntervalMs != 250 {
		t.Errorf("FillPollIntervalMs default = %d, want 250", cfg.Execution.FillPollIntervalMs)
	}
	if cfg.Execution.RateLimitPerSecond != 5 {
		t.Errorf("RateLimitPerSecond default = %d, want 5", cfg.Execution.RateLimitPerSecond)
	}
}
