package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "liqueflow.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	t.Setenv("ESCALATION_HOOK", "https://hooks.example.com/T1")

	path := writeConfig(t, `
listen_addr: ":9090"
initial_balance: "200000000"
bank_id: "BANK_A"
counterparty_account: "BANK_B"
currency: "USD"
policy_path: "./policies/liqueflow.yaml"
limits:
  max_allowable_variance: "1000000000"
  max_liquidity_percentage: "0.5"
  max_repo_amount: "250000000"
ledger:
  atomic_settlement: true
escalation:
  enabled: true
  webhook_url: "${ESCALATION_HOOK}"
  poll_interval: 5s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Escalation.WebhookURL != "https://hooks.example.com/T1" {
		t.Fatalf("expected expanded webhook url, got %q", cfg.Escalation.WebhookURL)
	}
	if !cfg.InitialBalance.Equal(decimal.NewFromInt(200_000_000)) || !cfg.Ledger.AtomicSettlement {
		t.Fatalf("decode mismatch: got=%+v", cfg)
	}
	if cfg.Escalation.PollInterval != 5*time.Second {
		t.Fatalf("poll interval mismatch: got=%v", cfg.Escalation.PollInterval)
	}

	limits := cfg.BreakerLimits()
	if !limits.TotalPool.Equal(cfg.InitialBalance) {
		t.Fatalf("expected pool to default to initial balance, got %s", limits.TotalPool)
	}
	if !limits.OverrideAbsoluteFraction.Equal(decimal.RequireFromString("0.8")) {
		t.Fatalf("override fraction mismatch: got %s", limits.OverrideAbsoluteFraction)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || !cfg.Limits.MaxAllowableVariance.Equal(decimal.NewFromInt(1_000_000_000)) {
		t.Fatalf("defaults mismatch: got=%+v", cfg)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MAX_ALLOWABLE_VARIANCE", "500000000")
	t.Setenv("MAX_LIQUIDITY_PERCENTAGE", "0.25")
	t.Setenv("LIQUEFLOW_INITIAL_BALANCE", "75000000")
	t.Setenv("LIQUEFLOW_DB_DRIVER", "sqlite")
	t.Setenv("LIQUEFLOW_DB_DSN", "file:liqueflow.db")
	t.Setenv("LIQUEFLOW_API_TOKEN", "tok")
	t.Setenv("LIQUEFLOW_ATOMIC_SETTLEMENT", "true")

	path := writeConfig(t, "listen_addr: \":8080\"\nlimits:\n  max_allowable_variance: \"1\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Limits.MaxAllowableVariance.Equal(decimal.NewFromInt(500_000_000)) {
		t.Fatalf("variance override mismatch: got %s", cfg.Limits.MaxAllowableVariance)
	}
	if !cfg.Limits.MaxLiquidityPercentage.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("percentage override mismatch: got %s", cfg.Limits.MaxLiquidityPercentage)
	}
	if !cfg.InitialBalance.Equal(decimal.NewFromInt(75_000_000)) || cfg.DB.Driver != "sqlite" || cfg.APIToken != "tok" || !cfg.Ledger.AtomicSettlement {
		t.Fatalf("env override mismatch: got=%+v", cfg)
	}
}

func TestEnvOverrideErrors(t *testing.T) {
	t.Setenv("MAX_ALLOWABLE_VARIANCE", "lots")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected decimal parse error")
	}
	t.Setenv("MAX_ALLOWABLE_VARIANCE", "")
	t.Setenv("LIQUEFLOW_ATOMIC_SETTLEMENT", "maybe")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected bool parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"missing listen":     func(c *Config) { c.ListenAddr = "" },
		"negative balance":   func(c *Config) { c.InitialBalance = decimal.NewFromInt(-1) },
		"currency":           func(c *Config) { c.Currency = "usd" },
		"zero variance":      func(c *Config) { c.Limits.MaxAllowableVariance = decimal.Zero },
		"percentage above 1": func(c *Config) { c.Limits.MaxLiquidityPercentage = decimal.RequireFromString("1.5") },
		"negative pool":      func(c *Config) { c.Limits.TotalLiquidityPool = decimal.NewFromInt(-1) },
		"negative repo":      func(c *Config) { c.Limits.MaxRepoAmount = decimal.NewFromInt(-1) },
		"same accounts": func(c *Config) {
			c.Ledger.AtomicSettlement = true
			c.CounterpartyAccount = c.BankID
		},
		"unknown driver":         func(c *Config) { c.DB = DBConfig{Driver: "mysql", DSN: "x"} },
		"driver without dsn":     func(c *Config) { c.DB.Driver = "sqlite" },
		"escalation without url": func(c *Config) { c.Escalation.Enabled = true },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("does-not-exist.yaml"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadBadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "limits: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestEnvOverridesLeaveFileValuesWhenUnset(t *testing.T) {
	path := writeConfig(t, "initial_balance: \"300\"\nledger:\n  atomic_settlement: true\nbank_id: BANK_A\ncounterparty_account: BANK_B\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.InitialBalance.Equal(decimal.NewFromInt(300)) || !cfg.Ledger.AtomicSettlement {
		t.Fatalf("file values mismatch: got balance=%s atomic=%v", cfg.InitialBalance, cfg.Ledger.AtomicSettlement)
	}

	t.Setenv("LIQUEFLOW_ATOMIC_SETTLEMENT", "false")
	t.Setenv("LIQUEFLOW_INITIAL_BALANCE", "0")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load with env: %v", err)
	}
	if cfg.Ledger.AtomicSettlement || !cfg.InitialBalance.IsZero() {
		t.Fatalf("explicit env values should override: got balance=%s atomic=%v", cfg.InitialBalance, cfg.Ledger.AtomicSettlement)
	}
}
