package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/davidahmann/liqueflow/internal/breaker"
)

type Config struct {
	ListenAddr          string           `yaml:"listen_addr"`
	InitialBalance      decimal.Decimal  `yaml:"initial_balance"`
	BankID              string           `yaml:"bank_id"`
	CounterpartyAccount string           `yaml:"counterparty_account"`
	Currency            string           `yaml:"currency"`
	PolicyPath          string           `yaml:"policy_path"`
	Limits              LimitsConfig     `yaml:"limits"`
	Ledger              LedgerConfig     `yaml:"ledger"`
	DB                  DBConfig         `yaml:"db"`
	Escalation          EscalationConfig `yaml:"escalation"`

	// APIToken only comes from the environment.
	APIToken string `yaml:"-"`
}

type LimitsConfig struct {
	MaxAllowableVariance   decimal.Decimal `yaml:"max_allowable_variance"`
	MaxLiquidityPercentage decimal.Decimal `yaml:"max_liquidity_percentage"`
	// Zero means the pool is sized to initial_balance.
	TotalLiquidityPool decimal.Decimal `yaml:"total_liquidity_pool"`
	// Zero leaves the repo for expedited payments unbounded.
	MaxRepoAmount decimal.Decimal `yaml:"max_repo_amount"`
}

type LedgerConfig struct {
	AtomicSettlement bool `yaml:"atomic_settlement"`
}

type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type EscalationConfig struct {
	Enabled      bool          `yaml:"enabled"`
	WebhookURL   string        `yaml:"webhook_url"`
	Channel      string        `yaml:"channel"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// envOverrides are read with caarlos0/env after the file is decoded. Empty strings and nil pointers
// leave the file value alone.
type envOverrides struct {
	ListenAddr             string           `env:"LIQUEFLOW_LISTEN_ADDR"`
	InitialBalance         *decimal.Decimal `env:"LIQUEFLOW_INITIAL_BALANCE"`
	BankID                 string           `env:"LIQUEFLOW_BANK_ID"`
	PolicyPath             string           `env:"LIQUEFLOW_POLICY_PATH"`
	DBDriver               string           `env:"LIQUEFLOW_DB_DRIVER"`
	DBDSN                  string           `env:"LIQUEFLOW_DB_DSN"`
	AtomicSettlement       *bool            `env:"LIQUEFLOW_ATOMIC_SETTLEMENT"`
	WebhookURL             string           `env:"LIQUEFLOW_ESCALATION_WEBHOOK_URL"`
	APIToken               string           `env:"LIQUEFLOW_API_TOKEN"`
	MaxAllowableVariance   *decimal.Decimal `env:"MAX_ALLOWABLE_VARIANCE"`
	MaxLiquidityPercentage *decimal.Decimal `env:"MAX_LIQUIDITY_PERCENTAGE"`
}

func Default() Config {
	limits := breaker.DefaultLimits()
	return Config{
		ListenAddr:          ":8080",
		InitialBalance:      decimal.NewFromInt(1_000_000_000),
		BankID:              "BANK_A",
		CounterpartyAccount: "CLEARING",
		Currency:            "USD",
		Limits: LimitsConfig{
			MaxAllowableVariance:   limits.MaxAbsolute,
			MaxLiquidityPercentage: limits.MaxPoolFraction,
		},
		Escalation: EscalationConfig{PollInterval: 2 * time.Second},
	}
}

// Load decodes the YAML file at path over the defaults, applies environment overrides and validates.
// An empty path uses defaults and environment only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		// #nosec G304 -- path is operator-provided config path.
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}

		expanded := os.ExpandEnv(string(raw))
		expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&c.ListenAddr, o.ListenAddr)
	setString(&c.BankID, o.BankID)
	setString(&c.PolicyPath, o.PolicyPath)
	setString(&c.DB.Driver, o.DBDriver)
	setString(&c.DB.DSN, o.DBDSN)
	setString(&c.Escalation.WebhookURL, o.WebhookURL)
	setString(&c.APIToken, o.APIToken)

	setValue(&c.InitialBalance, o.InitialBalance)
	setValue(&c.Limits.MaxAllowableVariance, o.MaxAllowableVariance)
	setValue(&c.Limits.MaxLiquidityPercentage, o.MaxLiquidityPercentage)
	setValue(&c.Ledger.AtomicSettlement, o.AtomicSettlement)
	return nil
}

func setValue[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.InitialBalance.IsNegative() {
		return fmt.Errorf("initial_balance must be >= 0")
	}
	if len(c.Currency) != 3 || strings.ToUpper(c.Currency) != c.Currency {
		return fmt.Errorf("currency must be a three-letter upper-case code")
	}
	if !c.Limits.MaxAllowableVariance.IsPositive() {
		return fmt.Errorf("limits.max_allowable_variance must be > 0")
	}
	pct := c.Limits.MaxLiquidityPercentage
	if !pct.IsPositive() || pct.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("limits.max_liquidity_percentage must be within (0,1]")
	}
	if c.Limits.TotalLiquidityPool.IsNegative() {
		return fmt.Errorf("limits.total_liquidity_pool must be >= 0")
	}
	if c.Limits.MaxRepoAmount.IsNegative() {
		return fmt.Errorf("limits.max_repo_amount must be >= 0")
	}

	if c.Ledger.AtomicSettlement {
		if c.BankID == "" || c.CounterpartyAccount == "" {
			return fmt.Errorf("bank_id and counterparty_account are required when ledger.atomic_settlement=true")
		}
		if c.BankID == c.CounterpartyAccount {
			return fmt.Errorf("bank_id and counterparty_account must differ")
		}
	}

	switch c.DB.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("db.driver must be sqlite or postgres")
	}
	if c.DB.Driver != "" && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.driver is set")
	}

	if c.Escalation.Enabled && c.Escalation.WebhookURL == "" {
		return fmt.Errorf("escalation.webhook_url is required when escalation.enabled=true")
	}
	return nil
}

// BreakerLimits converts the configured limits. An unset pool is sized to the initial balance.
func (c Config) BreakerLimits() breaker.Limits {
	limits := breaker.DefaultLimits()
	limits.MaxAbsolute = c.Limits.MaxAllowableVariance
	limits.MaxPoolFraction = c.Limits.MaxLiquidityPercentage
	limits.TotalPool = c.Limits.TotalLiquidityPool
	if limits.TotalPool.IsZero() {
		limits.TotalPool = c.InitialBalance
	}
	return limits
}
