package policy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/internal/risk"
)

var ErrInvalidPolicy = errors.New("invalid policy")

// Policy names every threshold the decision matrix and risk scorer use.
type Policy struct {
	PolicyID      string    `yaml:"policy_id"`
	PolicyVersion string    `yaml:"policy_version"`
	Matrix        Matrix    `yaml:"matrix"`
	Override      Override  `yaml:"override"`
	Risk          RiskTable `yaml:"risk"`
}

type Matrix struct {
	// Multiple of the opening balance treated as expected daily volume.
	DailyVolumeMultiplier decimal.Decimal `yaml:"daily_volume_multiplier"`
	// Share of daily volume held back before non-expedited payments are queued.
	PrecautionaryBufferFraction decimal.Decimal `yaml:"precautionary_buffer_fraction"`
	// Cost of intraday credit per hour, as a fraction of the amount.
	IntradayCreditRatePerHour decimal.Decimal `yaml:"intraday_credit_rate_per_hour"`
	// Hours a queued payment is assumed to wait.
	AssumedDelayHours decimal.Decimal `yaml:"assumed_delay_hours"`
}

type Override struct {
	AbsoluteFraction decimal.Decimal `yaml:"absolute_fraction"`
	PoolFraction     decimal.Decimal `yaml:"pool_fraction"`
}

type RiskTable struct {
	Bands      []RiskBand `yaml:"bands"`
	FloorScore float64    `yaml:"floor_score"`
}

type RiskBand struct {
	MinRatio decimal.Decimal `yaml:"min_ratio"`
	Score    float64         `yaml:"score"`
}

func Default() Policy {
	bands := risk.DefaultBands()
	table := RiskTable{FloorScore: risk.DefaultFloor}
	for _, b := range bands {
		table.Bands = append(table.Bands, RiskBand{MinRatio: b.MinRatio, Score: b.Score})
	}
	return Policy{
		PolicyID:      "liqueflow-default",
		PolicyVersion: "1",
		Matrix: Matrix{
			DailyVolumeMultiplier:       decimal.NewFromInt(2),
			PrecautionaryBufferFraction: decimal.RequireFromString("0.20"),
			IntradayCreditRatePerHour:   decimal.RequireFromString("0.0001"),
			AssumedDelayHours:           decimal.NewFromInt(2),
		},
		Override: Override{
			AbsoluteFraction: decimal.RequireFromString("0.8"),
			PoolFraction:     decimal.RequireFromString("0.4"),
		},
		Risk: table,
	}
}

// PrecautionaryBuffer is daily_volume_multiplier x initial balance x buffer fraction.
func (m Matrix) PrecautionaryBuffer(initialBalance decimal.Decimal) decimal.Decimal {
	return m.DailyVolumeMultiplier.Mul(initialBalance).Mul(m.PrecautionaryBufferFraction)
}

// DelayCost is the intraday credit cost of holding amount for the assumed delay.
func (m Matrix) DelayCost(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(m.IntradayCreditRatePerHour).Mul(m.AssumedDelayHours)
}

func (p Policy) Scorer() (risk.Scorer, error) {
	bands := make([]risk.Band, 0, len(p.Risk.Bands))
	for _, b := range p.Risk.Bands {
		bands = append(bands, risk.Band{MinRatio: b.MinRatio, Score: b.Score})
	}
	return risk.NewScorer(bands, p.Risk.FloorScore)
}

func (p Policy) Validate() error {
	if p.PolicyID == "" {
		return fmt.Errorf("%w: policy_id is required", ErrInvalidPolicy)
	}
	if p.PolicyVersion == "" {
		return fmt.Errorf("%w: policy_version is required", ErrInvalidPolicy)
	}
	m := p.Matrix
	if !m.DailyVolumeMultiplier.IsPositive() {
		return fmt.Errorf("%w: matrix.daily_volume_multiplier must be > 0", ErrInvalidPolicy)
	}
	if !fraction(m.PrecautionaryBufferFraction) {
		return fmt.Errorf("%w: matrix.precautionary_buffer_fraction must be within [0,1]", ErrInvalidPolicy)
	}
	if m.IntradayCreditRatePerHour.IsNegative() {
		return fmt.Errorf("%w: matrix.intraday_credit_rate_per_hour must be >= 0", ErrInvalidPolicy)
	}
	if m.AssumedDelayHours.IsNegative() {
		return fmt.Errorf("%w: matrix.assumed_delay_hours must be >= 0", ErrInvalidPolicy)
	}
	if !fraction(p.Override.AbsoluteFraction) || p.Override.AbsoluteFraction.IsZero() {
		return fmt.Errorf("%w: override.absolute_fraction must be within (0,1]", ErrInvalidPolicy)
	}
	if !fraction(p.Override.PoolFraction) || p.Override.PoolFraction.IsZero() {
		return fmt.Errorf("%w: override.pool_fraction must be within (0,1]", ErrInvalidPolicy)
	}
	if _, err := p.Scorer(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return nil
}

func fraction(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(1))
}
