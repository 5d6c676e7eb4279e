// Package breaker is the hard-limit safety gate evaluated ahead of, and after, the decision matrix.
package breaker

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/internal/money"
	"github.com/davidahmann/liqueflow/pkg/types"
)

// Limits are the configured caps. A zero TotalPool means the pool size is unknown
// and every pool-fraction rule is skipped.
type Limits struct {
	MaxAbsolute              decimal.Decimal // max_allowable_variance, currency units
	MaxPoolFraction          decimal.Decimal // max_liquidity_percentage, 0..1
	TotalPool                decimal.Decimal
	OverrideAbsoluteFraction decimal.Decimal // share of MaxAbsolute above which a human must sign off
	OverridePoolFraction     decimal.Decimal // share of TotalPool above which a human must sign off
}

func DefaultLimits() Limits {
	return Limits{
		MaxAbsolute:              decimal.NewFromInt(1_000_000_000),
		MaxPoolFraction:          decimal.RequireFromString("0.5"),
		OverrideAbsoluteFraction: decimal.RequireFromString("0.8"),
		OverridePoolFraction:     decimal.RequireFromString("0.4"),
	}
}

type Verdict struct {
	Allowed bool
	Reason  string
}

type Breaker struct {
	limits Limits
}

func New(limits Limits) Breaker {
	return Breaker{limits: limits}
}

func (b Breaker) Limits() Limits { return b.limits }

func (b Breaker) poolKnown() bool { return b.limits.TotalPool.IsPositive() }

// Check vetoes an instruction on hard limits. Expedited payments may proceed into a deficit.
func (b Breaker) Check(instr types.PaymentInstruction, balance decimal.Decimal) Verdict {
	if instr.Amount.GreaterThan(b.limits.MaxAbsolute) {
		return Verdict{Reason: fmt.Sprintf("Amount %s exceeds absolute limit %s", money.Format(instr.Amount), money.Format(b.limits.MaxAbsolute))}
	}
	if b.poolKnown() {
		share := instr.Amount.Div(b.limits.TotalPool)
		if share.GreaterThan(b.limits.MaxPoolFraction) {
			return Verdict{Reason: fmt.Sprintf("Amount is %s of the liquidity pool, above the %s cap", money.Percent(share), money.Percent(b.limits.MaxPoolFraction))}
		}
	}
	if instr.Amount.GreaterThan(balance) && !instr.Expedited() {
		return Verdict{Reason: fmt.Sprintf("Insufficient balance: %s available, %s required", money.Format(balance), money.Format(instr.Amount))}
	}
	return Verdict{Allowed: true, Reason: "Within circuit breaker limits"}
}

// RequiresHumanOverride flags large instructions regardless of what the matrix decided.
func (b Breaker) RequiresHumanOverride(instr types.PaymentInstruction, balance decimal.Decimal) bool {
	if instr.Amount.GreaterThan(b.limits.MaxAbsolute.Mul(b.limits.OverrideAbsoluteFraction)) {
		return true
	}
	if b.poolKnown() && instr.Amount.Div(b.limits.TotalPool).GreaterThan(b.limits.OverridePoolFraction) {
		return true
	}
	return false
}
