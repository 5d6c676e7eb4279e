package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/internal/breaker"
	"github.com/davidahmann/liqueflow/internal/money"
	"github.com/davidahmann/liqueflow/internal/policy"
	"github.com/davidahmann/liqueflow/pkg/types"
)

type MatrixInput struct {
	Instruction    types.PaymentInstruction
	Balance        decimal.Decimal
	InitialBalance decimal.Decimal
	// NextInflow is the earliest projected inflow; HasInflow is false when nothing is projected.
	NextInflow decimal.Decimal
	HasInflow  bool
	Thresholds policy.Matrix
	Breaker    breaker.Breaker
	// MaxRepo caps the deficit an expedited payment may borrow. Zero means no cap.
	MaxRepo decimal.Decimal
}

type MatrixOutcome struct {
	Decision types.Decision
	Steps    []string
	// DelayCost is set whenever the final decision is QUEUE.
	DelayCost *decimal.Decimal
}

// EvaluateMatrix applies priority, liquidity threshold, opportunity cost, feasibility and
// override checks in that fixed order. It has no side effects.
func EvaluateMatrix(in MatrixInput) MatrixOutcome {
	instr := in.Instruction
	balance := in.Balance
	expedited := instr.Expedited()
	steps := make([]string, 0, 6)
	decision := types.DecisionQueue

	if expedited {
		steps = append(steps, fmt.Sprintf("Priority check: %s%s payment, attempting immediate settlement", instr.Priority, sovereignSuffix(instr)))
		decision = types.DecisionSettle
	} else {
		steps = append(steps, fmt.Sprintf("Priority check: %s priority, standard processing", instr.Priority))
	}

	buffer := in.Thresholds.PrecautionaryBuffer(in.InitialBalance)
	switch {
	case balance.LessThan(buffer) && !expedited:
		steps = append(steps, fmt.Sprintf("Liquidity threshold: balance %s below precautionary buffer %s, conservative mode queues non-urgent payments", money.Format(balance), money.Format(buffer)))
		decision = types.DecisionQueue
	case balance.LessThan(buffer):
		steps = append(steps, fmt.Sprintf("Liquidity threshold: balance %s below precautionary buffer %s, expedited payment proceeds", money.Format(balance), money.Format(buffer)))
	default:
		steps = append(steps, fmt.Sprintf("Liquidity threshold: balance %s covers precautionary buffer %s", money.Format(balance), money.Format(buffer)))
	}

	delayCost := in.Thresholds.DelayCost(instr.Amount)
	if decision == types.DecisionQueue && instr.Amount.LessThanOrEqual(balance) {
		if in.HasInflow && in.NextInflow.GreaterThan(instr.Amount) {
			steps = append(steps, fmt.Sprintf("Opportunity cost: delaying saves %s in intraday credit, inflow of %s expected", money.Format(delayCost), money.Format(in.NextInflow)))
		} else {
			steps = append(steps, fmt.Sprintf("Opportunity cost: delay would save only %s with no covering inflow, settling now", money.Format(delayCost)))
			decision = types.DecisionSettle
		}
	}

	if decision == types.DecisionSettle && instr.Amount.GreaterThan(balance) {
		deficit := instr.Amount.Sub(balance)
		steps = append(steps, fmt.Sprintf("Insufficient balance for immediate settlement: amount %s, available %s", money.Format(instr.Amount), money.Format(balance)))
		switch {
		case !expedited:
			decision = types.DecisionQueue
		case in.MaxRepo.IsPositive() && deficit.GreaterThan(in.MaxRepo):
			steps = append(steps, fmt.Sprintf("Repo of %s exceeds the %s ceiling, payment queued", money.Format(deficit), money.Format(in.MaxRepo)))
			decision = types.DecisionQueue
		default:
			steps = append(steps, fmt.Sprintf("Expedited payment requires a liquidity repo of %s", money.Format(deficit)))
		}
	}

	if in.Breaker.RequiresHumanOverride(instr, balance) {
		limits := in.Breaker.Limits()
		steps = append(steps, fmt.Sprintf("Human override required: amount exceeds %s of the absolute limit or %s of the liquidity pool", money.Percent(limits.OverrideAbsoluteFraction), money.Percent(limits.OverridePoolFraction)))
		decision = types.DecisionRequireHumanOverride
	}

	out := MatrixOutcome{Decision: decision, Steps: steps}
	if decision == types.DecisionQueue {
		out.DelayCost = &delayCost
	}
	return out
}

func sovereignSuffix(instr types.PaymentInstruction) string {
	if instr.Sovereign {
		return " sovereign"
	}
	return ""
}
