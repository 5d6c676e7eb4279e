package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/internal/money"
	"github.com/davidahmann/liqueflow/pkg/types"
)

type Stage int

const (
	StageGuardrailCheck Stage = iota
	StageDecisionMatrix
	StageSettlementExecution
	StageStateUpdate
	StageTerminal
)

func (s Stage) String() string {
	switch s {
	case StageGuardrailCheck:
		return "GuardrailCheck"
	case StageDecisionMatrix:
		return "DecisionMatrix"
	case StageSettlementExecution:
		return "SettlementExecution"
	case StageStateUpdate:
		return "StateUpdate"
	case StageTerminal:
		return "Terminal"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// evaluation is passed by value from stage to stage. Stages return a modified copy and
// never share the steps slice with an earlier value.
type evaluation struct {
	instr    types.PaymentInstruction
	before   types.LiquiditySnapshot
	at       time.Time
	decision types.Decision
	steps    []string
	risk     float64

	delayCost  *decimal.Decimal
	repo       *decimal.Decimal
	settlement *types.AtomicSettlement
}

func (ev evaluation) note(step string) evaluation {
	steps := make([]string, len(ev.steps), len(ev.steps)+1)
	copy(steps, ev.steps)
	ev.steps = append(steps, step)
	return ev
}

func (ev evaluation) result(policyHash string) types.DecisionResult {
	steps := make([]string, len(ev.steps))
	copy(steps, ev.steps)
	res := types.DecisionResult{
		InstructionID:        ev.instr.ID,
		Decision:             ev.decision,
		ReasoningSteps:       steps,
		Timestamp:            ev.at,
		BalanceBefore:        ev.before.Balance,
		RiskScore:            ev.risk,
		OpportunityCostSaved: ev.delayCost,
		RepoAmount:           ev.repo,
		PolicyHash:           policyHash,
	}
	if ev.decision == types.DecisionSettle {
		after := ev.balanceAfter()
		res.BalanceAfter = &after
	}
	if ev.settlement != nil {
		res.SettlementID = ev.settlement.SettlementID
	}
	return res
}

// balanceAfter is the snapshot balance once a settled instruction has been debited.
// A repo raises the balance to the amount first, so the result never goes below zero on its own.
func (ev evaluation) balanceAfter() decimal.Decimal {
	balance := ev.before.Balance
	if ev.repo != nil {
		balance = balance.Add(*ev.repo)
	}
	return balance.Sub(ev.instr.Amount)
}

func (e *Engine) guardrailCheck(ev evaluation) (evaluation, Stage) {
	verdict := e.breaker.Check(ev.instr, ev.before.Balance)
	if !verdict.Allowed {
		ev = ev.note("Circuit breaker: " + verdict.Reason)
		ev.decision = types.DecisionReject
		ev.risk = 1.0
		return ev, StageStateUpdate
	}
	return ev.note("Circuit breaker: passed"), StageDecisionMatrix
}

func (e *Engine) decisionMatrix(ev evaluation) (evaluation, Stage) {
	inflow, hasInflow := ev.before.NextInflow()
	out := EvaluateMatrix(MatrixInput{
		Instruction:    ev.instr,
		Balance:        ev.before.Balance,
		InitialBalance: e.cfg.InitialBalance,
		NextInflow:     inflow,
		HasInflow:      hasInflow,
		Thresholds:     e.cfg.Policy.Matrix,
		Breaker:        e.breaker,
		MaxRepo:        e.cfg.MaxRepo,
	})
	for _, step := range out.Steps {
		ev = ev.note(step)
	}
	ev.decision = out.Decision
	ev.delayCost = out.DelayCost
	ev.risk = e.scorer.Score(ev.before.Balance, ev.instr.Amount, ev.before.PendingQueue)

	if ev.decision == types.DecisionSettle {
		return ev, StageSettlementExecution
	}
	return ev, StageStateUpdate
}

func (e *Engine) settlementExecution(ev evaluation) (evaluation, Stage, error) {
	amount := ev.instr.Amount
	if amount.GreaterThan(ev.before.Balance) {
		repo := amount.Sub(ev.before.Balance)
		ev.repo = &repo
		ev = ev.note(fmt.Sprintf("LIQUIDITY REPO: Borrowing %s to cover deficit", money.Format(repo)))
	}

	if e.cfg.Settler != nil {
		settlement, err := e.cfg.Settler.ExecuteAtomicSettlement(e.cfg.SettlementFrom, e.cfg.SettlementTo, amount, ev.instr.ID)
		if err != nil {
			return ev, StageTerminal, fmt.Errorf("atomic settlement %s: %w", ev.instr.ID, err)
		}
		ev.settlement = &settlement
		if settlement.Status != types.SettlementExecuted {
			ev = ev.note(fmt.Sprintf("ATOMIC SETTLEMENT FAILED: %s, payment queued", settlement.FailureReason))
			ev.decision = types.DecisionQueue
			ev.repo = nil
			ev.delayCost = nil
			return ev, StageStateUpdate, nil
		}
		ev = ev.note(fmt.Sprintf("ATOMIC SETTLEMENT: %s executed on the tokenized ledger", settlement.SettlementID))
	}

	ev = ev.note(fmt.Sprintf("SETTLEMENT EXECUTED: %s settled. New balance: %s", money.Format(amount), money.Format(ev.balanceAfter())))
	return ev, StageStateUpdate, nil
}

// stateUpdate is the only stage that produces a new snapshot.
func (e *Engine) stateUpdate(ev evaluation) (evaluation, types.LiquiditySnapshot, Stage, error) {
	next := ev.before.Clone()
	switch ev.decision {
	case types.DecisionSettle:
		next.Balance = ev.balanceAfter()
		next.TotalSettled = next.TotalSettled.Add(ev.instr.Amount)
	case types.DecisionQueue:
		next.PendingQueue = append(next.PendingQueue, ev.instr)
		next.TotalDelayed = next.TotalDelayed.Add(ev.instr.Amount)
		ev = ev.note(fmt.Sprintf("PAYMENT QUEUED: %s added to pending queue", ev.instr.ID))
	}
	if next.Balance.IsNegative() {
		return ev, types.LiquiditySnapshot{}, StageTerminal, fmt.Errorf("%w: balance %s after %s", ErrInvariantViolation, next.Balance, ev.instr.ID)
	}
	next.RiskScore = e.scorer.Score(next.Balance, decimal.Zero, next.PendingQueue)
	next.LastUpdate = ev.at
	return ev, next, StageTerminal, nil
}
