// Package engine runs one payment instruction at a time through the guardrail, decision
// matrix, settlement and state update stages.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/internal/breaker"
	"github.com/davidahmann/liqueflow/internal/policy"
	"github.com/davidahmann/liqueflow/internal/risk"
	"github.com/davidahmann/liqueflow/pkg/types"
)

var (
	ErrInvalidInstruction = errors.New("invalid instruction")
	// ErrInvariantViolation means the snapshot can no longer be trusted; callers must stop the batch.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Settler moves value on the tokenized ledger. *ledger.UnifiedLedger satisfies it.
type Settler interface {
	ExecuteAtomicSettlement(from, to string, amount decimal.Decimal, instructionRef string) (types.AtomicSettlement, error)
}

type Config struct {
	InitialBalance decimal.Decimal
	Limits         breaker.Limits
	Policy         policy.Policy
	PolicyHash     string
	MaxRepo        decimal.Decimal

	// Settler enables atomic-settlement mode; nil settles by debiting the snapshot balance.
	Settler        Settler
	SettlementFrom string
	SettlementTo   string

	Now func() time.Time
}

type Engine struct {
	cfg     Config
	breaker breaker.Breaker
	scorer  risk.Scorer
	now     func() time.Time
}

func New(cfg Config) (*Engine, error) {
	if cfg.Policy.PolicyID == "" {
		cfg.Policy = policy.Default()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	scorer, err := cfg.Policy.Scorer()
	if err != nil {
		return nil, err
	}
	if cfg.InitialBalance.IsNegative() {
		return nil, fmt.Errorf("initial balance must be >= 0")
	}
	if cfg.MaxRepo.IsNegative() {
		return nil, fmt.Errorf("max repo must be >= 0")
	}
	if cfg.Settler != nil && (cfg.SettlementFrom == "" || cfg.SettlementTo == "") {
		return nil, fmt.Errorf("atomic settlement needs from and to accounts")
	}
	limits := cfg.Limits
	limits.OverrideAbsoluteFraction = cfg.Policy.Override.AbsoluteFraction
	limits.OverridePoolFraction = cfg.Policy.Override.PoolFraction

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{cfg: cfg, breaker: breaker.New(limits), scorer: scorer, now: now}, nil
}

func (e *Engine) Breaker() breaker.Breaker { return e.breaker }

func (e *Engine) Scorer() risk.Scorer { return e.scorer }

func (e *Engine) AtomicMode() bool { return e.cfg.Settler != nil }

// Outcome is everything one pass through the stages produced.
type Outcome struct {
	Result     types.DecisionResult
	Snapshot   types.LiquiditySnapshot
	Settlement *types.AtomicSettlement
	Path       []Stage
}

// Process decides one instruction against snap and returns the decision with the next snapshot.
// snap is never modified.
func (e *Engine) Process(instr types.PaymentInstruction, snap types.LiquiditySnapshot) (types.DecisionResult, types.LiquiditySnapshot, error) {
	out, err := e.Run(instr, snap)
	if err != nil {
		return types.DecisionResult{}, types.LiquiditySnapshot{}, err
	}
	return out.Result, out.Snapshot, nil
}

func (e *Engine) Run(instr types.PaymentInstruction, snap types.LiquiditySnapshot) (Outcome, error) {
	if instr.ID == "" {
		return Outcome{}, fmt.Errorf("%w: empty id", ErrInvalidInstruction)
	}
	if !instr.Amount.IsPositive() {
		return Outcome{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidInstruction)
	}
	if snap.Balance.IsNegative() {
		return Outcome{}, fmt.Errorf("%w: snapshot balance %s is negative", ErrInvariantViolation, snap.Balance)
	}

	ev := evaluation{
		instr:    instr,
		before:   snap,
		at:       e.now().UTC(),
		decision: types.DecisionQueue,
	}
	var (
		next  types.LiquiditySnapshot
		path  []Stage
		stage = StageGuardrailCheck
		err   error
	)
	for stage != StageTerminal {
		path = append(path, stage)
		switch stage {
		case StageGuardrailCheck:
			ev, stage = e.guardrailCheck(ev)
		case StageDecisionMatrix:
			ev, stage = e.decisionMatrix(ev)
		case StageSettlementExecution:
			ev, stage, err = e.settlementExecution(ev)
		case StageStateUpdate:
			ev, next, stage, err = e.stateUpdate(ev)
		default:
			err = fmt.Errorf("%w: unknown stage %d", ErrInvariantViolation, stage)
		}
		if err != nil {
			return Outcome{}, err
		}
	}
	path = append(path, StageTerminal)

	return Outcome{
		Result:     ev.result(e.cfg.PolicyHash),
		Snapshot:   next,
		Settlement: ev.settlement,
		Path:       path,
	}, nil
}
