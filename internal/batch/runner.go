// Package batch drives instructions through the engine one at a time and records what each decision
// produced: the audit artifact, any escalation, and the running metrics.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/davidahmann/liqueflow/internal/audit"
	"github.com/davidahmann/liqueflow/internal/engine"
	"github.com/davidahmann/liqueflow/internal/escalation"
	"github.com/davidahmann/liqueflow/internal/ledger"
	"github.com/davidahmann/liqueflow/internal/metrics"
	"github.com/davidahmann/liqueflow/pkg/types"
)

// ErrDuplicateInstruction wraps engine.ErrInvalidInstruction, so a batch skips the repeat.
var ErrDuplicateInstruction = fmt.Errorf("%w: duplicate instruction", engine.ErrInvalidInstruction)

type Config struct {
	Engine  *engine.Engine
	Store   ledger.Store
	Ledger  *ledger.UnifiedLedger // checked for conservation after every atomic settlement
	Tracker *metrics.Tracker
	Channel string
	Logger  *log.Logger
	Now     func() time.Time
}

type Runner struct {
	mu      sync.Mutex
	engine  *engine.Engine
	store   ledger.Store
	ledger  *ledger.UnifiedLedger
	tracker *metrics.Tracker
	channel string
	logger  *log.Logger
	now     func() time.Time
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("missing engine")
	}
	if cfg.Store == nil {
		cfg.Store = ledger.NewInMemoryStore()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = metrics.NewTracker()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		engine:  cfg.Engine,
		store:   cfg.Store,
		ledger:  cfg.Ledger,
		tracker: cfg.Tracker,
		channel: cfg.Channel,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}, nil
}

func (r *Runner) Tracker() *metrics.Tracker { return r.tracker }

func (r *Runner) Store() ledger.Store { return r.store }

type StepResult struct {
	Instruction types.PaymentInstruction `json:"instruction"`
	Result      types.DecisionResult     `json:"result"`
	ArtifactID  string                   `json:"artifact_id"`
	Settlement  *types.AtomicSettlement  `json:"settlement,omitempty"`
	Escalation  *ledger.EscalationRecord `json:"-"`
}

type Summary struct {
	Steps    []StepResult            `json:"steps"`
	Skipped  []string                `json:"skipped,omitempty"`
	Snapshot types.LiquiditySnapshot `json:"snapshot"`
}

// Step processes one instruction against snap.
func (r *Runner) Step(instr types.PaymentInstruction, snap types.LiquiditySnapshot) (StepResult, types.LiquiditySnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.step(instr, snap)
}

func (r *Runner) step(instr types.PaymentInstruction, snap types.LiquiditySnapshot) (StepResult, types.LiquiditySnapshot, error) {
	if err := r.checkNotSettled(instr.ID); err != nil {
		return StepResult{}, snap, err
	}

	start := r.now()
	out, err := r.engine.Run(instr, snap)
	if err != nil {
		return StepResult{}, snap, err
	}

	rec, err := audit.BuildArtifact(instr, out.Result)
	if err == nil {
		err = r.store.PutDecision(rec.ToDecisionRecord())
	}
	if err != nil {
		if out.Settlement != nil && out.Settlement.Status == types.SettlementExecuted {
			r.logger.Printf("decision_lost instruction_id=%s settlement_id=%s err=%v", instr.ID, out.Settlement.SettlementID, err)
			return StepResult{}, snap, fmt.Errorf("%w: settlement %s committed without a decision record: %w",
				engine.ErrInvariantViolation, out.Settlement.SettlementID, err)
		}
		return StepResult{}, snap, fmt.Errorf("persist decision: %w", err)
	}

	step := StepResult{
		Instruction: instr,
		Result:      out.Result,
		ArtifactID:  rec.ArtifactID,
		Settlement:  out.Settlement,
	}

	if out.Result.Decision == types.DecisionRequireHumanOverride {
		esc, err := escalation.Enqueue(r.store, escalation.EnqueueInput{
			Instruction: instr,
			Result:      out.Result,
			ArtifactID:  rec.ArtifactID,
			Channel:     r.channel,
			Now:         out.Result.Timestamp,
		})
		if err != nil {
			return StepResult{}, snap, fmt.Errorf("enqueue escalation: %w", err)
		}
		step.Escalation = &esc
		r.logger.Printf("escalation_enqueued escalation_id=%s instruction_id=%s", esc.EscalationID, instr.ID)
	}

	r.tracker.Record(out.Result, out.Snapshot.Balance, r.now().Sub(start))

	if out.Settlement != nil && r.ledger != nil {
		if err := r.ledger.Verify(); err != nil {
			return step, out.Snapshot, err
		}
	}

	r.logger.Printf("decision instruction_id=%s decision=%s amount=%s priority=%s risk=%.2f balance=%s artifact_id=%s",
		instr.ID, out.Result.Decision, instr.Amount, instr.Priority, out.Result.RiskScore, out.Snapshot.Balance, rec.ArtifactID)
	return step, out.Snapshot, nil
}

// checkNotSettled refuses an instruction the ledger already settled. With its decision on record the
// instruction is a duplicate; without one the snapshot never saw the debit and cannot be trusted.
func (r *Runner) checkNotSettled(instructionID string) error {
	if r.ledger == nil {
		return nil
	}
	settled, ok := r.ledger.ExecutedFor(instructionID)
	if !ok {
		return nil
	}
	if _, recorded := r.store.GetDecisionByInstruction(instructionID); recorded {
		return fmt.Errorf("%w: instruction %s already settled as %s", ErrDuplicateInstruction, instructionID, settled.SettlementID)
	}
	return fmt.Errorf("%w: instruction %s settled as %s but has no decision record",
		engine.ErrInvariantViolation, instructionID, settled.SettlementID)
}

// Run processes instructions in delivery order. Invalid instructions are skipped; invariant
// violations and persistence failures stop the batch. The summary holds everything processed so far.
func (r *Runner) Run(ctx context.Context, instructions []types.PaymentInstruction, snap types.LiquiditySnapshot) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := Summary{Snapshot: snap}
	for _, instr := range instructions {
		if err := ctx.Err(); err != nil {
			r.logger.Printf("batch_cancelled processed=%d remaining=%d err=%v", len(summary.Steps), len(instructions)-len(summary.Steps)-len(summary.Skipped), err)
			return summary, err
		}

		step, next, err := r.step(instr, summary.Snapshot)
		if err != nil {
			if errors.Is(err, engine.ErrInvalidInstruction) {
				r.logger.Printf("instruction_skipped instruction_id=%s err=%v", instr.ID, err)
				summary.Skipped = append(summary.Skipped, instr.ID)
				continue
			}
			r.logger.Printf("batch_aborted instruction_id=%s err=%v", instr.ID, err)
			return summary, err
		}
		summary.Steps = append(summary.Steps, step)
		summary.Snapshot = next
	}
	return summary, nil
}
