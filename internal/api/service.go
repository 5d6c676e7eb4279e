package api

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/internal/audit"
	"github.com/davidahmann/liqueflow/internal/batch"
	"github.com/davidahmann/liqueflow/internal/escalation"
	"github.com/davidahmann/liqueflow/internal/intake"
	"github.com/davidahmann/liqueflow/internal/ledger"
	"github.com/davidahmann/liqueflow/internal/metrics"
	"github.com/davidahmann/liqueflow/pkg/types"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrLedgerUnavailable = errors.New("ledger not configured")
)

// Service owns the live liquidity snapshot and serializes every decision made through the API.
type Service struct {
	mu         sync.Mutex
	runner     *batch.Runner
	store      ledger.Store
	ledger     *ledger.UnifiedLedger
	tracker    *metrics.Tracker
	normalizer intake.Normalizer
	initial    decimal.Decimal
	snapshot   types.LiquiditySnapshot
	now        func() time.Time
}

type ServiceInput struct {
	Runner         *batch.Runner
	Ledger         *ledger.UnifiedLedger
	Normalizer     intake.Normalizer
	InitialBalance decimal.Decimal
	Snapshot       types.LiquiditySnapshot
	Now            func() time.Time
}

func NewService(in ServiceInput) (*Service, error) {
	if in.Runner == nil {
		return nil, fmt.Errorf("missing runner")
	}
	if in.Now == nil {
		in.Now = time.Now
	}
	if in.Normalizer.Now == nil {
		in.Normalizer = intake.DefaultNormalizer()
	}
	if in.Snapshot.PendingQueue == nil {
		in.Snapshot = types.NewSnapshot(in.InitialBalance)
	}
	return &Service{
		runner:     in.Runner,
		store:      in.Runner.Store(),
		ledger:     in.Ledger,
		tracker:    in.Runner.Tracker(),
		normalizer: in.Normalizer,
		initial:    in.InitialBalance,
		snapshot:   in.Snapshot.Clone(),
		now:        in.Now,
	}, nil
}

type InstructionResponse struct {
	ArtifactID   string              `json:"artifact_id"`
	Artifact     types.AuditArtifact `json:"artifact"`
	EscalationID string              `json:"escalation_id,omitempty"`
	Replayed     bool                `json:"replayed"`
}

// SubmitInstruction decides one instruction. A repeated instruction id returns the stored artifact
// without touching the snapshot.
func (s *Service) SubmitInstruction(instr types.PaymentInstruction) (InstructionResponse, error) {
	instr, err := s.normalizer.Normalize(instr)
	if err != nil {
		return InstructionResponse{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.store.GetDecisionByInstruction(instr.ID); ok {
		resp, err := s.response(rec)
		resp.Replayed = true
		return resp, err
	}

	step, next, err := s.runner.Step(instr, s.snapshot)
	if err != nil {
		return InstructionResponse{}, err
	}
	s.snapshot = next

	rec, ok := s.store.GetDecision(step.ArtifactID)
	if !ok {
		return InstructionResponse{}, fmt.Errorf("decision %s not persisted", step.ArtifactID)
	}
	return s.response(rec)
}

func (s *Service) response(rec ledger.DecisionRecord) (InstructionResponse, error) {
	art, err := audit.Decode(rec.ArtifactID, rec.BodyJSON)
	if err != nil {
		return InstructionResponse{}, err
	}
	resp := InstructionResponse{ArtifactID: rec.ArtifactID, Artifact: art}
	if esc, ok := s.store.GetEscalationByInstruction(rec.InstructionID); ok {
		resp.EscalationID = esc.EscalationID
	}
	return resp, nil
}

type SettlementRequest struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// Settle moves tokens directly between two ledger accounts. The liquidity snapshot is not touched.
func (s *Service) Settle(req SettlementRequest) (types.AtomicSettlement, error) {
	if s.ledger == nil {
		return types.AtomicSettlement{}, ErrLedgerUnavailable
	}
	return s.ledger.ExecuteAtomicSettlement(req.From, req.To, req.Amount, req.Reference)
}

type LedgerResponse struct {
	Snapshot    types.LedgerSnapshot     `json:"snapshot"`
	Settlements []types.AtomicSettlement `json:"settlements"`
}

func (s *Service) Ledger() (LedgerResponse, error) {
	if s.ledger == nil {
		return LedgerResponse{}, ErrLedgerUnavailable
	}
	return LedgerResponse{Snapshot: s.ledger.Snapshot(), Settlements: s.ledger.Settlements()}, nil
}

type LiquidityResponse struct {
	Snapshot         types.LiquiditySnapshot `json:"snapshot"`
	PendingTotal     decimal.Decimal         `json:"pending_total"`
	HealthScore      float64                 `json:"health_score"`
	BufferEfficiency float64                 `json:"buffer_efficiency"`
}

func (s *Service) Liquidity() LiquidityResponse {
	s.mu.Lock()
	snap := s.snapshot.Clone()
	s.mu.Unlock()

	return LiquidityResponse{
		Snapshot:         snap,
		PendingTotal:     snap.PendingTotal(),
		HealthScore:      metrics.HealthScore(snap, s.tracker.Report(s.now())),
		BufferEfficiency: metrics.BufferEfficiency(snap, s.initial),
	}
}

func (s *Service) Metrics() metrics.Report {
	return s.tracker.Report(s.now())
}

// Decision looks an artifact up by artifact id, then by instruction id.
func (s *Service) Decision(id string) (InstructionResponse, error) {
	rec, ok := s.store.GetDecision(id)
	if !ok {
		rec, ok = s.store.GetDecisionByInstruction(id)
	}
	if !ok {
		return InstructionResponse{}, ErrNotFound
	}
	return s.response(rec)
}

func (s *Service) Verify(artifactID string) error {
	rec, ok := s.store.GetDecision(artifactID)
	if !ok {
		return ErrNotFound
	}
	return audit.VerifyRecord(rec)
}

func (s *Service) ResolveEscalation(escalationID string, approve bool, actor string) (ledger.EscalationRecord, error) {
	return escalation.Resolve(s.store, escalationID, approve, actor, s.now())
}
