package types

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Decision string

const (
	DecisionSettle               Decision = "SETTLE"
	DecisionQueue                Decision = "QUEUE"
	DecisionReject               Decision = "REJECT"
	DecisionRequireHumanOverride Decision = "REQUIRE_HUMAN_OVERRIDE"
)

type DecisionResult struct {
	InstructionID        string           `json:"instruction_id"`
	Decision             Decision         `json:"decision"`
	ReasoningSteps       []string         `json:"reasoning_steps"`
	Timestamp            time.Time        `json:"timestamp"`
	BalanceBefore        decimal.Decimal  `json:"balance_before"`
	BalanceAfter         *decimal.Decimal `json:"balance_after,omitempty"`
	RiskScore            float64          `json:"risk_score"`
	OpportunityCostSaved *decimal.Decimal `json:"opportunity_cost_saved,omitempty"`
	RepoAmount           *decimal.Decimal `json:"repo_amount,omitempty"`
	SettlementID         string           `json:"settlement_id,omitempty"`
	PolicyHash           string           `json:"policy_hash,omitempty"`
}

// LiquiditySnapshot is owned by the caller between Process calls.
type LiquiditySnapshot struct {
	Balance      decimal.Decimal               `json:"balance"`
	PendingQueue []PaymentInstruction          `json:"pending_queue"`
	Projections  map[time.Time]decimal.Decimal `json:"projections,omitempty"`
	RiskScore    float64                       `json:"risk_score"`
	TotalSettled decimal.Decimal               `json:"total_settled"`
	TotalDelayed decimal.Decimal               `json:"total_delayed"`
	LastUpdate   time.Time                     `json:"last_update"`
}

func NewSnapshot(balance decimal.Decimal) LiquiditySnapshot {
	return LiquiditySnapshot{
		Balance:      balance,
		PendingQueue: []PaymentInstruction{},
		TotalSettled: decimal.Zero,
		TotalDelayed: decimal.Zero,
	}
}

// Clone returns a copy that shares no slices or maps with s.
func (s LiquiditySnapshot) Clone() LiquiditySnapshot {
	out := s
	out.PendingQueue = make([]PaymentInstruction, len(s.PendingQueue))
	copy(out.PendingQueue, s.PendingQueue)
	if s.Projections != nil {
		out.Projections = make(map[time.Time]decimal.Decimal, len(s.Projections))
		for k, v := range s.Projections {
			out.Projections[k] = v
		}
	}
	return out
}

// PendingTotal sums the amounts waiting in the queue.
func (s LiquiditySnapshot) PendingTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s.PendingQueue {
		total = total.Add(p.Amount)
	}
	return total
}

// NextInflow returns the projection for the earliest time bucket.
func (s LiquiditySnapshot) NextInflow() (decimal.Decimal, bool) {
	if len(s.Projections) == 0 {
		return decimal.Zero, false
	}
	buckets := make([]time.Time, 0, len(s.Projections))
	for k := range s.Projections {
		buckets = append(buckets, k)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })
	return s.Projections[buckets[0]], true
}
