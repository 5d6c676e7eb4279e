// Package metrics aggregates decision outcomes into the figures operators watch during a run.
package metrics

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/pkg/types"
)

// ManualHandlingTime is the assumed analyst time per instruction without automation.
const ManualHandlingTime = 17*time.Minute + 30*time.Second

type Report struct {
	TotalProcessed       int             `json:"total_processed"`
	Settled              int             `json:"settled"`
	Queued               int             `json:"queued"`
	Rejected             int             `json:"rejected"`
	HumanOverrides       int             `json:"human_overrides"`
	Repos                int             `json:"repos"`
	OpportunityCostSaved decimal.Decimal `json:"opportunity_cost_saved"`
	PeakBalance          decimal.Decimal `json:"peak_balance"`
	AverageProcessing    time.Duration   `json:"average_processing_ns"`
	AverageQueueDelay    time.Duration   `json:"average_queue_delay_ns"`
	ManualTimeSaved      time.Duration   `json:"manual_time_saved_ns"`
}

type Tracker struct {
	mu         sync.Mutex
	report     Report
	processing time.Duration
	queuedAt   map[string]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		report:   Report{OpportunityCostSaved: decimal.Zero, PeakBalance: decimal.Zero},
		queuedAt: make(map[string]time.Time),
	}
}

// Record counts one decision. balance is the snapshot balance after the decision.
func (t *Tracker) Record(res types.DecisionResult, balance decimal.Decimal, elapsed time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.report.TotalProcessed++
	t.processing += elapsed
	switch res.Decision {
	case types.DecisionSettle:
		t.report.Settled++
		delete(t.queuedAt, res.InstructionID)
	case types.DecisionQueue:
		t.report.Queued++
		t.queuedAt[res.InstructionID] = res.Timestamp
	case types.DecisionReject:
		t.report.Rejected++
	case types.DecisionRequireHumanOverride:
		t.report.HumanOverrides++
	}
	if res.OpportunityCostSaved != nil {
		t.report.OpportunityCostSaved = t.report.OpportunityCostSaved.Add(*res.OpportunityCostSaved)
	}
	if res.RepoAmount != nil {
		t.report.Repos++
	}
	if balance.GreaterThan(t.report.PeakBalance) {
		t.report.PeakBalance = balance
	}
	if res.BalanceBefore.GreaterThan(t.report.PeakBalance) {
		t.report.PeakBalance = res.BalanceBefore
	}
}

// Report returns the aggregate as of now. Queue delay is measured for instructions still queued.
func (t *Tracker) Report(now time.Time) Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.report
	if out.TotalProcessed > 0 {
		out.AverageProcessing = t.processing / time.Duration(out.TotalProcessed)
	}
	if len(t.queuedAt) > 0 {
		var total time.Duration
		for _, at := range t.queuedAt {
			total += now.Sub(at)
		}
		out.AverageQueueDelay = total / time.Duration(len(t.queuedAt))
	}
	manual := time.Duration(out.TotalProcessed) * ManualHandlingTime
	if saved := manual - t.processing; saved > 0 {
		out.ManualTimeSaved = saved
	}
	return out
}

var lowLiquidityMark = decimal.NewFromInt(100_000_000)

// HealthScore is a 0-100 summary: risk, a balance under $100M, a queue longer than ten and the
// share of unsettled instructions each take points off.
func HealthScore(snap types.LiquiditySnapshot, r Report) float64 {
	score := 100.0
	score -= snap.RiskScore * 30
	if snap.Balance.LessThan(lowLiquidityMark) {
		score -= 20
	}
	if len(snap.PendingQueue) > 10 {
		score -= 15
	}
	if r.TotalProcessed > 0 {
		failureRate := float64(r.TotalProcessed-r.Settled) / float64(r.TotalProcessed)
		score -= failureRate * 25
	}
	return clamp(score)
}

// BufferEfficiency rates how much of the opening balance has been put to work. Utilisation between
// 60% and 80% scores 100.
func BufferEfficiency(snap types.LiquiditySnapshot, initialBalance decimal.Decimal) float64 {
	if initialBalance.IsZero() {
		return 0
	}
	utilisation, _ := initialBalance.Sub(snap.Balance).Div(initialBalance).Float64()
	switch {
	case utilisation >= 0.6 && utilisation <= 0.8:
		return 100
	case utilisation < 0.6:
		return clamp(utilisation / 0.6 * 100)
	default:
		return clamp(100 - (utilisation-0.8)*500)
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
