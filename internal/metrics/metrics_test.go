package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/davidahmann/liqueflow/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTrackerReport(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cost := d("2000")
	repo := d("490000000")

	tr := NewTracker()
	tr.Record(types.DecisionResult{InstructionID: "A", Decision: types.DecisionSettle, BalanceBefore: d("200000000"), Timestamp: start}, d("150000000"), 2*time.Millisecond)
	tr.Record(types.DecisionResult{InstructionID: "B", Decision: types.DecisionQueue, BalanceBefore: d("150000000"), Timestamp: start, OpportunityCostSaved: &cost}, d("150000000"), 4*time.Millisecond)
	tr.Record(types.DecisionResult{InstructionID: "C", Decision: types.DecisionReject, BalanceBefore: d("150000000"), Timestamp: start}, d("150000000"), time.Millisecond)
	tr.Record(types.DecisionResult{InstructionID: "D", Decision: types.DecisionRequireHumanOverride, BalanceBefore: d("150000000"), Timestamp: start}, d("150000000"), time.Millisecond)
	tr.Record(types.DecisionResult{InstructionID: "E", Decision: types.DecisionSettle, BalanceBefore: d("10000000"), Timestamp: start, RepoAmount: &repo}, d("0"), 2*time.Millisecond)

	r := tr.Report(start.Add(time.Minute))
	assert.Equal(t, 5, r.TotalProcessed)
	assert.Equal(t, 2, r.Settled)
	assert.Equal(t, 1, r.Queued)
	assert.Equal(t, 1, r.Rejected)
	assert.Equal(t, 1, r.HumanOverrides)
	assert.Equal(t, 1, r.Repos)
	assert.True(t, r.OpportunityCostSaved.Equal(cost))
	assert.True(t, r.PeakBalance.Equal(d("200000000")))
	assert.Equal(t, 2*time.Millisecond, r.AverageProcessing)
	assert.Equal(t, time.Minute, r.AverageQueueDelay)
	assert.Equal(t, 5*ManualHandlingTime-10*time.Millisecond, r.ManualTimeSaved)
}

func TestTrackerEmpty(t *testing.T) {
	r := NewTracker().Report(time.Now())
	assert.Zero(t, r.TotalProcessed)
	assert.Zero(t, r.AverageProcessing)
	assert.True(t, r.OpportunityCostSaved.IsZero())
}

func TestHealthScore(t *testing.T) {
	healthy := types.NewSnapshot(d("500000000"))
	assert.Equal(t, 100.0, HealthScore(healthy, Report{}))

	stressed := types.NewSnapshot(d("50000000"))
	stressed.RiskScore = 1.0
	for i := 0; i < 11; i++ {
		stressed.PendingQueue = append(stressed.PendingQueue, types.PaymentInstruction{ID: "Q"})
	}
	// 100 - 30 - 20 - 15 - 25*0.5
	assert.InDelta(t, 22.5, HealthScore(stressed, Report{TotalProcessed: 4, Settled: 2}), 1e-9)

	stressed.RiskScore = 1.0
	assert.Equal(t, 10.0, HealthScore(stressed, Report{TotalProcessed: 4, Settled: 0}))
}

func TestBufferEfficiency(t *testing.T) {
	initial := d("200000000")
	cases := []struct {
		balance string
		want    float64
	}{
		{"200000000", 0},
		{"140000000", 50},
		{"60000000", 100},
		{"40000000", 100},
		{"30000000", 75},
		{"0", 0},
	}
	for _, tc := range cases {
		got := BufferEfficiency(types.NewSnapshot(d(tc.balance)), initial)
		assert.InDelta(t, tc.want, got, 1e-6, "balance %s", tc.balance)
	}
	assert.Zero(t, BufferEfficiency(types.NewSnapshot(d("1")), decimal.Zero))
}
