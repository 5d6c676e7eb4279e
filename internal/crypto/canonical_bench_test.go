package crypto

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type benchArtifact struct {
	InstructionID string          `json:"instruction_id"`
	Decision      string          `json:"decision"`
	Amount        decimal.Decimal `json:"amount"`
	Reasoning     []string        `json:"reasoning_steps"`
	Timestamp     time.Time       `json:"timestamp"`
	SettlementID  string          `json:"settlement_id,omitempty"`
}

func BenchmarkCanonicalDigestArtifact(b *testing.B) {
	art := benchArtifact{
		InstructionID: "PAY-1",
		Decision:      "SETTLE",
		Amount:        decimal.RequireFromString("50000000"),
		Reasoning:     []string{"Priority check: NORMAL", "Liquidity threshold: OK", "Circuit breaker: CLOSED"},
		Timestamp:     time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
	}

	b.ReportAllocs()
	for b.Loop() {
		if _, _, err := CanonicalDigest(art); err != nil {
			b.Fatalf("digest: %v", err)
		}
	}
}
