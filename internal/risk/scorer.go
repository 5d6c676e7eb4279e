// Package risk maps liquidity exposure onto a coarse, auditable score in [0,1].
package risk

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/pkg/types"
)

var ErrInvalidBands = errors.New("invalid risk bands")

// Band assigns Score to any buffer ratio at or above MinRatio.
type Band struct {
	MinRatio decimal.Decimal
	Score    float64
}

type Scorer struct {
	bands []Band // sorted by MinRatio descending
	floor float64
}

// DefaultBands is the fixed threshold table: 2.0, 1.0, 0.5 and 0.2 buffer cover.
func DefaultBands() []Band {
	return []Band{
		{MinRatio: decimal.NewFromInt(2), Score: 0.0},
		{MinRatio: decimal.NewFromInt(1), Score: 0.2},
		{MinRatio: decimal.RequireFromString("0.5"), Score: 0.5},
		{MinRatio: decimal.RequireFromString("0.2"), Score: 0.7},
	}
}

const DefaultFloor = 1.0

func DefaultScorer() Scorer {
	s, _ := NewScorer(DefaultBands(), DefaultFloor)
	return s
}

// NewScorer validates that the score never rises as the buffer ratio rises.
func NewScorer(bands []Band, floor float64) (Scorer, error) {
	if floor < 0 || floor > 1 {
		return Scorer{}, fmt.Errorf("%w: floor score %v outside [0,1]", ErrInvalidBands, floor)
	}
	sorted := make([]Band, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinRatio.GreaterThan(sorted[j].MinRatio) })

	prev := -1.0
	for i, b := range sorted {
		if b.Score < 0 || b.Score > 1 {
			return Scorer{}, fmt.Errorf("%w: score %v outside [0,1]", ErrInvalidBands, b.Score)
		}
		if b.MinRatio.IsNegative() {
			return Scorer{}, fmt.Errorf("%w: negative min ratio %s", ErrInvalidBands, b.MinRatio)
		}
		if i > 0 && b.MinRatio.Equal(sorted[i-1].MinRatio) {
			return Scorer{}, fmt.Errorf("%w: duplicate min ratio %s", ErrInvalidBands, b.MinRatio)
		}
		if b.Score < prev {
			return Scorer{}, fmt.Errorf("%w: score must not fall as ratio falls (ratio %s)", ErrInvalidBands, b.MinRatio)
		}
		prev = b.Score
	}
	if floor < prev {
		return Scorer{}, fmt.Errorf("%w: floor score %v below lowest band", ErrInvalidBands, floor)
	}
	return Scorer{bands: sorted, floor: floor}, nil
}

// BufferRatio is balance / (amount + pending + 1).
func BufferRatio(balance, amount decimal.Decimal, pending []types.PaymentInstruction) decimal.Decimal {
	outflow := amount
	for _, p := range pending {
		outflow = outflow.Add(p.Amount)
	}
	return balance.Div(outflow.Add(decimal.NewFromInt(1)))
}

// Score returns the floor score when the balance is exhausted, otherwise the band for the buffer ratio.
func (s Scorer) Score(balance, amount decimal.Decimal, pending []types.PaymentInstruction) float64 {
	if !balance.IsPositive() {
		return s.floor
	}
	return s.ScoreRatio(BufferRatio(balance, amount, pending))
}

func (s Scorer) ScoreRatio(ratio decimal.Decimal) float64 {
	for _, b := range s.bands {
		if ratio.GreaterThanOrEqual(b.MinRatio) {
			return b.Score
		}
	}
	return s.floor
}

func (s Scorer) Bands() []Band {
	out := make([]Band, len(s.bands))
	copy(out, s.bands)
	return out
}
