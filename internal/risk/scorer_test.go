package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidahmann/liqueflow/pkg/types"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestScoreBands(t *testing.T) {
	s := DefaultScorer()

	cases := []struct {
		name    string
		balance string
		amount  string
		want    float64
	}{
		{"ample cover", "200000000", "50000000", 0.0},
		{"exactly twice", "200000002", "100000000", 0.0},
		{"between one and two", "150000000", "100000000", 0.2},
		{"half cover", "50000000", "99999999", 0.5},
		{"thin cover", "30000000", "100000000", 0.7},
		{"deficit", "10000000", "500000000", 1.0},
		{"empty balance", "0", "1", 1.0},
		{"no outflow", "150000000", "0", 0.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, s.Score(d(tc.balance), d(tc.amount), nil))
		})
	}
}

func TestScoreCountsPendingQueue(t *testing.T) {
	s := DefaultScorer()
	pending := []types.PaymentInstruction{
		{ID: "q1", Amount: d("60000000")},
		{ID: "q2", Amount: d("40000000")},
	}

	assert.Equal(t, 0.0, s.Score(d("200000000"), d("0"), nil))
	assert.Equal(t, 0.2, s.Score(d("200000000"), d("0"), pending))
	assert.True(t, BufferRatio(d("200000000"), d("0"), pending).LessThan(d("2")))
}

func TestScoreIsMonotonicInRatio(t *testing.T) {
	s := DefaultScorer()
	prev := 2.0
	for ratio := decimal.Zero; ratio.LessThan(d("3")); ratio = ratio.Add(d("0.01")) {
		got := s.ScoreRatio(ratio)
		require.GreaterOrEqual(t, got, 0.0)
		require.LessOrEqual(t, got, 1.0)
		if prev <= 1.0 {
			require.LessOrEqual(t, got, prev, "score rose at ratio %s", ratio)
		}
		prev = got
	}
}

func TestNewScorerRejectsNonMonotonicBands(t *testing.T) {
	_, err := NewScorer([]Band{
		{MinRatio: d("2"), Score: 0.5},
		{MinRatio: d("1"), Score: 0.2},
	}, 1.0)
	require.ErrorIs(t, err, ErrInvalidBands)

	_, err = NewScorer([]Band{{MinRatio: d("1"), Score: 0.2}}, 0.1)
	require.ErrorIs(t, err, ErrInvalidBands)

	_, err = NewScorer([]Band{{MinRatio: d("1"), Score: 1.5}}, 1.0)
	require.ErrorIs(t, err, ErrInvalidBands)

	_, err = NewScorer([]Band{{MinRatio: d("1"), Score: 0.2}, {MinRatio: d("1"), Score: 0.3}}, 1.0)
	require.ErrorIs(t, err, ErrInvalidBands)
}

func TestNewScorerSortsBands(t *testing.T) {
	s, err := NewScorer([]Band{
		{MinRatio: d("0.2"), Score: 0.7},
		{MinRatio: d("2"), Score: 0.0},
		{MinRatio: d("1"), Score: 0.2},
	}, 1.0)
	require.NoError(t, err)

	bands := s.Bands()
	require.Len(t, bands, 3)
	assert.True(t, bands[0].MinRatio.Equal(d("2")))
	assert.Equal(t, 0.2, s.ScoreRatio(d("1.5")))
	assert.Equal(t, 1.0, s.ScoreRatio(d("0.1")))
}
