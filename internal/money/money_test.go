package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	cases := map[string]string{
		"1500000":       "$1,500,000.00",
		"490000000":     "$490,000,000.00",
		"0":             "$0.00",
		"12.5":          "$12.50",
		"999.999":       "$1,000.00",
		"-20000000.01":  "-$20,000,000.01",
		"10000.0000001": "$10,000.00",
	}
	for in, want := range cases {
		assert.Equal(t, want, Format(decimal.RequireFromString(in)), in)
	}
}

func TestPercent(t *testing.T) {
	assert.Contains(t, Percent(decimal.RequireFromString("0.5")), "50")
	assert.Contains(t, Percent(decimal.RequireFromString("0.425")), "42.5")
}
