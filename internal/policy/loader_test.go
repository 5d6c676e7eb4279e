package policy

import (
	"errors"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/internal/crypto"
)

func TestLoadPolicy(t *testing.T) {
	loaded, err := LoadPolicy("../../policies/liqueflow.yaml")
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	if loaded.Policy.PolicyID == "" {
		t.Fatalf("policy id missing")
	}

	data, err := os.ReadFile("../../policies/liqueflow.yaml")
	if err != nil {
		t.Fatalf("read policy: %v", err)
	}

	expected := crypto.DigestWithPrefix(data)
	if loaded.Hash != expected {
		t.Fatalf("policy hash mismatch: got %s want %s", loaded.Hash, expected)
	}

	def := Default()
	if !loaded.Policy.Matrix.IntradayCreditRatePerHour.Equal(def.Matrix.IntradayCreditRatePerHour) {
		t.Fatalf("credit rate mismatch: got %s", loaded.Policy.Matrix.IntradayCreditRatePerHour)
	}
	if len(loaded.Policy.Risk.Bands) != 4 {
		t.Fatalf("expected 4 risk bands, got %d", len(loaded.Policy.Risk.Bands))
	}
}

func TestParseKeepsDefaultsForMissingKeys(t *testing.T) {
	loaded, err := Parse([]byte("policy_id: p\npolicy_version: \"2\"\nmatrix:\n  assumed_delay_hours: \"4\"\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m := loaded.Policy.Matrix
	if !m.AssumedDelayHours.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected delay override, got %s", m.AssumedDelayHours)
	}
	if !m.DailyVolumeMultiplier.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected default multiplier, got %s", m.DailyVolumeMultiplier)
	}
	if got := m.DelayCost(decimal.NewFromInt(50_000_000)); !got.Equal(decimal.NewFromInt(20_000)) {
		t.Fatalf("delay cost mismatch: got %s", got)
	}
	if len(loaded.Policy.Risk.Bands) != 4 {
		t.Fatalf("expected default risk bands, got %d", len(loaded.Policy.Risk.Bands))
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing id":          "policy_id: \"\"\n",
		"buffer fraction":     "matrix:\n  precautionary_buffer_fraction: \"1.5\"\n",
		"negative rate":       "matrix:\n  intraday_credit_rate_per_hour: \"-0.1\"\n",
		"zero override":       "override:\n  absolute_fraction: \"0\"\n",
		"non monotonic bands": "risk:\n  floor_score: 1.0\n  bands:\n    - min_ratio: \"2\"\n      score: 0.9\n    - min_ratio: \"1\"\n      score: 0.1\n",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		if !errors.Is(err, ErrInvalidPolicy) {
			t.Fatalf("%s: expected ErrInvalidPolicy, got %v", name, err)
		}
	}
	if _, err := Parse([]byte("matrix: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	buffer := p.Matrix.PrecautionaryBuffer(decimal.NewFromInt(200_000_000))
	if !buffer.Equal(decimal.NewFromInt(80_000_000)) {
		t.Fatalf("precautionary buffer mismatch: got %s", buffer)
	}
	if _, err := p.Scorer(); err != nil {
		t.Fatalf("scorer: %v", err)
	}

	builtin := Builtin()
	if builtin.Hash == "" || builtin.Policy.PolicyID != p.PolicyID {
		t.Fatalf("unexpected builtin: %+v", builtin)
	}
}
