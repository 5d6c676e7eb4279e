package crypto

import (
	"strings"
	"testing"
)

func TestDigestHelpersAgree(t *testing.T) {
	data := []byte("test payload")

	raw := DigestBytes(data)
	if len(raw) != 32 {
		t.Fatalf("expected 32 byte digest, got %d", len(raw))
	}
	hexDigest := DigestHex(data)
	if len(hexDigest) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(hexDigest))
	}
	if got := DigestWithPrefix(data); got != "sha256:"+hexDigest {
		t.Fatalf("prefix mismatch: %s", got)
	}
	if DigestHex([]byte("other")) == hexDigest {
		t.Fatalf("expected different digest for different payload")
	}
}

func TestCanonicalDigestIgnoresKeyOrder(t *testing.T) {
	a, bodyA, err := CanonicalDigest(map[string]any{"from": "BANK_A", "to": "BANK_B", "amount": "5"})
	if err != nil {
		t.Fatalf("digest a: %v", err)
	}
	b, _, err := CanonicalDigest(map[string]any{"amount": "5", "to": "BANK_B", "from": "BANK_A"})
	if err != nil {
		t.Fatalf("digest b: %v", err)
	}
	if a != b {
		t.Fatalf("digest mismatch: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "sha256:") || string(bodyA) != `{"amount":"5","from":"BANK_A","to":"BANK_B"}` {
		t.Fatalf("unexpected digest output: %s %s", a, bodyA)
	}

	if _, _, err := CanonicalDigest(map[string]any{"ratio": 0.5}); err != ErrFloatNotAllowed {
		t.Fatalf("expected ErrFloatNotAllowed, got %v", err)
	}
}
