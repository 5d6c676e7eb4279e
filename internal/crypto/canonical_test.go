package crypto

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanonicalizeSettlementBody(t *testing.T) {
	body := map[string]any{
		"to":              "BANK_B",
		"from":            "BANK_A",
		"amount":          decimal.RequireFromString("50000000.00"),
		"created_at":      time.Date(2026, 3, 2, 9, 30, 0, 0, time.FixedZone("CET", 3600)),
		"instruction_ref": nil,
		"meta": map[string]any{
			"seq":    3,
			"parent": nil,
		},
	}

	got, err := Canonicalize(body)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	want := `{"amount":"50000000","created_at":"2026-03-02T08:30:00Z","from":"BANK_A","meta":{"seq":3},"to":"BANK_B"}`
	if string(got) != want {
		t.Fatalf("canonical mismatch:\n got=%s\nwant=%s", got, want)
	}
}

type tokenBody struct {
	TokenID  string          `json:"token_id"`
	Owner    string          `json:"owner"`
	Amount   decimal.Decimal `json:"amount"`
	Parent   *string         `json:"parent"`
	Note     string          `json:"note,omitempty"`
	Internal string          `json:"-"`
	Seq      uint32
	hidden   int
}

func TestCanonicalizeStructUsesJSONTags(t *testing.T) {
	got, err := Canonicalize(tokenBody{
		TokenID:  "TKN-1",
		Owner:    "BANK_A",
		Amount:   decimal.NewFromInt(25),
		Internal: "skip",
		Seq:      7,
		hidden:   1,
	})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	want := `{"Seq":7,"amount":"25","owner":"BANK_A","token_id":"TKN-1"}`
	if string(got) != want {
		t.Fatalf("canonical mismatch:\n got=%s\nwant=%s", got, want)
	}

	parent := "TKN-0"
	withParent, err := Canonicalize(&tokenBody{TokenID: "TKN-2", Parent: &parent, Note: "split"})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	want = `{"Seq":0,"amount":"0","note":"split","owner":"","parent":"TKN-0","token_id":"TKN-2"}`
	if string(withParent) != want {
		t.Fatalf("canonical mismatch:\n got=%s\nwant=%s", withParent, want)
	}
}

func TestCanonicalizeMatchesAcrossRoundTrip(t *testing.T) {
	in := map[string]any{
		"instruction_id": "PAY-1",
		"reasoning":      []string{"Priority check: NORMAL", "Liquidity threshold: OK"},
		"amount":         decimal.RequireFromString("1000.50"),
	}
	first, err := Canonicalize(in)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	second, err := Canonicalize(decoded)
	if err != nil {
		t.Fatalf("canonicalize decoded: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("round trip changed bytes:\n%s\n%s", first, second)
	}
}

func TestCanonicalizeNumbers(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
		err  error
	}{
		{name: "int", in: int64(-12), want: "-12"},
		{name: "uint", in: uint8(9), want: "9"},
		{name: "json integer", in: json.Number("42"), want: "42"},
		{name: "json integral decimal", in: json.Number("100.00"), want: "100"},
		{name: "json fraction", in: json.Number("1.25"), err: ErrFloatNotAllowed},
		{name: "json exponent", in: json.Number("1e3"), err: ErrFloatNotAllowed},
		{name: "float", in: 0.5, err: ErrFloatNotAllowed},
		{name: "float in slice", in: []any{1, 2.5}, err: ErrFloatNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Canonicalize(tc.in)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("error mismatch: got=%v want=%v", err, tc.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("canonicalize: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("canonical mismatch: got=%s want=%s", got, tc.want)
			}
		})
	}
}

func TestCanonicalizeNormalizesAccountNames(t *testing.T) {
	got, err := Canonicalize(map[string]any{"owner": "Socie\u0301te\u0301"})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if want := "{\"owner\":\"Soci\u00e9t\u00e9\"}"; string(got) != want {
		t.Fatalf("canonical mismatch: got=%s want=%s", got, want)
	}

	_, err = Canonicalize(map[string]any{"e\u0301": 1, "\u00e9": 2})
	if !errors.Is(err, ErrKeyCollision) {
		t.Fatalf("expected key collision, got %v", err)
	}
}

func TestCanonicalizeRejectsUnencodable(t *testing.T) {
	if _, err := Canonicalize(map[int]string{1: "a"}); !errors.Is(err, ErrNonStringMapKey) {
		t.Fatalf("expected ErrNonStringMapKey, got %v", err)
	}
	if _, err := Canonicalize(make(chan int)); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
	if _, err := Canonicalize(map[string]any{"f": func() {}}); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestCanonicalizeNilForms(t *testing.T) {
	var queue []string
	var nothing *tokenBody
	for _, in := range []any{nil, queue, nothing} {
		got, err := Canonicalize(in)
		if err != nil {
			t.Fatalf("canonicalize %T: %v", in, err)
		}
		if string(got) != "null" {
			t.Fatalf("expected null for %T, got %s", in, got)
		}
	}

	got, err := Canonicalize([]any{"PAY-1", nil, [2]int{1, 2}})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(got) != `["PAY-1",null,[1,2]]` {
		t.Fatalf("canonical mismatch: got=%s", got)
	}
}
