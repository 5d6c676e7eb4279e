// Package intake validates payment instructions at the boundary and loads them from JSON or CSV files.
package intake

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/pkg/types"
)

var (
	ErrEmptyID           = errors.New("instruction id is required")
	ErrNonPositiveAmount = errors.New("amount must be greater than zero")
	ErrAmountTooLarge    = errors.New("amount exceeds the accepted maximum")
	ErrInvalidCurrency   = errors.New("currency must be a three-letter code")
	ErrInvalidPriority   = errors.New("unknown priority")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// MaxInstructionAmount is the largest single instruction accepted at the boundary.
var MaxInstructionAmount = decimal.NewFromInt(1_000_000_000_000)

const DefaultCurrency = "USD"

var sovereignTrue = map[string]bool{"true": true, "1": true, "yes": true, "y": true}

// Validate reports the first boundary rule the instruction breaks.
func Validate(instr types.PaymentInstruction) error {
	if strings.TrimSpace(instr.ID) == "" {
		return ErrEmptyID
	}
	if !instr.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNonPositiveAmount, instr.Amount)
	}
	if instr.Amount.GreaterThan(MaxInstructionAmount) {
		return fmt.Errorf("%w: %s", ErrAmountTooLarge, instr.Amount)
	}
	if !validCurrency(instr.Currency) {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, instr.Currency)
	}
	if !instr.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, instr.Priority)
	}
	return nil
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Normalizer fills defaults so loaded instructions pass Validate.
type Normalizer struct {
	Now      func() time.Time
	NewID    func() string
	Currency string
}

func DefaultNormalizer() Normalizer {
	return Normalizer{
		Now:      time.Now,
		NewID:    uuid.NewString,
		Currency: DefaultCurrency,
	}
}

// Normalize trims and upper-cases codes, defaults priority to NORMAL, assigns missing ids and
// timestamps, then validates.
func (n Normalizer) Normalize(instr types.PaymentInstruction) (types.PaymentInstruction, error) {
	instr.ID = strings.TrimSpace(instr.ID)
	instr.EndToEndID = strings.TrimSpace(instr.EndToEndID)
	instr.Currency = strings.ToUpper(strings.TrimSpace(instr.Currency))
	instr.Priority = types.Priority(strings.ToUpper(strings.TrimSpace(string(instr.Priority))))
	instr.DebtorName = strings.TrimSpace(instr.DebtorName)
	instr.CreditorName = strings.TrimSpace(instr.CreditorName)

	if instr.Priority == "" {
		instr.Priority = types.PriorityNormal
	}
	if instr.Currency == "" {
		instr.Currency = n.currency()
	}
	if instr.ID == "" {
		instr.ID = "MSG-" + n.newID()
	}
	if instr.EndToEndID == "" {
		instr.EndToEndID = "E2E-" + instr.ID
	}
	if instr.CreatedAt.IsZero() {
		instr.CreatedAt = n.now()
	}
	instr.CreatedAt = instr.CreatedAt.UTC()

	if err := Validate(instr); err != nil {
		return types.PaymentInstruction{}, err
	}
	return instr, nil
}

func (n Normalizer) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

func (n Normalizer) newID() string {
	if n.NewID == nil {
		return uuid.NewString()
	}
	return n.NewID()
}

func (n Normalizer) currency() string {
	if n.Currency == "" {
		return DefaultCurrency
	}
	return n.Currency
}

func parseSovereign(v string) bool {
	return sovereignTrue[strings.ToLower(strings.TrimSpace(v))]
}

func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", v)
}
