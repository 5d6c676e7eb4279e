package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Priority string

const (
	PriorityUrgent Priority = "URGENT"
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// Valid reports whether p is one of the known priority tiers.
func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	default:
		return false
	}
}

type PaymentInstruction struct {
	ID           string          `json:"id"`
	EndToEndID   string          `json:"end_to_end_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Priority     Priority        `json:"priority"`
	Sovereign    bool            `json:"sovereign"`
	CreatedAt    time.Time       `json:"created_at"`
	DebtorName   string          `json:"debtor_name,omitempty"`
	CreditorName string          `json:"creditor_name,omitempty"`
}

// Expedited is true for URGENT or sovereign payments, which may settle into a deficit.
func (p PaymentInstruction) Expedited() bool {
	return p.Priority == PriorityUrgent || p.Sovereign
}
