package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositActive DepositStatus = "ACTIVE"
	DepositBurned DepositStatus = "BURNED"
)

type TokenizedDeposit struct {
	TokenID   string          `json:"token_id"`
	Owner     string          `json:"owner"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	Status    DepositStatus   `json:"status"`
}

type SettlementStatus string

const (
	SettlementPending  SettlementStatus = "PENDING"
	SettlementExecuted SettlementStatus = "EXECUTED"
	SettlementFailed   SettlementStatus = "FAILED"
)

type AtomicSettlement struct {
	SettlementID    string           `json:"settlement_id"`
	From            string           `json:"from_account"`
	To              string           `json:"to_account"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency"`
	Status          SettlementStatus `json:"status"`
	CreatedAt       time.Time        `json:"created_at"`
	ExecutedAt      *time.Time       `json:"executed_at,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	InstructionRef  string           `json:"instruction_ref,omitempty"`
	InstructionHash string           `json:"instruction_hash,omitempty"`
}

type LedgerSnapshot struct {
	Balances              map[string]decimal.Decimal `json:"balances"`
	ActiveTokens          int                        `json:"active_tokens"`
	TotalSettlements      int                        `json:"total_settlements"`
	ExecutedSettlements   int                        `json:"executed_settlements"`
	FailedSettlements     int                        `json:"failed_settlements"`
	InstructionLogEntries int                        `json:"instruction_log_entries"`
}
