package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/pkg/types"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, value)
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func depositRecord(dep deposit, at time.Time) DepositRecord {
	return DepositRecord{
		TokenID:   dep.TokenID,
		Owner:     dep.Owner,
		Amount:    dep.Amount.String(),
		Currency:  dep.Currency,
		Status:    string(dep.Status),
		Seq:       dep.seq,
		CreatedAt: formatTime(dep.CreatedAt),
		UpdatedAt: formatTime(at),
	}
}

func depositFromRecord(rec DepositRecord) (deposit, error) {
	amount, err := decimal.NewFromString(rec.Amount)
	if err != nil {
		return deposit{}, fmt.Errorf("deposit %s amount: %w", rec.TokenID, err)
	}
	created, err := parseTime(rec.CreatedAt)
	if err != nil {
		return deposit{}, fmt.Errorf("deposit %s created_at: %w", rec.TokenID, err)
	}
	status := types.DepositStatus(rec.Status)
	if status != types.DepositActive && status != types.DepositBurned {
		return deposit{}, fmt.Errorf("deposit %s: unknown status %q", rec.TokenID, rec.Status)
	}
	return deposit{
		TokenizedDeposit: types.TokenizedDeposit{
			TokenID:   rec.TokenID,
			Owner:     rec.Owner,
			Amount:    amount,
			Currency:  rec.Currency,
			CreatedAt: created,
			Status:    status,
		},
		seq: rec.Seq,
	}, nil
}

func settlementRecord(s types.AtomicSettlement) SettlementRecord {
	rec := SettlementRecord{
		SettlementID:    s.SettlementID,
		FromAccount:     s.From,
		ToAccount:       s.To,
		Amount:          s.Amount.String(),
		Currency:        s.Currency,
		Status:          string(s.Status),
		FailureReason:   optional(s.FailureReason),
		InstructionRef:  optional(s.InstructionRef),
		InstructionHash: optional(s.InstructionHash),
		CreatedAt:       formatTime(s.CreatedAt),
	}
	if s.ExecutedAt != nil {
		executed := formatTime(*s.ExecutedAt)
		rec.ExecutedAt = &executed
	}
	return rec
}

func settlementFromRecord(rec SettlementRecord) (types.AtomicSettlement, error) {
	amount, err := decimal.NewFromString(rec.Amount)
	if err != nil {
		return types.AtomicSettlement{}, fmt.Errorf("settlement %s amount: %w", rec.SettlementID, err)
	}
	created, err := parseTime(rec.CreatedAt)
	if err != nil {
		return types.AtomicSettlement{}, fmt.Errorf("settlement %s created_at: %w", rec.SettlementID, err)
	}
	s := types.AtomicSettlement{
		SettlementID:    rec.SettlementID,
		From:            rec.FromAccount,
		To:              rec.ToAccount,
		Amount:          amount,
		Currency:        rec.Currency,
		Status:          types.SettlementStatus(rec.Status),
		CreatedAt:       created,
		FailureReason:   deref(rec.FailureReason),
		InstructionRef:  deref(rec.InstructionRef),
		InstructionHash: deref(rec.InstructionHash),
	}
	if rec.ExecutedAt != nil {
		executed, err := parseTime(*rec.ExecutedAt)
		if err != nil {
			return types.AtomicSettlement{}, fmt.Errorf("settlement %s executed_at: %w", rec.SettlementID, err)
		}
		s.ExecutedAt = &executed
	}
	return s, nil
}
