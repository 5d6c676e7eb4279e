// Package escalation records REQUIRE_HUMAN_OVERRIDE decisions for a human to resolve and delivers
// notifications about them through a retrying outbox.
package escalation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/liqueflow/internal/ledger"
	"github.com/davidahmann/liqueflow/internal/money"
	"github.com/davidahmann/liqueflow/pkg/types"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

var (
	ErrNotEscalated    = errors.New("decision does not require human override")
	ErrNotFound        = errors.New("escalation not found")
	ErrAlreadyResolved = errors.New("escalation already resolved")
)

// Message is the notification payload stored in the outbox.
type Message struct {
	EscalationID  string   `json:"escalation_id"`
	InstructionID string   `json:"instruction_id"`
	ArtifactID    string   `json:"artifact_id"`
	Amount        string   `json:"amount"`
	Currency      string   `json:"currency"`
	Priority      string   `json:"priority"`
	Sovereign     bool     `json:"sovereign"`
	Reasons       []string `json:"reasons"`
	Text          string   `json:"text"`
}

type EnqueueInput struct {
	Instruction types.PaymentInstruction
	Result      types.DecisionResult
	ArtifactID  string
	Channel     string
	Now         time.Time
}

// Enqueue stores a pending escalation and its outbox message in one transaction.
// A second call for the same instruction returns the existing escalation.
func Enqueue(store ledger.Store, in EnqueueInput) (ledger.EscalationRecord, error) {
	if store == nil {
		return ledger.EscalationRecord{}, fmt.Errorf("missing store")
	}
	if in.Result.Decision != types.DecisionRequireHumanOverride {
		return ledger.EscalationRecord{}, ErrNotEscalated
	}
	if existing, ok := store.GetEscalationByInstruction(in.Instruction.ID); ok {
		return existing, nil
	}

	now := in.Now.UTC().Format(time.RFC3339)
	id := "esc-" + uuid.NewString()
	var channel *string
	if in.Channel != "" {
		c := in.Channel
		channel = &c
	}
	rec := ledger.EscalationRecord{
		EscalationID:  id,
		InstructionID: in.Instruction.ID,
		ArtifactID:    in.ArtifactID,
		Status:        StatusPending,
		Channel:       channel,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	msg := Message{
		EscalationID:  id,
		InstructionID: in.Instruction.ID,
		ArtifactID:    in.ArtifactID,
		Amount:        in.Instruction.Amount.String(),
		Currency:      in.Instruction.Currency,
		Priority:      string(in.Instruction.Priority),
		Sovereign:     in.Instruction.Sovereign,
		Reasons:       append([]string{}, in.Result.ReasoningSteps...),
		Text: fmt.Sprintf("Human override required for %s: %s %s (%s)",
			in.Instruction.ID, money.Format(in.Instruction.Amount), in.Instruction.Currency, in.Instruction.Priority),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return ledger.EscalationRecord{}, err
	}
	outbox := ledger.OutboxRecord{
		NotificationID: "escalation:" + id,
		EscalationID:   id,
		Channel:        in.Channel,
		MessageJSON:    body,
		Status:         OutboxStatusPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = store.WithTx(func(tx ledger.Tx) error {
		if err := tx.PutEscalation(rec); err != nil {
			return err
		}
		return tx.PutOutbox(outbox)
	})
	if err != nil {
		return ledger.EscalationRecord{}, err
	}
	return rec, nil
}

// Resolve records the human decision on a pending escalation.
func Resolve(store ledger.Store, escalationID string, approve bool, actor string, now time.Time) (ledger.EscalationRecord, error) {
	rec, ok := store.GetEscalation(escalationID)
	if !ok {
		return ledger.EscalationRecord{}, ErrNotFound
	}
	if rec.Status != StatusPending {
		return rec, ErrAlreadyResolved
	}
	if actor == "" {
		return ledger.EscalationRecord{}, fmt.Errorf("missing actor")
	}

	ts := now.UTC().Format(time.RFC3339)
	rec.Status = StatusRejected
	if approve {
		rec.Status = StatusApproved
	}
	rec.ResolvedBy = &actor
	rec.ResolvedAt = &ts
	rec.UpdatedAt = ts
	if err := store.PutEscalation(rec); err != nil {
		return ledger.EscalationRecord{}, err
	}
	return rec, nil
}
