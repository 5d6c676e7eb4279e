// Package audit turns decision results into content-addressed artifacts that can be re-verified later.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/internal/crypto"
	"github.com/davidahmann/liqueflow/internal/ledger"
	"github.com/davidahmann/liqueflow/pkg/types"
)

const Schema = "liqueflow.decision.v0.1"

var (
	ErrDigestMismatch = errors.New("artifact digest mismatch")
	ErrMissingFields  = errors.New("missing required artifact fields")
)

type Record struct {
	ArtifactID string
	Artifact   types.AuditArtifact
	BodyJSON   []byte
}

// BuildArtifact canonicalizes a decision together with the instruction it answers.
// The artifact id is the digest of the canonical body.
func BuildArtifact(instr types.PaymentInstruction, res types.DecisionResult) (Record, error) {
	if instr.ID == "" || res.InstructionID != instr.ID || res.Decision == "" {
		return Record{}, ErrMissingFields
	}

	art := types.AuditArtifact{
		Schema:         Schema,
		InstructionID:  instr.ID,
		EndToEndID:     instr.EndToEndID,
		Decision:       res.Decision,
		ReasoningSteps: append([]string{}, res.ReasoningSteps...),
		Timestamp:      res.Timestamp.UTC().Format(time.RFC3339Nano),
		Amount:         instr.Amount.String(),
		Currency:       instr.Currency,
		Priority:       instr.Priority,
		BalanceBefore:  res.BalanceBefore.String(),
		BalanceAfter:   decimalString(res.BalanceAfter),
		RiskScore:      strconv.FormatFloat(res.RiskScore, 'f', 2, 64),
		SettlementID:   res.SettlementID,
		PolicyHash:     res.PolicyHash,
		IntentHash:     IntentHash(instr.ID, res.Decision, res.Timestamp, instr.Amount),
	}
	art.OpportunityCostSaved = decimalString(res.OpportunityCostSaved)
	art.RepoAmount = decimalString(res.RepoAmount)

	canonical, err := crypto.Canonicalize(body(art))
	if err != nil {
		return Record{}, err
	}
	art.ArtifactID = crypto.DigestWithPrefix(canonical)
	return Record{ArtifactID: art.ArtifactID, Artifact: art, BodyJSON: canonical}, nil
}

// Verify recomputes the digest of a stored body and checks it against the recorded id.
func Verify(artifactID string, bodyJSON []byte) error {
	var art types.AuditArtifact
	if err := json.Unmarshal(bodyJSON, &art); err != nil {
		return fmt.Errorf("decode artifact: %w", err)
	}
	canonical, err := crypto.Canonicalize(body(art))
	if err != nil {
		return err
	}
	digest := crypto.DigestWithPrefix(canonical)
	if digest != artifactID || crypto.DigestWithPrefix(bodyJSON) != artifactID {
		return ErrDigestMismatch
	}
	return nil
}

func VerifyRecord(rec ledger.DecisionRecord) error {
	return Verify(rec.ArtifactID, rec.BodyJSON)
}

// Decode parses a stored body back into an artifact with its id filled in.
func Decode(artifactID string, bodyJSON []byte) (types.AuditArtifact, error) {
	var art types.AuditArtifact
	if err := json.Unmarshal(bodyJSON, &art); err != nil {
		return types.AuditArtifact{}, err
	}
	art.ArtifactID = artifactID
	return art, nil
}

func (r Record) ToDecisionRecord() ledger.DecisionRecord {
	return ledger.DecisionRecord{
		ArtifactID:    r.ArtifactID,
		InstructionID: r.Artifact.InstructionID,
		PolicyHash:    r.Artifact.PolicyHash,
		Decision:      string(r.Artifact.Decision),
		BodyJSON:      r.BodyJSON,
		CreatedAt:     r.Artifact.Timestamp,
	}
}

// IntentHash is the short proof-of-intent fingerprint: the first 32 hex characters, upper-cased,
// of sha256("id:decision:timestamp:amount").
func IntentHash(instructionID string, decision types.Decision, at time.Time, amount decimal.Decimal) string {
	payload := fmt.Sprintf("%s:%s:%s:%s", instructionID, decision, at.UTC().Format(time.RFC3339Nano), amount.String())
	sum := sha256.Sum256([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(sum[:])[:32])
}

func body(art types.AuditArtifact) map[string]any {
	steps := make([]any, 0, len(art.ReasoningSteps))
	for _, s := range art.ReasoningSteps {
		steps = append(steps, s)
	}
	return map[string]any{
		"schema":                 art.Schema,
		"instruction_id":         art.InstructionID,
		"end_to_end_id":          optional(art.EndToEndID),
		"decision":               string(art.Decision),
		"reasoning_steps":        steps,
		"timestamp":              art.Timestamp,
		"amount":                 art.Amount,
		"currency":               art.Currency,
		"priority":               string(art.Priority),
		"balance_before":         art.BalanceBefore,
		"balance_after":          optional(art.BalanceAfter),
		"opportunity_cost_saved": optional(art.OpportunityCostSaved),
		"repo_amount":            optional(art.RepoAmount),
		"risk_score":             art.RiskScore,
		"settlement_id":          optional(art.SettlementID),
		"policy_hash":            optional(art.PolicyHash),
		"intent_hash":            art.IntentHash,
	}
}

func optional(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
