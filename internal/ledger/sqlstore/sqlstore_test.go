package sqlstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/davidahmann/liqueflow/internal/ledger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := ledger.Migrate(s.DB(), ledger.DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func strPtr(s string) *string { return &s }

func TestStoreDepositsAndSettlements(t *testing.T) {
	s := openTestStore(t)

	deps := []ledger.DepositRecord{
		{TokenID: "TKN-2", Owner: "BANK_A", Amount: "40000000", Currency: "USD", Status: "ACTIVE", Seq: 2, CreatedAt: "2025-12-20T00:00:00Z", UpdatedAt: "2025-12-20T00:00:00Z"},
		{TokenID: "TKN-1", Owner: "BANK_A", Amount: "30000000", Currency: "USD", Status: "ACTIVE", Seq: 1, CreatedAt: "2025-12-20T00:00:00Z", UpdatedAt: "2025-12-20T00:00:00Z"},
	}
	for _, dep := range deps {
		if err := s.PutDeposit(dep); err != nil {
			t.Fatalf("put deposit: %v", err)
		}
	}
	burned := deps[1]
	burned.Status = "BURNED"
	burned.UpdatedAt = "2025-12-20T00:00:01Z"
	if err := s.PutDeposit(burned); err != nil {
		t.Fatalf("burn deposit: %v", err)
	}
	if got, ok := s.GetDeposit("TKN-1"); !ok || got.Status != "BURNED" || got.Amount != "30000000" {
		t.Fatalf("get deposit mismatch: ok=%v got=%+v", ok, got)
	}
	listed, err := s.ListDeposits()
	if err != nil {
		t.Fatalf("list deposits: %v", err)
	}
	if len(listed) != 2 || listed[0].TokenID != "TKN-1" {
		t.Fatalf("expected FIFO order by seq: %+v", listed)
	}

	failed := ledger.SettlementRecord{
		SettlementID:  "SETTLE-1",
		FromAccount:   "BANK_A",
		ToAccount:     "BANK_B",
		Amount:        "900000000",
		Currency:      "USD",
		Status:        "FAILED",
		FailureReason: strPtr("Insufficient balance"),
		CreatedAt:     "2025-12-20T00:00:02Z",
	}
	if err := s.PutSettlement(failed); err != nil {
		t.Fatalf("put settlement: %v", err)
	}
	failed.Status = "EXECUTED"
	if err := s.PutSettlement(failed); err != nil {
		t.Fatalf("put settlement twice: %v", err)
	}
	got, ok := s.GetSettlement("SETTLE-1")
	if !ok || got.Status != "FAILED" || got.FailureReason == nil || got.ExecutedAt != nil {
		t.Fatalf("settlement should be immutable: ok=%v got=%+v", ok, got)
	}
	if all, err := s.ListSettlements(); err != nil || len(all) != 1 {
		t.Fatalf("list settlements: err=%v len=%d", err, len(all))
	}

	if err := s.AppendInstruction(ledger.InstructionRecord{Seq: 1, Kind: "MINT", BodyJSON: []byte(`{"token_id":"TKN-1"}`), CreatedAt: "2025-12-20T00:00:00Z"}); err != nil {
		t.Fatalf("append instruction: %v", err)
	}
	if err := s.AppendInstruction(ledger.InstructionRecord{Seq: 2, Kind: "MINT", BodyJSON: []byte(`{"token_id":"TKN-2"}`), CreatedAt: "2025-12-20T00:00:00Z"}); err != nil {
		t.Fatalf("append instruction: %v", err)
	}
	log, err := s.ListInstructions()
	if err != nil || len(log) != 2 || string(log[0].BodyJSON) != `{"token_id":"TKN-1"}` {
		t.Fatalf("instruction log mismatch: err=%v log=%+v", err, log)
	}
}

func TestStoreDecisionsAndEscalations(t *testing.T) {
	s := openTestStore(t)

	policy := ledger.PolicyVersionRecord{
		PolicyHash:    "ph",
		PolicyID:      "liqueflow-default",
		PolicyVersion: "1",
		PolicyYAML:    "policy_id: liqueflow-default\npolicy_version: \"1\"\n",
		CreatedAt:     "2025-12-20T00:00:00Z",
	}
	if err := s.PutPolicyVersion(policy); err != nil {
		t.Fatalf("put policy: %v", err)
	}
	if got, ok := s.GetPolicyVersion("ph"); !ok || got.PolicyID != "liqueflow-default" {
		t.Fatalf("get policy mismatch: ok=%v got=%+v", ok, got)
	}

	dec := ledger.DecisionRecord{ArtifactID: "sha256:abc", InstructionID: "PAY-1", PolicyHash: "ph", Decision: "REQUIRE_HUMAN_OVERRIDE", BodyJSON: []byte(`{"instruction_id":"PAY-1"}`), CreatedAt: "2025-12-20T00:00:01Z"}
	if err := s.PutDecision(dec); err != nil {
		t.Fatalf("put decision: %v", err)
	}
	if got, ok := s.GetDecision("sha256:abc"); !ok || got.InstructionID != "PAY-1" {
		t.Fatalf("get decision mismatch: ok=%v got=%+v", ok, got)
	}
	if got, ok := s.GetDecisionByInstruction("PAY-1"); !ok || got.ArtifactID != "sha256:abc" {
		t.Fatalf("get decision by instruction mismatch: ok=%v got=%+v", ok, got)
	}

	esc := ledger.EscalationRecord{EscalationID: "esc-1", InstructionID: "PAY-1", ArtifactID: "sha256:abc", Status: "pending", Channel: strPtr("treasury"), CreatedAt: "2025-12-20T00:00:01Z", UpdatedAt: "2025-12-20T00:00:01Z"}
	if err := s.PutEscalation(esc); err != nil {
		t.Fatalf("put escalation: %v", err)
	}
	resolved := esc
	resolved.Status = "approved"
	resolved.Channel = nil
	resolved.ResolvedBy = strPtr("ops@bank")
	resolved.ResolvedAt = strPtr("2025-12-20T00:05:00Z")
	resolved.UpdatedAt = "2025-12-20T00:05:00Z"
	if err := s.PutEscalation(resolved); err != nil {
		t.Fatalf("resolve escalation: %v", err)
	}
	got, ok := s.GetEscalationByInstruction("PAY-1")
	if !ok || got.Status != "approved" || got.Channel == nil || *got.Channel != "treasury" {
		t.Fatalf("escalation mismatch: ok=%v got=%+v", ok, got)
	}

	outbox := ledger.OutboxRecord{
		NotificationID: "n1",
		EscalationID:   "esc-1",
		Channel:        "treasury",
		MessageJSON:    []byte(`{"escalation_id":"esc-1"}`),
		Status:         "pending",
		NextAttemptAt:  "2025-12-20T00:00:00Z",
		CreatedAt:      "2025-12-20T00:00:00Z",
		UpdatedAt:      "2025-12-20T00:00:00Z",
	}
	if err := s.PutOutbox(outbox); err != nil {
		t.Fatalf("put outbox: %v", err)
	}
	if due, err := s.ListOutboxDue("2025-12-20T00:00:01Z", 10); err != nil || len(due) != 1 {
		t.Fatalf("list due mismatch: err=%v len=%d", err, len(due))
	}
	outbox.Status = "sent"
	outbox.AttemptCount = 1
	outbox.SentAt = strPtr("2025-12-20T00:00:02Z")
	if err := s.PutOutbox(outbox); err != nil {
		t.Fatalf("update outbox: %v", err)
	}
	if got, ok := s.GetOutbox("n1"); !ok || got.Status != "sent" || got.AttemptCount != 1 {
		t.Fatalf("get outbox mismatch: ok=%v got=%+v", ok, got)
	}
	if due, err := s.ListOutboxDue("2025-12-20T00:10:00Z", 0); err != nil || len(due) != 0 {
		t.Fatalf("expected nothing due: err=%v len=%d", err, len(due))
	}
}

func TestWithTxRollback(t *testing.T) {
	s := openTestStore(t)

	boom := errors.New("boom")
	err := s.WithTx(func(tx ledger.Tx) error {
		if err := tx.PutDeposit(ledger.DepositRecord{TokenID: "TKN-9", Owner: "BANK_A", Amount: "1", Currency: "USD", Status: "ACTIVE", Seq: 9, CreatedAt: "now", UpdatedAt: "now"}); err != nil {
			return err
		}
		if _, ok := tx.GetDeposit("TKN-9"); !ok {
			t.Fatalf("expected deposit visible inside tx")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := s.GetDeposit("TKN-9"); ok {
		t.Fatalf("expected rollback")
	}
}

func TestEscalationRequiresDecision(t *testing.T) {
	s := openTestStore(t)

	err := s.PutEscalation(ledger.EscalationRecord{EscalationID: "esc-x", InstructionID: "PAY-X", ArtifactID: "sha256:missing", Status: "pending", CreatedAt: "now", UpdatedAt: "now"})
	if err == nil {
		t.Fatalf("expected foreign key violation")
	}
}

func TestMissingIDsRejected(t *testing.T) {
	s := openTestStore(t)

	if err := s.PutDeposit(ledger.DepositRecord{}); err == nil {
		t.Fatalf("expected missing token_id error")
	}
	if err := s.PutSettlement(ledger.SettlementRecord{}); err == nil {
		t.Fatalf("expected missing settlement_id error")
	}
}
