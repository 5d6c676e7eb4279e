package bootstrap

import (
	"bytes"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/internal/config"
	"github.com/davidahmann/liqueflow/pkg/types"
)

var fixedNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func testOptions(buf *bytes.Buffer) Options {
	return Options{Logger: log.New(buf, "", 0), Now: func() time.Time { return fixedNow }}
}

func TestBuildInMemory(t *testing.T) {
	cfg := config.Default()
	cfg.InitialBalance = decimal.NewFromInt(200_000_000)

	rt, err := Build(cfg, testOptions(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer rt.Close()

	if rt.Engine.AtomicMode() {
		t.Fatalf("expected balance-only mode")
	}
	if rt.Poster != nil {
		t.Fatalf("expected no poster when escalation is disabled")
	}
	if _, ok := rt.Store.GetPolicyVersion(rt.Policy.Hash); !ok {
		t.Fatalf("expected policy version %s to be stored", rt.Policy.Hash)
	}
	snap := rt.InitialSnapshot()
	if !snap.Balance.Equal(cfg.InitialBalance) {
		t.Fatalf("snapshot balance mismatch: got=%s", snap.Balance)
	}

	step, _, err := rt.Runner.Step(types.PaymentInstruction{
		ID: "PAY-1", Amount: decimal.NewFromInt(1_000), Currency: "USD", Priority: types.PriorityNormal, CreatedAt: fixedNow,
	}, snap)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if step.Result.PolicyHash != rt.Policy.Hash {
		t.Fatalf("policy hash mismatch: got=%s want=%s", step.Result.PolicyHash, rt.Policy.Hash)
	}
}

func TestBuildAtomicSQLiteSeedsOnce(t *testing.T) {
	cfg := config.Default()
	cfg.InitialBalance = decimal.NewFromInt(500)
	cfg.Ledger.AtomicSettlement = true
	cfg.DB = config.DBConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "liqueflow.db")}
	cfg.PolicyPath = filepath.Join("..", "..", "policies", "liqueflow.yaml")

	logs := &bytes.Buffer{}
	rt, err := Build(cfg, testOptions(logs))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !rt.Engine.AtomicMode() {
		t.Fatalf("expected atomic mode")
	}
	if got := rt.Ledger.Balance(cfg.BankID); !got.Equal(cfg.InitialBalance) {
		t.Fatalf("seed balance mismatch: got=%s", got)
	}
	if !bytes.Contains(logs.Bytes(), []byte("ledger_seeded owner=BANK_A")) {
		t.Fatalf("expected seed log line, got %q", logs.String())
	}

	_, _, err = rt.Runner.Step(types.PaymentInstruction{
		ID: "PAY-1", Amount: decimal.NewFromInt(120), Currency: "USD", Priority: types.PriorityUrgent, CreatedAt: fixedNow,
	}, rt.InitialSnapshot())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Build(cfg, testOptions(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Ledger.Balance(cfg.BankID); !got.Equal(decimal.NewFromInt(380)) {
		t.Fatalf("expected reopened bank balance 380, got %s", got)
	}
	if got := reopened.Ledger.Balance(cfg.CounterpartyAccount); !got.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("expected counterparty balance 120, got %s", got)
	}
	if snap := reopened.InitialSnapshot(); !snap.Balance.Equal(decimal.NewFromInt(380)) {
		t.Fatalf("snapshot should follow the ledger, got %s", snap.Balance)
	}
}

func TestBuildWithEscalationPoster(t *testing.T) {
	cfg := config.Default()
	cfg.Escalation.Enabled = true
	cfg.Escalation.WebhookURL = "http://127.0.0.1:1/hook"

	rt, err := Build(cfg, testOptions(&bytes.Buffer{}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if rt.Poster == nil {
		t.Fatalf("expected webhook poster")
	}
}

func TestBuildErrors(t *testing.T) {
	cfg := config.Default()
	cfg.PolicyPath = "missing.yaml"
	if _, err := Build(cfg, Options{}); err == nil {
		t.Fatalf("expected policy load error")
	}

	if _, _, err := OpenStore(config.DBConfig{Driver: "mysql"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}
