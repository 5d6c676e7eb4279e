package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/liqueflow/internal/ledger"
)

const (
	depositColumns    = `token_id, owner, amount, currency, status, seq, created_at, updated_at`
	settlementColumns = `settlement_id, from_account, to_account, amount, currency, status, failure_reason, instruction_ref, instruction_hash, created_at, executed_at`
	decisionColumns   = `artifact_id, instruction_id, policy_hash, decision, body_json, created_at`
	escalationColumns = `escalation_id, instruction_id, artifact_id, status, channel, resolved_by, resolved_at, created_at, updated_at`
	outboxColumns     = `notification_id, escalation_id, channel, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at`
)

type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) WithTx(fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := fn(&Tx{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) reader() *Tx {
	return &Tx{q: s.db}
}

func (s *Store) PutDeposit(rec ledger.DepositRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutDeposit(rec) })
}

func (s *Store) GetDeposit(tokenID string) (ledger.DepositRecord, bool) {
	return s.reader().GetDeposit(tokenID)
}

func (s *Store) PutSettlement(rec ledger.SettlementRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutSettlement(rec) })
}

func (s *Store) GetSettlement(settlementID string) (ledger.SettlementRecord, bool) {
	return s.reader().GetSettlement(settlementID)
}

func (s *Store) AppendInstruction(rec ledger.InstructionRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.AppendInstruction(rec) })
}

func (s *Store) PutPolicyVersion(policy ledger.PolicyVersionRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutPolicyVersion(policy) })
}

func (s *Store) GetPolicyVersion(policyHash string) (ledger.PolicyVersionRecord, bool) {
	return s.reader().GetPolicyVersion(policyHash)
}

func (s *Store) PutDecision(decision ledger.DecisionRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutDecision(decision) })
}

func (s *Store) GetDecision(artifactID string) (ledger.DecisionRecord, bool) {
	return s.reader().GetDecision(artifactID)
}

func (s *Store) GetDecisionByInstruction(instructionID string) (ledger.DecisionRecord, bool) {
	return s.reader().GetDecisionByInstruction(instructionID)
}

func (s *Store) PutEscalation(esc ledger.EscalationRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutEscalation(esc) })
}

func (s *Store) GetEscalation(escalationID string) (ledger.EscalationRecord, bool) {
	return s.reader().GetEscalation(escalationID)
}

func (s *Store) GetEscalationByInstruction(instructionID string) (ledger.EscalationRecord, bool) {
	return s.reader().GetEscalationByInstruction(instructionID)
}

func (s *Store) PutOutbox(rec ledger.OutboxRecord) error {
	return s.WithTx(func(tx ledger.Tx) error { return tx.PutOutbox(rec) })
}

func (s *Store) GetOutbox(notificationID string) (ledger.OutboxRecord, bool) {
	return s.reader().GetOutbox(notificationID)
}

func (s *Store) ListDeposits() ([]ledger.DepositRecord, error) {
	rows, err := s.db.Query(`SELECT ` + depositColumns + ` FROM deposits ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.DepositRecord{}
	for rows.Next() {
		rec, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListSettlements() ([]ledger.SettlementRecord, error) {
	rows, err := s.db.Query(`SELECT ` + settlementColumns + ` FROM settlements ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.SettlementRecord{}
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListInstructions() ([]ledger.InstructionRecord, error) {
	rows, err := s.db.Query(`SELECT seq, kind, body_json, created_at FROM instruction_log ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.InstructionRecord{}
	for rows.Next() {
		var rec ledger.InstructionRecord
		var body string
		if err := rows.Scan(&rec.Seq, &rec.Kind, &body, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.BodyJSON = []byte(body)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListOutboxDue(now string, limit int) ([]ledger.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+outboxColumns+`
FROM escalation_outbox
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY created_at ASC
LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.OutboxRecord{}
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Tx runs statements against either an open transaction or, for reads, the bare pool.
type Tx struct {
	q querier
}

func (t *Tx) PutDeposit(rec ledger.DepositRecord) error {
	if rec.TokenID == "" {
		return fmt.Errorf("missing token_id")
	}
	_, err := t.q.Exec(`INSERT INTO deposits(`+depositColumns+`)
VALUES(?,?,?,?,?,?,?,?)
ON CONFLICT(token_id) DO UPDATE SET
  status=excluded.status,
  updated_at=excluded.updated_at`,
		rec.TokenID,
		rec.Owner,
		rec.Amount,
		rec.Currency,
		rec.Status,
		rec.Seq,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

func (t *Tx) GetDeposit(tokenID string) (ledger.DepositRecord, bool) {
	rec, err := scanDeposit(t.q.QueryRow(`SELECT `+depositColumns+` FROM deposits WHERE token_id = ?`, tokenID))
	if err != nil {
		return ledger.DepositRecord{}, false
	}
	return rec, true
}

func (t *Tx) PutSettlement(rec ledger.SettlementRecord) error {
	if rec.SettlementID == "" {
		return fmt.Errorf("missing settlement_id")
	}
	_, err := t.q.Exec(`INSERT INTO settlements(`+settlementColumns+`)
VALUES(?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(settlement_id) DO NOTHING`,
		rec.SettlementID,
		rec.FromAccount,
		rec.ToAccount,
		rec.Amount,
		rec.Currency,
		rec.Status,
		rec.FailureReason,
		rec.InstructionRef,
		rec.InstructionHash,
		rec.CreatedAt,
		rec.ExecutedAt,
	)
	return err
}

func (t *Tx) GetSettlement(settlementID string) (ledger.SettlementRecord, bool) {
	rec, err := scanSettlement(t.q.QueryRow(`SELECT `+settlementColumns+` FROM settlements WHERE settlement_id = ?`, settlementID))
	if err != nil {
		return ledger.SettlementRecord{}, false
	}
	return rec, true
}

func (t *Tx) AppendInstruction(rec ledger.InstructionRecord) error {
	_, err := t.q.Exec(`INSERT INTO instruction_log(seq, kind, body_json, created_at) VALUES(?,?,?,?) ON CONFLICT(seq) DO NOTHING`,
		rec.Seq, rec.Kind, string(rec.BodyJSON), rec.CreatedAt,
	)
	return err
}

func (t *Tx) PutPolicyVersion(policy ledger.PolicyVersionRecord) error {
	_, err := t.q.Exec(
		`INSERT INTO policy_versions(policy_hash, policy_id, policy_version, policy_yaml, created_at)
VALUES(?,?,?,?,?)
ON CONFLICT(policy_hash) DO NOTHING`,
		policy.PolicyHash, policy.PolicyID, policy.PolicyVersion, policy.PolicyYAML, policy.CreatedAt,
	)
	return err
}

func (t *Tx) GetPolicyVersion(policyHash string) (ledger.PolicyVersionRecord, bool) {
	var rec ledger.PolicyVersionRecord
	row := t.q.QueryRow(`SELECT policy_hash, policy_id, policy_version, policy_yaml, created_at FROM policy_versions WHERE policy_hash = ?`, policyHash)
	if err := row.Scan(&rec.PolicyHash, &rec.PolicyID, &rec.PolicyVersion, &rec.PolicyYAML, &rec.CreatedAt); err != nil {
		return ledger.PolicyVersionRecord{}, false
	}
	return rec, true
}

func (t *Tx) PutDecision(decision ledger.DecisionRecord) error {
	_, err := t.q.Exec(`INSERT INTO decisions(`+decisionColumns+`) VALUES(?,?,?,?,?,?) ON CONFLICT(artifact_id) DO NOTHING`,
		decision.ArtifactID, decision.InstructionID, decision.PolicyHash, decision.Decision, string(decision.BodyJSON), decision.CreatedAt,
	)
	return err
}

func (t *Tx) GetDecision(artifactID string) (ledger.DecisionRecord, bool) {
	rec, err := scanDecision(t.q.QueryRow(`SELECT `+decisionColumns+` FROM decisions WHERE artifact_id = ?`, artifactID))
	if err != nil {
		return ledger.DecisionRecord{}, false
	}
	return rec, true
}

func (t *Tx) GetDecisionByInstruction(instructionID string) (ledger.DecisionRecord, bool) {
	rec, err := scanDecision(t.q.QueryRow(`SELECT `+decisionColumns+` FROM decisions WHERE instruction_id = ? ORDER BY created_at DESC LIMIT 1`, instructionID))
	if err != nil {
		return ledger.DecisionRecord{}, false
	}
	return rec, true
}

func (t *Tx) PutEscalation(esc ledger.EscalationRecord) error {
	_, err := t.q.Exec(`INSERT INTO escalations(`+escalationColumns+`)
VALUES(?,?,?,?,?,?,?,?,?)
ON CONFLICT(escalation_id) DO UPDATE SET
  status=excluded.status,
  channel=COALESCE(excluded.channel, escalations.channel),
  resolved_by=COALESCE(excluded.resolved_by, escalations.resolved_by),
  resolved_at=COALESCE(excluded.resolved_at, escalations.resolved_at),
  updated_at=excluded.updated_at`,
		esc.EscalationID,
		esc.InstructionID,
		esc.ArtifactID,
		esc.Status,
		esc.Channel,
		esc.ResolvedBy,
		esc.ResolvedAt,
		esc.CreatedAt,
		esc.UpdatedAt,
	)
	return err
}

func (t *Tx) GetEscalation(escalationID string) (ledger.EscalationRecord, bool) {
	rec, err := scanEscalation(t.q.QueryRow(`SELECT `+escalationColumns+` FROM escalations WHERE escalation_id = ?`, escalationID))
	if err != nil {
		return ledger.EscalationRecord{}, false
	}
	return rec, true
}

func (t *Tx) GetEscalationByInstruction(instructionID string) (ledger.EscalationRecord, bool) {
	rec, err := scanEscalation(t.q.QueryRow(`SELECT `+escalationColumns+` FROM escalations WHERE instruction_id = ? ORDER BY created_at DESC LIMIT 1`, instructionID))
	if err != nil {
		return ledger.EscalationRecord{}, false
	}
	return rec, true
}

func (t *Tx) PutOutbox(rec ledger.OutboxRecord) error {
	_, err := t.q.Exec(
		`INSERT INTO escalation_outbox(`+outboxColumns+`)
VALUES(?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(notification_id) DO UPDATE SET
  status=excluded.status,
  attempt_count=excluded.attempt_count,
  next_attempt_at=excluded.next_attempt_at,
  last_error=excluded.last_error,
  sent_at=excluded.sent_at,
  updated_at=excluded.updated_at`,
		rec.NotificationID,
		rec.EscalationID,
		rec.Channel,
		string(rec.MessageJSON),
		rec.Status,
		rec.AttemptCount,
		rec.NextAttemptAt,
		rec.LastError,
		rec.SentAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

func (t *Tx) GetOutbox(notificationID string) (ledger.OutboxRecord, bool) {
	rec, err := scanOutbox(t.q.QueryRow(`SELECT `+outboxColumns+` FROM escalation_outbox WHERE notification_id = ?`, notificationID))
	if err != nil {
		return ledger.OutboxRecord{}, false
	}
	return rec, true
}

func scanDeposit(row scanner) (ledger.DepositRecord, error) {
	var rec ledger.DepositRecord
	err := row.Scan(&rec.TokenID, &rec.Owner, &rec.Amount, &rec.Currency, &rec.Status, &rec.Seq, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func scanSettlement(row scanner) (ledger.SettlementRecord, error) {
	var rec ledger.SettlementRecord
	err := row.Scan(
		&rec.SettlementID,
		&rec.FromAccount,
		&rec.ToAccount,
		&rec.Amount,
		&rec.Currency,
		&rec.Status,
		&rec.FailureReason,
		&rec.InstructionRef,
		&rec.InstructionHash,
		&rec.CreatedAt,
		&rec.ExecutedAt,
	)
	return rec, err
}

func scanDecision(row scanner) (ledger.DecisionRecord, error) {
	var rec ledger.DecisionRecord
	var body string
	if err := row.Scan(&rec.ArtifactID, &rec.InstructionID, &rec.PolicyHash, &rec.Decision, &body, &rec.CreatedAt); err != nil {
		return ledger.DecisionRecord{}, err
	}
	rec.BodyJSON = []byte(body)
	return rec, nil
}

func scanEscalation(row scanner) (ledger.EscalationRecord, error) {
	var rec ledger.EscalationRecord
	err := row.Scan(&rec.EscalationID, &rec.InstructionID, &rec.ArtifactID, &rec.Status, &rec.Channel, &rec.ResolvedBy, &rec.ResolvedAt, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

func scanOutbox(row scanner) (ledger.OutboxRecord, error) {
	var rec ledger.OutboxRecord
	var msg string
	if err := row.Scan(&rec.NotificationID, &rec.EscalationID, &rec.Channel, &msg, &rec.Status, &rec.AttemptCount, &rec.NextAttemptAt, &rec.LastError, &rec.SentAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ledger.OutboxRecord{}, err
	}
	rec.MessageJSON = []byte(msg)
	return rec, nil
}
