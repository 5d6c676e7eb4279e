package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "github.com/lib/pq"

	"github.com/davidahmann/liqueflow/internal/ledger"
)

const (
	depositSelect    = `SELECT token_id, owner, amount::text, currency, status, seq, created_at::text, updated_at::text FROM liqueflow_deposits`
	settlementSelect = `SELECT settlement_id, from_account, to_account, amount::text, currency, status, failure_reason, instruction_ref, instruction_hash, created_at::text, executed_at::text FROM liqueflow_settlements`
	decisionSelect   = `SELECT artifact_id, instruction_id, policy_hash, decision, body_json::text, created_at::text FROM liqueflow_decisions`
	escalationSelect = `SELECT escalation_id, instruction_id, artifact_id, status, channel, resolved_by, resolved_at::text, created_at::text, updated_at::text FROM liqueflow_escalations`
	outboxSelect     = `SELECT notification_id, escalation_id, channel, message_json::text, status, attempt_count, next_attempt_at::text, last_error, sent_at::text, created_at::text, updated_at::text FROM liqueflow_escalation_outbox`
)

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) WithTx(fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(&Tx{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) reader() *Tx { return &Tx{q: s.db} }

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
	rows, err := s.db.Query(depositSelect + ` ORDER BY created_at ASC, seq ASC`)
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
	rows, err := s.db.Query(settlementSelect + ` ORDER BY created_at ASC, settlement_id ASC`)
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
	rows, err := s.db.Query(`SELECT seq, kind, body_json::text, created_at::text FROM liqueflow_instruction_log ORDER BY seq ASC`)
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
	rows, err := s.db.Query(outboxSelect+`
WHERE status = 'pending' AND next_attempt_at <= $1::timestamptz
ORDER BY created_at ASC
LIMIT $2`, now, limit)
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

type Tx struct {
	q querier
}

func (t *Tx) PutDeposit(rec ledger.DepositRecord) error {
	if rec.TokenID == "" {
		return errors.New("missing token_id")
	}
	_, err := t.q.Exec(`INSERT INTO liqueflow_deposits(token_id, owner, amount, currency, status, seq, created_at, updated_at)
VALUES($1,$2,$3::numeric,$4,$5,$6,$7::timestamptz,$8::timestamptz)
ON CONFLICT(token_id) DO UPDATE SET
  status=EXCLUDED.status,
  updated_at=EXCLUDED.updated_at`,
		rec.TokenID, rec.Owner, rec.Amount, rec.Currency, rec.Status, rec.Seq, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func (t *Tx) GetDeposit(tokenID string) (ledger.DepositRecord, bool) {
	rec, err := scanDeposit(t.q.QueryRow(depositSelect+` WHERE token_id = $1`, tokenID))
	if err != nil {
		return ledger.DepositRecord{}, false
	}
	return rec, true
}

func (t *Tx) PutSettlement(rec ledger.SettlementRecord) error {
	if rec.SettlementID == "" {
		return errors.New("missing settlement_id")
	}
	_, err := t.q.Exec(`INSERT INTO liqueflow_settlements(settlement_id, from_account, to_account, amount, currency, status, failure_reason, instruction_ref, instruction_hash, created_at, executed_at)
VALUES($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9,$10::timestamptz,$11::timestamptz)
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
	rec, err := scanSettlement(t.q.QueryRow(settlementSelect+` WHERE settlement_id = $1`, settlementID))
	if err != nil {
		return ledger.SettlementRecord{}, false
	}
	return rec, true
}

func (t *Tx) AppendInstruction(rec ledger.InstructionRecord) error {
	if !json.Valid(rec.BodyJSON) {
		return errors.New("invalid body_json")
	}
	_, err := t.q.Exec(`INSERT INTO liqueflow_instruction_log(seq, kind, body_json, created_at) VALUES($1,$2,$3::jsonb,$4::timestamptz) ON CONFLICT(seq) DO NOTHING`,
		rec.Seq, rec.Kind, string(rec.BodyJSON), rec.CreatedAt,
	)
	return err
}

func (t *Tx) PutPolicyVersion(policy ledger.PolicyVersionRecord) error {
	_, err := t.q.Exec(`INSERT INTO liqueflow_policy_versions(policy_hash, policy_id, policy_version, policy_yaml, created_at)
VALUES($1,$2,$3,$4,$5::timestamptz)
ON CONFLICT(policy_hash) DO NOTHING`,
		policy.PolicyHash, policy.PolicyID, policy.PolicyVersion, policy.PolicyYAML, policy.CreatedAt,
	)
	return err
}

func (t *Tx) GetPolicyVersion(policyHash string) (ledger.PolicyVersionRecord, bool) {
	var rec ledger.PolicyVersionRecord
	row := t.q.QueryRow(`SELECT policy_hash, policy_id, policy_version, policy_yaml, created_at::text FROM liqueflow_policy_versions WHERE policy_hash = $1`, policyHash)
	if err := row.Scan(&rec.PolicyHash, &rec.PolicyID, &rec.PolicyVersion, &rec.PolicyYAML, &rec.CreatedAt); err != nil {
		return ledger.PolicyVersionRecord{}, false
	}
	return rec, true
}

func (t *Tx) PutDecision(decision ledger.DecisionRecord) error {
	if !json.Valid(decision.BodyJSON) {
		return errors.New("invalid body_json")
	}
	_, err := t.q.Exec(`INSERT INTO liqueflow_decisions(artifact_id, instruction_id, policy_hash, decision, body_json, created_at)
VALUES($1,$2,$3,$4,$5::jsonb,$6::timestamptz)
ON CONFLICT(artifact_id) DO NOTHING`,
		decision.ArtifactID, decision.InstructionID, decision.PolicyHash, decision.Decision, string(decision.BodyJSON), decision.CreatedAt,
	)
	return err
}

func (t *Tx) GetDecision(artifactID string) (ledger.DecisionRecord, bool) {
	rec, err := scanDecision(t.q.QueryRow(decisionSelect+` WHERE artifact_id = $1`, artifactID))
	if err != nil {
		return ledger.DecisionRecord{}, false
	}
	return rec, true
}

func (t *Tx) GetDecisionByInstruction(instructionID string) (ledger.DecisionRecord, bool) {
	rec, err := scanDecision(t.q.QueryRow(decisionSelect+` WHERE instruction_id = $1 ORDER BY created_at DESC LIMIT 1`, instructionID))
	if err != nil {
		return ledger.DecisionRecord{}, false
	}
	return rec, true
}

func (t *Tx) PutEscalation(esc ledger.EscalationRecord) error {
	_, err := t.q.Exec(`INSERT INTO liqueflow_escalations(escalation_id, instruction_id, artifact_id, status, channel, resolved_by, resolved_at, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7::timestamptz,$8::timestamptz,$9::timestamptz)
ON CONFLICT(escalation_id) DO UPDATE SET
  status=EXCLUDED.status,
  channel=COALESCE(EXCLUDED.channel, liqueflow_escalations.channel),
  resolved_by=COALESCE(EXCLUDED.resolved_by, liqueflow_escalations.resolved_by),
  resolved_at=COALESCE(EXCLUDED.resolved_at, liqueflow_escalations.resolved_at),
  updated_at=EXCLUDED.updated_at`,
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
	rec, err := scanEscalation(t.q.QueryRow(escalationSelect+` WHERE escalation_id = $1`, escalationID))
	if err != nil {
		return ledger.EscalationRecord{}, false
	}
	return rec, true
}

func (t *Tx) GetEscalationByInstruction(instructionID string) (ledger.EscalationRecord, bool) {
	rec, err := scanEscalation(t.q.QueryRow(escalationSelect+` WHERE instruction_id = $1 ORDER BY created_at DESC LIMIT 1`, instructionID))
	if err != nil {
		return ledger.EscalationRecord{}, false
	}
	return rec, true
}

func (t *Tx) PutOutbox(rec ledger.OutboxRecord) error {
	if !json.Valid(rec.MessageJSON) {
		return errors.New("invalid message_json")
	}
	_, err := t.q.Exec(`INSERT INTO liqueflow_escalation_outbox(notification_id, escalation_id, channel, message_json, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at)
VALUES($1,$2,$3,$4::jsonb,$5,$6,$7::timestamptz,$8,$9::timestamptz,$10::timestamptz,$11::timestamptz)
ON CONFLICT(notification_id) DO UPDATE SET
  status=EXCLUDED.status,
  attempt_count=EXCLUDED.attempt_count,
  next_attempt_at=EXCLUDED.next_attempt_at,
  last_error=EXCLUDED.last_error,
  sent_at=EXCLUDED.sent_at,
  updated_at=EXCLUDED.updated_at`,
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
	rec, err := scanOutbox(t.q.QueryRow(outboxSelect+` WHERE notification_id = $1`, notificationID))
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
