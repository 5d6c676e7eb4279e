package ledger

import (
	"sort"
	"sync"
)

// InMemoryStore keeps records in maps. Writes made inside WithTx become visible only when fn returns nil.
type InMemoryStore struct {
	mu sync.Mutex

	deposits       map[string]DepositRecord
	settlements    map[string]SettlementRecord
	settlementSeq  []string
	instructions   []InstructionRecord
	instructionSet map[int64]struct{}
	policies       map[string]PolicyVersionRecord
	decisions      map[string]DecisionRecord
	escalations    map[string]EscalationRecord
	outbox         map[string]OutboxRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		deposits:       make(map[string]DepositRecord),
		settlements:    make(map[string]SettlementRecord),
		instructionSet: make(map[int64]struct{}),
		policies:       make(map[string]PolicyVersionRecord),
		decisions:      make(map[string]DecisionRecord),
		escalations:    make(map[string]EscalationRecord),
		outbox:         make(map[string]OutboxRecord),
	}
}

func (s *InMemoryStore) WithTx(fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := newMemTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *InMemoryStore) PutDeposit(rec DepositRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutDeposit(rec) })
}

func (s *InMemoryStore) GetDeposit(tokenID string) (DepositRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.deposits[tokenID]
	return rec, ok
}

func (s *InMemoryStore) PutSettlement(rec SettlementRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutSettlement(rec) })
}

func (s *InMemoryStore) GetSettlement(settlementID string) (SettlementRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.settlements[settlementID]
	return rec, ok
}

func (s *InMemoryStore) AppendInstruction(rec InstructionRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.AppendInstruction(rec) })
}

func (s *InMemoryStore) PutPolicyVersion(policy PolicyVersionRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutPolicyVersion(policy) })
}

func (s *InMemoryStore) GetPolicyVersion(policyHash string) (PolicyVersionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	policy, ok := s.policies[policyHash]
	return policy, ok
}

func (s *InMemoryStore) PutDecision(decision DecisionRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutDecision(decision) })
}

func (s *InMemoryStore) GetDecision(artifactID string) (DecisionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	decision, ok := s.decisions[artifactID]
	return decision, ok
}

func (s *InMemoryStore) GetDecisionByInstruction(instructionID string) (DecisionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findDecision(s.decisions, instructionID)
}

func (s *InMemoryStore) PutEscalation(esc EscalationRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutEscalation(esc) })
}

func (s *InMemoryStore) GetEscalation(escalationID string) (EscalationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	esc, ok := s.escalations[escalationID]
	return esc, ok
}

func (s *InMemoryStore) GetEscalationByInstruction(instructionID string) (EscalationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findEscalation(s.escalations, instructionID)
}

func (s *InMemoryStore) PutOutbox(rec OutboxRecord) error {
	return s.WithTx(func(tx Tx) error { return tx.PutOutbox(rec) })
}

func (s *InMemoryStore) GetOutbox(notificationID string) (OutboxRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[notificationID]
	return rec, ok
}

func (s *InMemoryStore) ListDeposits() ([]DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DepositRecord, 0, len(s.deposits))
	for _, rec := range s.deposits {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *InMemoryStore) ListSettlements() ([]SettlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SettlementRecord, 0, len(s.settlementSeq))
	for _, id := range s.settlementSeq {
		out = append(out, s.settlements[id])
	}
	return out, nil
}

func (s *InMemoryStore) ListInstructions() ([]InstructionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InstructionRecord, len(s.instructions))
	copy(out, s.instructions)
	return out, nil
}

func (s *InMemoryStore) ListOutboxDue(now string, limit int) ([]OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []OutboxRecord{}
	for _, rec := range s.outbox {
		if rec.Status != "pending" {
			continue
		}
		if rec.NextAttemptAt > now {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func findDecision(decisions map[string]DecisionRecord, instructionID string) (DecisionRecord, bool) {
	for _, decision := range decisions {
		if decision.InstructionID == instructionID {
			return decision, true
		}
	}
	return DecisionRecord{}, false
}

func findEscalation(escalations map[string]EscalationRecord, instructionID string) (EscalationRecord, bool) {
	for _, esc := range escalations {
		if esc.InstructionID == instructionID {
			return esc, true
		}
	}
	return EscalationRecord{}, false
}

// memTx overlays pending writes on the store; commit folds them in.
type memTx struct {
	s *InMemoryStore

	deposits     map[string]DepositRecord
	settlements  map[string]SettlementRecord
	settleOrder  []string
	instructions []InstructionRecord
	policies     map[string]PolicyVersionRecord
	decisions    map[string]DecisionRecord
	escalations  map[string]EscalationRecord
	outbox       map[string]OutboxRecord
}

func newMemTx(s *InMemoryStore) *memTx {
	return &memTx{
		s:           s,
		deposits:    make(map[string]DepositRecord),
		settlements: make(map[string]SettlementRecord),
		policies:    make(map[string]PolicyVersionRecord),
		decisions:   make(map[string]DecisionRecord),
		escalations: make(map[string]EscalationRecord),
		outbox:      make(map[string]OutboxRecord),
	}
}

func (t *memTx) commit() {
	s := t.s
	for k, v := range t.deposits {
		s.deposits[k] = v
	}
	for _, id := range t.settleOrder {
		s.settlements[id] = t.settlements[id]
		s.settlementSeq = append(s.settlementSeq, id)
	}
	for _, rec := range t.instructions {
		s.instructions = append(s.instructions, rec)
		s.instructionSet[rec.Seq] = struct{}{}
	}
	for k, v := range t.policies {
		s.policies[k] = v
	}
	for k, v := range t.decisions {
		s.decisions[k] = v
	}
	for k, v := range t.escalations {
		s.escalations[k] = v
	}
	for k, v := range t.outbox {
		s.outbox[k] = v
	}
}

func (t *memTx) PutDeposit(rec DepositRecord) error {
	t.deposits[rec.TokenID] = rec
	return nil
}

func (t *memTx) GetDeposit(tokenID string) (DepositRecord, bool) {
	if rec, ok := t.deposits[tokenID]; ok {
		return rec, true
	}
	rec, ok := t.s.deposits[tokenID]
	return rec, ok
}

// PutSettlement ignores a settlement id that already exists; terminal records are immutable.
func (t *memTx) PutSettlement(rec SettlementRecord) error {
	if _, ok := t.GetSettlement(rec.SettlementID); ok {
		return nil
	}
	t.settlements[rec.SettlementID] = rec
	t.settleOrder = append(t.settleOrder, rec.SettlementID)
	return nil
}

func (t *memTx) GetSettlement(settlementID string) (SettlementRecord, bool) {
	if rec, ok := t.settlements[settlementID]; ok {
		return rec, true
	}
	rec, ok := t.s.settlements[settlementID]
	return rec, ok
}

func (t *memTx) AppendInstruction(rec InstructionRecord) error {
	if _, ok := t.s.instructionSet[rec.Seq]; ok {
		return nil
	}
	for _, pending := range t.instructions {
		if pending.Seq == rec.Seq {
			return nil
		}
	}
	t.instructions = append(t.instructions, rec)
	return nil
}

func (t *memTx) PutPolicyVersion(policy PolicyVersionRecord) error {
	if _, ok := t.GetPolicyVersion(policy.PolicyHash); ok {
		return nil
	}
	t.policies[policy.PolicyHash] = policy
	return nil
}

func (t *memTx) GetPolicyVersion(policyHash string) (PolicyVersionRecord, bool) {
	if policy, ok := t.policies[policyHash]; ok {
		return policy, true
	}
	policy, ok := t.s.policies[policyHash]
	return policy, ok
}

func (t *memTx) PutDecision(decision DecisionRecord) error {
	if _, ok := t.GetDecision(decision.ArtifactID); ok {
		return nil
	}
	t.decisions[decision.ArtifactID] = decision
	return nil
}

func (t *memTx) GetDecision(artifactID string) (DecisionRecord, bool) {
	if decision, ok := t.decisions[artifactID]; ok {
		return decision, true
	}
	decision, ok := t.s.decisions[artifactID]
	return decision, ok
}

func (t *memTx) GetDecisionByInstruction(instructionID string) (DecisionRecord, bool) {
	if decision, ok := findDecision(t.decisions, instructionID); ok {
		return decision, true
	}
	return findDecision(t.s.decisions, instructionID)
}

func (t *memTx) PutEscalation(esc EscalationRecord) error {
	t.escalations[esc.EscalationID] = esc
	return nil
}

func (t *memTx) GetEscalation(escalationID string) (EscalationRecord, bool) {
	if esc, ok := t.escalations[escalationID]; ok {
		return esc, true
	}
	esc, ok := t.s.escalations[escalationID]
	return esc, ok
}

func (t *memTx) GetEscalationByInstruction(instructionID string) (EscalationRecord, bool) {
	if esc, ok := findEscalation(t.escalations, instructionID); ok {
		return esc, true
	}
	return findEscalation(t.s.escalations, instructionID)
}

func (t *memTx) PutOutbox(rec OutboxRecord) error {
	t.outbox[rec.NotificationID] = rec
	return nil
}

func (t *memTx) GetOutbox(notificationID string) (OutboxRecord, bool) {
	if rec, ok := t.outbox[notificationID]; ok {
		return rec, true
	}
	rec, ok := t.s.outbox[notificationID]
	return rec, ok
}
