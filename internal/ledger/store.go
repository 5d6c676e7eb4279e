package ledger

// Tx is the set of record operations available inside a single transaction.
type Tx interface {
	PutDeposit(rec DepositRecord) error
	GetDeposit(tokenID string) (DepositRecord, bool)

	PutSettlement(rec SettlementRecord) error
	GetSettlement(settlementID string) (SettlementRecord, bool)

	AppendInstruction(rec InstructionRecord) error

	PutPolicyVersion(policy PolicyVersionRecord) error
	GetPolicyVersion(policyHash string) (PolicyVersionRecord, bool)

	PutDecision(decision DecisionRecord) error
	GetDecision(artifactID string) (DecisionRecord, bool)
	GetDecisionByInstruction(instructionID string) (DecisionRecord, bool)

	PutEscalation(esc EscalationRecord) error
	GetEscalation(escalationID string) (EscalationRecord, bool)
	GetEscalationByInstruction(instructionID string) (EscalationRecord, bool)

	PutOutbox(rec OutboxRecord) error
	GetOutbox(notificationID string) (OutboxRecord, bool)
}

// Store persists ledger state. Single-record Put calls on a Store run in their own transaction.
type Store interface {
	Tx

	WithTx(fn func(Tx) error) error

	ListDeposits() ([]DepositRecord, error)
	ListSettlements() ([]SettlementRecord, error)
	ListInstructions() ([]InstructionRecord, error)
	ListOutboxDue(now string, limit int) ([]OutboxRecord, error)
}

type DepositRecord struct {
	TokenID   string
	Owner     string
	Amount    string
	Currency  string
	Status    string // ACTIVE | BURNED
	Seq       int64
	CreatedAt string
	UpdatedAt string
}

type SettlementRecord struct {
	SettlementID    string
	FromAccount     string
	ToAccount       string
	Amount          string
	Currency        string
	Status          string // EXECUTED | FAILED
	FailureReason   *string
	InstructionRef  *string
	InstructionHash *string
	CreatedAt       string
	ExecutedAt      *string
}

// InstructionRecord is one entry of the append-only ledger instruction log.
type InstructionRecord struct {
	Seq       int64
	Kind      string // MINT | BURN | ATOMIC_SETTLEMENT
	BodyJSON  []byte
	CreatedAt string
}

type PolicyVersionRecord struct {
	PolicyHash    string
	PolicyID      string
	PolicyVersion string
	PolicyYAML    string
	CreatedAt     string
}

type DecisionRecord struct {
	ArtifactID    string
	InstructionID string
	PolicyHash    string
	Decision      string
	BodyJSON      []byte
	CreatedAt     string
}

type EscalationRecord struct {
	EscalationID  string
	InstructionID string
	ArtifactID    string
	Status        string // pending | approved | rejected
	Channel       *string
	ResolvedBy    *string
	ResolvedAt    *string
	CreatedAt     string
	UpdatedAt     string
}

type OutboxRecord struct {
	NotificationID string
	EscalationID   string
	Channel        string
	MessageJSON    []byte
	Status         string // pending | sent
	AttemptCount   int
	NextAttemptAt  string
	LastError      *string
	SentAt         *string
	CreatedAt      string
	UpdatedAt      string
}
