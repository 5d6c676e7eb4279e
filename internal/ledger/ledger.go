package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidahmann/liqueflow/internal/crypto"
	"github.com/davidahmann/liqueflow/internal/money"
	"github.com/davidahmann/liqueflow/pkg/types"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrMissingAccount    = errors.New("account is required")
	ErrInsufficientFunds = errors.New("insufficient active balance")
	ErrConservation      = errors.New("ledger conservation violated")
)

const (
	KindMint              = "MINT"
	KindBurn              = "BURN"
	KindAtomicSettlement  = "ATOMIC_SETTLEMENT"
	DefaultLedgerCurrency = "USD"
)

type deposit struct {
	types.TokenizedDeposit
	seq int64
}

// UnifiedLedger holds tokenized deposits per account. Every mutation is written to the Store in
// one transaction and only becomes visible in memory after that transaction commits.
type UnifiedLedger struct {
	mu sync.Mutex

	store    Store
	now      func() time.Time
	newID    func() string
	currency string

	deposits    map[string]deposit
	balances    map[string]decimal.Decimal
	settlements []types.AtomicSettlement
	depositSeq  int64
	logSeq      int64
}

type Option func(*UnifiedLedger)

func WithStore(store Store) Option {
	return func(l *UnifiedLedger) { l.store = store }
}

func WithClock(now func() time.Time) Option {
	return func(l *UnifiedLedger) { l.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(l *UnifiedLedger) { l.newID = fn }
}

func WithCurrency(currency string) Option {
	return func(l *UnifiedLedger) { l.currency = currency }
}

func NewUnifiedLedger(opts ...Option) *UnifiedLedger {
	l := &UnifiedLedger{
		store:    NewInMemoryStore(),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		currency: DefaultLedgerCurrency,
		deposits: make(map[string]deposit),
		balances: make(map[string]decimal.Decimal),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load rebuilds a ledger from the deposits, settlements and instruction log held in store.
func Load(store Store, opts ...Option) (*UnifiedLedger, error) {
	l := NewUnifiedLedger(append(opts, WithStore(store))...)

	deposits, err := store.ListDeposits()
	if err != nil {
		return nil, err
	}
	for _, rec := range deposits {
		dep, err := depositFromRecord(rec)
		if err != nil {
			return nil, err
		}
		l.deposits[dep.TokenID] = dep
		if dep.Status == types.DepositActive {
			l.balances[dep.Owner] = l.balances[dep.Owner].Add(dep.Amount)
		} else if _, ok := l.balances[dep.Owner]; !ok {
			l.balances[dep.Owner] = decimal.Zero
		}
		if dep.seq > l.depositSeq {
			l.depositSeq = dep.seq
		}
	}

	settlements, err := store.ListSettlements()
	if err != nil {
		return nil, err
	}
	for _, rec := range settlements {
		s, err := settlementFromRecord(rec)
		if err != nil {
			return nil, err
		}
		l.settlements = append(l.settlements, s)
	}

	log, err := store.ListInstructions()
	if err != nil {
		return nil, err
	}
	for _, rec := range log {
		if rec.Seq > l.logSeq {
			l.logSeq = rec.Seq
		}
	}

	if err := l.verify(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *UnifiedLedger) Store() Store { return l.store }

func (l *UnifiedLedger) Currency() string { return l.currency }

func (l *UnifiedLedger) Mint(owner string, amount decimal.Decimal) (types.TokenizedDeposit, error) {
	if owner == "" {
		return types.TokenizedDeposit{}, ErrMissingAccount
	}
	if !amount.IsPositive() {
		return types.TokenizedDeposit{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cs := l.begin()
	dep := cs.mint(owner, amount)
	cs.record(KindMint, map[string]any{
		"token_id": dep.TokenID,
		"owner":    owner,
		"amount":   amount,
	})
	if err := l.commit(cs); err != nil {
		return types.TokenizedDeposit{}, err
	}
	return dep.TokenizedDeposit, nil
}

// Burn consumes the owner's oldest ACTIVE deposits until amount is covered. A deposit that is only
// partly needed is burned whole and its remainder minted back to the owner.
func (l *UnifiedLedger) Burn(owner string, amount decimal.Decimal) ([]string, error) {
	if owner == "" {
		return nil, ErrMissingAccount
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cs := l.begin()
	burned, err := cs.burn(owner, amount)
	if err != nil {
		return nil, err
	}
	if err := l.commit(cs); err != nil {
		return nil, err
	}
	return burned, nil
}

// ExecuteAtomicSettlement burns amount from one account and mints it to another as a single unit.
// An attempt that cannot be covered is recorded as FAILED and returned without error; an error means
// nothing was recorded.
func (l *UnifiedLedger) ExecuteAtomicSettlement(from, to string, amount decimal.Decimal, instructionRef string) (types.AtomicSettlement, error) {
	if from == "" || to == "" {
		return types.AtomicSettlement{}, ErrMissingAccount
	}
	if !amount.IsPositive() {
		return types.AtomicSettlement{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cs := l.begin()
	s := types.AtomicSettlement{
		SettlementID:   "SETTLE-" + l.newID(),
		From:           from,
		To:             to,
		Amount:         amount,
		Currency:       l.currency,
		Status:         types.SettlementPending,
		CreatedAt:      cs.at,
		InstructionRef: instructionRef,
	}

	available := cs.activeTotal(from)
	if available.LessThan(amount) {
		s.Status = types.SettlementFailed
		s.FailureReason = fmt.Sprintf("Insufficient balance. Available: %s, Required: %s", money.Format(available), money.Format(amount))
	} else {
		if _, err := cs.burn(from, amount); err != nil {
			return types.AtomicSettlement{}, err
		}
		cs.mint(to, amount)
		executed := cs.at
		s.Status = types.SettlementExecuted
		s.ExecutedAt = &executed
		hash, _, err := crypto.CanonicalDigest(map[string]any{
			"settlement_id":   s.SettlementID,
			"from":            from,
			"to":              to,
			"amount":          amount,
			"currency":        s.Currency,
			"instruction_ref": instructionRef,
			"created_at":      s.CreatedAt,
		})
		if err != nil {
			return types.AtomicSettlement{}, err
		}
		s.InstructionHash = hash
	}

	cs.settlement = &s
	cs.record(KindAtomicSettlement, map[string]any{
		"settlement_id":   s.SettlementID,
		"from":            from,
		"to":              to,
		"amount":          amount,
		"status":          string(s.Status),
		"instruction_ref": instructionRef,
	})
	if err := l.commit(cs); err != nil {
		return types.AtomicSettlement{}, err
	}
	return s, nil
}

func (l *UnifiedLedger) Balance(owner string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[owner]
}

// ActiveDeposits lists the owner's ACTIVE deposits oldest first.
func (l *UnifiedLedger) ActiveDeposits(owner string) []types.TokenizedDeposit {
	l.mu.Lock()
	defer l.mu.Unlock()
	active := fifo(l.deposits, owner)
	out := make([]types.TokenizedDeposit, 0, len(active))
	for _, dep := range active {
		out = append(out, dep.TokenizedDeposit)
	}
	return out
}

func (l *UnifiedLedger) Deposit(tokenID string) (types.TokenizedDeposit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dep, ok := l.deposits[tokenID]
	return dep.TokenizedDeposit, ok
}

func (l *UnifiedLedger) Settlements() []types.AtomicSettlement {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]types.AtomicSettlement, len(l.settlements))
	copy(out, l.settlements)
	return out
}

// ExecutedFor returns the executed settlement recorded for an instruction reference, if any.
func (l *UnifiedLedger) ExecutedFor(instructionRef string) (types.AtomicSettlement, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.settlements) - 1; i >= 0; i-- {
		s := l.settlements[i]
		if s.InstructionRef == instructionRef && s.Status == types.SettlementExecuted {
			return s, true
		}
	}
	return types.AtomicSettlement{}, false
}

func (l *UnifiedLedger) Snapshot() types.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := types.LedgerSnapshot{
		Balances:              make(map[string]decimal.Decimal, len(l.balances)),
		TotalSettlements:      len(l.settlements),
		InstructionLogEntries: int(l.logSeq),
	}
	for owner, bal := range l.balances {
		snap.Balances[owner] = bal
	}
	for _, dep := range l.deposits {
		if dep.Status == types.DepositActive {
			snap.ActiveTokens++
		}
	}
	for _, s := range l.settlements {
		switch s.Status {
		case types.SettlementExecuted:
			snap.ExecutedSettlements++
		case types.SettlementFailed:
			snap.FailedSettlements++
		}
	}
	return snap
}

// Verify checks that every cached balance equals the sum of that account's ACTIVE deposits.
func (l *UnifiedLedger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verify()
}

func (l *UnifiedLedger) verify() error {
	sums := make(map[string]decimal.Decimal)
	for _, dep := range l.deposits {
		if dep.Status == types.DepositActive {
			sums[dep.Owner] = sums[dep.Owner].Add(dep.Amount)
		}
	}
	for owner, bal := range l.balances {
		if !bal.Equal(sums[owner]) {
			return fmt.Errorf("%w: %s cached %s, active deposits %s", ErrConservation, owner, bal, sums[owner])
		}
	}
	for owner, sum := range sums {
		if _, ok := l.balances[owner]; !ok {
			return fmt.Errorf("%w: %s holds %s with no cached balance", ErrConservation, owner, sum)
		}
	}
	return nil
}

// changeSet stages deposit writes, one settlement and log entries for a single commit.
type changeSet struct {
	l  *UnifiedLedger
	at time.Time

	deposits   map[string]deposit
	written    []string
	depositSeq int64
	settlement *types.AtomicSettlement
	log        []InstructionRecord
	logSeq     int64
}

func (l *UnifiedLedger) begin() *changeSet {
	return &changeSet{
		l:          l,
		at:         l.now().UTC(),
		deposits:   make(map[string]deposit),
		depositSeq: l.depositSeq,
		logSeq:     l.logSeq,
	}
}

func (cs *changeSet) put(dep deposit) {
	if _, ok := cs.deposits[dep.TokenID]; !ok {
		cs.written = append(cs.written, dep.TokenID)
	}
	cs.deposits[dep.TokenID] = dep
}

// view is the committed deposit table overlaid with staged writes.
func (cs *changeSet) view() map[string]deposit {
	out := make(map[string]deposit, len(cs.l.deposits)+len(cs.deposits))
	for id, dep := range cs.l.deposits {
		out[id] = dep
	}
	for id, dep := range cs.deposits {
		out[id] = dep
	}
	return out
}

func (cs *changeSet) activeTotal(owner string) decimal.Decimal {
	total := decimal.Zero
	for _, dep := range fifo(cs.view(), owner) {
		total = total.Add(dep.Amount)
	}
	return total
}

func (cs *changeSet) mint(owner string, amount decimal.Decimal) deposit {
	cs.depositSeq++
	dep := deposit{
		TokenizedDeposit: types.TokenizedDeposit{
			TokenID:   "TKN-" + cs.l.newID(),
			Owner:     owner,
			Amount:    amount,
			Currency:  cs.l.currency,
			CreatedAt: cs.at,
			Status:    types.DepositActive,
		},
		seq: cs.depositSeq,
	}
	cs.put(dep)
	return dep
}

func (cs *changeSet) burn(owner string, amount decimal.Decimal) ([]string, error) {
	active := fifo(cs.view(), owner)
	total := decimal.Zero
	for _, dep := range active {
		total = total.Add(dep.Amount)
	}
	if total.LessThan(amount) {
		return nil, fmt.Errorf("%w: %s holds %s, burn requires %s", ErrInsufficientFunds, owner, total, amount)
	}

	remaining := amount
	burned := []string{}
	var remainder *deposit
	for _, dep := range active {
		if !remaining.IsPositive() {
			break
		}
		dep.Status = types.DepositBurned
		cs.put(dep)
		burned = append(burned, dep.TokenID)
		if dep.Amount.GreaterThan(remaining) {
			rest := cs.mint(owner, dep.Amount.Sub(remaining))
			remainder = &rest
			remaining = decimal.Zero
			break
		}
		remaining = remaining.Sub(dep.Amount)
	}

	body := map[string]any{
		"owner":         owner,
		"amount":        amount,
		"burned_tokens": burned,
	}
	if remainder != nil {
		body["remainder_token"] = remainder.TokenID
		body["remainder_amount"] = remainder.Amount
	}
	cs.record(KindBurn, body)
	return burned, nil
}

func (cs *changeSet) record(kind string, body map[string]any) {
	cs.logSeq++
	body["seq"] = cs.logSeq
	body["kind"] = kind
	body["timestamp"] = cs.at
	data, err := crypto.Canonicalize(body)
	if err != nil {
		data, _ = json.Marshal(map[string]any{"kind": kind, "seq": cs.logSeq})
	}
	cs.log = append(cs.log, InstructionRecord{
		Seq:       cs.logSeq,
		Kind:      kind,
		BodyJSON:  data,
		CreatedAt: formatTime(cs.at),
	})
}

// commit persists the change set and then applies it to memory. On error memory is untouched.
func (l *UnifiedLedger) commit(cs *changeSet) error {
	err := l.store.WithTx(func(tx Tx) error {
		for _, id := range cs.written {
			if err := tx.PutDeposit(depositRecord(cs.deposits[id], cs.at)); err != nil {
				return err
			}
		}
		if cs.settlement != nil {
			if err := tx.PutSettlement(settlementRecord(*cs.settlement)); err != nil {
				return err
			}
		}
		for _, rec := range cs.log {
			if err := tx.AppendInstruction(rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit ledger change: %w", err)
	}

	for _, id := range cs.written {
		next := cs.deposits[id]
		if prev, ok := l.deposits[id]; ok && prev.Status == types.DepositActive {
			l.balances[prev.Owner] = l.balances[prev.Owner].Sub(prev.Amount)
		}
		if next.Status == types.DepositActive {
			l.balances[next.Owner] = l.balances[next.Owner].Add(next.Amount)
		} else if _, ok := l.balances[next.Owner]; !ok {
			l.balances[next.Owner] = decimal.Zero
		}
		l.deposits[id] = next
	}
	if cs.settlement != nil {
		l.settlements = append(l.settlements, *cs.settlement)
	}
	l.depositSeq = cs.depositSeq
	l.logSeq = cs.logSeq
	return nil
}

func fifo(deposits map[string]deposit, owner string) []deposit {
	out := []deposit{}
	for _, dep := range deposits {
		if dep.Owner == owner && dep.Status == types.DepositActive {
			out = append(out, dep)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}
