// Package memory implements ledger.Gateway as an in-process simulator.
//
// It keeps real bookkeeping (token supply, account balances, topic
// sequences) and deduplicates on idempotency keys exactly the way the
// network does, so idempotency and partial-failure semantics can be tested
// without a ledger connection. Failure injection covers the rejected and
// unavailable branches.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"brickledger/internal/ledger"
	"brickledger/pkg/domain"
	"brickledger/pkg/platform/sentinel"
)

type tokenState struct {
	name           string
	symbol         string
	decimals       int
	supply         uint64
	maxSupply      uint64
	treasury       domain.AccountID
	keys           map[ledger.KeyRole]ledger.ThresholdKey
	frozen         bool
	frozenAccounts map[domain.AccountID]bool
}

type topicState struct {
	memo     string
	nextSeq  uint64
	messages [][]byte
}

// Ledger is the in-memory gateway implementation.
type Ledger struct {
	mu sync.Mutex

	tokens   map[string]*tokenState
	topics   map[domain.LedgerTopicID]*topicState
	balances map[domain.AccountID]int64

	receipts map[ledger.IdempotencyKey]*ledger.Receipt

	nextEntity uint64
	nextTxn    uint64
	clock      time.Time

	// failures maps operation name to a queue of injected errors consumed
	// one per call, before any effect is applied.
	failures map[string][]error
}

var _ ledger.Gateway = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{
		tokens:     make(map[string]*tokenState),
		topics:     make(map[domain.LedgerTopicID]*topicState),
		balances:   make(map[domain.AccountID]int64),
		receipts:   make(map[ledger.IdempotencyKey]*ledger.Receipt),
		nextEntity: 1000,
		clock:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		failures:   make(map[string][]error),
	}
}

// FailNext queues err for the next call of the named operation
// ("create_token", "mint_tokens", ...). Multiple calls queue in order.
// The injected failure is consumed before any state change, so a failed
// call has no ledger effect.
func (l *Ledger) FailNext(operation string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[operation] = append(l.failures[operation], err)
}

// Credit funds an account so transfers have something to move.
func (l *Ledger) Credit(account domain.AccountID, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += int64(amount)
}

// Balance reports the simulated balance of an account.
func (l *Ledger) Balance(account domain.AccountID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// TokenSupply reports the committed supply of a ledger token.
func (l *Ledger) TokenSupply(ledgerTokenID string) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[ledgerTokenID]
	if !ok {
		return 0, false
	}
	return t.supply, true
}

// TokenKeys returns the committed authority keys of a ledger token.
func (l *Ledger) TokenKeys(ledgerTokenID string) (map[ledger.KeyRole]ledger.ThresholdKey, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tokens[ledgerTokenID]
	if !ok {
		return nil, false
	}
	out := make(map[ledger.KeyRole]ledger.ThresholdKey, len(t.keys))
	for k, v := range t.keys {
		out[k] = v
	}
	return out, true
}

// TopicMessages returns the messages of a topic in consensus order.
func (l *Ledger) TopicMessages(topicID domain.LedgerTopicID) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.topics[topicID]
	if !ok {
		return nil
	}
	out := make([][]byte, len(t.messages))
	copy(out, t.messages)
	return out
}

// begin consumes an injected failure and resolves idempotent replays.
// Callers hold l.mu.
func (l *Ledger) begin(op string, key ledger.IdempotencyKey) (*ledger.Receipt, error) {
	if q := l.failures[op]; len(q) > 0 {
		err := q[0]
		l.failures[op] = q[1:]
		return nil, err
	}
	if r, ok := l.receipts[key]; ok {
		// Same key: same receipt, no second effect.
		return r, nil
	}
	return nil, nil
}

// commit records the receipt under the idempotency key.
func (l *Ledger) commit(key ledger.IdempotencyKey, r *ledger.Receipt) *ledger.Receipt {
	l.receipts[key] = r
	return r
}

func (l *Ledger) newReceipt(entityID string, seq uint64) *ledger.Receipt {
	l.nextTxn++
	l.clock = l.clock.Add(time.Millisecond)
	return &ledger.Receipt{
		TransactionID:      domain.TransactionID(fmt.Sprintf("0.0.2@%d", l.nextTxn)),
		ConsensusTimestamp: l.clock,
		Status:             ledger.StatusSuccess,
		EntityID:           entityID,
		SequenceNumber:     seq,
	}
}

func (l *Ledger) newEntityID() string {
	l.nextEntity++
	return fmt.Sprintf("0.0.%d", l.nextEntity)
}

func (l *Ledger) CreateToken(ctx context.Context, req ledger.CreateTokenRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, err := l.begin("create_token", req.IdempotencyKey); r != nil || err != nil {
		return r, err
	}
	if req.Name == "" || req.Symbol == "" {
		return nil, ledger.Reject("TOKEN_INVALID", "name and symbol are required")
	}
	if req.MaxSupply > 0 && req.InitialSupply > req.MaxSupply {
		return nil, ledger.Reject("INVALID_SUPPLY", "initial supply exceeds max supply")
	}

	id := l.newEntityID()
	keys := make(map[ledger.KeyRole]ledger.ThresholdKey, len(req.Keys))
	for k, v := range req.Keys {
		keys[k] = v
	}
	l.tokens[id] = &tokenState{
		name:           req.Name,
		symbol:         req.Symbol,
		decimals:       req.Decimals,
		supply:         req.InitialSupply,
		maxSupply:      req.MaxSupply,
		treasury:       req.Treasury,
		keys:           keys,
		frozenAccounts: make(map[domain.AccountID]bool),
	}
	return l.commit(req.IdempotencyKey, l.newReceipt(id, 0)), nil
}

func (l *Ledger) MintTokens(ctx context.Context, req ledger.MintRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, err := l.begin("mint_tokens", req.IdempotencyKey); r != nil || err != nil {
		return r, err
	}
	t, ok := l.tokens[req.LedgerTokenID]
	if !ok {
		return nil, ledger.Reject("INVALID_TOKEN_ID", "unknown token")
	}
	if t.frozen {
		return nil, ledger.Reject("TOKEN_PAUSED", "token is paused")
	}
	if t.maxSupply > 0 && t.supply+req.Amount > t.maxSupply {
		return nil, ledger.Reject("MAX_SUPPLY_REACHED", "mint would exceed max supply")
	}
	t.supply += req.Amount
	return l.commit(req.IdempotencyKey, l.newReceipt("", 0)), nil
}

func (l *Ledger) BurnTokens(ctx context.Context, req ledger.BurnRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, err := l.begin("burn_tokens", req.IdempotencyKey); r != nil || err != nil {
		return r, err
	}
	t, ok := l.tokens[req.LedgerTokenID]
	if !ok {
		return nil, ledger.Reject("INVALID_TOKEN_ID", "unknown token")
	}
	if req.Amount > t.supply {
		return nil, ledger.Reject("INSUFFICIENT_SUPPLY", "burn exceeds supply")
	}
	t.supply -= req.Amount
	return l.commit(req.IdempotencyKey, l.newReceipt("", 0)), nil
}

func (l *Ledger) TransferTokens(ctx context.Context, req ledger.TransferTokensRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, err := l.begin("transfer_tokens", req.IdempotencyKey); r != nil || err != nil {
		return r, err
	}
	t, ok := l.tokens[req.LedgerTokenID]
	if !ok {
		return nil, ledger.Reject("INVALID_TOKEN_ID", "unknown token")
	}
	if t.frozen {
		return nil, ledger.Reject("TOKEN_PAUSED", "token is paused")
	}
	if t.frozenAccounts[req.From] || t.frozenAccounts[req.To] {
		return nil, ledger.Reject("ACCOUNT_FROZEN", "account frozen for token")
	}
	return l.commit(req.IdempotencyKey, l.newReceipt("", 0)), nil
}

func (l *Ledger) UpdateTokenKeys(ctx context.Context, req ledger.UpdateTokenKeysRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, err := l.begin("update_token_keys", req.IdempotencyKey); r != nil || err != nil {
		return r, err
	}
	t, ok := l.tokens[req.LedgerTokenID]
	if !ok {
		return nil, ledger.Reject("INVALID_TOKEN_ID", "unknown token")
	}
	for role, key := range req.Keys {
		if _, present := t.keys[role]; !present {
			return nil, ledger.Reject("TOKEN_IS_IMMUTABLE", fmt.Sprintf("token has no %s key", role))
		}
		t.keys[role] = key
	}
	return l.commit(req.IdempotencyKey, l.newReceipt("", 0)), nil
}

func (l *Ledger) FreezeToken(ctx context.Context, req ledger.FreezeTokenRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, err := l.begin("freeze_token", req.IdempotencyKey); r != nil || err != nil {
		return r, err
	}
	t, ok := l.tokens[req.LedgerTokenID]
	if !ok {
		return nil, ledger.Reject("INVALID_TOKEN_ID", "unknown token")
	}
	t.frozen = req.Frozen
	return l.commit(req.IdempotencyKey, l.newReceipt("", 0)), nil
}

func (l *Ledger) FreezeAccount(ctx context.Context, req ledger.FreezeAccountRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, err := l.begin("freeze_account", req.IdempotencyKey); r != nil || err != nil {
		return r, err
	}
	t, ok := l.tokens[req.LedgerTokenID]
	if !ok {
		return nil, ledger.Reject("INVALID_TOKEN_ID", "unknown token")
	}
	t.frozenAccounts[req.Account] = req.Frozen
	return l.commit(req.IdempotencyKey, l.newReceipt("", 0)), nil
}

func (l *Ledger) CreateTopic(ctx context.Context, req ledger.CreateTopicRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, err := l.begin("create_topic", req.IdempotencyKey); r != nil || err != nil {
		return r, err
	}
	id := l.newEntityID()
	l.topics[domain.LedgerTopicID(id)] = &topicState{memo: req.Memo, nextSeq: 1}
	return l.commit(req.IdempotencyKey, l.newReceipt(id, 0)), nil
}

func (l *Ledger) SubmitTopicMessage(ctx context.Context, req ledger.TopicMessageRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, err := l.begin("submit_topic_message", req.IdempotencyKey); r != nil || err != nil {
		return r, err
	}
	t, ok := l.topics[req.TopicID]
	if !ok {
		return nil, ledger.Reject("INVALID_TOPIC_ID", "unknown topic")
	}
	seq := t.nextSeq
	t.nextSeq++
	msg := make([]byte, len(req.Message))
	copy(msg, req.Message)
	t.messages = append(t.messages, msg)
	return l.commit(req.IdempotencyKey, l.newReceipt("", seq)), nil
}

func (l *Ledger) TransferValue(ctx context.Context, req ledger.TransferValueRequest) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, err := l.begin("transfer_value", req.IdempotencyKey); r != nil || err != nil {
		return r, err
	}
	if l.balances[req.From] < int64(req.Amount) {
		return nil, ledger.Reject("INSUFFICIENT_PAYER_BALANCE", "insufficient balance")
	}
	l.balances[req.From] -= int64(req.Amount)
	l.balances[req.To] += int64(req.Amount)
	return l.commit(req.IdempotencyKey, l.newReceipt("", 0)), nil
}

func (l *Ledger) LookupReceipt(ctx context.Context, key ledger.IdempotencyKey) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.receipts[key]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("receipt for key %s: %w", key, sentinel.ErrNotFound)
}
