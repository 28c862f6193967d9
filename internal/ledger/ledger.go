// Package ledger implements the fungible-balance store backing every
// platform token.
//
// Each token (fund shares, asset tokens, the payment stablecoin) is a Ledger
// instance addressed by TokenID. Balances and allowances are arbitrary
// precision and never wrap; any operation that would drive a balance below
// zero fails and leaves state unchanged. Mint and burn are gated on the
// authz.RoleMinter capability for the token.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/openfund/internal/authz"
	"github.com/openfund/openfund/internal/core/fixed"
	"github.com/openfund/openfund/internal/journal"
	"github.com/openfund/openfund/internal/platform/errors"
)

// TokenID identifies a token instance within the ledger.
type TokenID uint64

// TokenInfo describes a registered token.
type TokenInfo struct {
	ID          TokenID
	Symbol      string
	Decimals    int32
	TotalSupply decimal.Decimal
	CreatedAt   time.Time
}

type token struct {
	id        TokenID
	symbol    string
	decimals  int32
	createdAt time.Time

	mu          sync.RWMutex
	totalSupply decimal.Decimal
	balances    map[string]decimal.Decimal
	allowances  map[string]map[string]decimal.Decimal
}

// Ledger is the balance store for all platform tokens.
type Ledger struct {
	auth    authz.Authorizer
	journal journal.Appender
	clock   func() time.Time

	mu     sync.RWMutex
	tokens map[TokenID]*token
	nextID TokenID
}

// New creates an empty ledger using auth for mint/burn capability checks.
// Supply creations and destructions are recorded to appender; nil discards.
func New(auth authz.Authorizer, appender journal.Appender) *Ledger {
	if appender == nil {
		appender = journal.Discard{}
	}
	return &Ledger{
		auth:    auth,
		journal: appender,
		clock:   time.Now,
		tokens:  make(map[TokenID]*token),
		nextID:  1,
	}
}

// CreateToken registers a new token and returns its id. Ids are sequential
// and never reused.
func (l *Ledger) CreateToken(symbol string, decimals int32) (TokenID, error) {
	if symbol == "" {
		return 0, errors.New(errors.CodeInvalidAmount, "token symbol is required")
	}
	if decimals < 0 {
		return 0, errors.New(errors.CodeInvalidAmount, "token decimals must not be negative")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.tokens[id] = &token{
		id:          id,
		symbol:      symbol,
		decimals:    decimals,
		createdAt:   l.clock().UTC(),
		totalSupply: decimal.Zero,
		balances:    make(map[string]decimal.Decimal),
		allowances:  make(map[string]map[string]decimal.Decimal),
	}
	l.record(journal.TypeTokenCreated, "", map[string]string{
		"token_id": fmt.Sprintf("%d", id),
		"symbol":   symbol,
		"decimals": fmt.Sprintf("%d", decimals),
	})
	return id, nil
}

// Token returns metadata for a registered token.
func (l *Ledger) Token(id TokenID) (TokenInfo, error) {
	tok, err := l.lookup(id)
	if err != nil {
		return TokenInfo{}, err
	}
	tok.mu.RLock()
	defer tok.mu.RUnlock()
	return TokenInfo{
		ID:          tok.id,
		Symbol:      tok.symbol,
		Decimals:    tok.decimals,
		TotalSupply: tok.totalSupply,
		CreatedAt:   tok.createdAt,
	}, nil
}

// Mint credits amount to `to`, increasing total supply. The actor must hold
// RoleMinter on the token.
func (l *Ledger) Mint(actor string, id TokenID, to string, amount decimal.Decimal) error {
	tok, err := l.lookup(id)
	if err != nil {
		return err
	}
	if !l.auth.Allowed(actor, authz.RoleMinter, uint64(id)) {
		return errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not mint token %d", actor, id))
	}
	if to == "" {
		return errors.New(errors.CodeInvalidAmount, "mint recipient is required")
	}
	if !fixed.IsPositiveAmount(amount) {
		return errors.New(errors.CodeInvalidAmount, "mint amount must be a positive integer amount")
	}

	tok.mu.Lock()
	defer tok.mu.Unlock()
	tok.balances[to] = tok.balances[to].Add(amount)
	tok.totalSupply = tok.totalSupply.Add(amount)

	l.record(journal.TypeTokensMinted, actor, map[string]string{
		"token_id": fmt.Sprintf("%d", id),
		"to":       to,
		"amount":   amount.String(),
	})
	return nil
}

// Burn debits amount from `from`, decreasing total supply. The actor must
// hold RoleMinter on the token.
func (l *Ledger) Burn(actor string, id TokenID, from string, amount decimal.Decimal) error {
	tok, err := l.lookup(id)
	if err != nil {
		return err
	}
	if !l.auth.Allowed(actor, authz.RoleMinter, uint64(id)) {
		return errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not burn token %d", actor, id))
	}
	if !fixed.IsPositiveAmount(amount) {
		return errors.New(errors.CodeInvalidAmount, "burn amount must be a positive integer amount")
	}

	tok.mu.Lock()
	defer tok.mu.Unlock()
	balance := tok.balances[from]
	if balance.Cmp(amount) < 0 {
		return errors.WithMetadata(errors.CodeInsufficientBalance, "burn amount exceeds balance", map[string]string{
			"account": from,
			"balance": balance.String(),
			"amount":  amount.String(),
		})
	}
	tok.balances[from] = balance.Sub(amount)
	tok.totalSupply = tok.totalSupply.Sub(amount)

	l.record(journal.TypeTokensBurned, actor, map[string]string{
		"token_id": fmt.Sprintf("%d", id),
		"from":     from,
		"amount":   amount.String(),
	})
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(id TokenID, from, to string, amount decimal.Decimal) error {
	tok, err := l.lookup(id)
	if err != nil {
		return err
	}
	if from == "" || to == "" {
		return errors.New(errors.CodeInvalidAmount, "transfer accounts are required")
	}
	if !fixed.IsPositiveAmount(amount) {
		return errors.New(errors.CodeInvalidAmount, "transfer amount must be a positive integer amount")
	}

	tok.mu.Lock()
	defer tok.mu.Unlock()
	return tok.transferLocked(from, to, amount)
}

// Approve sets the allowance spender may move on behalf of owner. Setting
// fixed.MaxAllowance marks the allowance unlimited.
func (l *Ledger) Approve(id TokenID, owner, spender string, amount decimal.Decimal) error {
	tok, err := l.lookup(id)
	if err != nil {
		return err
	}
	if owner == "" || spender == "" {
		return errors.New(errors.CodeInvalidAmount, "allowance accounts are required")
	}
	if !fixed.IsAmount(amount) {
		return errors.New(errors.CodeInvalidAmount, "allowance must be a non-negative integer amount")
	}

	tok.mu.Lock()
	defer tok.mu.Unlock()
	byOwner := tok.allowances[owner]
	if byOwner == nil {
		byOwner = make(map[string]decimal.Decimal)
		tok.allowances[owner] = byOwner
	}
	byOwner[spender] = amount
	return nil
}

// Allowance returns the amount spender may still move on behalf of owner.
func (l *Ledger) Allowance(id TokenID, owner, spender string) (decimal.Decimal, error) {
	tok, err := l.lookup(id)
	if err != nil {
		return decimal.Zero, err
	}
	tok.mu.RLock()
	defer tok.mu.RUnlock()
	return tok.allowances[owner][spender], nil
}

// SpendAllowance consumes amount of spender's allowance from owner. The
// unlimited sentinel is never decremented.
func (l *Ledger) SpendAllowance(id TokenID, owner, spender string, amount decimal.Decimal) error {
	tok, err := l.lookup(id)
	if err != nil {
		return err
	}
	if !fixed.IsPositiveAmount(amount) {
		return errors.New(errors.CodeInvalidAmount, "allowance spend must be a positive integer amount")
	}

	tok.mu.Lock()
	defer tok.mu.Unlock()
	return tok.spendAllowanceLocked(owner, spender, amount)
}

// TransferFrom spends spender's allowance and moves amount from owner to
// `to` as a single step.
func (l *Ledger) TransferFrom(id TokenID, spender, owner, to string, amount decimal.Decimal) error {
	tok, err := l.lookup(id)
	if err != nil {
		return err
	}
	if to == "" {
		return errors.New(errors.CodeInvalidAmount, "transfer recipient is required")
	}
	if !fixed.IsPositiveAmount(amount) {
		return errors.New(errors.CodeInvalidAmount, "transfer amount must be a positive integer amount")
	}

	tok.mu.Lock()
	defer tok.mu.Unlock()
	// Check the balance before touching the allowance so a failed transfer
	// leaves both untouched.
	if tok.balances[owner].Cmp(amount) < 0 {
		return errors.New(errors.CodeInsufficientBalance, "transfer amount exceeds balance")
	}
	if err := tok.spendAllowanceLocked(owner, spender, amount); err != nil {
		return err
	}
	return tok.transferLocked(owner, to, amount)
}

// BalanceOf returns the balance of an account; unknown accounts hold zero.
func (l *Ledger) BalanceOf(id TokenID, account string) (decimal.Decimal, error) {
	tok, err := l.lookup(id)
	if err != nil {
		return decimal.Zero, err
	}
	tok.mu.RLock()
	defer tok.mu.RUnlock()
	return tok.balances[account], nil
}

// TotalSupply returns the token's outstanding supply.
func (l *Ledger) TotalSupply(id TokenID) (decimal.Decimal, error) {
	tok, err := l.lookup(id)
	if err != nil {
		return decimal.Zero, err
	}
	tok.mu.RLock()
	defer tok.mu.RUnlock()
	return tok.totalSupply, nil
}

func (l *Ledger) lookup(id TokenID) (*token, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tok, ok := l.tokens[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("token %d is not registered", id))
	}
	return tok, nil
}

func (l *Ledger) record(eventType journal.Type, actor string, payload map[string]string) {
	// Journal failures never unwind ledger state.
	_ = l.journal.Append(journal.Event{
		Type:      eventType,
		Timestamp: l.clock().UTC(),
		Actor:     actor,
		Payload:   payload,
	})
}

func (t *token) transferLocked(from, to string, amount decimal.Decimal) error {
	balance := t.balances[from]
	if balance.Cmp(amount) < 0 {
		return errors.WithMetadata(errors.CodeInsufficientBalance, "transfer amount exceeds balance", map[string]string{
			"account": from,
			"balance": balance.String(),
			"amount":  amount.String(),
		})
	}
	t.balances[from] = balance.Sub(amount)
	t.balances[to] = t.balances[to].Add(amount)
	return nil
}

func (t *token) spendAllowanceLocked(owner, spender string, amount decimal.Decimal) error {
	allowance := t.allowances[owner][spender]
	if allowance.Equal(fixed.MaxAllowance) {
		return nil
	}
	if allowance.Cmp(amount) < 0 {
		return errors.New(errors.CodeInsufficientAllowance, "allowance spend exceeds approval")
	}
	t.allowances[owner][spender] = allowance.Sub(amount)
	return nil
}
