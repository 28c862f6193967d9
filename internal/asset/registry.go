// Package asset tracks per-asset price state and USD conversions.
package asset

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/openfund/internal/authz"
	"github.com/openfund/openfund/internal/core/fixed"
	"github.com/openfund/openfund/internal/journal"
	"github.com/openfund/openfund/internal/ledger"
	"github.com/openfund/openfund/internal/platform/errors"
)

// ID identifies an asset within the registry.
type ID uint64

// Info describes a registered asset token. CurrentPrice is the USD price of
// one whole token in 8-decimal base units.
type Info struct {
	ID           ID
	Symbol       string
	Kind         string
	TokenID      ledger.TokenID
	CurrentPrice decimal.Decimal
	LastUpdate   time.Time
	Active       bool
}

// Registry owns price state for every asset token. Price pushes are gated on
// authz.RolePriceOracle for the asset; activation toggles on authz.RoleAdmin.
type Registry struct {
	auth    authz.Authorizer
	journal journal.Appender
	clock   func() time.Time

	mu     sync.RWMutex
	assets map[ID]*Info
	nextID ID
}

// NewRegistry creates an empty asset registry. Registrations and price
// pushes are recorded to appender; nil discards.
func NewRegistry(auth authz.Authorizer, appender journal.Appender) *Registry {
	if appender == nil {
		appender = journal.Discard{}
	}
	return &Registry{
		auth:    auth,
		journal: appender,
		clock:   time.Now,
		assets:  make(map[ID]*Info),
		nextID:  1,
	}
}

// Register adds an asset backed by a ledger token. The actor must hold
// RoleAdmin. A zero initial price is allowed; conversions fail until the
// first oracle push.
func (r *Registry) Register(actor, symbol, kind string, tokenID ledger.TokenID, initialPrice decimal.Decimal) (ID, error) {
	if !r.auth.Allowed(actor, authz.RoleAdmin, authz.Wildcard) {
		return 0, errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not register assets", actor))
	}
	if symbol == "" {
		return 0, errors.New(errors.CodeInvalidAmount, "asset symbol is required")
	}
	if !fixed.IsAmount(initialPrice) {
		return 0, errors.New(errors.CodeInvalidPrice, "initial price must be a non-negative integer amount")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.assets[id] = &Info{
		ID:           id,
		Symbol:       symbol,
		Kind:         kind,
		TokenID:      tokenID,
		CurrentPrice: initialPrice,
		LastUpdate:   r.clock().UTC(),
		Active:       true,
	}
	r.record(journal.TypeAssetRegistered, actor, map[string]string{
		"asset_id": fmt.Sprintf("%d", id),
		"symbol":   symbol,
		"token_id": fmt.Sprintf("%d", tokenID),
	})
	return id, nil
}

// UpdatePrice records a new oracle price for an asset.
func (r *Registry) UpdatePrice(actor string, id ID, newPrice decimal.Decimal) error {
	if !r.auth.Allowed(actor, authz.RolePriceOracle, uint64(id)) {
		return errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not push prices for asset %d", actor, id))
	}
	if !fixed.IsPositiveAmount(newPrice) {
		return errors.New(errors.CodeInvalidPrice, "price must be a positive integer amount")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.assets[id]
	if !ok {
		return errors.New(errors.CodeAssetNotSupported, fmt.Sprintf("asset %d is not registered", id))
	}
	if !info.Active {
		return errors.New(errors.CodeAssetNotActive, fmt.Sprintf("asset %d is deactivated", id))
	}
	info.CurrentPrice = newPrice
	info.LastUpdate = r.clock().UTC()

	r.record(journal.TypePriceUpdated, actor, map[string]string{
		"asset_id": fmt.Sprintf("%d", id),
		"price":    newPrice.String(),
	})
	return nil
}

func (r *Registry) record(eventType journal.Type, actor string, payload map[string]string) {
	// Journal failures never unwind registry state.
	_ = r.journal.Append(journal.Event{
		Type:      eventType,
		Timestamp: r.clock().UTC(),
		Actor:     actor,
		Payload:   payload,
	})
}

// Price returns the current price and its update time.
func (r *Registry) Price(id ID) (decimal.Decimal, time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.assets[id]
	if !ok {
		return decimal.Zero, time.Time{}, errors.New(errors.CodeAssetNotSupported, fmt.Sprintf("asset %d is not registered", id))
	}
	return info.CurrentPrice, info.LastUpdate, nil
}

// SetActive toggles an asset. Inactive assets reject price updates and
// minting via the trade router.
func (r *Registry) SetActive(actor string, id ID, active bool) error {
	if !r.auth.Allowed(actor, authz.RoleAdmin, uint64(id)) {
		return errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not toggle asset %d", actor, id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.assets[id]
	if !ok {
		return errors.New(errors.CodeAssetNotSupported, fmt.Sprintf("asset %d is not registered", id))
	}
	info.Active = active
	return nil
}

// Get returns a copy of the asset record.
func (r *Registry) Get(id ID) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.assets[id]
	if !ok {
		return Info{}, errors.New(errors.CodeAssetNotSupported, fmt.Sprintf("asset %d is not registered", id))
	}
	return *info, nil
}

// List returns every registered asset in id order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.assets))
	for id := ID(1); id < r.nextID; id++ {
		if info, ok := r.assets[id]; ok {
			out = append(out, *info)
		}
	}
	return out
}

// USDValue converts a token amount (18-decimal units) to USD (8-decimal
// units) at the current price, truncating toward zero.
func (r *Registry) USDValue(id ID, tokenAmount decimal.Decimal) (decimal.Decimal, error) {
	price, _, err := r.Price(id)
	if err != nil {
		return decimal.Zero, err
	}
	if price.IsZero() {
		return decimal.Zero, errors.New(errors.CodePriceNotSet, fmt.Sprintf("asset %d has no price", id))
	}
	value, err := fixed.MulDiv(tokenAmount, price, fixed.TokenUnit)
	if err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

// TokenAmount converts a USD amount (8-decimal units) to a token amount
// (18-decimal units) at the current price, truncating toward zero.
func (r *Registry) TokenAmount(id ID, usdAmount decimal.Decimal) (decimal.Decimal, error) {
	price, _, err := r.Price(id)
	if err != nil {
		return decimal.Zero, err
	}
	if price.IsZero() {
		return decimal.Zero, errors.New(errors.CodePriceNotSet, fmt.Sprintf("asset %d has no price", id))
	}
	amount, err := fixed.MulDiv(usdAmount, fixed.TokenUnit, price)
	if err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}
