// Package fund implements the fund engine: NAV accounting, allocation-table
// management, and purchase/redemption of fund share tokens.
//
// Every operation on an Engine is serialized behind a single mutex, so no
// caller ever observes a partially updated NAV or allocation table.
package fund

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/openfund/internal/asset"
	"github.com/openfund/openfund/internal/authz"
	"github.com/openfund/openfund/internal/core/fixed"
	"github.com/openfund/openfund/internal/journal"
	"github.com/openfund/openfund/internal/ledger"
	"github.com/openfund/openfund/internal/platform/errors"
)

// maxWeightBps is the full allocation in basis points.
const maxWeightBps = 10000

// Info is the fund's NAV state. TotalAssetValue is 8-decimal USD;
// NavPerToken is an 18-decimal fixed point where 1e18 means 1.00 USD per
// share.
type Info struct {
	FundID           uint64
	TokenID          ledger.TokenID
	TotalAssetValue  decimal.Decimal
	NavPerToken      decimal.Decimal
	LastNavUpdate    time.Time
	ManagementFeeBps uint32
	Active           bool
}

// InvestorRecord tracks an investor's cumulative invested USD and the time
// of their latest purchase.
type InvestorRecord struct {
	TotalInvested decimal.Decimal
	LastPurchase  time.Time
}

// Allocation is one entry of the fund's allocation table.
type Allocation struct {
	AssetID   asset.ID
	WeightBps uint32
}

// Config carries the dependencies and identity of a fund engine.
type Config struct {
	FundID           uint64
	TokenID          ledger.TokenID
	Actor            string // ledger identity used to mint/burn fund shares
	ManagementFeeBps uint32
	Ledger           *ledger.Ledger
	Auth             authz.Authorizer
	Journal          journal.Appender // nil discards
}

// Engine owns a single fund instance.
type Engine struct {
	cfg   Config
	clock func() time.Time

	mu        sync.Mutex
	info      Info
	weights   map[asset.ID]uint32
	assetList []asset.ID // tracked assets with non-zero weight, in insertion order
	investors map[string]*InvestorRecord
}

// NewEngine creates a fund engine with NAV 1.00 and no allocations.
func NewEngine(cfg Config) *Engine {
	if cfg.Journal == nil {
		cfg.Journal = journal.Discard{}
	}
	return &Engine{
		cfg:   cfg,
		clock: time.Now,
		info: Info{
			FundID:           cfg.FundID,
			TokenID:          cfg.TokenID,
			TotalAssetValue:  decimal.Zero,
			NavPerToken:      fixed.TokenUnit,
			ManagementFeeBps: cfg.ManagementFeeBps,
			Active:           true,
		},
		weights:   make(map[asset.ID]uint32),
		investors: make(map[string]*InvestorRecord),
	}
}

// Purchase mints fund shares worth usdAmount (8-decimal USD) to the investor
// at the current NAV and returns the minted share amount.
func (e *Engine) Purchase(to string, usdAmount decimal.Decimal) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.info.Active {
		return decimal.Zero, errors.New(errors.CodeFundNotActive, fmt.Sprintf("fund %d is not active", e.cfg.FundID))
	}
	if to == "" {
		return decimal.Zero, errors.New(errors.CodeInvalidAmount, "investor account is required")
	}
	if !fixed.IsPositiveAmount(usdAmount) {
		return decimal.Zero, errors.New(errors.CodeInvalidAmount, "purchase amount must be a positive integer amount")
	}

	minted, err := fixed.MulDiv(fixed.Rescale(usdAmount, 8, 18), fixed.TokenUnit, e.info.NavPerToken)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.CodeInvalidAmount, "convert purchase amount", err)
	}
	if minted.IsZero() {
		return decimal.Zero, errors.New(errors.CodeInvalidAmount, "purchase amount is below one share unit")
	}

	if err := e.cfg.Ledger.Mint(e.cfg.Actor, e.cfg.TokenID, to, minted); err != nil {
		return decimal.Zero, err
	}

	e.info.TotalAssetValue = e.info.TotalAssetValue.Add(usdAmount)
	record := e.investors[to]
	if record == nil {
		record = &InvestorRecord{}
		e.investors[to] = record
	}
	record.TotalInvested = record.TotalInvested.Add(usdAmount)
	record.LastPurchase = e.clock().UTC()

	e.journalLocked(journal.TypeFundPurchased, to, map[string]string{
		"fund_id":    fmt.Sprintf("%d", e.cfg.FundID),
		"usd_amount": usdAmount.String(),
		"minted":     minted.String(),
	})
	return minted, nil
}

// Redeem burns tokenAmount fund shares from the investor at the current NAV
// and returns the USD value released (8-decimal USD).
func (e *Engine) Redeem(from string, tokenAmount decimal.Decimal) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !fixed.IsPositiveAmount(tokenAmount) {
		return decimal.Zero, errors.New(errors.CodeInvalidAmount, "redemption amount must be a positive integer amount")
	}
	balanceBefore, err := e.cfg.Ledger.BalanceOf(e.cfg.TokenID, from)
	if err != nil {
		return decimal.Zero, err
	}
	if balanceBefore.Cmp(tokenAmount) < 0 {
		return decimal.Zero, errors.New(errors.CodeInsufficientBalance, "redemption amount exceeds share balance")
	}

	usd18, err := fixed.MulDiv(tokenAmount, e.info.NavPerToken, fixed.TokenUnit)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.CodeInvalidAmount, "convert redemption amount", err)
	}
	usdAmount := fixed.Rescale(usd18, 18, 8)
	if usdAmount.Cmp(e.info.TotalAssetValue) > 0 {
		return decimal.Zero, errors.New(errors.CodeInsufficientFundAssets, "redemption exceeds fund assets")
	}

	if err := e.cfg.Ledger.Burn(e.cfg.Actor, e.cfg.TokenID, from, tokenAmount); err != nil {
		return decimal.Zero, err
	}

	e.info.TotalAssetValue = e.info.TotalAssetValue.Sub(usdAmount)
	if record := e.investors[from]; record != nil {
		reduction, err := fixed.MulDiv(record.TotalInvested, tokenAmount, balanceBefore)
		if err == nil {
			record.TotalInvested = record.TotalInvested.Sub(reduction)
		}
	}

	e.journalLocked(journal.TypeFundRedeemed, from, map[string]string{
		"fund_id":      fmt.Sprintf("%d", e.cfg.FundID),
		"token_amount": tokenAmount.String(),
		"usd_amount":   usdAmount.String(),
	})
	return usdAmount, nil
}

// UpdateNAV sets the fund's total asset value (8-decimal USD) and recomputes
// the per-share NAV from the outstanding supply. With no supply, NAV resets
// to 1.00.
func (e *Engine) UpdateNAV(actor string, newTotalAssetValue decimal.Decimal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.allowed(actor, authz.RoleFundManager) {
		return errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not update NAV of fund %d", actor, e.cfg.FundID))
	}
	if !fixed.IsAmount(newTotalAssetValue) {
		return errors.New(errors.CodeInvalidAmount, "asset value must be a non-negative integer amount")
	}

	supply, err := e.cfg.Ledger.TotalSupply(e.cfg.TokenID)
	if err != nil {
		return err
	}
	if supply.Sign() > 0 {
		nav, err := fixed.MulDiv(fixed.Rescale(newTotalAssetValue, 8, 18), fixed.TokenUnit, supply)
		if err != nil {
			return errors.Wrap(errors.CodeInvalidAmount, "recompute nav", err)
		}
		e.info.NavPerToken = nav
	} else {
		e.info.NavPerToken = fixed.TokenUnit
	}
	e.info.TotalAssetValue = newTotalAssetValue
	e.info.LastNavUpdate = e.clock().UTC()

	e.journalLocked(journal.TypeNavUpdated, actor, map[string]string{
		"fund_id":           fmt.Sprintf("%d", e.cfg.FundID),
		"total_asset_value": newTotalAssetValue.String(),
		"nav_per_token":     e.info.NavPerToken.String(),
	})
	return nil
}

// SetAllocation sets the target weight of one asset in basis points. A zero
// weight removes the asset from the tracked set. Weight sums are not
// validated here; only governance rebalances enforce the 10000 total.
func (e *Engine) SetAllocation(actor string, assetID asset.ID, weightBps uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.allowed(actor, authz.RoleFundManager) && !e.allowed(actor, authz.RoleGovernance) {
		return errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not set allocations of fund %d", actor, e.cfg.FundID))
	}
	if err := e.setAllocationLocked(assetID, weightBps); err != nil {
		return err
	}
	e.journalLocked(journal.TypeAllocationChanged, actor, map[string]string{
		"fund_id":    fmt.Sprintf("%d", e.cfg.FundID),
		"asset_id":   fmt.Sprintf("%d", assetID),
		"weight_bps": fmt.Sprintf("%d", weightBps),
	})
	return nil
}

// ApplyAllocations replaces the weights of the given assets in one step.
// The change set must be free of duplicates and sum to exactly 10000 bps;
// either every change applies or none does.
func (e *Engine) ApplyAllocations(actor string, changes []Allocation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.allowed(actor, authz.RoleGovernance) {
		return errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not rebalance fund %d", actor, e.cfg.FundID))
	}
	if err := ValidateAllocations(changes); err != nil {
		return err
	}
	for _, change := range changes {
		if err := e.setAllocationLocked(change.AssetID, change.WeightBps); err != nil {
			return err
		}
	}
	for _, change := range changes {
		e.journalLocked(journal.TypeAllocationChanged, actor, map[string]string{
			"fund_id":    fmt.Sprintf("%d", e.cfg.FundID),
			"asset_id":   fmt.Sprintf("%d", change.AssetID),
			"weight_bps": fmt.Sprintf("%d", change.WeightBps),
		})
	}
	return nil
}

// ValidateAllocations checks a full-rebalance change set: no duplicate
// assets, every weight within bounds, weights summing to exactly 10000 bps.
func ValidateAllocations(changes []Allocation) error {
	if len(changes) == 0 {
		return errors.New(errors.CodeInvalidAllocation, "allocation change set is empty")
	}
	seen := make(map[asset.ID]struct{}, len(changes))
	var sum uint64
	for _, change := range changes {
		if _, dup := seen[change.AssetID]; dup {
			return errors.New(errors.CodeInvalidAllocation, fmt.Sprintf("duplicate asset %d in change set", change.AssetID))
		}
		seen[change.AssetID] = struct{}{}
		if change.WeightBps > maxWeightBps {
			return errors.New(errors.CodeWeightTooHigh, fmt.Sprintf("weight %d exceeds 10000 bps", change.WeightBps))
		}
		sum += uint64(change.WeightBps)
	}
	if sum != maxWeightBps {
		return errors.New(errors.CodeInvalidAllocation, fmt.Sprintf("weights sum to %d bps, want 10000", sum))
	}
	return nil
}

func (e *Engine) setAllocationLocked(assetID asset.ID, weightBps uint32) error {
	if weightBps > maxWeightBps {
		return errors.New(errors.CodeWeightTooHigh, fmt.Sprintf("weight %d exceeds 10000 bps", weightBps))
	}

	_, tracked := e.weights[assetID]
	switch {
	case weightBps == 0 && tracked:
		delete(e.weights, assetID)
		for i, id := range e.assetList {
			if id == assetID {
				last := len(e.assetList) - 1
				e.assetList[i] = e.assetList[last]
				e.assetList = e.assetList[:last]
				break
			}
		}
	case weightBps != 0:
		if !tracked {
			e.assetList = append(e.assetList, assetID)
		}
		e.weights[assetID] = weightBps
	}
	return nil
}

// SetActive toggles the fund. Inactive funds reject purchases.
func (e *Engine) SetActive(actor string, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.allowed(actor, authz.RoleFundManager) {
		return errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not toggle fund %d", actor, e.cfg.FundID))
	}
	e.info.Active = active
	return nil
}

// Info returns a snapshot of the fund's NAV state.
func (e *Engine) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info
}

// Allocations returns the tracked allocation table in tracking order.
func (e *Engine) Allocations() []Allocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Allocation, 0, len(e.assetList))
	for _, id := range e.assetList {
		out = append(out, Allocation{AssetID: id, WeightBps: e.weights[id]})
	}
	return out
}

// Weight returns the current weight of an asset, zero when untracked.
func (e *Engine) Weight(assetID asset.ID) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.weights[assetID]
}

// Investor returns the recorded investment for an account.
func (e *Engine) Investor(account string) (InvestorRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	record, ok := e.investors[account]
	if !ok {
		return InvestorRecord{}, false
	}
	return *record, true
}

// USDValue converts a share amount to 8-decimal USD at the current NAV.
func (e *Engine) USDValue(tokenAmount decimal.Decimal) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	usd18, err := fixed.MulDiv(tokenAmount, e.info.NavPerToken, fixed.TokenUnit)
	if err != nil {
		return decimal.Zero, err
	}
	return fixed.Rescale(usd18, 18, 8), nil
}

// TokenAmount converts 8-decimal USD to a share amount at the current NAV.
func (e *Engine) TokenAmount(usdAmount decimal.Decimal) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fixed.MulDiv(fixed.Rescale(usdAmount, 8, 18), fixed.TokenUnit, e.info.NavPerToken)
}

func (e *Engine) allowed(actor string, role authz.Role) bool {
	return e.cfg.Auth.Allowed(actor, role, e.cfg.FundID)
}

func (e *Engine) journalLocked(eventType journal.Type, actor string, payload map[string]string) {
	// Journal failures never unwind fund state.
	_ = e.cfg.Journal.Append(journal.Event{
		Type:      eventType,
		Timestamp: e.clock().UTC(),
		Actor:     actor,
		Payload:   payload,
	})
}
