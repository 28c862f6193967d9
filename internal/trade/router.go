// Package trade implements the trade router: fee-charging, limit-enforcing
// purchase and sale of asset tokens and fund shares against a payment
// gateway.
//
// Every route follows the same shape: validate everything first, take the
// payment or the tokens, then apply the remaining steps with compensation on
// failure so a trade never settles halfway.
package trade

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openfund/openfund/internal/asset"
	"github.com/openfund/openfund/internal/authz"
	"github.com/openfund/openfund/internal/core/fixed"
	"github.com/openfund/openfund/internal/fund"
	"github.com/openfund/openfund/internal/journal"
	"github.com/openfund/openfund/internal/ledger"
	"github.com/openfund/openfund/internal/platform/errors"
)

// PaymentGateway moves 8-decimal USD between user accounts and the router's
// custody, and reports how much custody liquidity is available for payouts.
type PaymentGateway interface {
	TransferIn(from string, usdAmount decimal.Decimal) error
	TransferOut(to string, usdAmount decimal.Decimal) error
	Liquidity() (decimal.Decimal, error)
}

// Fees holds the router's fee schedule in basis points.
type Fees struct {
	AssetTradeBps     uint32
	FundPurchaseBps   uint32
	FundRedemptionBps uint32
}

// Limits bounds trade sizes in 8-decimal USD. Zero values disable the
// corresponding bound; Enabled toggles the whole set.
type Limits struct {
	MinTradeUsd    decimal.Decimal
	MaxTradeUsd    decimal.Decimal
	DailyVolumeUsd decimal.Decimal
	Enabled        bool
}

// Kind labels the route a receipt settled through.
type Kind string

const (
	// KindAssetBuy is a purchase of asset tokens for USD.
	KindAssetBuy Kind = "asset_buy"
	// KindAssetSell is a sale of asset tokens for USD.
	KindAssetSell Kind = "asset_sell"
	// KindFundBuy is a purchase of fund shares for USD.
	KindFundBuy Kind = "fund_buy"
	// KindFundSell is a redemption of fund shares for USD.
	KindFundSell Kind = "fund_sell"
)

// Receipt records one settled trade.
type Receipt struct {
	ID          string
	Kind        Kind
	User        string
	AssetID     asset.ID
	FundID      uint64
	UsdGross    decimal.Decimal
	Fee         decimal.Decimal
	UsdNet      decimal.Decimal
	TokenAmount decimal.Decimal
	Timestamp   time.Time
}

// Preview is the quoted outcome of a trade before settlement.
type Preview struct {
	UsdGross    decimal.Decimal
	Fee         decimal.Decimal
	UsdNet      decimal.Decimal
	TokenAmount decimal.Decimal
}

// Config carries the router's dependencies and identity.
type Config struct {
	Actor    string // ledger identity used to mint/burn asset tokens
	Treasury string
	Fees     Fees
	Limits   Limits
	Gateway  PaymentGateway
	Ledger   *ledger.Ledger
	Registry *asset.Registry
	Auth     authz.Authorizer
	Journal  journal.Appender
}

type volumeKey struct {
	user string
	day  int64
}

// Router settles trades between users and the platform.
type Router struct {
	cfg   Config
	clock func() time.Time

	mu          sync.Mutex
	funds       map[uint64]*fund.Engine
	dailyVolume map[volumeKey]decimal.Decimal
	accruedFees decimal.Decimal
}

// NewRouter creates a trade router with no registered funds.
func NewRouter(cfg Config) *Router {
	if cfg.Journal == nil {
		cfg.Journal = journal.Discard{}
	}
	return &Router{
		cfg:         cfg,
		clock:       time.Now,
		funds:       make(map[uint64]*fund.Engine),
		dailyVolume: make(map[volumeKey]decimal.Decimal),
		accruedFees: decimal.Zero,
	}
}

// RegisterFund makes a fund engine routable by its fund id.
func (r *Router) RegisterFund(engine *fund.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funds[engine.Info().FundID] = engine
}

// BuyAsset sells usdAmount worth of an asset to the user: the gross payment
// moves into custody, the fee accrues, and tokens worth the net amount are
// minted at the current oracle price.
func (r *Router) BuyAsset(user string, assetID asset.ID, usdAmount decimal.Decimal) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	preview, info, err := r.previewAssetBuyLocked(assetID, usdAmount)
	if err != nil {
		return Receipt{}, err
	}
	if err := r.checkLimitsLocked(user, usdAmount); err != nil {
		return Receipt{}, err
	}

	if err := r.cfg.Gateway.TransferIn(user, usdAmount); err != nil {
		return Receipt{}, errors.Wrap(errors.CodePaymentFailed, "collect payment", err)
	}
	if err := r.cfg.Ledger.Mint(r.cfg.Actor, info.TokenID, user, preview.TokenAmount); err != nil {
		if refundErr := r.cfg.Gateway.TransferOut(user, usdAmount); refundErr != nil {
			return Receipt{}, errors.Wrap(errors.CodePaymentFailed, "refund after failed mint", refundErr)
		}
		return Receipt{}, err
	}

	r.accruedFees = r.accruedFees.Add(preview.Fee)
	r.recordVolumeLocked(user, usdAmount)
	receipt := r.receiptLocked(KindAssetBuy, user, preview)
	receipt.AssetID = assetID
	r.journalLocked(journal.TypeAssetBought, user, receipt)
	return receipt, nil
}

// SellAsset buys tokenAmount of an asset back from the user: the tokens are
// burned at the current oracle price and the net proceeds are paid out of
// custody.
func (r *Router) SellAsset(user string, assetID asset.ID, tokenAmount decimal.Decimal) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	preview, info, err := r.previewAssetSellLocked(assetID, tokenAmount)
	if err != nil {
		return Receipt{}, err
	}
	if err := r.checkLimitsLocked(user, preview.UsdGross); err != nil {
		return Receipt{}, err
	}
	if err := r.checkLiquidityLocked(preview.UsdNet); err != nil {
		return Receipt{}, err
	}

	if err := r.cfg.Ledger.Burn(r.cfg.Actor, info.TokenID, user, tokenAmount); err != nil {
		return Receipt{}, err
	}
	if err := r.cfg.Gateway.TransferOut(user, preview.UsdNet); err != nil {
		if mintErr := r.cfg.Ledger.Mint(r.cfg.Actor, info.TokenID, user, tokenAmount); mintErr != nil {
			return Receipt{}, errors.Wrap(errors.CodePaymentFailed, "restore tokens after failed payout", mintErr)
		}
		return Receipt{}, errors.Wrap(errors.CodePaymentFailed, "pay out proceeds", err)
	}

	r.accruedFees = r.accruedFees.Add(preview.Fee)
	r.recordVolumeLocked(user, preview.UsdGross)
	receipt := r.receiptLocked(KindAssetSell, user, preview)
	receipt.AssetID = assetID
	r.journalLocked(journal.TypeAssetSold, user, receipt)
	return receipt, nil
}

// BuyFund purchases fund shares for the user: the gross payment moves into
// custody, the fee accrues, and the net amount is invested at the current
// NAV.
func (r *Router) BuyFund(user string, fundID uint64, usdAmount decimal.Decimal) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	engine, err := r.fundLocked(fundID)
	if err != nil {
		return Receipt{}, err
	}
	preview, err := r.previewFundBuyLocked(engine, usdAmount)
	if err != nil {
		return Receipt{}, err
	}
	if err := r.checkLimitsLocked(user, usdAmount); err != nil {
		return Receipt{}, err
	}

	if err := r.cfg.Gateway.TransferIn(user, usdAmount); err != nil {
		return Receipt{}, errors.Wrap(errors.CodePaymentFailed, "collect payment", err)
	}
	minted, err := engine.Purchase(user, preview.UsdNet)
	if err != nil {
		if refundErr := r.cfg.Gateway.TransferOut(user, usdAmount); refundErr != nil {
			return Receipt{}, errors.Wrap(errors.CodePaymentFailed, "refund after failed purchase", refundErr)
		}
		return Receipt{}, err
	}
	preview.TokenAmount = minted

	r.accruedFees = r.accruedFees.Add(preview.Fee)
	r.recordVolumeLocked(user, usdAmount)
	receipt := r.receiptLocked(KindFundBuy, user, preview)
	receipt.FundID = fundID
	r.journalLocked(journal.TypeFundBought, user, receipt)
	return receipt, nil
}

// SellFund redeems fund shares for the user: the shares are burned at the
// current NAV and the net proceeds are paid out of custody.
func (r *Router) SellFund(user string, fundID uint64, tokenAmount decimal.Decimal) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	engine, err := r.fundLocked(fundID)
	if err != nil {
		return Receipt{}, err
	}
	preview, err := r.previewFundSellLocked(engine, tokenAmount)
	if err != nil {
		return Receipt{}, err
	}
	if err := r.checkLimitsLocked(user, preview.UsdGross); err != nil {
		return Receipt{}, err
	}
	if err := r.checkLiquidityLocked(preview.UsdNet); err != nil {
		return Receipt{}, err
	}

	usdGross, err := engine.Redeem(user, tokenAmount)
	if err != nil {
		return Receipt{}, err
	}
	fee := fixed.Bps(usdGross, r.cfg.Fees.FundRedemptionBps)
	usdNet := usdGross.Sub(fee)
	if err := r.cfg.Gateway.TransferOut(user, usdNet); err != nil {
		if _, restoreErr := engine.Purchase(user, usdGross); restoreErr != nil {
			return Receipt{}, errors.Wrap(errors.CodePaymentFailed, "restore shares after failed payout", restoreErr)
		}
		return Receipt{}, errors.Wrap(errors.CodePaymentFailed, "pay out proceeds", err)
	}

	preview.UsdGross = usdGross
	preview.Fee = fee
	preview.UsdNet = usdNet
	r.accruedFees = r.accruedFees.Add(fee)
	r.recordVolumeLocked(user, usdGross)
	receipt := r.receiptLocked(KindFundSell, user, preview)
	receipt.FundID = fundID
	r.journalLocked(journal.TypeFundSold, user, receipt)
	return receipt, nil
}

// PreviewAssetBuy quotes an asset purchase without settling it.
func (r *Router) PreviewAssetBuy(assetID asset.ID, usdAmount decimal.Decimal) (Preview, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	preview, _, err := r.previewAssetBuyLocked(assetID, usdAmount)
	return preview, err
}

// PreviewAssetSell quotes an asset sale without settling it.
func (r *Router) PreviewAssetSell(assetID asset.ID, tokenAmount decimal.Decimal) (Preview, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	preview, _, err := r.previewAssetSellLocked(assetID, tokenAmount)
	return preview, err
}

// AccruedFees returns the USD fees collected into custody and not yet swept.
func (r *Router) AccruedFees() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accruedFees
}

// SweepFees pays the accrued fees out of custody to the treasury. Requires
// the admin capability on the wildcard resource.
func (r *Router) SweepFees(actor string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cfg.Auth.Allowed(actor, authz.RoleAdmin, authz.Wildcard) {
		return decimal.Zero, errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not sweep fees", actor))
	}
	if r.accruedFees.IsZero() {
		return decimal.Zero, nil
	}
	swept := r.accruedFees
	if err := r.cfg.Gateway.TransferOut(r.cfg.Treasury, swept); err != nil {
		return decimal.Zero, errors.Wrap(errors.CodePaymentFailed, "pay treasury", err)
	}
	r.accruedFees = decimal.Zero
	return swept, nil
}

// DailyVolume returns the user's settled USD volume for the day containing
// now.
func (r *Router) DailyVolume(user string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	volume, ok := r.dailyVolume[volumeKey{user: user, day: r.dayLocked()}]
	if !ok {
		return decimal.Zero
	}
	return volume
}

func (r *Router) previewAssetBuyLocked(assetID asset.ID, usdAmount decimal.Decimal) (Preview, asset.Info, error) {
	if !fixed.IsPositiveAmount(usdAmount) {
		return Preview{}, asset.Info{}, errors.New(errors.CodeInvalidAmount, "trade amount must be a positive integer amount")
	}
	info, err := r.cfg.Registry.Get(assetID)
	if err != nil {
		return Preview{}, asset.Info{}, err
	}
	if !info.Active {
		return Preview{}, asset.Info{}, errors.New(errors.CodeAssetNotActive, fmt.Sprintf("asset %d is not active", assetID))
	}
	fee := fixed.Bps(usdAmount, r.cfg.Fees.AssetTradeBps)
	net := usdAmount.Sub(fee)
	tokens, err := r.cfg.Registry.TokenAmount(assetID, net)
	if err != nil {
		return Preview{}, asset.Info{}, err
	}
	if tokens.IsZero() {
		return Preview{}, asset.Info{}, errors.New(errors.CodeInvalidAmount, "net amount is below one token unit")
	}
	return Preview{UsdGross: usdAmount, Fee: fee, UsdNet: net, TokenAmount: tokens}, info, nil
}

func (r *Router) previewAssetSellLocked(assetID asset.ID, tokenAmount decimal.Decimal) (Preview, asset.Info, error) {
	if !fixed.IsPositiveAmount(tokenAmount) {
		return Preview{}, asset.Info{}, errors.New(errors.CodeInvalidAmount, "trade amount must be a positive integer amount")
	}
	info, err := r.cfg.Registry.Get(assetID)
	if err != nil {
		return Preview{}, asset.Info{}, err
	}
	if !info.Active {
		return Preview{}, asset.Info{}, errors.New(errors.CodeAssetNotActive, fmt.Sprintf("asset %d is not active", assetID))
	}
	gross, err := r.cfg.Registry.USDValue(assetID, tokenAmount)
	if err != nil {
		return Preview{}, asset.Info{}, err
	}
	if gross.IsZero() {
		return Preview{}, asset.Info{}, errors.New(errors.CodeInvalidAmount, "token amount is below one USD unit")
	}
	fee := fixed.Bps(gross, r.cfg.Fees.AssetTradeBps)
	return Preview{UsdGross: gross, Fee: fee, UsdNet: gross.Sub(fee), TokenAmount: tokenAmount}, info, nil
}

func (r *Router) previewFundBuyLocked(engine *fund.Engine, usdAmount decimal.Decimal) (Preview, error) {
	if !fixed.IsPositiveAmount(usdAmount) {
		return Preview{}, errors.New(errors.CodeInvalidAmount, "trade amount must be a positive integer amount")
	}
	fee := fixed.Bps(usdAmount, r.cfg.Fees.FundPurchaseBps)
	net := usdAmount.Sub(fee)
	shares, err := engine.TokenAmount(net)
	if err != nil {
		return Preview{}, err
	}
	if shares.IsZero() {
		return Preview{}, errors.New(errors.CodeInvalidAmount, "net amount is below one share unit")
	}
	return Preview{UsdGross: usdAmount, Fee: fee, UsdNet: net, TokenAmount: shares}, nil
}

func (r *Router) previewFundSellLocked(engine *fund.Engine, tokenAmount decimal.Decimal) (Preview, error) {
	if !fixed.IsPositiveAmount(tokenAmount) {
		return Preview{}, errors.New(errors.CodeInvalidAmount, "trade amount must be a positive integer amount")
	}
	gross, err := engine.USDValue(tokenAmount)
	if err != nil {
		return Preview{}, err
	}
	if gross.IsZero() {
		return Preview{}, errors.New(errors.CodeInvalidAmount, "share amount is below one USD unit")
	}
	fee := fixed.Bps(gross, r.cfg.Fees.FundRedemptionBps)
	return Preview{UsdGross: gross, Fee: fee, UsdNet: gross.Sub(fee), TokenAmount: tokenAmount}, nil
}

func (r *Router) fundLocked(fundID uint64) (*fund.Engine, error) {
	engine, ok := r.funds[fundID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("fund %d is not registered", fundID))
	}
	return engine, nil
}

func (r *Router) checkLimitsLocked(user string, usdAmount decimal.Decimal) error {
	if !r.cfg.Limits.Enabled {
		return nil
	}
	limits := r.cfg.Limits
	if limits.MinTradeUsd.Sign() > 0 && usdAmount.Cmp(limits.MinTradeUsd) < 0 {
		return errors.New(errors.CodeLimitExceeded, "trade is below the minimum size")
	}
	if limits.MaxTradeUsd.Sign() > 0 && usdAmount.Cmp(limits.MaxTradeUsd) > 0 {
		return errors.New(errors.CodeLimitExceeded, "trade is above the maximum size")
	}
	if limits.DailyVolumeUsd.Sign() > 0 {
		volume := r.dailyVolume[volumeKey{user: user, day: r.dayLocked()}]
		if volume.Add(usdAmount).Cmp(limits.DailyVolumeUsd) > 0 {
			return errors.New(errors.CodeLimitExceeded, "trade exceeds the daily volume limit")
		}
	}
	return nil
}

// checkLiquidityLocked verifies custody can cover a payout without dipping
// into accrued fees owed to the treasury.
func (r *Router) checkLiquidityLocked(payout decimal.Decimal) error {
	liquidity, err := r.cfg.Gateway.Liquidity()
	if err != nil {
		return errors.Wrap(errors.CodePaymentFailed, "read custody liquidity", err)
	}
	if liquidity.Sub(r.accruedFees).Cmp(payout) < 0 {
		return errors.New(errors.CodeInsufficientLiquidity, "custody cannot cover the payout")
	}
	return nil
}

func (r *Router) recordVolumeLocked(user string, usdAmount decimal.Decimal) {
	key := volumeKey{user: user, day: r.dayLocked()}
	r.dailyVolume[key] = r.dailyVolume[key].Add(usdAmount)
}

func (r *Router) dayLocked() int64 {
	return r.clock().UTC().Unix() / 86400
}

func (r *Router) receiptLocked(kind Kind, user string, preview Preview) Receipt {
	return Receipt{
		ID:          uuid.NewString(),
		Kind:        kind,
		User:        user,
		UsdGross:    preview.UsdGross,
		Fee:         preview.Fee,
		UsdNet:      preview.UsdNet,
		TokenAmount: preview.TokenAmount,
		Timestamp:   r.clock().UTC(),
	}
}

func (r *Router) journalLocked(eventType journal.Type, user string, receipt Receipt) {
	payload := map[string]string{
		"receipt_id":   receipt.ID,
		"usd_gross":    receipt.UsdGross.String(),
		"fee":          receipt.Fee.String(),
		"usd_net":      receipt.UsdNet.String(),
		"token_amount": receipt.TokenAmount.String(),
	}
	if receipt.AssetID != 0 {
		payload["asset_id"] = fmt.Sprintf("%d", receipt.AssetID)
	}
	if receipt.FundID != 0 {
		payload["fund_id"] = fmt.Sprintf("%d", receipt.FundID)
	}
	// Journal failures never unwind a settled trade.
	_ = r.cfg.Journal.Append(journal.Event{
		Type:      eventType,
		Timestamp: receipt.Timestamp,
		Actor:     user,
		Payload:   payload,
	})
}
