package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfund/openfund/internal/asset"
	"github.com/openfund/openfund/internal/authz"
	"github.com/openfund/openfund/internal/fund"
	journalsqlite "github.com/openfund/openfund/internal/journal/sqlite"
	"github.com/openfund/openfund/internal/ledger"
	"github.com/openfund/openfund/internal/platform/errors"
)

var tracer = otel.Tracer("openfund/worker")

// workerActor is the ledger and engine identity the worker operates under.
const workerActor = "valuation-worker"

// custodyAccount is the ledger account holding the fund's asset tokens.
const custodyAccount = "fund-custody"

// Runtime owns the worker's platform components and its valuation loop.
type Runtime struct {
	book     *ledger.Ledger
	registry *asset.Registry
	engine   *fund.Engine
	custody  string
	interval time.Duration
	store    *journalsqlite.Store
}

// buildRuntime assembles the in-process platform the worker values: a
// ledger, the seed assets at their configured prices, and one fund. All
// three components journal to the worker's sqlite store.
func buildRuntime(cfg Config) (*Runtime, error) {
	store, err := journalsqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open journal store: %w", err)
	}

	grants := authz.NewGrants()
	grants.Grant(workerActor, authz.RoleAdmin, authz.Wildcard)
	grants.Grant(workerActor, authz.RolePriceOracle, authz.Wildcard)
	grants.Grant(workerActor, authz.RoleFundManager, authz.Wildcard)
	grants.Grant(workerActor, authz.RoleMinter, authz.Wildcard)

	book := ledger.New(grants, store)
	registry := asset.NewRegistry(grants, store)

	seeds, err := parseAssetSeeds(cfg.Assets)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	for _, seed := range seeds {
		tokenID, err := book.CreateToken(seed.symbol, 18)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("create token %s: %w", seed.symbol, err)
		}
		if _, err := registry.Register(workerActor, seed.symbol, "seed", tokenID, seed.price); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("register asset %s: %w", seed.symbol, err)
		}
	}

	fundTok, err := book.CreateToken(cfg.FundSymbol, 18)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create fund token: %w", err)
	}
	engine := fund.NewEngine(fund.Config{
		FundID:           1,
		TokenID:          fundTok,
		Actor:            workerActor,
		ManagementFeeBps: uint32(cfg.ManagementFeeBps),
		Ledger:           book,
		Auth:             grants,
		Journal:          store,
	})

	return &Runtime{
		book:     book,
		registry: registry,
		engine:   engine,
		custody:  custodyAccount,
		interval: cfg.ValuationInterval,
		store:    store,
	}, nil
}

// Run values the fund on every tick until the context is canceled.
func (r *Runtime) Run(ctx context.Context) error {
	log.Printf("valuing fund %d every %s", r.engine.Info().FundID, r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("shutting down")
			return nil
		case <-ticker.C:
			if err := r.ValueFund(ctx); err != nil {
				log.Printf("value fund: %v", err)
			}
		}
	}
}

// ValueFund marks the fund to market: it prices the custody holdings of
// every registered asset and updates the fund's NAV with the total.
func (r *Runtime) ValueFund(ctx context.Context) error {
	_, span := tracer.Start(ctx, "worker.value_fund",
		trace.WithAttributes(attribute.Int64("fund.id", int64(r.engine.Info().FundID))))
	defer span.End()

	total := decimal.Zero
	for _, info := range r.registry.List() {
		if !info.Active {
			continue
		}
		balance, err := r.book.BalanceOf(info.TokenID, r.custody)
		if err != nil {
			return err
		}
		if balance.IsZero() {
			continue
		}
		value, err := r.registry.USDValue(info.ID, balance)
		if err != nil {
			if errors.IsCode(err, errors.CodePriceNotSet) {
				continue
			}
			return err
		}
		total = total.Add(value)
	}

	// The fund engine journals the NAV change to the sqlite store.
	return r.engine.UpdateNAV(workerActor, total)
}

// Close releases the runtime's storage.
func (r *Runtime) Close() {
	if err := r.store.Close(); err != nil {
		log.Printf("close journal store: %v", err)
	}
}

type assetSeed struct {
	symbol string
	price  decimal.Decimal
}

// parseAssetSeeds parses comma-separated SYMBOL:price pairs, prices in
// 8-decimal USD.
func parseAssetSeeds(raw string) ([]assetSeed, error) {
	var seeds []assetSeed
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		symbol, rawPrice, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("asset seed %q is not SYMBOL:price", pair)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(rawPrice))
		if err != nil {
			return nil, fmt.Errorf("asset seed %q price: %w", pair, err)
		}
		seeds = append(seeds, assetSeed{symbol: strings.TrimSpace(symbol), price: price})
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("at least one asset seed is required")
	}
	return seeds, nil
}
