package asset

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/openfund/internal/authz"
	"github.com/openfund/openfund/internal/journal"
	"github.com/openfund/openfund/internal/platform/errors"
)

const (
	admin  = "admin"
	oracle = "oracle"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestRegistry(t *testing.T) (*Registry, ID) {
	t.Helper()
	grants := authz.NewGrants()
	grants.Grant(admin, authz.RoleAdmin, authz.Wildcard)
	grants.Grant(oracle, authz.RolePriceOracle, authz.Wildcard)

	r := NewRegistry(grants, nil)
	r.clock = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }
	id, err := r.Register(admin, "GOLD", "commodity", 2, dec("195000000000")) // 1950 USD
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return r, id
}

func TestRegisterRequiresAdmin(t *testing.T) {
	grants := authz.NewGrants()
	r := NewRegistry(grants, nil)
	_, err := r.Register("mallory", "GOLD", "commodity", 2, decimal.Zero)
	if !errors.IsCode(err, errors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestUpdatePrice(t *testing.T) {
	r, id := newTestRegistry(t)

	updateTime := time.Date(2026, 8, 2, 9, 30, 0, 0, time.UTC)
	r.clock = func() time.Time { return updateTime }

	if err := r.UpdatePrice(oracle, id, dec("200000000000")); err != nil {
		t.Fatalf("update price: %v", err)
	}
	price, at, err := r.Price(id)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	if !price.Equal(dec("200000000000")) {
		t.Fatalf("unexpected price %s", price)
	}
	if !at.Equal(updateTime) {
		t.Fatalf("expected update time recorded, got %v", at)
	}
}

func TestUpdatePriceValidation(t *testing.T) {
	r, id := newTestRegistry(t)

	if err := r.UpdatePrice(oracle, id, decimal.Zero); !errors.IsCode(err, errors.CodeInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
	if err := r.UpdatePrice("mallory", id, dec("1")); !errors.IsCode(err, errors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := r.UpdatePrice(oracle, ID(99), dec("1")); !errors.IsCode(err, errors.CodeAssetNotSupported) {
		t.Fatalf("expected unsupported asset, got %v", err)
	}
}

func TestInactiveAssetRejectsPriceUpdates(t *testing.T) {
	r, id := newTestRegistry(t)

	if err := r.SetActive(admin, id, false); err != nil {
		t.Fatalf("set active: %v", err)
	}
	err := r.UpdatePrice(oracle, id, dec("1"))
	if !errors.IsCode(err, errors.CodeAssetNotActive) {
		t.Fatalf("expected asset not active, got %v", err)
	}

	if err := r.SetActive(admin, id, true); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if err := r.UpdatePrice(oracle, id, dec("1")); err != nil {
		t.Fatalf("update after reactivation: %v", err)
	}
}

func TestUSDConversions(t *testing.T) {
	r, id := newTestRegistry(t)
	if err := r.UpdatePrice(oracle, id, dec("200000000000")); err != nil { // 2000 USD/token
		t.Fatalf("update price: %v", err)
	}

	// 0.5 token at 2000 USD = 1000 USD.
	usd, err := r.USDValue(id, dec("500000000000000000"))
	if err != nil {
		t.Fatalf("usd value: %v", err)
	}
	if !usd.Equal(dec("100000000000")) {
		t.Fatalf("expected 1000 USD, got %s", usd)
	}

	// Inverse: 1000 USD buys 0.5 token.
	tokens, err := r.TokenAmount(id, dec("100000000000"))
	if err != nil {
		t.Fatalf("token amount: %v", err)
	}
	if !tokens.Equal(dec("500000000000000000")) {
		t.Fatalf("expected 0.5 token, got %s", tokens)
	}
}

func TestConversionsFailWithoutPrice(t *testing.T) {
	grants := authz.NewGrants()
	grants.Grant(admin, authz.RoleAdmin, authz.Wildcard)
	r := NewRegistry(grants, nil)
	id, err := r.Register(admin, "TECH", "equity", 3, decimal.Zero)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := r.USDValue(id, dec("1")); !errors.IsCode(err, errors.CodePriceNotSet) {
		t.Fatalf("expected price not set, got %v", err)
	}
	if _, err := r.TokenAmount(id, dec("1")); !errors.IsCode(err, errors.CodePriceNotSet) {
		t.Fatalf("expected price not set, got %v", err)
	}
}

func TestListReturnsAssetsInIDOrder(t *testing.T) {
	r, first := newTestRegistry(t)
	second, err := r.Register(admin, "TECH", "equity", 3, dec("10000000000"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	assets := r.List()
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	if assets[0].ID != first || assets[1].ID != second {
		t.Fatalf("unexpected order: %d then %d", assets[0].ID, assets[1].ID)
	}
}

func TestRegistryJournalsPriceChanges(t *testing.T) {
	grants := authz.NewGrants()
	grants.Grant(admin, authz.RoleAdmin, authz.Wildcard)
	grants.Grant(oracle, authz.RolePriceOracle, authz.Wildcard)
	mem := journal.NewMemory()
	r := NewRegistry(grants, mem)

	id, err := r.Register(admin, "GOLD", "commodity", 2, dec("195000000000"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.UpdatePrice(oracle, id, dec("200000000000")); err != nil {
		t.Fatalf("update price: %v", err)
	}
	// Rejected pushes leave no trace.
	if err := r.UpdatePrice("mallory", id, dec("1")); err == nil {
		t.Fatal("expected unauthorized price push to fail")
	}

	events := mem.Events()
	if len(events) != 2 {
		t.Fatalf("journal has %d events, want 2", len(events))
	}
	if events[0].Type != journal.TypeAssetRegistered {
		t.Fatalf("event 0 type = %q, want %q", events[0].Type, journal.TypeAssetRegistered)
	}
	if events[1].Type != journal.TypePriceUpdated {
		t.Fatalf("event 1 type = %q, want %q", events[1].Type, journal.TypePriceUpdated)
	}
	if got := events[1].Payload["price"]; got != "200000000000" {
		t.Fatalf("price payload = %q, want 200000000000", got)
	}
	if got := events[1].Actor; got != oracle {
		t.Fatalf("price actor = %q, want %q", got, oracle)
	}
}
