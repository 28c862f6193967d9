package ledger

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openfund/openfund/internal/authz"
	"github.com/openfund/openfund/internal/core/fixed"
	"github.com/openfund/openfund/internal/journal"
	"github.com/openfund/openfund/internal/platform/errors"
)

const minter = "minter"

func newTestLedger(t *testing.T) (*Ledger, TokenID) {
	t.Helper()
	grants := authz.NewGrants()
	l := New(grants, nil)
	id, err := l.CreateToken("FUND", 18)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	grants.Grant(minter, authz.RoleMinter, uint64(id))
	return l, id
}

func mustMint(t *testing.T, l *Ledger, id TokenID, to string, amount int64) {
	t.Helper()
	if err := l.Mint(minter, id, to, decimal.NewFromInt(amount)); err != nil {
		t.Fatalf("mint %d to %s: %v", amount, to, err)
	}
}

func balance(t *testing.T, l *Ledger, id TokenID, account string) decimal.Decimal {
	t.Helper()
	got, err := l.BalanceOf(id, account)
	if err != nil {
		t.Fatalf("balance of %s: %v", account, err)
	}
	return got
}

// checkConservation verifies the supply invariant over the named accounts.
func checkConservation(t *testing.T, l *Ledger, id TokenID, accounts ...string) {
	t.Helper()
	sum := decimal.Zero
	for _, account := range accounts {
		sum = sum.Add(balance(t, l, id, account))
	}
	supply, err := l.TotalSupply(id)
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if !sum.Equal(supply) {
		t.Fatalf("conservation violated: balances sum %s, supply %s", sum, supply)
	}
}

func TestMintBurnTransferConservation(t *testing.T) {
	l, id := newTestLedger(t)

	mustMint(t, l, id, "alice", 1000)
	mustMint(t, l, id, "bob", 500)
	checkConservation(t, l, id, "alice", "bob")

	if err := l.Transfer(id, "alice", "bob", decimal.NewFromInt(300)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	checkConservation(t, l, id, "alice", "bob")

	if err := l.Burn(minter, id, "bob", decimal.NewFromInt(800)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	checkConservation(t, l, id, "alice", "bob")

	if !balance(t, l, id, "alice").Equal(decimal.NewFromInt(700)) {
		t.Fatalf("unexpected alice balance %s", balance(t, l, id, "alice"))
	}
	if !balance(t, l, id, "bob").Equal(decimal.Zero) {
		t.Fatalf("unexpected bob balance %s", balance(t, l, id, "bob"))
	}
}

func TestTransferInsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	l, id := newTestLedger(t)
	mustMint(t, l, id, "alice", 100)

	err := l.Transfer(id, "alice", "bob", decimal.NewFromInt(101))
	if !errors.IsCode(err, errors.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if !balance(t, l, id, "alice").Equal(decimal.NewFromInt(100)) {
		t.Fatalf("sender balance changed after failed transfer")
	}
	if !balance(t, l, id, "bob").IsZero() {
		t.Fatalf("recipient balance changed after failed transfer")
	}
	checkConservation(t, l, id, "alice", "bob")
}

func TestBurnInsufficientBalance(t *testing.T) {
	l, id := newTestLedger(t)
	mustMint(t, l, id, "alice", 10)

	err := l.Burn(minter, id, "alice", decimal.NewFromInt(11))
	if !errors.IsCode(err, errors.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	checkConservation(t, l, id, "alice")
}

func TestMintRequiresMinterRole(t *testing.T) {
	l, id := newTestLedger(t)

	err := l.Mint("mallory", id, "mallory", decimal.NewFromInt(1))
	if !errors.IsCode(err, errors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	err = l.Burn("mallory", id, "mallory", decimal.NewFromInt(1))
	if !errors.IsCode(err, errors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestInvalidAmountsRejected(t *testing.T) {
	l, id := newTestLedger(t)
	mustMint(t, l, id, "alice", 10)

	tests := []struct {
		name string
		err  error
	}{
		{"zero mint", l.Mint(minter, id, "alice", decimal.Zero)},
		{"negative mint", l.Mint(minter, id, "alice", decimal.NewFromInt(-5))},
		{"fractional transfer", l.Transfer(id, "alice", "bob", decimal.NewFromFloat(0.5))},
		{"zero burn", l.Burn(minter, id, "alice", decimal.Zero)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.IsCode(tt.err, errors.CodeInvalidAmount) {
				t.Fatalf("expected invalid amount, got %v", tt.err)
			}
		})
	}
}

func TestUnknownTokenRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.BalanceOf(TokenID(99), "alice")
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAllowanceSpendDecrements(t *testing.T) {
	l, id := newTestLedger(t)
	mustMint(t, l, id, "alice", 100)

	if err := l.Approve(id, "alice", "router", decimal.NewFromInt(60)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := l.TransferFrom(id, "router", "alice", "bob", decimal.NewFromInt(40)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}

	remaining, err := l.Allowance(id, "alice", "router")
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if !remaining.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected remaining allowance 20, got %s", remaining)
	}

	err = l.TransferFrom(id, "router", "alice", "bob", decimal.NewFromInt(21))
	if !errors.IsCode(err, errors.CodeInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if !balance(t, l, id, "bob").Equal(decimal.NewFromInt(40)) {
		t.Fatalf("failed spend must not move funds")
	}
}

func TestUnlimitedAllowanceNeverDecrements(t *testing.T) {
	l, id := newTestLedger(t)
	mustMint(t, l, id, "alice", 100)

	if err := l.Approve(id, "alice", "router", fixed.MaxAllowance); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := l.TransferFrom(id, "router", "alice", "bob", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}

	remaining, err := l.Allowance(id, "alice", "router")
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if !remaining.Equal(fixed.MaxAllowance) {
		t.Fatalf("unlimited allowance must stay at the sentinel, got %s", remaining)
	}
}

func TestTransferFromChecksBalanceBeforeAllowance(t *testing.T) {
	l, id := newTestLedger(t)
	mustMint(t, l, id, "alice", 10)

	if err := l.Approve(id, "alice", "router", decimal.NewFromInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	err := l.TransferFrom(id, "router", "alice", "bob", decimal.NewFromInt(20))
	if !errors.IsCode(err, errors.CodeInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	remaining, err := l.Allowance(id, "alice", "router")
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if !remaining.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("failed transfer must not consume allowance, got %s", remaining)
	}
}

func TestSequentialTokenIDs(t *testing.T) {
	grants := authz.NewGrants()
	l := New(grants, nil)
	first, err := l.CreateToken("USDP", 6)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	second, err := l.CreateToken("GOLD", 18)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected sequential ids, got %d then %d", first, second)
	}

	info, err := l.Token(second)
	if err != nil {
		t.Fatalf("token info: %v", err)
	}
	if info.Symbol != "GOLD" || info.Decimals != 18 {
		t.Fatalf("unexpected token info %+v", info)
	}
	if !info.TotalSupply.IsZero() {
		t.Fatalf("new token should have zero supply")
	}
}

func TestSupplyChangesAreJournaled(t *testing.T) {
	grants := authz.NewGrants()
	mem := journal.NewMemory()
	l := New(grants, mem)

	id, err := l.CreateToken("FUND", 18)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	grants.Grant(minter, authz.RoleMinter, uint64(id))
	if err := l.Mint(minter, id, "alice", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Burn(minter, id, "alice", decimal.NewFromInt(40)); err != nil {
		t.Fatalf("burn: %v", err)
	}
	// Rejected operations leave no trace.
	if err := l.Mint("mallory", id, "alice", decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected unauthorized mint to fail")
	}

	events := mem.Events()
	if len(events) != 3 {
		t.Fatalf("journal has %d events, want 3", len(events))
	}
	wantTypes := []journal.Type{journal.TypeTokenCreated, journal.TypeTokensMinted, journal.TypeTokensBurned}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Fatalf("event %d type = %q, want %q", i, events[i].Type, want)
		}
	}
	if got := events[1].Payload["amount"]; got != "100" {
		t.Fatalf("mint amount = %q, want 100", got)
	}
	if got := events[2].Actor; got != minter {
		t.Fatalf("burn actor = %q, want %q", got, minter)
	}
}
