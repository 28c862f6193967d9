package trade

import (
	"github.com/shopspring/decimal"

	"github.com/openfund/openfund/internal/core/fixed"
	"github.com/openfund/openfund/internal/ledger"
)

// LedgerGateway settles payments in a stable token held on the ledger. The
// router speaks 8-decimal USD; the gateway rescales amounts to the payment
// token's decimals, truncating toward zero.
type LedgerGateway struct {
	ledger   *ledger.Ledger
	tokenID  ledger.TokenID
	custody  string
	decimals int32
}

// NewLedgerGateway creates a gateway that moves the payment token between
// user accounts and the custody account.
func NewLedgerGateway(book *ledger.Ledger, tokenID ledger.TokenID, custody string, decimals int32) *LedgerGateway {
	return &LedgerGateway{ledger: book, tokenID: tokenID, custody: custody, decimals: decimals}
}

// TransferIn moves usdAmount from the user into custody.
func (g *LedgerGateway) TransferIn(from string, usdAmount decimal.Decimal) error {
	return g.ledger.Transfer(g.tokenID, from, g.custody, g.scale(usdAmount))
}

// TransferOut moves usdAmount from custody to the recipient.
func (g *LedgerGateway) TransferOut(to string, usdAmount decimal.Decimal) error {
	return g.ledger.Transfer(g.tokenID, g.custody, to, g.scale(usdAmount))
}

// Liquidity returns the custody balance as 8-decimal USD.
func (g *LedgerGateway) Liquidity() (decimal.Decimal, error) {
	balance, err := g.ledger.BalanceOf(g.tokenID, g.custody)
	if err != nil {
		return decimal.Zero, err
	}
	return fixed.Rescale(balance, g.decimals, 8), nil
}

func (g *LedgerGateway) scale(usdAmount decimal.Decimal) decimal.Decimal {
	return fixed.Rescale(usdAmount, 8, g.decimals)
}
