// Package journal records platform activity as an append-only audit trail.
//
// The journal is non-authoritative: engine state never derives from it, and
// a failed append never rolls back the operation that produced the event.
package journal

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of a journal event.
type Type string

// Ledger events.
const (
	// TypeTokenCreated records the creation of a token.
	TypeTokenCreated Type = "ledger.token_created"
	// TypeTokensMinted records a mint.
	TypeTokensMinted Type = "ledger.tokens_minted"
	// TypeTokensBurned records a burn.
	TypeTokensBurned Type = "ledger.tokens_burned"
)

// Asset events.
const (
	// TypeAssetRegistered records the registration of an asset.
	TypeAssetRegistered Type = "asset.registered"
	// TypePriceUpdated records a price-oracle update.
	TypePriceUpdated Type = "asset.price_updated"
)

// Fund events.
const (
	// TypeFundPurchased records a fund share purchase.
	TypeFundPurchased Type = "fund.purchased"
	// TypeFundRedeemed records a fund share redemption.
	TypeFundRedeemed Type = "fund.redeemed"
	// TypeNavUpdated records a NAV recomputation.
	TypeNavUpdated Type = "fund.nav_updated"
	// TypeAllocationChanged records an allocation weight change.
	TypeAllocationChanged Type = "fund.allocation_changed"
)

// Trade events.
const (
	// TypeAssetBought records an asset token purchase through the router.
	TypeAssetBought Type = "trade.asset_bought"
	// TypeAssetSold records an asset token sale through the router.
	TypeAssetSold Type = "trade.asset_sold"
	// TypeFundBought records a fund share purchase through the router.
	TypeFundBought Type = "trade.fund_bought"
	// TypeFundSold records a fund share sale through the router.
	TypeFundSold Type = "trade.fund_sold"
)

// Governance events.
const (
	// TypeProposalCreated records the creation of a proposal.
	TypeProposalCreated Type = "governance.proposal_created"
	// TypeVoteCast records a cast vote.
	TypeVoteCast Type = "governance.vote_cast"
	// TypeProposalFinalized records a proposal finalization.
	TypeProposalFinalized Type = "governance.proposal_finalized"
	// TypeProposalExecuted records a proposal execution.
	TypeProposalExecuted Type = "governance.proposal_executed"
	// TypeDelegationChanged records a voting-power delegation change.
	TypeDelegationChanged Type = "governance.delegation_changed"
)

// Event is one immutable journal entry.
type Event struct {
	// ID is assigned on append.
	ID string
	// Type identifies the kind of event.
	Type Type
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Actor is the account that triggered the event.
	Actor string
	// Payload holds event-specific fields as strings.
	Payload map[string]string
}

// Appender accepts journal events. Implementations must tolerate concurrent
// appends.
type Appender interface {
	Append(event Event) error
}

// Memory is an in-memory journal for tests and single-process setups.
type Memory struct {
	mu     sync.Mutex
	events []Event
	clock  func() time.Time
}

// NewMemory creates an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{clock: time.Now}
}

// Append stores the event, assigning its ID and, when unset, its timestamp.
func (m *Memory) Append(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = uuid.NewString()
	if event.Timestamp.IsZero() {
		event.Timestamp = m.clock().UTC()
	}
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the journal in append order.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Discard is an Appender that drops every event.
type Discard struct{}

// Append implements Appender.
func (Discard) Append(Event) error { return nil }
