// Package governance implements proposal-based control over fund
// allocations: token-weighted voting with delegation, quorum checks, a
// timelock between success and execution, and an emergency pause.
//
// Every operation on an Engine is serialized behind a single mutex.
package governance

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openfund/openfund/internal/authz"
	"github.com/openfund/openfund/internal/core/fixed"
	"github.com/openfund/openfund/internal/fund"
	"github.com/openfund/openfund/internal/journal"
	"github.com/openfund/openfund/internal/ledger"
	"github.com/openfund/openfund/internal/platform/errors"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	// StatusActive means the proposal is open for votes.
	StatusActive Status = "active"
	// StatusDefeated means the proposal lost the vote or missed quorum.
	StatusDefeated Status = "defeated"
	// StatusSucceeded means the proposal won and awaits its timelock.
	StatusSucceeded Status = "succeeded"
	// StatusExecuted means the proposal's allocation changes were applied.
	StatusExecuted Status = "executed"
	// StatusCanceled means the proposal was withdrawn or struck down.
	StatusCanceled Status = "canceled"
)

// Proposal is one allocation-change proposal and its tally.
type Proposal struct {
	ID           uint64
	Proposer     string
	Description  string
	FundID       uint64
	Changes      []fund.Allocation
	Created      time.Time
	VotingEnds   time.Time
	ExecutableAt time.Time
	Status       Status
	ForVotes     decimal.Decimal
	AgainstVotes decimal.Decimal
	Snapshot     decimal.Decimal // governance token supply at creation
}

// Config carries the engine's parameters and dependencies.
type Config struct {
	Actor             string // identity holding the governance capability on funds
	TokenID           ledger.TokenID
	VotingPeriod      time.Duration
	TimelockPeriod    time.Duration
	QuorumBps         uint32
	RequireQuorum     bool
	ProposalThreshold decimal.Decimal
	Ledger            *ledger.Ledger
	Auth              authz.Authorizer
	Journal           journal.Appender
}

// Engine owns the proposal arena and the delegation table.
type Engine struct {
	cfg   Config
	clock func() time.Time

	mu           sync.Mutex
	proposals    map[uint64]*Proposal
	voters       map[uint64]map[string]bool // proposal id -> voter -> support
	nextID       uint64
	funds        map[uint64]*fund.Engine
	delegations  map[string]string          // delegator -> delegate
	delegatedOut map[string]decimal.Decimal // delegator -> power moved away
	delegatedIn  map[string]decimal.Decimal // delegate -> power received
	paused       bool
}

// NewEngine creates a governance engine with no proposals.
func NewEngine(cfg Config) *Engine {
	if cfg.Journal == nil {
		cfg.Journal = journal.Discard{}
	}
	return &Engine{
		cfg:          cfg,
		clock:        time.Now,
		proposals:    make(map[uint64]*Proposal),
		voters:       make(map[uint64]map[string]bool),
		nextID:       1,
		funds:        make(map[uint64]*fund.Engine),
		delegations:  make(map[string]string),
		delegatedOut: make(map[string]decimal.Decimal),
		delegatedIn:  make(map[string]decimal.Decimal),
	}
}

// RegisterFund makes a fund engine executable by proposals targeting it.
func (e *Engine) RegisterFund(engine *fund.Engine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funds[engine.Info().FundID] = engine
}

// CreateProposal opens a proposal to rebalance a fund. The proposer must
// hold at least the proposal threshold of voting power.
func (e *Engine) CreateProposal(proposer, description string, fundID uint64, changes []fund.Allocation) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return 0, errors.New(errors.CodeEnginePaused, "governance is paused")
	}
	if _, ok := e.funds[fundID]; !ok {
		return 0, errors.New(errors.CodeNotFound, fmt.Sprintf("fund %d is not registered", fundID))
	}
	if err := fund.ValidateAllocations(changes); err != nil {
		return 0, errors.Wrap(errors.CodeInvalidProposal, "validate allocation changes", err)
	}
	power, err := e.votingPowerLocked(proposer)
	if err != nil {
		return 0, err
	}
	if power.Cmp(e.cfg.ProposalThreshold) < 0 {
		return 0, errors.New(errors.CodeInsufficientVotingPower, "proposer is below the proposal threshold")
	}
	supply, err := e.cfg.Ledger.TotalSupply(e.cfg.TokenID)
	if err != nil {
		return 0, err
	}

	now := e.clock().UTC()
	id := e.nextID
	e.nextID++
	e.proposals[id] = &Proposal{
		ID:           id,
		Proposer:     proposer,
		Description:  description,
		FundID:       fundID,
		Changes:      append([]fund.Allocation(nil), changes...),
		Created:      now,
		VotingEnds:   now.Add(e.cfg.VotingPeriod),
		ExecutableAt: now.Add(e.cfg.VotingPeriod).Add(e.cfg.TimelockPeriod),
		Status:       StatusActive,
		ForVotes:     decimal.Zero,
		AgainstVotes: decimal.Zero,
		Snapshot:     supply,
	}
	e.voters[id] = make(map[string]bool)

	e.journalLocked(journal.TypeProposalCreated, proposer, map[string]string{
		"proposal_id": fmt.Sprintf("%d", id),
		"fund_id":     fmt.Sprintf("%d", fundID),
		"snapshot":    supply.String(),
	})
	return id, nil
}

// CastVote records the voter's full current voting power for or against an
// active proposal, with an optional free-form reason. When every snapshot
// token has voted, the proposal finalizes early.
func (e *Engine) CastVote(voter string, proposalID uint64, support bool, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return errors.New(errors.CodeEnginePaused, "governance is paused")
	}
	proposal, err := e.proposalLocked(proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != StatusActive {
		return errors.New(errors.CodeProposalNotActive, fmt.Sprintf("proposal %d is %s", proposalID, proposal.Status))
	}
	now := e.clock().UTC()
	if !now.Before(proposal.VotingEnds) {
		return errors.New(errors.CodeVotingPeriodEnded, fmt.Sprintf("voting on proposal %d has ended", proposalID))
	}
	if _, voted := e.voters[proposalID][voter]; voted {
		return errors.New(errors.CodeAlreadyVoted, fmt.Sprintf("account %s already voted on proposal %d", voter, proposalID))
	}
	power, err := e.votingPowerLocked(voter)
	if err != nil {
		return err
	}
	if power.Sign() <= 0 {
		return errors.New(errors.CodeInsufficientVotingPower, "voter holds no voting power")
	}

	if support {
		proposal.ForVotes = proposal.ForVotes.Add(power)
	} else {
		proposal.AgainstVotes = proposal.AgainstVotes.Add(power)
	}
	e.voters[proposalID][voter] = support

	payload := map[string]string{
		"proposal_id": fmt.Sprintf("%d", proposalID),
		"support":     fmt.Sprintf("%t", support),
		"power":       power.String(),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	e.journalLocked(journal.TypeVoteCast, voter, payload)

	// Full participation leaves nothing to wait for.
	if proposal.ForVotes.Add(proposal.AgainstVotes).Cmp(proposal.Snapshot) >= 0 {
		e.finalizeLocked(proposal)
	}
	return nil
}

// FinalizeProposal tallies an active proposal after its voting period:
// succeeded when for-votes beat against-votes and quorum is met, defeated
// otherwise.
func (e *Engine) FinalizeProposal(proposalID uint64) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	proposal, err := e.proposalLocked(proposalID)
	if err != nil {
		return "", err
	}
	if proposal.Status != StatusActive {
		return "", errors.New(errors.CodeProposalNotActive, fmt.Sprintf("proposal %d is %s", proposalID, proposal.Status))
	}
	now := e.clock().UTC()
	if now.Before(proposal.VotingEnds) {
		return "", errors.New(errors.CodeVotingPeriodNotEnded, fmt.Sprintf("voting on proposal %d is still open", proposalID))
	}
	e.finalizeLocked(proposal)
	return proposal.Status, nil
}

// ExecuteProposal applies a succeeded proposal's allocation changes to its
// fund after the timelock. A failed application leaves the proposal
// succeeded so execution can be retried.
func (e *Engine) ExecuteProposal(proposalID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return errors.New(errors.CodeEnginePaused, "governance is paused")
	}
	proposal, err := e.proposalLocked(proposalID)
	if err != nil {
		return err
	}
	if proposal.Status != StatusSucceeded {
		return errors.New(errors.CodeProposalNotActive, fmt.Sprintf("proposal %d is %s, not succeeded", proposalID, proposal.Status))
	}
	now := e.clock().UTC()
	if now.Before(proposal.ExecutableAt) {
		return errors.New(errors.CodeTimelockNotElapsed, fmt.Sprintf("proposal %d is timelocked until %s", proposalID, proposal.ExecutableAt.Format(time.RFC3339)))
	}
	engine, ok := e.funds[proposal.FundID]
	if !ok {
		return errors.New(errors.CodeNotFound, fmt.Sprintf("fund %d is not registered", proposal.FundID))
	}

	if err := engine.ApplyAllocations(e.cfg.Actor, proposal.Changes); err != nil {
		return errors.Wrap(errors.CodeExecutionFailed, fmt.Sprintf("apply proposal %d", proposalID), err)
	}
	proposal.Status = StatusExecuted

	e.journalLocked(journal.TypeProposalExecuted, proposal.Proposer, map[string]string{
		"proposal_id": fmt.Sprintf("%d", proposalID),
		"fund_id":     fmt.Sprintf("%d", proposal.FundID),
	})
	return nil
}

// Cancel withdraws an active proposal. Only the proposer or an emergency
// holder may cancel.
func (e *Engine) Cancel(actor string, proposalID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	proposal, err := e.proposalLocked(proposalID)
	if err != nil {
		return err
	}
	if actor != proposal.Proposer && !e.cfg.Auth.Allowed(actor, authz.RoleEmergency, authz.Wildcard) {
		return errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not cancel proposal %d", actor, proposalID))
	}
	if proposal.Status != StatusActive && proposal.Status != StatusSucceeded {
		return errors.New(errors.CodeProposalNotActive, fmt.Sprintf("proposal %d is %s", proposalID, proposal.Status))
	}
	proposal.Status = StatusCanceled
	return nil
}

// SetPaused halts or resumes proposal creation, voting, and execution.
// Requires the emergency capability.
func (e *Engine) SetPaused(actor string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.cfg.Auth.Allowed(actor, authz.RoleEmergency, authz.Wildcard) {
		return errors.New(errors.CodeUnauthorized, fmt.Sprintf("account %s may not pause governance", actor))
	}
	e.paused = paused
	return nil
}

// Delegate moves the delegator's current voting power to the target. An
// empty target or self-delegation clears an existing delegation.
func (e *Engine) Delegate(delegator, target string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if delegator == "" {
		return errors.New(errors.CodeInvalidDelegation, "delegator account is required")
	}
	if target == delegator {
		target = ""
	}

	// Validate the new target before touching existing state, so a
	// rejected re-delegation leaves the current delegation intact.
	current, hasCurrent := e.delegations[delegator]
	var balance decimal.Decimal
	if target == "" {
		if !hasCurrent {
			return errors.New(errors.CodeInvalidDelegation, "no delegation to clear")
		}
	} else {
		if e.delegations[target] != "" {
			return errors.New(errors.CodeInvalidDelegation, "target has delegated their own power")
		}
		var err error
		balance, err = e.cfg.Ledger.BalanceOf(e.cfg.TokenID, delegator)
		if err != nil {
			return err
		}
		if balance.Sign() <= 0 {
			return errors.New(errors.CodeInsufficientVotingPower, "delegator holds no voting power")
		}
	}

	if hasCurrent {
		moved := e.delegatedOut[delegator]
		e.delegatedIn[current] = e.delegatedIn[current].Sub(moved)
		if e.delegatedIn[current].Sign() == 0 {
			delete(e.delegatedIn, current)
		}
		delete(e.delegations, delegator)
		delete(e.delegatedOut, delegator)
	}
	if target != "" {
		e.delegations[delegator] = target
		e.delegatedOut[delegator] = balance
		e.delegatedIn[target] = e.delegatedIn[target].Add(balance)
	}

	e.journalLocked(journal.TypeDelegationChanged, delegator, map[string]string{
		"target": target,
	})
	return nil
}

// Delegation returns the delegator's current delegate, empty when none.
func (e *Engine) Delegation(delegator string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delegations[delegator]
}

// VotingPower returns the account's effective power: its token balance
// plus power delegated to it, or only the delegated-in power when the
// account has itself delegated away.
func (e *Engine) VotingPower(account string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.votingPowerLocked(account)
}

// Proposal returns a snapshot of one proposal.
func (e *Engine) Proposal(proposalID uint64) (Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	proposal, err := e.proposalLocked(proposalID)
	if err != nil {
		return Proposal{}, err
	}
	out := *proposal
	out.Changes = append([]fund.Allocation(nil), proposal.Changes...)
	return out, nil
}

// Paused reports whether the engine is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) votingPowerLocked(account string) (decimal.Decimal, error) {
	// An account with an active delegation may only use power delegated
	// to it by others; its own balance votes through its delegate.
	if _, delegating := e.delegations[account]; delegating {
		return e.delegatedIn[account], nil
	}
	balance, err := e.cfg.Ledger.BalanceOf(e.cfg.TokenID, account)
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Add(e.delegatedIn[account]), nil
}

func (e *Engine) finalizeLocked(proposal *Proposal) {
	participation := proposal.ForVotes.Add(proposal.AgainstVotes)
	quorumMet := true
	if e.cfg.RequireQuorum {
		quorum := fixed.Bps(proposal.Snapshot, e.cfg.QuorumBps)
		quorumMet = participation.Cmp(quorum) >= 0
	}
	if quorumMet && proposal.ForVotes.Cmp(proposal.AgainstVotes) > 0 {
		proposal.Status = StatusSucceeded
	} else {
		proposal.Status = StatusDefeated
	}

	e.journalLocked(journal.TypeProposalFinalized, proposal.Proposer, map[string]string{
		"proposal_id": fmt.Sprintf("%d", proposal.ID),
		"status":      string(proposal.Status),
		"for":         proposal.ForVotes.String(),
		"against":     proposal.AgainstVotes.String(),
	})
}

func (e *Engine) proposalLocked(proposalID uint64) (*Proposal, error) {
	proposal, ok := e.proposals[proposalID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("proposal %d does not exist", proposalID))
	}
	return proposal, nil
}

func (e *Engine) journalLocked(eventType journal.Type, actor string, payload map[string]string) {
	// Journal failures never unwind governance state.
	_ = e.cfg.Journal.Append(journal.Event{
		Type:      eventType,
		Timestamp: e.clock().UTC(),
		Actor:     actor,
		Payload:   payload,
	})
}
