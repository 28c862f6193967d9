// Package errors provides structured error handling for the platform.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Shared errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeInvalidAmount Code = "INVALID_AMOUNT"

	// Ledger errors
	CodeInsufficientBalance   Code = "LEDGER_INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance Code = "LEDGER_INSUFFICIENT_ALLOWANCE"

	// Asset registry errors
	CodeInvalidPrice      Code = "ASSET_INVALID_PRICE"
	CodePriceNotSet       Code = "ASSET_PRICE_NOT_SET"
	CodeAssetNotActive    Code = "ASSET_NOT_ACTIVE"
	CodeAssetNotSupported Code = "ASSET_NOT_SUPPORTED"

	// Fund errors
	CodeFundNotActive          Code = "FUND_NOT_ACTIVE"
	CodeInsufficientFundAssets Code = "FUND_INSUFFICIENT_ASSETS"
	CodeWeightTooHigh          Code = "FUND_WEIGHT_TOO_HIGH"
	CodeInvalidAllocation      Code = "FUND_INVALID_ALLOCATION"

	// Trade errors
	CodeLimitExceeded         Code = "TRADE_LIMIT_EXCEEDED"
	CodeInsufficientLiquidity Code = "TRADE_INSUFFICIENT_LIQUIDITY"
	CodePaymentFailed         Code = "TRADE_PAYMENT_FAILED"

	// Governance errors
	CodeProposalNotActive       Code = "GOVERNANCE_PROPOSAL_NOT_ACTIVE"
	CodeInvalidProposal         Code = "GOVERNANCE_INVALID_PROPOSAL"
	CodeVotingPeriodEnded       Code = "GOVERNANCE_VOTING_PERIOD_ENDED"
	CodeVotingPeriodNotEnded    Code = "GOVERNANCE_VOTING_PERIOD_NOT_ENDED"
	CodeAlreadyVoted            Code = "GOVERNANCE_ALREADY_VOTED"
	CodeInsufficientVotingPower Code = "GOVERNANCE_INSUFFICIENT_VOTING_POWER"
	CodeTimelockNotElapsed      Code = "GOVERNANCE_TIMELOCK_NOT_ELAPSED"
	CodeExecutionFailed         Code = "GOVERNANCE_EXECUTION_FAILED"
	CodeEnginePaused            Code = "GOVERNANCE_ENGINE_PAUSED"
	CodeInvalidDelegation       Code = "GOVERNANCE_INVALID_DELEGATION"
)
