package engine

import (
	"errors"

	"StackFutures/internal/fpmath"
)

// Error kinds, one per rejection cause. Callers receive a specific kind
// (never a generic failure) so operator tooling can distinguish "wait and
// retry" (stale price, breaker, timelock) from "never succeeds as submitted"
// (zero size, overflow) from "economic precondition not met".
var (
	// ErrMathOverflow re-exports the arithmetic error kind: a checked
	// multiply, divide, or narrowing overflowed.
	ErrMathOverflow = fpmath.ErrMathOverflow

	// Market-state errors: caller must wait or escalate.
	ErrMarketPaused       = errors.New("market is paused")
	ErrCircuitBreaker     = errors.New("circuit breaker active")
	ErrPriceNotSet        = errors.New("price not set")
	ErrPriceStale         = errors.New("price is stale")
	ErrClockWentBackwards = errors.New("clock went backwards")

	// Authorization errors.
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotEnoughSigners = errors.New("not enough admin signers")

	// Validation errors: reject, no state change.
	ErrZeroSize       = errors.New("zero size not allowed")
	ErrNotOpen        = errors.New("deal is not open")
	ErrAlreadyOpen    = errors.New("deal already open")
	ErrMarketExists   = errors.New("market already exists")
	ErrMarketNotFound = errors.New("market not found")
	ErrDealNotFound   = errors.New("deal not found")

	// Risk errors: the position/market does not meet a required economic
	// condition.
	ErrInsufficientMargin      = errors.New("insufficient margin")
	ErrLeverageTooHigh         = errors.New("requested leverage exceeds limit")
	ErrNotLiquidatable         = errors.New("not liquidatable at current NAV")
	ErrOracleConfidenceTooWide = errors.New("oracle confidence too wide")
	ErrPriceJumpTooLarge       = errors.New("NAV jump too large; circuit breaker tripped")

	// Governance errors.
	ErrNoPendingParams    = errors.New("no pending params")
	ErrTimelockNotExpired = errors.New("timelock not expired")
)
