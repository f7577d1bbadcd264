package engine

import "errors"

// Error kinds surfaced to callers. Every operation either succeeds fully
// or aborts with one of these and leaves no trace of partial mutation:
// balances, book contents, sequence counters, and the event log are
// unchanged from the pre-call state.
var (
	ErrInvalidPrice             = errors.New("engine: invalid price")
	ErrInvalidQuantity          = errors.New("engine: invalid quantity")
	ErrInsufficientFunds        = errors.New("engine: insufficient funds")
	ErrInvalidOrderID           = errors.New("engine: invalid order id")
	ErrUnauthorized             = errors.New("engine: unauthorized")
	ErrOrderCannotBeFullyFilled = errors.New("engine: order cannot be fully filled")
	ErrOrderCannotCross         = errors.New("engine: order would cross the book")
	ErrSelfMatch                = errors.New("engine: self-match under abort policy")
	ErrArithmetic               = errors.New("engine: arithmetic overflow")
	ErrInvariantViolation       = errors.New("engine: invariant violation")
)
