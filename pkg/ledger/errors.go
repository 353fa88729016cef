package ledger

import "errors"

// Every precondition violation maps to exactly one of these sentinels; use
// errors.Is against the wrapped errors returned by Store and Tx methods.
var (
	// ErrUnauthorized means the acting identity does not match the required
	// owner or derived authority.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidAmount means zero was supplied where a positive quantity is
	// required.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds is the hard ledger-level rejection for overdrawn
	// balances, including rent the payer cannot cover.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrConflict means another transaction committed a conflicting change to
	// a record this transaction observed. The caller may retry.
	ErrConflict = errors.New("transaction conflict")

	ErrNotFound = errors.New("record not found")
	ErrExists   = errors.New("record already exists")
)
