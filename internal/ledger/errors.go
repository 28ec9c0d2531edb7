package ledger

import "errors"

// Typed results of ledger operations. Callers branch on them with errors.Is.
var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrAlreadyApplied      = errors.New("ledger: event already applied")
	ErrAccountNotFound     = errors.New("ledger: account not found")
	ErrInvalidTransition   = errors.New("ledger: invalid subscription transition")
	ErrInvalidAmount       = errors.New("ledger: invalid amount")
)
