package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Ledger errors
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")

	// Knowledge sync errors
	ErrEntryNotFound = errors.New("knowledge entry not found")

	// Poller errors
	ErrPollingExhausted = errors.New("polling attempts exhausted")
)
