package ledger

import "errors"

// Operation failures. Returned errors wrap one of these; test with errors.Is.
var (
	ErrAlreadyRegistered = errors.New("already registered")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotVerified       = errors.New("not verified")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDeadline   = errors.New("invalid claim deadline")
	ErrAlreadyClaimed    = errors.New("already claimed")
	ErrExpired           = errors.New("claim deadline has passed")
	ErrNotYetExpired     = errors.New("claim deadline has not passed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidFilter     = errors.New("invalid filter")
)
