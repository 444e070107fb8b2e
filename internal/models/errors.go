package models

import "errors"

// Domain errors returned by the transfer core and the account store.
// Handlers map them to HTTP status codes with errors.Is.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrVersionConflict     = errors.New("optimistic lock failed")

	// Input errors, detected before any write.
	ErrRecipientRequired = errors.New("recipient account ID is required")
	ErrSelfTransfer      = errors.New("cannot transfer to your own account")
	ErrInvalidAmount     = errors.New("amount must be a number greater than zero")
	ErrBelowMinimum      = errors.New("amount is below the minimum transfer")
	ErrUnsupportedAsset  = errors.New("unsupported asset")

	// Authoritative errors, detected inside the store transaction.
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrSenderNotFound    = errors.New("sender account not found")
)
