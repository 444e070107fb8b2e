package models

import "context"

// AccountTx is the view of the account store available inside a transaction.
// Reads lock the record until the transaction ends; Update fails with
// ErrVersionConflict when the record changed since it was read.
type AccountTx interface {
	Read(ctx context.Context, id string) (*Account, error)
	Update(ctx context.Context, account *Account) error
}
