package services

import (
	"context"

	"github.com/coinvault/backend/internal/models"
	"github.com/coinvault/backend/internal/outbox"
	"github.com/shopspring/decimal"
)

// AccountStore is the document store holding account records.
// RunTransaction commits when fn returns nil and discards every write otherwise.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx models.AccountTx) error) error
	CreateDocument(ctx context.Context, collection, id string, data any) error
}

// CredentialStore creates accounts and looks up login credentials
type CredentialStore interface {
	CreateAccount(ctx context.Context, account *models.Account, passwordHash string) error
	FindCredentials(ctx context.Context, email string) (*models.Credentials, error)
}

// LegacyAccountLister finds accounts that still carry a legacy balance
type LegacyAccountLister interface {
	ListLegacyAccountIDs(ctx context.Context) ([]string, error)
}

// EventPublisher enqueues post-commit side effects
type EventPublisher interface {
	Publish(ctx context.Context, event *outbox.Event) error
}

// PriceFeed returns a USD price hint for an asset
type PriceFeed interface {
	PriceOrDefault(ctx context.Context, asset string) decimal.Decimal
}

// BalancePublisher fans balance changes out to live subscribers
type BalancePublisher interface {
	PublishBalances(ctx context.Context, event models.BalanceEvent) error
}

// Store is everything the server and CLI need from persistence
type Store interface {
	AccountStore
	CredentialStore
	LegacyAccountLister
}
