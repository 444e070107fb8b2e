package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coinvault/backend/internal/models"
)

const accountColumns = `id, display_name, email, legacy_balance, assets, transactions, has_unread_notifications, version, updated_at`

// AccountStore keeps account documents in Postgres. Every account is one row
// whose assets and ledger are JSONB columns, so a transfer touches exactly
// two rows.
type AccountStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var account models.Account
	var legacy []byte
	var email sql.NullString

	err := row.Scan(
		&account.ID,
		&account.DisplayName,
		&email,
		&legacy,
		&account.Assets,
		&account.Transactions,
		&account.HasUnreadNotifications,
		&account.Version,
		&account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	account.Email = email.String
	if len(legacy) > 0 && string(legacy) != "null" {
		account.LegacyBalance = json.RawMessage(legacy)
	}
	return &account, nil
}

// GetAccount reads an account outside any transaction
func (s *AccountStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// RunTransaction runs fn inside one database transaction. It commits when fn
// returns nil and rolls back otherwise.
func (s *AccountStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx models.AccountTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgAccountTx{tx: tx, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CreateDocument writes a standalone document outside any transaction
func (s *AccountStore) CreateDocument(ctx context.Context, collection, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s document: %w", collection, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, string(payload), s.now())
	return err
}

// CreateAccount inserts a new, empty account with login credentials
func (s *AccountStore) CreateAccount(ctx context.Context, account *models.Account, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, display_name, email, password_hash, assets, transactions, has_unread_notifications, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		account.ID, account.DisplayName, strings.ToLower(account.Email), passwordHash,
		account.Assets, account.Transactions, false, 1, s.now())
	if err != nil {
		return err
	}
	account.Version = 1
	return nil
}

// FindCredentials looks up login credentials by email
func (s *AccountStore) FindCredentials(ctx context.Context, email string) (*models.Credentials, error) {
	var creds models.Credentials
	err := s.db.QueryRowContext(ctx,
		`SELECT id, password_hash FROM accounts WHERE email = $1`,
		strings.ToLower(email)).Scan(&creds.AccountID, &creds.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

// ListLegacyAccountIDs returns accounts whose legacy balance field still holds a value
func (s *AccountStore) ListLegacyAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM accounts
		WHERE legacy_balance IS NOT NULL AND legacy_balance <> '0'::jsonb
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type pgAccountTx struct {
	tx  *sql.Tx
	now func() time.Time
}

// Read locks the account row until the transaction ends
func (t *pgAccountTx) Read(ctx context.Context, id string) (*models.Account, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

// Update writes the account back if its version is unchanged
func (t *pgAccountTx) Update(ctx context.Context, account *models.Account) error {
	var legacy any
	if len(account.LegacyBalance) > 0 {
		legacy = string(account.LegacyBalance)
	}

	updatedAt := t.now()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET legacy_balance = $1, assets = $2, transactions = $3, has_unread_notifications = $4,
			version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7`,
		legacy, account.Assets, account.Transactions, account.HasUnreadNotifications,
		updatedAt, account.ID, account.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w for account %s", models.ErrVersionConflict, account.ID)
	}

	account.Version++
	account.UpdatedAt = updatedAt
	return nil
}
