package services

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/coinvault/backend/internal/audit"
	"github.com/coinvault/backend/internal/middleware"
	"github.com/coinvault/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// AccountView is an account as shown to its owner
type AccountView struct {
	ID                     string                     `json:"id"`
	DisplayName            string                     `json:"displayName"`
	Email                  string                     `json:"email"`
	Balances               map[string]decimal.Decimal `json:"balances"`
	Assets                 models.Assets              `json:"assets"`
	HasUnreadNotifications bool                       `json:"hasUnreadNotifications"`
}

// MigrationResult reports what MigrateLegacy did to one account
type MigrationResult struct {
	AccountID string
	Migrated  bool
	USDT      decimal.Decimal
}

type AccountService struct {
	store  AccountStore
	logger *zap.Logger
	audit  *audit.Logger
}

func NewAccountService(store AccountStore, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		store:  store,
		logger: logger.With(zap.String("component", "account")),
		audit:  audit.NewLogger(logger),
	}
}

// Balances returns the reconciled balances of an account
func (s *AccountService) Balances(ctx context.Context, accountID string) (map[string]decimal.Decimal, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return ReconcileBalances(account), nil
}

// MigrateLegacy moves one account's legacy USDT balance into its asset map.
// With dryRun set it reports what would change without writing.
func (s *AccountService) MigrateLegacy(ctx context.Context, accountID string, dryRun bool) (*MigrationResult, error) {
	result := &MigrationResult{AccountID: accountID}

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx models.AccountTx) error {
		account, err := tx.Read(ctx, accountID)
		if err != nil {
			return err
		}

		result.USDT = ReconcileBalance(account, models.AssetUSDT)
		result.Migrated = MigrateLegacyBalance(account)
		if !result.Migrated || dryRun {
			return nil
		}
		return tx.Update(ctx, account)
	})
	if err != nil {
		return nil, err
	}

	if result.Migrated && !dryRun {
		s.logger.Info("legacy balance migrated",
			zap.String("account_id", accountID),
			zap.String("usdt", result.USDT.String()),
		)
		s.audit.LogOperation("", accountID, "MIGRATION", "legacy USDT balance moved to assets: "+result.USDT.String())
	}
	return result, nil
}

// MarkNotificationsRead clears the unread flag and marks every incoming
// ledger entry as read. It returns the number of entries changed.
func (s *AccountService) MarkNotificationsRead(ctx context.Context, accountID string) (int, error) {
	changed := 0
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx models.AccountTx) error {
		account, err := tx.Read(ctx, accountID)
		if err != nil {
			return err
		}

		for i, entry := range account.Transactions {
			if entry.IsRead != nil && !*entry.IsRead {
				read := true
				account.Transactions[i].IsRead = &read
				changed++
			}
		}
		if changed == 0 && !account.HasUnreadNotifications {
			return nil
		}

		account.HasUnreadNotifications = false
		return tx.Update(ctx, account)
	})
	return changed, err
}

// GetAccount returns the authenticated user's account and balances
// @Summary Get my account
// @Tags accounts
// @Produce json
// @Success 200 {object} AccountView
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/me [get]
func (s *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, ok := s.loadAccount(w, r, accountID)
	if !ok {
		return
	}

	assets := account.Assets
	if assets == nil {
		assets = models.Assets{}
	}

	writeJSON(w, http.StatusOK, AccountView{
		ID:                     account.ID,
		DisplayName:            account.DisplayName,
		Email:                  account.Email,
		Balances:               ReconcileBalances(account),
		Assets:                 assets,
		HasUnreadNotifications: account.HasUnreadNotifications,
	})
}

// ListTransactions returns the newest ledger entries first
// @Summary List my transactions
// @Tags accounts
// @Produce json
// @Param limit query int false "Maximum entries (default 50, max 200)"
// @Success 200 {object} map[string]interface{}
// @Router /accounts/me/transactions [get]
func (s *AccountService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			SendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest, nil)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	account, ok := s.loadAccount(w, r, accountID)
	if !ok {
		return
	}

	entries := account.Transactions
	if entries == nil {
		entries = models.Ledger{}
	}
	total := len(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": entries,
		"total":        total,
	})
}

// MarkRead handles POST /accounts/me/notifications/read
// @Summary Mark my notifications read
// @Tags accounts
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /accounts/me/notifications/read [post]
func (s *AccountService) MarkRead(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	updated, err := s.MarkNotificationsRead(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
		s.logger.Error("mark notifications read failed", zap.String("account_id", accountID), zap.Error(err))
		SendErrorResponse(w, "Failed to update notifications", http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"updated": updated,
	})
}

// RecipientName returns the display name of a prospective recipient
// @Summary Look up a recipient
// @Tags accounts
// @Produce json
// @Param accountId path string true "Recipient account ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/name [get]
func (s *AccountService) RecipientName(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if accountID == "" {
		SendErrorResponse(w, models.ErrRecipientRequired.Error(), http.StatusBadRequest, nil)
		return
	}

	account, ok := s.loadAccount(w, r, accountID)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"accountId":   account.ID,
		"displayName": account.DisplayName,
	})
}

func (s *AccountService) loadAccount(w http.ResponseWriter, r *http.Request, accountID string) (*models.Account, bool) {
	account, err := s.store.GetAccount(r.Context(), accountID)
	if err == nil {
		return account, true
	}
	if errors.Is(err, models.ErrAccountNotFound) {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return nil, false
	}
	s.logger.Error("account lookup failed", zap.String("account_id", accountID), zap.Error(err))
	SendErrorResponse(w, "Failed to load account", http.StatusInternalServerError, nil)
	return nil, false
}
