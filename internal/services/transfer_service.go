package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coinvault/backend/internal/audit"
	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/metrics"
	"github.com/coinvault/backend/internal/middleware"
	"github.com/coinvault/backend/internal/models"
	"github.com/coinvault/backend/internal/outbox"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outbox event types produced after a committed transfer
const (
	EventNotificationTransfer = "notification.transfer"
	EventEmailTransfer        = "email.transfer"
)

const (
	notificationsCollection  = "notifications"
	notificationTypeTransfer = "transfer"
	timestampLayout          = "2006-01-02T15:04:05.000Z"
	postCommitTimeout        = 5 * time.Second
)

// TransferRequest is an already-parsed transfer handed to the executor
type TransferRequest struct {
	SenderID    string
	RecipientID string
	Asset       string
	Amount      decimal.Decimal
	PriceHint   decimal.Decimal // USD per unit, best effort
}

// TransferResult describes a committed transfer
type TransferResult struct {
	TxID             string
	Timestamp        string
	Asset            string
	Amount           decimal.Decimal
	USDValue         decimal.Decimal
	SenderEntry      models.LedgerEntry
	RecipientEntry   models.LedgerEntry
	SenderBalance    decimal.Decimal
	RecipientBalance decimal.Decimal
	RecipientName    string
	NotificationID   string
}

// Receipt is the client-facing view of the result
func (r *TransferResult) Receipt() models.TransferReceipt {
	return models.TransferReceipt{
		TxID:           r.TxID,
		Timestamp:      r.Timestamp,
		Asset:          r.Asset,
		Amount:         r.Amount,
		USDValue:       r.USDValue,
		RecipientID:    r.RecipientEntry.CounterpartyID,
		RecipientName:  r.RecipientName,
		SenderBalance:  r.SenderBalance,
		NotificationID: r.NotificationID,
	}
}

// TransferService moves an asset between two accounts in one store
// transaction and hands the follow-up work to the outbox.
type TransferService struct {
	store     AccountStore
	publisher EventPublisher
	balances  BalancePublisher
	prices    PriceFeed
	audit     *audit.Logger
	logger    *zap.Logger
	validator *ValidationHelper
	policy    MinimumPolicy
	supported map[string]bool
	now       func() time.Time
}

type TransferOption func(*TransferService)

func WithPriceFeed(feed PriceFeed) TransferOption {
	return func(s *TransferService) { s.prices = feed }
}

func WithBalancePublisher(p BalancePublisher) TransferOption {
	return func(s *TransferService) { s.balances = p }
}

func WithClock(now func() time.Time) TransferOption {
	return func(s *TransferService) { s.now = now }
}

func NewTransferService(store AccountStore, publisher EventPublisher, logger *zap.Logger, cfg *config.TransferConfig, opts ...TransferOption) *TransferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &config.TransferConfig{}
	}

	supported := make(map[string]bool, len(cfg.SupportedAssets))
	for _, asset := range cfg.SupportedAssets {
		supported[asset] = true
	}

	s := &TransferService{
		store:     store,
		publisher: publisher,
		audit:     audit.NewLogger(logger),
		logger:    logger.With(zap.String("component", "transfer")),
		validator: NewValidationHelper(),
		policy:    MinimumPolicyFromConfig(cfg),
		supported: supported,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute performs the transfer. Balances are re-read inside the store
// transaction; either both accounts change or neither does. Failures are
// returned as-is and never retried.
func (s *TransferService) Execute(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if strings.TrimSpace(req.RecipientID) == "" {
		return nil, models.ErrRecipientRequired
	}
	if req.RecipientID == req.SenderID {
		return nil, models.ErrSelfTransfer
	}
	if !req.Amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	priceHint := req.PriceHint
	if !priceHint.IsPositive() {
		priceHint = decimal.NewFromInt(1)
	}

	now := s.now().UTC()
	result := &TransferResult{
		TxID:           newTxID(now),
		Timestamp:      now.Format(timestampLayout),
		Asset:          req.Asset,
		Amount:         req.Amount,
		USDValue:       req.Amount.Mul(priceHint),
		NotificationID: uuid.NewString(),
	}

	var sender, recipient *models.Account
	start := time.Now()

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx models.AccountTx) error {
		var err error
		sender, recipient, err = readTransferPair(ctx, tx, req.SenderID, req.RecipientID)
		if err != nil {
			return err
		}

		senderBalance := ReconcileBalance(sender, req.Asset)
		if senderBalance.LessThan(req.Amount) {
			return fmt.Errorf("%w: %s %s available", models.ErrInsufficientFunds, senderBalance.String(), req.Asset)
		}

		result.SenderBalance = senderBalance.Sub(req.Amount)
		result.RecipientBalance = ReconcileBalance(recipient, req.Asset).Add(req.Amount)
		applyBalance(sender, req.Asset, result.SenderBalance)
		applyBalance(recipient, req.Asset, result.RecipientBalance)

		result.SenderEntry = models.LedgerEntry{
			Type:             models.LedgerTypeTransfer,
			Direction:        models.DirectionOut,
			Crypto:           req.Asset,
			CryptoAmount:     req.Amount,
			Amount:           result.USDValue,
			CounterpartyID:   recipient.ID,
			CounterpartyName: recipient.DisplayName,
			Timestamp:        result.Timestamp,
			Status:           models.StatusCompleted,
			TxID:             result.TxID,
		}
		unread := false
		result.RecipientEntry = models.LedgerEntry{
			Type:             models.LedgerTypeTransfer,
			Direction:        models.DirectionIn,
			Crypto:           req.Asset,
			CryptoAmount:     req.Amount,
			Amount:           result.USDValue,
			CounterpartyID:   sender.ID,
			CounterpartyName: sender.DisplayName,
			Timestamp:        result.Timestamp,
			Status:           models.StatusCompleted,
			TxID:             result.TxID,
			IsRead:           &unread,
			NotificationID:   result.NotificationID,
		}
		sender.PrependEntry(result.SenderEntry)
		recipient.PrependEntry(result.RecipientEntry)
		recipient.HasUnreadNotifications = true

		if err := tx.Update(ctx, sender); err != nil {
			return err
		}
		return tx.Update(ctx, recipient)
	})

	elapsed := time.Since(start).Seconds()
	if err != nil {
		outcome := transferOutcome(err)
		metrics.TransfersTotal.WithLabelValues(req.Asset, outcome).Inc()
		metrics.TransferDuration.WithLabelValues(outcome).Observe(elapsed)
		s.audit.LogError(result.TxID, req.SenderID, err)
		s.logger.Warn("transfer aborted",
			zap.String("tx_id", result.TxID),
			zap.String("sender_id", req.SenderID),
			zap.String("recipient_id", req.RecipientID),
			zap.String("asset", req.Asset),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.TransfersTotal.WithLabelValues(req.Asset, "completed").Inc()
	metrics.TransferDuration.WithLabelValues("completed").Observe(elapsed)
	s.audit.LogTransfer(result.TxID, sender.ID, recipient.ID, req.Asset, req.Amount, models.StatusCompleted)
	result.RecipientName = recipient.DisplayName

	s.afterCommit(ctx, result, sender, recipient)
	return result, nil
}

// readTransferPair locks both accounts in lexical id order so concurrent
// transfers between the same pair cannot deadlock.
func readTransferPair(ctx context.Context, tx models.AccountTx, senderID, recipientID string) (*models.Account, *models.Account, error) {
	order := []string{senderID, recipientID}
	if recipientID < senderID {
		order = []string{recipientID, senderID}
	}

	records := make(map[string]*models.Account, 2)
	for _, id := range order {
		account, err := tx.Read(ctx, id)
		if errors.Is(err, models.ErrAccountNotFound) {
			if id == recipientID {
				return nil, nil, models.ErrRecipientNotFound
			}
			return nil, nil, models.ErrSenderNotFound
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read account %s: %w", id, err)
		}
		records[id] = account
	}
	return records[senderID], records[recipientID], nil
}

// applyBalance writes a new balance into the asset map. USDT writes also
// retire the legacy field.
func applyBalance(acc *models.Account, asset string, amount decimal.Decimal) {
	acc.SetHolding(asset, amount)
	if asset == models.AssetUSDT {
		zeroLegacyBalance(acc)
	}
}

// afterCommit enqueues side effects. Nothing here can fail the transfer.
func (s *TransferService) afterCommit(ctx context.Context, result *TransferResult, sender, recipient *models.Account) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
	defer cancel()

	log := s.logger.With(zap.String("tx_id", result.TxID))

	notification := models.Notification{
		ID:                result.NotificationID,
		Type:              notificationTypeTransfer,
		RecipientID:       recipient.ID,
		SenderID:          sender.ID,
		SenderDisplayName: sender.DisplayName,
		Asset:             result.Asset,
		Amount:            result.Amount,
		TxID:              result.TxID,
		Timestamp:         result.Timestamp,
		IsRead:            false,
	}
	s.enqueue(ctx, log, EventNotificationTransfer, recipient.ID, notification)

	if sender.Email != "" {
		email := models.TransferEmail{
			RecipientEmail: sender.Email,
			Username:       sender.DisplayName,
			Type:           notificationTypeTransfer,
			Amount:         fmt.Sprintf("%s %s", result.Amount.String(), result.Asset),
			Receiver:       recipient.DisplayName,
		}
		s.enqueue(ctx, log, EventEmailTransfer, sender.ID, email)
	} else {
		log.Debug("sender has no email address, skipping transfer email", zap.String("sender_id", sender.ID))
	}

	if s.balances == nil {
		return
	}
	for _, acc := range []*models.Account{sender, recipient} {
		event := models.BalanceEvent{AccountID: acc.ID, TxID: result.TxID, Balances: ReconcileBalances(acc)}
		if err := s.balances.PublishBalances(ctx, event); err != nil {
			log.Warn("balance update publish failed", zap.String("account_id", acc.ID), zap.Error(err))
		}
	}
}

func (s *TransferService) enqueue(ctx context.Context, log *zap.Logger, eventType, aggregateID string, payload any) {
	if s.publisher == nil {
		log.Warn("no outbox publisher configured, dropping event", zap.String("event_type", eventType))
		return
	}

	event, err := outbox.NewEvent(eventType, aggregateID, payload)
	if err == nil {
		err = s.publisher.Publish(ctx, event)
	}
	if err != nil {
		log.Error("post-commit event not enqueued", zap.String("event_type", eventType), zap.Error(err))
	}
}

// newTxID returns TX<unix millis>-<8 hex chars>
func newTxID(now time.Time) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "TX" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()[:8]
	}
	return "TX" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + hex.EncodeToString(b)
}

func transferOutcome(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, models.ErrRecipientNotFound), errors.Is(err, models.ErrSenderNotFound):
		return "not_found"
	case errors.Is(err, models.ErrVersionConflict):
		return "conflict"
	default:
		return "failed"
	}
}

// transferErrorStatus maps an executor error to an HTTP status and message
func transferErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrRecipientRequired),
		errors.Is(err, models.ErrSelfTransfer),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrBelowMinimum),
		errors.Is(err, models.ErrUnsupportedAsset):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrRecipientNotFound), errors.Is(err, models.ErrSenderNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusConflict, models.ErrInsufficientFunds.Error()
	case errors.Is(err, models.ErrVersionConflict):
		return http.StatusConflict, "Transfer Failed: account changed during transfer"
	default:
		return http.StatusInternalServerError, "Transfer Failed"
	}
}

func (s *TransferService) normalizeAsset(raw string) (string, error) {
	asset := strings.ToUpper(strings.TrimSpace(raw))
	if len(s.supported) > 0 && !s.supported[asset] {
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedAsset, asset)
	}
	return asset, nil
}

func (s *TransferService) priceHint(ctx context.Context, asset string) decimal.Decimal {
	if s.prices == nil {
		return decimal.NewFromInt(1)
	}
	return s.prices.PriceOrDefault(ctx, asset)
}

// CreateTransfer handles a transfer submitted by the authenticated sender
// @Summary Send an asset to another account
// @Tags transfers
// @Accept json
// @Produce json
// @Param request body models.TransferRequest true "Transfer request"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /transfers [post]
func (s *TransferService) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.TransferRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.logger.Debug("invalid transfer body", zap.Error(err))
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	asset, err := s.normalizeAsset(req.Asset)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	sender, err := s.store.GetAccount(r.Context(), senderID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			SendErrorResponse(w, models.ErrSenderNotFound.Error(), http.StatusNotFound, nil)
			return
		}
		s.logger.Error("sender lookup failed", zap.String("sender_id", senderID), zap.Error(err))
		SendErrorResponse(w, "Transfer Failed", http.StatusInternalServerError, nil)
		return
	}

	amount, err := ValidateTransfer(TransferInput{
		SenderID:    senderID,
		RecipientID: req.RecipientID,
		Asset:       asset,
		AmountRaw:   req.Amount,
	}, ReconcileBalances(sender), s.policy)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	result, err := s.Execute(r.Context(), TransferRequest{
		SenderID:    senderID,
		RecipientID: strings.TrimSpace(req.RecipientID),
		Asset:       asset,
		Amount:      amount,
		PriceHint:   s.priceHint(r.Context(), asset),
	})
	if err != nil {
		status, message := transferErrorStatus(err)
		SendErrorResponse(w, message, status, nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"transfer": result.Receipt(),
	})
}

// ValidateTransfer runs the pre-submit checks without moving funds
// @Summary Check a transfer before submitting it
// @Tags transfers
// @Accept json
// @Produce json
// @Param request body models.TransferRequest true "Transfer request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /transfers/validate [post]
func (s *TransferService) ValidateTransfer(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req models.TransferRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	asset, err := s.normalizeAsset(req.Asset)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	sender, err := s.store.GetAccount(r.Context(), senderID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			SendErrorResponse(w, models.ErrSenderNotFound.Error(), http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to load balances", http.StatusInternalServerError, nil)
		return
	}

	balances := ReconcileBalances(sender)
	response := map[string]any{
		"asset":   asset,
		"balance": balances[asset],
		"minimum": s.policy.Minimum(asset),
	}

	amount, err := ValidateTransfer(TransferInput{
		SenderID:    senderID,
		RecipientID: req.RecipientID,
		Asset:       asset,
		AmountRaw:   req.Amount,
	}, balances, s.policy)
	if err != nil {
		response["valid"] = false
		response["reason"] = err.Error()
		writeJSON(w, http.StatusOK, response)
		return
	}

	response["valid"] = true
	response["amount"] = amount
	writeJSON(w, http.StatusOK, response)
}
