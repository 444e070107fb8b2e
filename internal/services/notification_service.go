package services

import (
	"context"
	"errors"

	"github.com/coinvault/backend/internal/models"
	"github.com/coinvault/backend/internal/outbox"
	"go.uber.org/zap"
)

// HandlerRegistry is satisfied by *outbox.Dispatcher
type HandlerRegistry interface {
	Register(eventType string, handler outbox.HandlerFunc)
}

// NotificationService delivers the side effects of a committed transfer:
// the recipient's notification record and the sender's summary email.
type NotificationService struct {
	store  AccountStore
	email  EmailClient
	logger *zap.Logger
}

func NewNotificationService(store AccountStore, email EmailClient, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		store:  store,
		email:  email,
		logger: logger.With(zap.String("component", "notification")),
	}
}

// Register binds the transfer event handlers
func (n *NotificationService) Register(registry HandlerRegistry) {
	registry.Register(EventNotificationTransfer, n.HandleTransferNotification)
	registry.Register(EventEmailTransfer, n.HandleTransferEmail)
}

// HandleTransferNotification writes the standalone notification document.
// The write is keyed by notification id, so a redelivered event is harmless.
func (n *NotificationService) HandleTransferNotification(ctx context.Context, event *outbox.Event) error {
	var notification models.Notification
	if err := event.Decode(&notification); err != nil {
		return err
	}
	if notification.ID == "" {
		return errors.New("notification event has no id")
	}

	if err := n.store.CreateDocument(ctx, notificationsCollection, notification.ID, notification); err != nil {
		return err
	}

	n.logger.Info("transfer notification stored",
		zap.String("notification_id", notification.ID),
		zap.String("recipient_id", notification.RecipientID),
		zap.String("tx_id", notification.TxID),
	)
	return nil
}

// HandleTransferEmail sends the transfer summary to the sender
func (n *NotificationService) HandleTransferEmail(ctx context.Context, event *outbox.Event) error {
	if n.email == nil {
		n.logger.Warn("no email client configured, dropping transfer email", zap.String("event_id", event.ID.String()))
		return nil
	}

	var email models.TransferEmail
	if err := event.Decode(&email); err != nil {
		return err
	}

	if err := n.email.Send(ctx, email); err != nil {
		return err
	}

	n.logger.Info("transfer email sent", zap.String("account_id", event.AggregateID))
	return nil
}
