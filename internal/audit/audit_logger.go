package audit

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Event struct {
	Timestamp     time.Time         `json:"timestamp"`
	EventType     string            `json:"event_type"`
	TransactionID string            `json:"transaction_id"`
	AccountID     string            `json:"account_id"`
	Asset         string            `json:"asset,omitempty"`
	Amount        decimal.Decimal   `json:"amount"`
	Status        string            `json:"status"`
	Details       map[string]string `json:"details"`
}

// Logger writes audit events as structured log lines on a dedicated logger name.
type Logger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("audit"), now: time.Now}
}

func (a *Logger) LogTransfer(transactionID, fromAccount, toAccount, asset string, amount decimal.Decimal, status string) {
	a.log(Event{
		Timestamp:     a.now(),
		EventType:     "TRANSFER",
		TransactionID: transactionID,
		AccountID:     fromAccount,
		Asset:         asset,
		Amount:        amount,
		Status:        status,
		Details: map[string]string{
			"from_account": fromAccount,
			"to_account":   toAccount,
		},
	})
}

func (a *Logger) LogError(transactionID, accountID string, err error) {
	a.log(Event{
		Timestamp:     a.now(),
		EventType:     "ERROR",
		TransactionID: transactionID,
		AccountID:     accountID,
		Status:        "FAILED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogOperation(transactionID, accountID, operation, details string) {
	a.log(Event{
		Timestamp:     a.now(),
		EventType:     operation,
		TransactionID: transactionID,
		AccountID:     accountID,
		Status:        "SUCCESS",
		Details:       map[string]string{"details": details},
	})
}

func (a *Logger) log(event Event) {
	a.logger.Info("AUDIT",
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_type", event.EventType),
		zap.String("transaction_id", event.TransactionID),
		zap.String("account_id", event.AccountID),
		zap.String("asset", event.Asset),
		zap.String("amount", event.Amount.String()),
		zap.String("status", event.Status),
		zap.Any("details", event.Details),
	)
}
