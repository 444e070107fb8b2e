package models

import "github.com/shopspring/decimal"

// TransferRequest is the body of POST /transfers
type TransferRequest struct {
	RecipientID string `json:"recipientId" validate:"required,max=64"`
	Asset       string `json:"asset" validate:"required,max=10"`
	Amount      string `json:"amount" validate:"required,max=40"` // decimal string, as typed by the user
}

// TransferReceipt is returned after a committed transfer
type TransferReceipt struct {
	TxID           string          `json:"txId"`
	Timestamp      string          `json:"timestamp"`
	Asset          string          `json:"asset"`
	Amount         decimal.Decimal `json:"amount"`
	USDValue       decimal.Decimal `json:"usdValue"`
	RecipientID    string          `json:"recipientId"`
	RecipientName  string          `json:"recipientName"`
	SenderBalance  decimal.Decimal `json:"senderBalance"`
	NotificationID string          `json:"notificationId"`
}

// Notification is the standalone record written for the recipient after a transfer
type Notification struct {
	ID                string          `json:"id"`
	Type              string          `json:"type"`
	RecipientID       string          `json:"recipientId"`
	SenderID          string          `json:"senderId"`
	SenderDisplayName string          `json:"senderDisplayName"`
	Asset             string          `json:"asset"`
	Amount            decimal.Decimal `json:"amount"`
	TxID              string          `json:"txId"`
	Timestamp         string          `json:"timestamp"`
	IsRead            bool            `json:"isRead"`
}

// TransferEmail is the outbound email request sent to the sender
type TransferEmail struct {
	RecipientEmail string `json:"recipientEmail"`
	Username       string `json:"username"`
	Type           string `json:"type"`
	Amount         string `json:"amount"`
	Receiver       string `json:"receiver"`
}

// BalanceEvent is published whenever an account's balances change
type BalanceEvent struct {
	AccountID string                     `json:"accountId"`
	TxID      string                     `json:"txId"`
	Balances  map[string]decimal.Decimal `json:"balances"`
}
