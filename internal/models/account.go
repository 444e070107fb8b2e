package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// AssetUSDT is the only asset whose balance may still live in the legacy field.
const AssetUSDT = "USDT"

// Ledger entry constants
const (
	LedgerTypeTransfer = "Transfer"
	DirectionOut       = "out"
	DirectionIn        = "in"
	StatusCompleted    = "Completed"
)

// Account represents one user's holdings and activity
type Account struct {
	ID                     string          `json:"id"`
	DisplayName            string          `json:"displayName"`
	Email                  string          `json:"email"`
	LegacyBalance          json.RawMessage `json:"legacyBalance,omitempty"` // number or numeric string
	Assets                 Assets          `json:"assets"`
	Transactions           Ledger          `json:"transactions"` // newest first
	HasUnreadNotifications bool            `json:"hasUnreadNotifications"`
	Version                int             `json:"version"` // for optimistic locking
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// AssetHolding is the amount of one asset held by an account
type AssetHolding struct {
	Amount decimal.Decimal `json:"amount"`
	Name   string          `json:"name"`
}

// LedgerEntry is an immutable record of one transfer leg
type LedgerEntry struct {
	Type             string          `json:"type"`
	Direction        string          `json:"direction"`
	Crypto           string          `json:"crypto"`
	CryptoAmount     decimal.Decimal `json:"cryptoAmount"`
	Amount           decimal.Decimal `json:"amount"` // USD equivalent at transfer time, display only
	CounterpartyID   string          `json:"counterpartyId"`
	CounterpartyName string          `json:"counterpartyName"`
	Timestamp        string          `json:"timestamp"`
	Status           string          `json:"status"`
	TxID             string          `json:"txId"`
	IsRead           *bool           `json:"isRead,omitempty"`
	NotificationID   string          `json:"notificationId,omitempty"`
}

// Assets maps an asset symbol to its holding. Stored as JSONB.
type Assets map[string]AssetHolding

// Ledger is an account's transaction history. Stored as JSONB.
type Ledger []LedgerEntry

var knownAssetNames = map[string]string{
	"BTC":  "Bitcoin",
	"ETH":  "Ethereum",
	"USDT": "Tether",
	"BNB":  "BNB",
	"SOL":  "Solana",
	"XRP":  "XRP",
	"ADA":  "Cardano",
	"DOGE": "Dogecoin",
	"TRX":  "TRON",
	"LTC":  "Litecoin",
}

// AssetName returns the display name for a symbol, or the symbol itself.
func AssetName(symbol string) string {
	if name, ok := knownAssetNames[symbol]; ok {
		return name
	}
	return symbol
}

// Holding returns the holding for asset and whether it exists.
func (a *Account) Holding(asset string) (AssetHolding, bool) {
	if a.Assets == nil {
		return AssetHolding{}, false
	}
	h, ok := a.Assets[asset]
	return h, ok
}

// SetHolding writes amount for asset, creating the holding if absent.
func (a *Account) SetHolding(asset string, amount decimal.Decimal) {
	if a.Assets == nil {
		a.Assets = make(Assets)
	}
	h, ok := a.Assets[asset]
	if !ok || h.Name == "" {
		h.Name = AssetName(asset)
	}
	h.Amount = amount
	a.Assets[asset] = h
}

// PrependEntry adds entry at the head of the ledger.
func (a *Account) PrependEntry(entry LedgerEntry) {
	a.Transactions = append(Ledger{entry}, a.Transactions...)
}

// Clone returns a deep copy so callers never share maps or slices with a store.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	if a.LegacyBalance != nil {
		cp.LegacyBalance = append(json.RawMessage(nil), a.LegacyBalance...)
	}
	if a.Assets != nil {
		cp.Assets = make(Assets, len(a.Assets))
		for k, v := range a.Assets {
			cp.Assets[k] = v
		}
	}
	if a.Transactions != nil {
		cp.Transactions = make(Ledger, len(a.Transactions))
		copy(cp.Transactions, a.Transactions)
		for i, e := range cp.Transactions {
			if e.IsRead != nil {
				read := *e.IsRead
				cp.Transactions[i].IsRead = &read
			}
		}
	}
	return &cp
}

// FindEntry returns the ledger entry with txID.
func (a *Account) FindEntry(txID string) (LedgerEntry, bool) {
	for _, e := range a.Transactions {
		if e.TxID == txID {
			return e, true
		}
	}
	return LedgerEntry{}, false
}

// Value implements driver.Valuer for Assets
func (m Assets) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for Assets
func (m *Assets) Scan(value any) error {
	if value == nil {
		*m = make(Assets)
		return nil
	}

	b, err := jsonBytes(value)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, m)
}

// Value implements driver.Valuer for Ledger
func (l Ledger) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for Ledger
func (l *Ledger) Scan(value any) error {
	if value == nil {
		*l = Ledger{}
		return nil
	}

	b, err := jsonBytes(value)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, l)
}

func jsonBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("type assertion to []byte failed")
	}
}
