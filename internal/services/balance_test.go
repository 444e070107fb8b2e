package services

import (
	"encoding/json"
	"testing"

	"github.com/coinvault/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestReconcileBalance(t *testing.T) {
	tests := []struct {
		name    string
		account *models.Account
		asset   string
		want    string
	}{
		{
			name:    "non-USDT from asset map",
			account: &models.Account{Assets: models.Assets{"BTC": {Amount: dec("0.75")}}},
			asset:   "BTC",
			want:    "0.75",
		},
		{
			name:    "non-USDT missing is zero",
			account: &models.Account{LegacyBalance: json.RawMessage(`100`)},
			asset:   "ETH",
			want:    "0",
		},
		{
			name: "USDT asset map wins over legacy",
			account: &models.Account{
				LegacyBalance: json.RawMessage(`100`),
				Assets:        models.Assets{"USDT": {Amount: dec("30")}},
			},
			asset: "USDT",
			want:  "30",
		},
		{
			name: "USDT zero holding still wins",
			account: &models.Account{
				LegacyBalance: json.RawMessage(`100`),
				Assets:        models.Assets{"USDT": {Amount: decimal.Zero}},
			},
			asset: "USDT",
			want:  "0",
		},
		{
			name:    "USDT legacy number",
			account: &models.Account{LegacyBalance: json.RawMessage(`250.5`)},
			asset:   "USDT",
			want:    "250.5",
		},
		{
			name:    "USDT legacy numeric string",
			account: &models.Account{LegacyBalance: json.RawMessage(`"42.10"`)},
			asset:   "USDT",
			want:    "42.1",
		},
		{
			name:    "USDT legacy garbage string",
			account: &models.Account{LegacyBalance: json.RawMessage(`"lots"`)},
			asset:   "USDT",
			want:    "0",
		},
		{
			name:    "USDT legacy null",
			account: &models.Account{LegacyBalance: json.RawMessage(`null`)},
			asset:   "USDT",
			want:    "0",
		},
		{
			name:    "USDT nothing anywhere",
			account: &models.Account{},
			asset:   "USDT",
			want:    "0",
		},
		{
			name:  "nil account",
			asset: "USDT",
			want:  "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReconcileBalance(tt.account, tt.asset)
			assert.True(t, got.Equal(dec(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestReconcileBalances(t *testing.T) {
	account := &models.Account{
		LegacyBalance: json.RawMessage(`"12"`),
		Assets: models.Assets{
			"BTC": {Amount: dec("0.1"), Name: "Bitcoin"},
			"ETH": {Amount: dec("2"), Name: "Ethereum"},
		},
	}

	balances := ReconcileBalances(account)
	assert.Len(t, balances, 3)
	assert.True(t, balances["USDT"].Equal(dec("12")))
	assert.True(t, balances["BTC"].Equal(dec("0.1")))
	assert.True(t, balances["ETH"].Equal(dec("2")))
}

func TestMigrateLegacyBalance(t *testing.T) {
	t.Run("legacy value moves into asset map", func(t *testing.T) {
		account := &models.Account{LegacyBalance: json.RawMessage(`"80.25"`)}

		assert.True(t, MigrateLegacyBalance(account))
		assert.Equal(t, "0", string(account.LegacyBalance))
		assert.True(t, account.Assets["USDT"].Amount.Equal(dec("80.25")))
		assert.Equal(t, "Tether", account.Assets["USDT"].Name)
		assert.True(t, ReconcileBalance(account, "USDT").Equal(dec("80.25")))
	})

	t.Run("existing holding is kept and legacy is dropped", func(t *testing.T) {
		account := &models.Account{
			LegacyBalance: json.RawMessage(`500`),
			Assets:        models.Assets{"USDT": {Amount: dec("7"), Name: "Tether"}},
		}

		assert.True(t, MigrateLegacyBalance(account))
		assert.True(t, account.Assets["USDT"].Amount.Equal(dec("7")))
		assert.Equal(t, "0", string(account.LegacyBalance))
	})

	t.Run("already migrated", func(t *testing.T) {
		account := &models.Account{LegacyBalance: json.RawMessage(`0`)}
		assert.False(t, MigrateLegacyBalance(account))
		assert.Nil(t, account.Assets)
	})

	t.Run("no legacy field", func(t *testing.T) {
		assert.False(t, MigrateLegacyBalance(&models.Account{}))
	})
}
