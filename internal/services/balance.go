package services

import (
	"encoding/json"
	"strings"

	"github.com/coinvault/backend/internal/models"
	"github.com/shopspring/decimal"
)

// ReconcileBalance returns the authoritative balance of asset held by acc.
//
// Only USDT may still live in the legacy single-balance field. The asset map
// wins whenever it has a USDT holding; the legacy field is never added to it.
func ReconcileBalance(acc *models.Account, asset string) decimal.Decimal {
	if acc == nil {
		return decimal.Zero
	}

	if h, ok := acc.Holding(asset); ok {
		return h.Amount
	}
	if asset != models.AssetUSDT {
		return decimal.Zero
	}
	return parseLegacyBalance(acc.LegacyBalance)
}

// ReconcileBalances returns the authoritative balance of every held asset plus USDT.
func ReconcileBalances(acc *models.Account) map[string]decimal.Decimal {
	balances := map[string]decimal.Decimal{
		models.AssetUSDT: ReconcileBalance(acc, models.AssetUSDT),
	}
	if acc == nil {
		return balances
	}
	for asset, h := range acc.Assets {
		balances[asset] = h.Amount
	}
	return balances
}

// MigrateLegacyBalance moves the USDT balance out of the legacy field into the
// asset map and zeroes the legacy field. It reports whether acc changed.
func MigrateLegacyBalance(acc *models.Account) bool {
	if acc == nil || !hasLegacyValue(acc.LegacyBalance) {
		return false
	}

	if _, ok := acc.Holding(models.AssetUSDT); !ok {
		acc.SetHolding(models.AssetUSDT, ReconcileBalance(acc, models.AssetUSDT))
	}
	zeroLegacyBalance(acc)
	return true
}

// zeroLegacyBalance marks the legacy field as migrated.
func zeroLegacyBalance(acc *models.Account) {
	acc.LegacyBalance = json.RawMessage("0")
}

func hasLegacyValue(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	return v != "" && v != "null" && v != "0"
}

// parseLegacyBalance accepts a JSON number or a numeric JSON string.
// Anything else, including an unparseable string, is zero.
func parseLegacyBalance(raw json.RawMessage) decimal.Decimal {
	if len(raw) == 0 {
		return decimal.Zero
	}

	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		if d, err := decimal.NewFromString(number.String()); err == nil {
			return d
		}
		return decimal.Zero
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if d, err := decimal.NewFromString(strings.TrimSpace(text)); err == nil {
			return d
		}
	}
	return decimal.Zero
}
