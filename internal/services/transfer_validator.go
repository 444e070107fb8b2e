package services

import (
	"regexp"
	"strings"

	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/models"
	"github.com/shopspring/decimal"
)

// MaxAmountScale is the most fractional digits an entered amount may carry.
const MaxAmountScale = 18

// amountPattern admits plain positional decimals only. Exponent forms such as
// 1e-200000000 parse fine but make every later comparison expand a huge power
// of ten, so they never reach decimal arithmetic.
var amountPattern = regexp.MustCompile(`^\d{1,30}(\.\d{1,18})?$`)

// ParseAmount parses a user-entered amount and rejects anything that is not
// a positive plain decimal.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if !amountPattern.MatchString(raw) {
		return decimal.Zero, models.ErrInvalidAmount
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, models.ErrInvalidAmount
	}
	return amount, nil
}

// TransferInput is a transfer as entered by the sender, before any parsing.
type TransferInput struct {
	SenderID    string
	RecipientID string
	Asset       string
	AmountRaw   string
}

// MinimumPolicy holds the smallest amount that may be sent per asset.
type MinimumPolicy struct {
	USDT    decimal.Decimal
	Default decimal.Decimal
}

// DefaultMinimumPolicy is 1 USDT and 0.001 of any other asset.
var DefaultMinimumPolicy = MinimumPolicy{
	USDT:    decimal.NewFromInt(1),
	Default: decimal.New(1, -3),
}

func MinimumPolicyFromConfig(cfg *config.TransferConfig) MinimumPolicy {
	policy := DefaultMinimumPolicy
	if cfg == nil {
		return policy
	}
	if cfg.MinUSDT.IsPositive() {
		policy.USDT = cfg.MinUSDT
	}
	if cfg.MinDefault.IsPositive() {
		policy.Default = cfg.MinDefault
	}
	return policy
}

// Minimum returns the minimum transfer amount for asset.
func (p MinimumPolicy) Minimum(asset string) decimal.Decimal {
	if asset == models.AssetUSDT {
		return p.USDT
	}
	return p.Default
}

// ValidateTransfer runs the pre-submit checks against the sender's cached
// balances and returns the parsed amount. Checks run in a fixed order and the
// first failure is returned. The result is advisory: the executor re-checks
// funds against fresh data.
func ValidateTransfer(in TransferInput, cached map[string]decimal.Decimal, policy MinimumPolicy) (decimal.Decimal, error) {
	recipientID := strings.TrimSpace(in.RecipientID)
	if recipientID == "" {
		return decimal.Zero, models.ErrRecipientRequired
	}

	if recipientID == in.SenderID {
		return decimal.Zero, models.ErrSelfTransfer
	}

	amount, err := ParseAmount(in.AmountRaw)
	if err != nil {
		return decimal.Zero, err
	}

	if amount.GreaterThan(cached[in.Asset]) {
		return decimal.Zero, models.ErrInsufficientFunds
	}

	if amount.LessThan(policy.Minimum(in.Asset)) {
		return decimal.Zero, models.ErrBelowMinimum
	}

	return amount, nil
}
