package config

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// TransferConfig holds the rules applied to peer-to-peer transfers
type TransferConfig struct {
	MinUSDT         decimal.Decimal
	MinDefault      decimal.Decimal
	SupportedAssets []string
	RatePerMinute   int
	RateBurst       int
}

// OutboxConfig controls post-commit side-effect delivery
type OutboxConfig struct {
	PendingKey   string
	DeadKey      string
	MaxAttempts  int
	PollTimeout  time.Duration
	MemoryBuffer int
	// RetryBackoff is the first redelivery delay; it doubles up to RetryMaxBackoff.
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
}

// PriceConfig configures the public price feed
type PriceConfig struct {
	BaseURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// EmailConfig configures the transactional email endpoint
type EmailConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// LoadTransferConfig returns transfer rules with defaults
func LoadTransferConfig() *TransferConfig {
	viper.SetDefault("transfer.min_usdt", "1")
	viper.SetDefault("transfer.min_default", "0.001")
	viper.SetDefault("transfer.supported_assets", "BTC,ETH,USDT,BNB,SOL,XRP,ADA,DOGE")
	viper.SetDefault("transfer.rate_per_minute", 10)
	viper.SetDefault("transfer.rate_burst", 3)

	return &TransferConfig{
		MinUSDT:         getDecimal("transfer.min_usdt", decimal.NewFromInt(1)),
		MinDefault:      getDecimal("transfer.min_default", decimal.New(1, -3)),
		SupportedAssets: splitList(viper.GetString("transfer.supported_assets")),
		RatePerMinute:   viper.GetInt("transfer.rate_per_minute"),
		RateBurst:       viper.GetInt("transfer.rate_burst"),
	}
}

// LoadOutboxConfig returns outbox settings with defaults
func LoadOutboxConfig() *OutboxConfig {
	viper.SetDefault("outbox.pending_key", "outbox:pending")
	viper.SetDefault("outbox.dead_key", "outbox:dead")
	viper.SetDefault("outbox.max_attempts", 5)
	viper.SetDefault("outbox.poll_timeout", 5*time.Second)
	viper.SetDefault("outbox.memory_buffer", 1024)
	viper.SetDefault("outbox.retry_backoff", 2*time.Second)
	viper.SetDefault("outbox.retry_max_backoff", time.Minute)

	return &OutboxConfig{
		PendingKey:   viper.GetString("outbox.pending_key"),
		DeadKey:      viper.GetString("outbox.dead_key"),
		MaxAttempts:  viper.GetInt("outbox.max_attempts"),
		PollTimeout:  viper.GetDuration("outbox.poll_timeout"),
		MemoryBuffer: viper.GetInt("outbox.memory_buffer"),

		RetryBackoff:    viper.GetDuration("outbox.retry_backoff"),
		RetryMaxBackoff: viper.GetDuration("outbox.retry_max_backoff"),
	}
}

// LoadPriceConfig returns price feed settings with defaults
func LoadPriceConfig() *PriceConfig {
	viper.SetDefault("price.base_url", "https://api.coingecko.com/api/v3")
	viper.SetDefault("price.cache_ttl", time.Minute)
	viper.SetDefault("price.timeout", 3*time.Second)

	return &PriceConfig{
		BaseURL:  strings.TrimRight(viper.GetString("price.base_url"), "/"),
		CacheTTL: viper.GetDuration("price.cache_ttl"),
		Timeout:  viper.GetDuration("price.timeout"),
	}
}

// LoadEmailConfig returns email settings with defaults
func LoadEmailConfig() *EmailConfig {
	viper.SetDefault("email.endpoint", "http://localhost:3001/api/send-email")
	viper.SetDefault("email.api_key", "")
	viper.SetDefault("email.timeout", 5*time.Second)

	return &EmailConfig{
		Endpoint: viper.GetString("email.endpoint"),
		APIKey:   viper.GetString("email.api_key"),
		Timeout:  viper.GetDuration("email.timeout"),
	}
}

func getDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if d, err := decimal.NewFromString(strings.TrimSpace(viper.GetString(key))); err == nil && d.IsPositive() {
		return d
	}
	return defaultVal
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
