package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/metrics"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"USDT": "tether",
	"BNB":  "binancecoin",
	"SOL":  "solana",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"TRX":  "tron",
	"LTC":  "litecoin",
}

// PriceService looks up USD prices from a CoinGecko-compatible feed and
// caches them in Redis. The cache is optional.
type PriceService struct {
	redis   *redis.Client
	client  *http.Client
	baseURL string
	ttl     time.Duration
	logger  *zap.Logger
}

func NewPriceService(redisClient *redis.Client, cfg *config.PriceConfig, logger *zap.Logger) *PriceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &PriceService{
		redis:   redisClient,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		ttl:     cfg.CacheTTL,
		logger:  logger.With(zap.String("component", "price")),
	}
}

func priceCacheKey(asset string) string {
	return "price:" + asset
}

// GetPrice returns the USD price of one unit of asset
func (p *PriceService) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(asset)

	if p.redis != nil {
		cached, err := p.redis.Get(ctx, priceCacheKey(asset)).Result()
		if err == nil {
			if price, err := decimal.NewFromString(cached); err == nil {
				metrics.PriceLookupsTotal.WithLabelValues("cache").Inc()
				return price, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			p.logger.Warn("price cache read failed", zap.String("asset", asset), zap.Error(err))
		}
	}

	price, err := p.fetch(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.PriceLookupsTotal.WithLabelValues("feed").Inc()

	if p.redis != nil && p.ttl > 0 {
		if err := p.redis.Set(ctx, priceCacheKey(asset), price.String(), p.ttl).Err(); err != nil {
			p.logger.Warn("price cache write failed", zap.String("asset", asset), zap.Error(err))
		}
	}
	return price, nil
}

// PriceOrDefault returns the price of asset, or 1 when no price is available
func (p *PriceService) PriceOrDefault(ctx context.Context, asset string) decimal.Decimal {
	price, err := p.GetPrice(ctx, asset)
	if err != nil || !price.IsPositive() {
		metrics.PriceLookupsTotal.WithLabelValues("default").Inc()
		p.logger.Warn("price unavailable, defaulting to 1", zap.String("asset", asset), zap.Error(err))
		return decimal.NewFromInt(1)
	}
	return price
}

func (p *PriceService) fetch(ctx context.Context, asset string) (decimal.Decimal, error) {
	id, ok := coinGeckoIDs[asset]
	if !ok {
		id = strings.ToLower(asset)
	}

	query := url.Values{}
	query.Set("ids", id)
	query.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/simple/price?"+query.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price feed returned %d", resp.StatusCode)
	}

	var body map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode price response: %w", err)
	}

	price, ok := body[id]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("no usd price for %s", asset)
	}
	return price, nil
}
