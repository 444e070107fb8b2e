package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/coinvault/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
)

const qrCodeTTL = 5 * time.Minute

var (
	ErrQRUnavailable = errors.New("QR codes are unavailable")
	ErrQRExpired     = errors.New("invalid or expired QR code")
)

// TransferQR is the payload behind a transfer-request QR code. Scanning it
// pre-fills a transfer to RecipientID.
type TransferQR struct {
	RecipientID string `json:"recipientId"`
	DisplayName string `json:"displayName"`
	Asset       string `json:"asset"`
	Amount      string `json:"amount,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Nonce       string `json:"nonce"`
}

// QRService issues single-use transfer-request codes backed by Redis
type QRService struct {
	redis *redis.Client
	now   func() time.Time
	nonce func() string
}

func NewQRService(redis *redis.Client) *QRService {
	return &QRService{
		redis: redis,
		now:   time.Now,
		nonce: generateNonce,
	}
}

// GenerateQRCode creates a code asking for a transfer of asset to account.
// A zero amount leaves the amount for the payer to fill in.
func (s *QRService) GenerateQRCode(ctx context.Context, account *models.Account, asset string, amount decimal.Decimal) (string, string, error) {
	if s.redis == nil {
		return "", "", ErrQRUnavailable
	}

	payload := TransferQR{
		RecipientID: account.ID,
		DisplayName: account.DisplayName,
		Asset:       asset,
		Timestamp:   s.now().Unix(),
		Nonce:       s.nonce(),
	}
	if amount.IsPositive() {
		payload.Amount = amount.String()
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	qrCode := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:%s", qrCode)
	if err := s.redis.Set(ctx, key, jsonData, qrCodeTTL).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(qrCode, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return qrCode, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ProcessQRCode redeems a code once. The scanner cannot redeem their own code.
func (s *QRService) ProcessQRCode(ctx context.Context, qrData, scannerID string) (*TransferQR, error) {
	if s.redis == nil {
		return nil, ErrQRUnavailable
	}

	key := fmt.Sprintf("qr:%s", qrData)

	data, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQRExpired
	}
	if err != nil {
		return nil, err
	}

	var result TransferQR
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	if result.RecipientID == scannerID {
		return nil, models.ErrSelfTransfer
	}

	// DEL is the redemption point: only the scan that removes the key wins
	deleted, err := s.redis.Del(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if deleted == 0 {
		return nil, ErrQRExpired
	}

	return &result, nil
}

func generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
