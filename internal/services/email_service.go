package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coinvault/backend/internal/config"
	"github.com/coinvault/backend/internal/models"
)

// EmailClient sends transactional email
type EmailClient interface {
	Send(ctx context.Context, email models.TransferEmail) error
}

// HTTPEmailClient posts email requests as JSON to the mail service
type HTTPEmailClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPEmailClient(cfg *config.EmailConfig) *HTTPEmailClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPEmailClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPEmailClient) Send(ctx context.Context, email models.TransferEmail) error {
	body, err := json.Marshal(email)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("email request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
