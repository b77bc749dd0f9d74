// Package gateway talks to a Razorpay-compatible payment gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pharmacy_checkout/internal/money"
)

const (
	DefaultBaseURL = "https://api.razorpay.com/v1"
	DefaultTimeout = 15 * time.Second
	Currency       = "INR"
)

// ErrNotConfigured is returned when key id or key secret is missing.
var ErrNotConfigured = errors.New("gateway credentials not configured")

// Config carries the merchant credentials.
type Config struct {
	BaseURL       string
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

// Client is a minimal Razorpay REST client.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) KeySecret() string     { return c.cfg.KeySecret }
func (c *Client) WebhookSecret() string { return c.cfg.WebhookSecret }

// CreateOrderRequest describes the remote order to create.
type CreateOrderRequest struct {
	Amount  decimal.Decimal // rupees
	Receipt string
	Notes   map[string]string
}

// RemoteOrder is the gateway's order. Raw is the undecoded response body.
type RemoteOrder struct {
	ID       string          `json:"id"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Receipt  string          `json:"receipt"`
	Status   string          `json:"status"`
	Raw      json.RawMessage `json:"-"`
}

type createOrderBody struct {
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	Receipt        string            `json:"receipt"`
	PaymentCapture int               `json:"payment_capture"`
	Notes          map[string]string `json:"notes,omitempty"`
}

// CreateOrder registers an order with the gateway. The amount is sent in paise.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error) {
	if c.cfg.KeyID == "" || c.cfg.KeySecret == "" {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(createOrderBody{
		Amount:         money.ToMinor(req.Amount),
		Currency:       Currency,
		Receipt:        req.Receipt,
		PaymentCapture: 1,
		Notes:          req.Notes,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("create order: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("create order: status %d: %s", resp.StatusCode, truncate(raw, 256))
	}

	var out RemoteOrder
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("create order: decode: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create order: response has no id")
	}
	out.Raw = raw
	return &out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
