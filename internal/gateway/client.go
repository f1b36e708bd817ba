package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// ErrOrderNotFound is returned when the gateway has no record of the
// requested order reference.
var ErrOrderNotFound = errors.New("gateway has no record of order")

// StatusPaid is the only gateway order status that settles a transaction.
const StatusPaid = "paid"

// Order is the gateway's view of a payable order. Receipt carries our
// transaction ID back to us on fetch.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`   // minor currency units
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// OrdersAPI is the payment gateway surface the billing service depends on.
type OrdersAPI interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Order, error)
	FetchOrder(ctx context.Context, orderRef string) (*Order, error)
}

// Config holds payment gateway configuration
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Currency  string
	Timeout   time.Duration
}

// GetConfig returns gateway configuration with defaults
func GetConfig() *Config {
	viper.SetDefault("gateway.base_url", "https://api.razorpay.com")
	viper.SetDefault("gateway.currency", "INR")
	viper.SetDefault("gateway.timeout", 30*time.Second)

	return &Config{
		BaseURL:   viper.GetString("gateway.base_url"),
		KeyID:     viper.GetString("gateway.key_id"),
		KeySecret: viper.GetString("gateway.key_secret"),
		Currency:  viper.GetString("gateway.currency"),
		Timeout:   viper.GetDuration("gateway.timeout"),
	}
}

// Client talks to a Razorpay-style orders API over basic auth. Construct one
// at startup and inject it; the client itself keeps no mutable state.
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

func NewClient(config *Config) *Client {
	return &Client{
		baseURL:   config.BaseURL,
		keyID:     config.KeyID,
		keySecret: config.KeySecret,
		http:      &http.Client{Timeout: config.Timeout},
	}
}

// CreateOrder registers a payable order with the gateway. Receipt is our
// transaction ID and doubles as the idempotency key on reconciliation.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Order, error) {
	payload, err := json.Marshal(map[string]any{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	return c.do(req)
}

// FetchOrder retrieves the authoritative status of an order.
func (c *Client) FetchOrder(ctx context.Context, orderRef string) (*Order, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/orders/"+orderRef, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Order, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrOrderNotFound
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}

	return &order, nil
}
