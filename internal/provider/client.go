package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// TextToImage is the metered external provider. One call is one billable
// generation attempt; retries belong to the caller, not the client.
type TextToImage interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Config holds image provider configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// GetConfig returns provider configuration with defaults
func GetConfig() *Config {
	viper.SetDefault("provider.base_url", "https://clipdrop-api.co/text-to-image/v1")
	viper.SetDefault("provider.timeout", 60*time.Second)

	return &Config{
		BaseURL: viper.GetString("provider.base_url"),
		APIKey:  viper.GetString("provider.api_key"),
		Timeout: viper.GetDuration("provider.timeout"),
	}
}

// Client calls a ClipDrop-style text-to-image HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(config *Config) *Client {
	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		http:    &http.Client{Timeout: config.Timeout},
	}
}

// Generate renders a prompt into raw PNG bytes. A cancelled or timed-out
// context is reported as a plain error; the caller must not assume the
// provider completed the generation.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	if err := form.WriteField("prompt", prompt); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(data, 256))
	}

	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
