// Package tele sends pointing offsets to the telescope control bridge.
package tele

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
)

const defaultTimeout = 10 * time.Second

// Client talks to the telescope offset bridge.
type Client struct {
	BaseURL string
	Client  *http.Client
}

// NewClient constructs a client with defaults applied.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Client:  &http.Client{Timeout: defaultTimeout},
	}
}

type offsetPayload struct {
	RAOff  float64 `json:"raoff"`
	DecOff float64 `json:"decoff"`
}

// SendOffset commands a small pointing adjustment, in the telescope's
// native offset units.
func (c *Client) SendOffset(ctx context.Context, raOff, decOff float64) error {
	baseURL, err := c.baseURL()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(offsetPayload{RAOff: raOff, DecOff: decOff})
	if err != nil {
		return fmt.Errorf("encode offset: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/offset", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build offset request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("send offset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := responseSnippet(resp)
		return fmt.Errorf("offset rejected: %s: %s", resp.Status, snippet)
	}
	return nil
}

func responseSnippet(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) baseURL() (string, error) {
	if c == nil {
		return "", errors.New("telescope client is nil")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		return "", errors.New("telescope base URL is empty")
	}
	return baseURL, nil
}

func (c *Client) httpClient() *http.Client {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: defaultTimeout}
	}
	if c.Client.Timeout <= 0 {
		c.Client.Timeout = defaultTimeout
	}
	return c.Client
}
