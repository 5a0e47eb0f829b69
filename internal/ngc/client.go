// Package ngc talks to the NGC instrument control bridge over HTTP.
//
// Every command is a blocking round-trip returning the control system's
// message buffer and an OK/NOK return code. There are no retries here; the
// callers decide what a failed command means.
package ngc

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

	"github.com/hipercam/hdriver/internal/models"
)

const defaultTimeout = 10 * time.Second

// ErrUnreachable wraps transport-level failures so callers can tell "could
// not reach the control system" apart from a hardware NOK.
var ErrUnreachable = errors.New("control system unreachable")

// Client dispatches commands to the NGC bridge.
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

// Dispatch sends one command and decodes the reply envelope. A reply is
// returned whenever the round-trip completed, NOK included; the error is
// non-nil only when the command never produced an envelope.
func (c *Client) Dispatch(ctx context.Context, cmd models.Command) (*models.Reply, error) {
	baseURL, err := c.baseURL()
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/command", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, cmd.String(), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read reply for %q: %w", cmd.String(), err)
	}

	var reply models.Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("decode reply for %q: %w", cmd.String(), err)
	}
	if reply.RetCode != models.StatusOK && reply.RetCode != models.StatusNOK {
		return nil, fmt.Errorf("malformed reply for %q: return code %q", cmd.String(), reply.RetCode)
	}

	return &reply, nil
}

// SeqStop stops the exposure sequencer.
func (c *Client) SeqStop(ctx context.Context) (*models.Reply, error) {
	return c.Dispatch(ctx, models.Command{Name: "seq", Params: []string{"stop"}})
}

// SeqStart starts the exposure sequencer.
func (c *Client) SeqStart(ctx context.Context) (*models.Reply, error) {
	return c.Dispatch(ctx, models.Command{Name: "seq", Params: []string{"start"}})
}

// SeqTrigger resumes a paused exposure sequencer.
func (c *Client) SeqTrigger(ctx context.Context) (*models.Reply, error) {
	return c.Dispatch(ctx, models.Command{Name: "seq", Params: []string{"trigger"}})
}

func (c *Client) baseURL() (string, error) {
	if c == nil {
		return "", errors.New("ngc client is nil")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if baseURL == "" {
		return "", errors.New("ngc base URL is empty")
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
