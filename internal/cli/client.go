package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hipercam/hdriver/internal/models"
)

// daemonClient talks to a running hdriver daemon's control plane.
type daemonClient struct {
	baseURL string
	client  *http.Client
}

func newDaemonClient(addr string) *daemonClient {
	baseURL := strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		if strings.HasPrefix(baseURL, ":") {
			baseURL = "localhost" + baseURL
		}
		baseURL = "http://" + baseURL
	}
	return &daemonClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// post sends a JSON payload and decodes the reply envelope. A NOK reply is
// returned as an error carrying the daemon's message verbatim.
func (c *daemonClient) post(path string, payload any) (*models.Reply, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = strings.NewReader("{}")
	}

	resp, err := c.client.Post(c.baseURL+path, "application/json", body)
	if err != nil {
		return nil, fmt.Errorf("call daemon: %w", err)
	}
	defer resp.Body.Close()

	var reply models.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode daemon reply: %w", err)
	}
	if !reply.OK() {
		return &reply, fmt.Errorf("%s", reply.MessageBuffer)
	}
	return &reply, nil
}

// get fetches a JSON document into out.
func (c *daemonClient) get(path string, out any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("call daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
