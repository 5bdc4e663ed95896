package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/scholarstream/mailrelay/internal/models"
)

const (
	clientIdentifier  = "mailrelay/1.0"
	maxErrorBodyBytes = 4096
)

// Error is a failed relay attempt: a non-2xx response or a transport
// failure. The response body (or exception text) travels with it into the
// ledger.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return "relay transport failure: " + e.Body
	}
	return fmt.Sprintf("webhook returned %d: %s", e.StatusCode, e.Body)
}

// Client posts normalized envelopes to the configured webhook.
type Client struct {
	httpClient *http.Client
	url        string
}

func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        url,
	}
}

// Send posts the envelope once. There are no retries here: re-delivery is
// an explicit external re-invocation, and the ledger stays the single
// source of truth for what was tried.
func (c *Client) Send(ctx context.Context, envelope *models.Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", clientIdentifier)
	req.Header.Set("X-Relay-Client", "mailrelay")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &Error{StatusCode: resp.StatusCode, Body: string(respBody)}
}
