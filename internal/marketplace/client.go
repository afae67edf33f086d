package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Client talks to the FunPay connector over its HTTP API. It implements
// Gateway and exposes a long-poll event feed for the Stream.
type Client struct {
	httpc   *http.Client
	baseURL string
	token   string
	timeout time.Duration
}

var _ Gateway = (*Client)(nil)

// ClientConfig configures the connector client.
type ClientConfig struct {
	// BaseURL is the connector's HTTP base, e.g. http://127.0.0.1:6040.
	BaseURL string
	// Token authenticates this bot against the connector.
	Token string
	// Timeout bounds a single non-polling request.
	Timeout time.Duration
}

// NewClient creates a connector client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		// No transport-level timeout: the long-poll endpoint outlives any
		// sane fixed value. Every call bounds itself with a context instead.
		httpc:   &http.Client{},
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		timeout: timeout,
	}
}

// SendMessage posts a chat message on behalf of the bot account.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return errors.Wrap(err, "encode message")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/v1/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return errors.Errorf("send message: connector returned %d", resp.StatusCode)
	}
	return nil
}

// GetOrder looks up the current state of a marketplace order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Errorf("order %q not found", orderID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("get order %q: connector returned %d", orderID, resp.StatusCode)
	}

	var info OrderInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errors.Wrap(err, "decode order")
	}
	return &info, nil
}

// eventsResponse is the body of the long-poll endpoint.
type eventsResponse struct {
	Cursor string  `json:"cursor"`
	Events []Event `json:"events"`
}

// Events long-polls the connector for the next batch of events after cursor.
// It returns the new cursor alongside the batch; an empty batch after the
// wait window is not an error. The request is bounded by wait plus a small
// network margin, not by the client's default timeout.
func (c *Client) Events(ctx context.Context, cursor string, wait time.Duration) ([]Event, string, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	q.Set("wait_ms", strconv.FormatInt(wait.Milliseconds(), 10))

	ctx, cancel := context.WithTimeout(ctx, wait+5*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/v1/events?"+q.Encode(), nil)
	if err != nil {
		return nil, cursor, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, cursor, errors.Errorf("poll events: connector returned %d", resp.StatusCode)
	}

	var body eventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, cursor, errors.Wrap(err, "decode events")
	}
	return body.Events, body.Cursor, nil
}

// Ping verifies the connector is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/v1/ping", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("connector ping: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "connector request")
	}
	return resp, nil
}
