// Package pricefeed fetches fiat exchange rates from the CoinGecko public
// API. The rate feeds the operator accounting report only; correctness of
// fulfillment never depends on it.
package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/skobelev/autostars/internal/domain/fulfillment"
)

// DefaultBaseURL is the public CoinGecko API.
const DefaultBaseURL = "https://api.coingecko.com"

// Config configures the price feed client.
type Config struct {
	// BaseURL overrides DefaultBaseURL, mainly for tests.
	BaseURL string
	// CoinID is the CoinGecko coin identifier, e.g. "the-open-network".
	CoinID string
	// Currency is the fiat quote currency, e.g. "rub".
	Currency string
	// Timeout bounds a single lookup.
	Timeout time.Duration
}

// Client looks up the configured coin's fiat rate.
type Client struct {
	httpc    *http.Client
	baseURL  string
	coinID   string
	currency string
}

var _ fulfillment.RateSource = (*Client)(nil)

// NewClient creates a price feed client.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	coinID := cfg.CoinID
	if coinID == "" {
		coinID = "the-open-network"
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "rub"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpc:    &http.Client{Timeout: timeout},
		baseURL:  baseURL,
		coinID:   coinID,
		currency: currency,
	}
}

// Rate returns the current fiat price of one coin unit.
func (c *Client) Rate(ctx context.Context) (decimal.Decimal, error) {
	q := url.Values{
		"ids":           {c.coinID},
		"vs_currencies": {c.currency},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v3/simple/price?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "build request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "price request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, errors.Errorf("price feed: status %d", resp.StatusCode)
	}

	// {"the-open-network":{"rub":123.45}}
	var body map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, errors.Wrap(err, "decode price response")
	}

	rate, ok := body[c.coinID][c.currency]
	if !ok || rate.IsZero() {
		return decimal.Zero, errors.Errorf("price feed: no %s/%s rate in response", c.coinID, c.currency)
	}
	return rate, nil
}
