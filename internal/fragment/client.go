// Package fragment is the client for the Fragment purchase API: recipient
// search, purchase initiation, and the payment descriptor for a purchase
// request. The API is an authenticated form-POST endpoint returning JSON.
package fragment

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/skobelev/autostars/internal/domain/fulfillment"
	"github.com/skobelev/autostars/pkg/ratelimit"
)

// DefaultAPIURL is the production Fragment API endpoint.
const DefaultAPIURL = "https://fragment.com/api"

// ErrRecipientNotFound means the handle does not resolve to an account that
// can receive stars.
var ErrRecipientNotFound = errors.New("fragment: recipient not found")

// APIError is an error message returned in the response body.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "fragment: " + e.Message
}

// Config configures the Fragment client.
type Config struct {
	// APIURL overrides DefaultAPIURL, mainly for tests.
	APIURL string
	// Hash is the per-session API hash appended to every request URL.
	Hash string
	// Cookies are the stel_* session cookies Fragment authenticates with.
	Cookies map[string]string
	// Timeout bounds a single API call.
	Timeout time.Duration
	// ShowSender controls whether the paying account is visible to the
	// recipient.
	ShowSender bool
}

// Client calls the Fragment API. Safe for concurrent use.
type Client struct {
	httpc      *http.Client
	apiURL     string
	cookies    map[string]string
	showSender bool
	limiter    *ratelimit.Limiter
	log        *zap.Logger
}

var _ fulfillment.Vendor = (*Client)(nil)

// NewClient creates a Fragment client. The limiter paces all outgoing calls
// and may be nil to disable pacing.
func NewClient(cfg Config, limiter *ratelimit.Limiter, lg *zap.Logger) *Client {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Client{
		httpc:      &http.Client{Timeout: timeout},
		apiURL:     apiURL + "?hash=" + url.QueryEscape(cfg.Hash),
		cookies:    cfg.Cookies,
		showSender: cfg.ShowSender,
		limiter:    limiter,
		log:        lg.Named("fragment"),
	}
}

// SearchRecipient resolves a Telegram handle to Fragment's internal
// recipient identifier. Returns ErrRecipientNotFound when the handle does
// not match an eligible account.
func (c *Client) SearchRecipient(ctx context.Context, handle string) (string, error) {
	body, err := c.post(ctx, url.Values{
		"query":    {handle},
		"quantity": {""},
		"method":   {"searchStarsRecipient"},
	})
	if err != nil {
		return "", err
	}

	var recipient string
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "found":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key == "recipient" {
					v, err := d.Str()
					recipient = v
					return err
				}
				return d.Skip()
			})
		case "error":
			msg, err := d.Str()
			if err != nil {
				return err
			}
			return &APIError{Message: msg}
		default:
			return d.Skip()
		}
	}); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", apiErr
		}
		return "", errors.Wrap(err, "decode search response")
	}

	if recipient == "" {
		return "", ErrRecipientNotFound
	}
	return recipient, nil
}

// InitPurchase starts a stars purchase for (recipient, quantity) and returns
// the request identifier needed to fetch the payment descriptor.
func (c *Client) InitPurchase(ctx context.Context, recipient string, quantity int) (string, error) {
	body, err := c.post(ctx, url.Values{
		"recipient": {recipient},
		"quantity":  {strconv.Itoa(quantity)},
		"method":    {"initBuyStarsRequest"},
	})
	if err != nil {
		return "", err
	}

	var reqID string
	d := jx.DecodeBytes(body)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "req_id":
			v, err := d.Str()
			reqID = v
			return err
		case "error":
			msg, err := d.Str()
			if err != nil {
				return err
			}
			return &APIError{Message: msg}
		default:
			return d.Skip()
		}
	}); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", apiErr
		}
		return "", errors.Wrap(err, "decode init response")
	}
	return reqID, nil
}

// PaymentInvoice fetches the payable transaction for a purchase request: the
// first transfer message's destination, nanoton amount, and opaque payload.
func (c *Client) PaymentInvoice(ctx context.Context, reqID string) (*fulfillment.Invoice, error) {
	showSender := "0"
	if c.showSender {
		showSender = "1"
	}
	body, err := c.post(ctx, url.Values{
		"transaction": {"1"},
		"id":          {reqID},
		"show_sender": {showSender},
		"method":      {"getBuyStarsLink"},
	})
	if err != nil {
		return nil, err
	}

	inv, err := parseInvoice(body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, errors.Wrap(err, "decode payment link response")
	}
	if inv == nil {
		return nil, errors.New("fragment: response has no transaction message")
	}
	return inv, nil
}

// parseInvoice pulls transaction.messages[0] out of the response body.
func parseInvoice(body []byte) (*fulfillment.Invoice, error) {
	var inv *fulfillment.Invoice
	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "transaction":
			return d.Obj(func(d *jx.Decoder, key string) error {
				if key != "messages" {
					return d.Skip()
				}
				return d.Arr(func(d *jx.Decoder) error {
					if inv != nil {
						return d.Skip()
					}
					parsed := &fulfillment.Invoice{}
					if err := d.Obj(func(d *jx.Decoder, key string) error {
						switch key {
						case "address":
							v, err := d.Str()
							parsed.Address = v
							return err
						case "amount":
							n, err := decodeAmount(d)
							parsed.AmountNano = n
							return err
						case "payload":
							v, err := d.Str()
							parsed.Payload = v
							return err
						default:
							return d.Skip()
						}
					}); err != nil {
						return err
					}
					inv = parsed
					return nil
				})
			})
		case "error":
			msg, err := d.Str()
			if err != nil {
				return err
			}
			return &APIError{Message: msg}
		default:
			return d.Skip()
		}
	})
	return inv, err
}

// decodeAmount accepts the nanoton amount as either a JSON number or a
// numeric string; Fragment has used both over time.
func decodeAmount(d *jx.Decoder) (int64, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	}
	return d.Int64()
}

// post sends one form-encoded API call and returns the raw response body.
func (c *Client) post(ctx context.Context, form url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for name, value := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fragment request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fragment: status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	c.log.Debug("API call",
		zap.String("method", form.Get("method")),
		zap.Int("status", resp.StatusCode))
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
