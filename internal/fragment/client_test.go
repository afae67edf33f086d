package fragment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient spins up a stub Fragment API returning the given responses
// per method name.
func newTestClient(t *testing.T, responses map[string]string) (*Client, *[]string) {
	t.Helper()

	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		method := r.PostForm.Get("method")
		methods = append(methods, method)

		assert.Equal(t, "test-hash", r.URL.Query().Get("hash"))
		if cookie, err := r.Cookie("stel_token"); assert.NoError(t, err) {
			assert.Equal(t, "tok", cookie.Value)
		}

		body, ok := responses[method]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		APIURL:  srv.URL,
		Hash:    "test-hash",
		Cookies: map[string]string{"stel_token": "tok"},
		Timeout: 2 * time.Second,
	}, nil, nil)
	return c, &methods
}

func TestSearchRecipient_Found(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"searchStarsRecipient": `{"found":{"recipient":"rec-123","name":"Bob"}}`,
	})

	rec, err := c.SearchRecipient(context.Background(), "@bob")
	require.NoError(t, err)
	assert.Equal(t, "rec-123", rec)
}

func TestSearchRecipient_NotFound(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"searchStarsRecipient": `{"found":null}`,
	})

	_, err := c.SearchRecipient(context.Background(), "@nobody")
	assert.ErrorIs(t, err, ErrRecipientNotFound)
}

func TestSearchRecipient_APIError(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"searchStarsRecipient": `{"error":"No Telegram users found."}`,
	})

	_, err := c.SearchRecipient(context.Background(), "@bob")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "No Telegram users found.", apiErr.Message)
}

func TestInitPurchase(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"initBuyStarsRequest": `{"req_id":"req-42","amount":"500000000"}`,
	})

	reqID, err := c.InitPurchase(context.Background(), "rec-123", 100)
	require.NoError(t, err)
	assert.Equal(t, "req-42", reqID)
}

func TestInitPurchase_EmptyReqID(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"initBuyStarsRequest": `{"ok":true}`,
	})

	reqID, err := c.InitPurchase(context.Background(), "rec-123", 100)
	require.NoError(t, err)
	assert.Empty(t, reqID)
}

func TestPaymentInvoice(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"getBuyStarsLink": `{"transaction":{"messages":[
			{"address":"EQdest","amount":500000000,"payload":"te6cc"}
		]}}`,
	})

	inv, err := c.PaymentInvoice(context.Background(), "req-42")
	require.NoError(t, err)
	assert.Equal(t, "EQdest", inv.Address)
	assert.Equal(t, int64(500_000_000), inv.AmountNano)
	assert.Equal(t, "te6cc", inv.Payload)
}

func TestPaymentInvoice_StringAmount(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"getBuyStarsLink": `{"transaction":{"messages":[
			{"address":"EQdest","amount":"1500000000","payload":""}
		]}}`,
	})

	inv, err := c.PaymentInvoice(context.Background(), "req-42")
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000_000), inv.AmountNano)
}

func TestPaymentInvoice_NoMessages(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"getBuyStarsLink": `{"transaction":{"messages":[]}}`,
	})

	_, err := c.PaymentInvoice(context.Background(), "req-42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction message")
}

func TestPaymentInvoice_OnlyFirstMessageUsed(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{
		"getBuyStarsLink": `{"transaction":{"messages":[
			{"address":"EQfirst","amount":1,"payload":""},
			{"address":"EQsecond","amount":2,"payload":""}
		]}}`,
	})

	inv, err := c.PaymentInvoice(context.Background(), "req-42")
	require.NoError(t, err)
	assert.Equal(t, "EQfirst", inv.Address)
}

func TestClient_HTTPError(t *testing.T) {
	c, _ := newTestClient(t, map[string]string{})

	_, err := c.SearchRecipient(context.Background(), "@bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
