package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderSendsPaiseWithBasicAuth(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_key", user)
		assert.Equal(t, "rzp_secret", pass)

		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_abc","amount":8500,"currency":"INR","receipt":"ORD1","status":"created"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", KeyID: "rzp_key", KeySecret: "rzp_secret"})
	out, err := c.CreateOrder(context.Background(), CreateOrderRequest{
		Amount:  decimal.RequireFromString("85.00"),
		Receipt: "ORD1",
		Notes:   map[string]string{"order_number": "ORD1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "order_abc", out.ID)
	assert.Contains(t, string(out.Raw), `"status":"created"`)

	assert.EqualValues(t, 8500, got["amount"])
	assert.Equal(t, "INR", got["currency"])
	assert.Equal(t, "ORD1", got["receipt"])
	assert.EqualValues(t, 1, got["payment_capture"])
	assert.Equal(t, map[string]any{"order_number": "ORD1"}, got["notes"])
}

func TestCreateOrderNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, KeyID: "k", KeySecret: "s"})
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestCreateOrderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, KeyID: "k", KeySecret: "s", Timeout: 20 * time.Millisecond})
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: decimal.NewFromInt(1)})
	assert.Error(t, err)
}

func TestCreateOrderRequiresCredentials(t *testing.T) {
	c := NewClient(Config{})
	_, err := c.CreateOrder(context.Background(), CreateOrderRequest{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVerifySignature(t *testing.T) {
	msg := PaymentMessage("order_1", "pay_1")
	sig := Sign(msg, "secret")

	assert.True(t, VerifySignature(msg, sig, "secret"))
	assert.False(t, VerifySignature(msg, sig, "other"))
	assert.False(t, VerifySignature(msg, tamper(sig), "secret"))
	assert.False(t, VerifySignature("order_1|pay_2", sig, "secret"))
	assert.False(t, VerifySignature(msg, "", "secret"))
	assert.False(t, VerifySignature(msg, sig, ""))
}

func TestParseWebhookPayment(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{
		"id":"pay_1","order_id":"order_1","amount":8500,"status":"captured","method":"upi",
		"notes":{"order_number":"ORD1","user_id":7}}}}}`)

	ev, err := ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentCaptured, ev.Event)
	assert.True(t, IsPaymentEvent(ev.Event))

	p, err := ev.Payment()
	require.NoError(t, err)
	assert.Equal(t, "pay_1", p.ID)
	assert.Equal(t, "order_1", p.OrderID)
	assert.EqualValues(t, 8500, p.Amount)
	assert.Equal(t, "upi", p.Method)
	assert.Equal(t, map[string]string{"order_number": "ORD1"}, p.Notes)
}

func TestParseWebhookArrayNotesAndMissingEntity(t *testing.T) {
	ev, err := ParseWebhook([]byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_2","notes":[]}}}}`))
	require.NoError(t, err)
	p, err := ev.Payment()
	require.NoError(t, err)
	assert.Empty(t, p.Notes)

	ev, err = ParseWebhook([]byte(`{"event":"refund.created","payload":{}}`))
	require.NoError(t, err)
	assert.False(t, IsPaymentEvent(ev.Event))
	_, err = ev.Payment()
	assert.Error(t, err)

	_, err = ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
}

func tamper(sig string) string {
	last := byte('0')
	if sig[len(sig)-1] == '0' {
		last = '1'
	}
	return sig[:len(sig)-1] + string(last)
}
