package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	paymentdomain "github.com/smallbiznis/stitchery/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	adapter := New(config.StripeConfig{WebhookSecret: secret}, clock.NewFakeClock(now), nil)
	payload := []byte(`{"id":"evt_123","type":"checkout.session.completed","data":{"object":{}}}`)

	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, now.Unix()))
	require.NoError(t, adapter.VerifyWebhook(payload, reqHeader))

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong", payload, now.Unix()))
	assert.ErrorIs(t, adapter.VerifyWebhook(payload, reqHeader), paymentdomain.ErrInvalidSignature)

	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(secret, payload, now.Add(-10*time.Minute).Unix()))
	assert.ErrorIs(t, adapter.VerifyWebhook(payload, reqHeader), paymentdomain.ErrInvalidSignature)

	reqHeader.Del("Stripe-Signature")
	assert.ErrorIs(t, adapter.VerifyWebhook(payload, reqHeader), paymentdomain.ErrInvalidSignature)
}

func TestVerifyWithoutSecretRejects(t *testing.T) {
	adapter := New(config.StripeConfig{}, nil, nil)
	payload := []byte(`{}`)
	header := http.Header{}
	header.Set("Stripe-Signature", buildStripeSignatureHeader("", payload, time.Now().Unix()))
	assert.ErrorIs(t, adapter.VerifyWebhook(payload, header), paymentdomain.ErrInvalidSignature)
}

func TestParseCheckoutCompleted(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()
	packageID := node.Generate()

	payload, err := json.Marshal(map[string]any{
		"id":   "evt_1",
		"type": "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test_1",
				"payment_status": "paid",
				"status":         "complete",
				"amount_total":   999,
				"currency":       "USD",
				"metadata": map[string]any{
					"user_id":    userID.String(),
					"package_id": packageID.String(),
					"tokens":     "100",
				},
			},
		},
	})
	require.NoError(t, err)

	event, err := New(config.StripeConfig{}, nil, nil).ParseWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, "cs_test_1", event.Session.ID)
	assert.True(t, event.Session.Paid())
	assert.Equal(t, int64(999), event.Session.AmountTotal)
	assert.Equal(t, "usd", event.Session.Currency)
	assert.Equal(t, userID.String(), event.Session.Metadata["user_id"])
	assert.Equal(t, packageID.String(), event.Session.Metadata["package_id"])
	assert.Equal(t, "100", event.Session.Metadata["tokens"])
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	adapter := New(config.StripeConfig{}, nil, nil)

	event, err := adapter.ParseWebhook([]byte(`{"id":"evt_2","type":"charge.refunded","data":{"object":{}}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)
	require.NotNil(t, event)
	assert.Equal(t, "charge.refunded", event.Type)

	_, err = adapter.ParseWebhook([]byte(`not-json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)
}

func TestCreateSessionPostsForm(t *testing.T) {
	var captured *http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		captured = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_new","url":"https://checkout.example/cs_new","status":"open","payment_status":"unpaid","amount_total":2500,"currency":"usd","metadata":{"tokens":"300"}}`))
	}))
	defer server.Close()

	adapter := New(config.StripeConfig{SecretKey: "sk_test", APIBaseURL: server.URL}, nil, server.Client())
	pkg := paymentdomain.NewTokenPackage(7, "Creator", 300, 2500, time.Now())

	session, err := adapter.CreateSession(context.Background(), paymentdomain.GatewaySessionRequest{
		UserID:     42,
		Package:    pkg,
		SuccessURL: "https://app/success",
		CancelURL:  "https://app/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_new", session.ID)
	assert.Equal(t, "https://checkout.example/cs_new", session.URL)
	assert.False(t, session.Paid())

	require.NotNil(t, captured)
	assert.Equal(t, "/v1/checkout/sessions", captured.URL.Path)
	assert.Equal(t, "Bearer sk_test", captured.Header.Get("Authorization"))
	assert.Equal(t, "payment", captured.PostForm.Get("mode"))
	assert.Equal(t, "2500", captured.PostForm.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "usd", captured.PostForm.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "42", captured.PostForm.Get("metadata[user_id]"))
	assert.Equal(t, "7", captured.PostForm.Get("metadata[package_id]"))
	assert.Equal(t, "300", captured.PostForm.Get("metadata[tokens]"))
}

func TestRetrieveSessionSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"No such checkout.session","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	adapter := New(config.StripeConfig{SecretKey: "sk_test", APIBaseURL: server.URL}, nil, server.Client())
	_, err := adapter.RetrieveSession(context.Background(), "cs_missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such checkout.session")
}

func TestGatewayDisabledWithoutKey(t *testing.T) {
	adapter := New(config.StripeConfig{}, nil, nil)
	_, err := adapter.RetrieveSession(context.Background(), "cs_1")
	assert.True(t, errors.Is(err, paymentdomain.ErrGatewayDisabled))
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	ts := fmt.Sprintf("%d", timestamp)
	return fmt.Sprintf("t=%s,v1=%s", ts, sign(secret, ts, payload))
}
