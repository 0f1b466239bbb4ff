package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	paymentdomain "github.com/smallbiznis/stitchery/internal/payment/domain"
)

const (
	sessionsPath         = "/v1/checkout/sessions"
	eventSessionComplete = "checkout.session.completed"
	defaultTolerance     = 5 * time.Minute
)

// Adapter talks to the Stripe checkout API and verifies its webhooks.
type Adapter struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	currency      string
	tolerance     time.Duration
	clock         clock.Clock
	client        *http.Client
}

func New(cfg config.StripeConfig, clk clock.Clock, client *http.Client) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	tolerance := cfg.WebhookTolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Adapter{
		secretKey:     strings.TrimSpace(cfg.SecretKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       strings.TrimRight(cfg.APIBaseURL, "/"),
		currency:      currency,
		tolerance:     tolerance,
		clock:         clk,
		client:        client,
	}
}

// Provide builds the gateway from application config.
func Provide(cfg config.Config, clk clock.Clock) paymentdomain.Gateway {
	return New(cfg.Stripe, clk, nil)
}

func (a *Adapter) CreateSession(ctx context.Context, req paymentdomain.GatewaySessionRequest) (*paymentdomain.GatewaySession, error) {
	if a.secretKey == "" {
		return nil, paymentdomain.ErrGatewayDisabled
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = a.currency
	}

	userID := req.UserID.String()
	packageID := req.Package.ID.String()
	tokens := strconv.FormatInt(req.Package.Tokens, 10)

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", req.SuccessURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("client_reference_id", userID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", currency)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Package.PriceCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", fmt.Sprintf("%s (%s tokens)", req.Package.Name, tokens))
	form.Set("metadata[user_id]", userID)
	form.Set("metadata[package_id]", packageID)
	form.Set("metadata[tokens]", tokens)

	var session stripeSession
	if err := a.do(ctx, http.MethodPost, sessionsPath, form, &session); err != nil {
		return nil, err
	}
	out := session.toGateway()
	return &out, nil
}

func (a *Adapter) RetrieveSession(ctx context.Context, sessionID string) (*paymentdomain.GatewaySession, error) {
	if a.secretKey == "" {
		return nil, paymentdomain.ErrGatewayDisabled
	}
	var session stripeSession
	if err := a.do(ctx, http.MethodGet, sessionsPath+"/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return nil, err
	}
	out := session.toGateway()
	return &out, nil
}

func (a *Adapter) VerifyWebhook(payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	age := a.clock.Now().Sub(time.Unix(unix, 0))
	if age > a.tolerance || age < -a.tolerance {
		return paymentdomain.ErrInvalidSignature
	}

	expected := sign(a.webhookSecret, timestamp, payload)
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) ParseWebhook(payload []byte) (*paymentdomain.WebhookEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}

	out := &paymentdomain.WebhookEvent{ID: event.ID, Type: strings.TrimSpace(event.Type)}
	if out.Type != eventSessionComplete {
		return out, paymentdomain.ErrEventIgnored
	}

	var session stripeSession
	if err := json.Unmarshal(event.Data.Object, &session); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	out.Session = session.toGateway()
	return out, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.secretKey)
	if form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("stripe request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("stripe read: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr stripeError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("stripe %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("stripe %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("stripe decode: %w", err)
	}
	return nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSession struct {
	ID            string         `json:"id"`
	URL           string         `json:"url"`
	Status        string         `json:"status"`
	PaymentStatus string         `json:"payment_status"`
	AmountTotal   int64          `json:"amount_total"`
	Currency      string         `json:"currency"`
	Metadata      map[string]any `json:"metadata"`
}

type stripeError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (s stripeSession) toGateway() paymentdomain.GatewaySession {
	metadata := make(map[string]string, len(s.Metadata))
	for key := range s.Metadata {
		metadata[key] = readMetadataValue(s.Metadata, key)
	}
	return paymentdomain.GatewaySession{
		ID:            s.ID,
		URL:           s.URL,
		Status:        s.Status,
		PaymentStatus: s.PaymentStatus,
		AmountTotal:   s.AmountTotal,
		Currency:      strings.ToLower(strings.TrimSpace(s.Currency)),
		Metadata:      metadata,
	}
}

func sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	}
	return ""
}
