package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/stitchery/internal/apperror"
	"github.com/smallbiznis/stitchery/internal/auth"
	"github.com/smallbiznis/stitchery/internal/authorization"
	"github.com/smallbiznis/stitchery/internal/config"
	customerdomain "github.com/smallbiznis/stitchery/internal/customer/domain"
	designdomain "github.com/smallbiznis/stitchery/internal/design/domain"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	"github.com/smallbiznis/stitchery/internal/observability"
	obsmetrics "github.com/smallbiznis/stitchery/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/stitchery/internal/order/domain"
	paymentdomain "github.com/smallbiznis/stitchery/internal/payment/domain"
	pricetierdomain "github.com/smallbiznis/stitchery/internal/pricetier/domain"
	"github.com/smallbiznis/stitchery/internal/testutil"
)

const testSecret = "test-secret"

type fakePricing struct {
	pricetierdomain.Service
	tiers []pricetierdomain.Response
}

func (f *fakePricing) List(context.Context) ([]pricetierdomain.Response, error) {
	return f.tiers, nil
}

func (f *fakePricing) Quote(_ context.Context, size float64) (*pricetierdomain.Quote, error) {
	if size <= 0 {
		return nil, pricetierdomain.ErrInvalidSize
	}
	return &pricetierdomain.Quote{SizeCM: size, Price: 17}, nil
}

type fakeLedger struct {
	ledgerdomain.Service
	balance int64
}

func (f *fakeLedger) Balance(context.Context, snowflake.ID) (int64, error) {
	return f.balance, nil
}

type fakeDesigns struct {
	designdomain.Service
	generateErr error
}

func (f *fakeDesigns) Generate(context.Context, snowflake.ID, designdomain.GenerateRequest) (*designdomain.GenerateResult, error) {
	return nil, f.generateErr
}

func (f *fakeDesigns) Get(context.Context, snowflake.ID, snowflake.ID) (*designdomain.Design, error) {
	return nil, designdomain.ErrNotFound
}

type fakeOrders struct {
	orderdomain.Service
}

func (f *fakeOrders) Retry(context.Context, snowflake.ID, snowflake.ID) (*orderdomain.Order, error) {
	return nil, orderdomain.ErrInvalidTransition
}

type fakeCustomers struct {
	customerdomain.Service
	activated []customerdomain.ActivateRequest
}

func (f *fakeCustomers) Activate(_ context.Context, req customerdomain.ActivateRequest) (*customerdomain.ActivateResult, error) {
	f.activated = append(f.activated, req)
	return &customerdomain.ActivateResult{
		Customer:     customerdomain.Customer{UserID: req.UserID, Email: req.Email},
		BonusGranted: true,
		Balance:      10,
	}, nil
}

type fakePayments struct {
	paymentdomain.Service
	webhookErr error
	payloads   [][]byte
}

func (f *fakePayments) HandleWebhook(_ context.Context, payload []byte, _ http.Header) (*paymentdomain.WebhookResult, error) {
	f.payloads = append(f.payloads, payload)
	if f.webhookErr != nil {
		return nil, f.webhookErr
	}
	return &paymentdomain.WebhookResult{EventID: "evt_1", EventType: "customer.created", Ignored: true}, nil
}

type fixture struct {
	engine    *gin.Engine
	verifier  *auth.Verifier
	designs   *fakeDesigns
	customers *fakeCustomers
	payments  *fakePayments
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := auth.NewVerifier(testSecret)
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer(testutil.NewDB(t))
	require.NoError(t, err)

	engine := NewEngine(observability.Config{}, config.Config{}, obsmetrics.NewHTTPMetricsWith(prometheus.NewRegistry()))
	f := &fixture{
		engine:    engine,
		verifier:  verifier,
		designs:   &fakeDesigns{},
		customers: &fakeCustomers{},
		payments:  &fakePayments{},
	}

	pricing := &fakePricing{tiers: []pricetierdomain.Response{
		{ID: "1", SizeCM: 5, Price: 10},
		{ID: "2", SizeCM: 10, Price: 14},
	}}

	NewServer(ServerParams{
		Gin:         engine,
		Cfg:         config.Config{},
		Log:         zap.NewNop(),
		Verifier:    verifier,
		AuthzSvc:    authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		LedgerSvc:   &fakeLedger{balance: 42},
		CustomerSvc: f.customers,
		PricingSvc:  pricing,
		DesignSvc:   f.designs,
		OrderSvc:    &fakeOrders{},
		PaymentSvc:  f.payments,
	})
	return f
}

func (f *fixture) token(t *testing.T, role string) string {
	t.Helper()
	token, err := f.verifier.Issue(auth.Identity{UserID: snowflake.ID(1001), Email: "a@example.com", Role: role}, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPublicPricingTiers(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/pricing/tiers", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []pricetierdomain.Response `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, 5, resp.Data[0].SizeCM)
}

func TestQuoteRejectsBadSize(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/pricing/quote?size=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_size", decodeError(t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/pricing/quote?size=15", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCustomerRoutesRequireToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/me/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/me/balance", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/me/balance", f.token(t, auth.RoleCustomer), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"user_id":"1001","balance":42}}`, rec.Body.String())
}

func TestAdminRoutesEnforcePolicy(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/admin/pricing/tiers", f.token(t, auth.RoleCustomer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/pricing/tiers", f.token(t, auth.RoleService), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/admin/pricing/tiers", f.token(t, auth.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestActivateRequiresStaff(t *testing.T) {
	f := newFixture(t)
	body := `{"user_id":"77","email":"new@example.com","name":"New"}`

	rec := f.do(t, http.MethodPost, "/api/customers/activate", f.token(t, auth.RoleCustomer), strings.NewReader(body))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.customers.activated)

	rec = f.do(t, http.MethodPost, "/api/customers/activate", f.token(t, auth.RoleService), strings.NewReader(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.customers.activated, 1)
	assert.Equal(t, snowflake.ID(77), f.customers.activated[0].UserID)
}

func TestDomainErrorMapping(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.RoleCustomer)

	f.designs.generateErr = apperror.InsufficientFunds(5, 2)
	rec := f.do(t, http.MethodPost, "/api/designs/generate", token, strings.NewReader(`{"name":"Logo","prompt":"fox","size_cm":10}`))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "insufficient_funds", payload.Type)
	assert.EqualValues(t, 5, payload.Details["required"])
	assert.EqualValues(t, 2, payload.Details["available"])

	rec = f.do(t, http.MethodPost, "/api/orders/12/retry", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decodeError(t, rec).Code)

	rec = f.do(t, http.MethodGet, "/api/designs/12", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/designs/nope", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/designs/generate", token, strings.NewReader(`{`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Code)
}

func TestStripeWebhook(t *testing.T) {
	f := newFixture(t)
	raw := []byte(`{"id":"evt_1","type":"customer.created"}`)

	rec := f.do(t, http.MethodPost, "/api/payments/webhook", "", bytes.NewReader(raw))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"ignored":true}`, rec.Body.String())
	require.Len(t, f.payments.payloads, 1)
	assert.Equal(t, raw, f.payments.payloads[0])

	f.payments.webhookErr = paymentdomain.ErrInvalidSignature
	rec = f.do(t, http.MethodPost, "/api/payments/webhook", "", bytes.NewReader(raw))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_signature", decodeError(t, rec).Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/nothing-here", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestMapErrorFallsBackToInternal(t *testing.T) {
	status, payload := mapError(io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Type)
}
