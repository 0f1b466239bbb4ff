package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/apperror"
	"gorm.io/gorm"
)

type Service interface {
	ListPackages(ctx context.Context, includeInactive bool) ([]TokenPackage, error)
	GetPackage(ctx context.Context, id snowflake.ID) (*TokenPackage, error)
	CreatePackage(ctx context.Context, req PackageRequest) (*TokenPackage, error)
	UpdatePackage(ctx context.Context, id snowflake.ID, req PackageUpdate) (*TokenPackage, error)

	CreateCheckoutSession(ctx context.Context, userID snowflake.ID, req CheckoutSessionRequest) (*CheckoutSession, error)
	ConfirmPayment(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error)
	HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (*WebhookResult, error)
	Verify(ctx context.Context, userID snowflake.ID, sessionID string) (*ConfirmResult, error)
}

// Gateway is the external checkout provider.
type Gateway interface {
	CreateSession(ctx context.Context, req GatewaySessionRequest) (*GatewaySession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*GatewaySession, error)
	VerifyWebhook(payload []byte, headers http.Header) error
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

type Repository interface {
	InsertPackage(ctx context.Context, db *gorm.DB, pkg *TokenPackage) error
	UpdatePackage(ctx context.Context, db *gorm.DB, pkg *TokenPackage) error
	FindPackage(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TokenPackage, error)
	FindPackageByName(ctx context.Context, db *gorm.DB, name string) (*TokenPackage, error)
	ListPackages(ctx context.Context, db *gorm.DB, includeInactive bool) ([]TokenPackage, error)

	InsertSession(ctx context.Context, db *gorm.DB, session *CheckoutSession) error
	FindSession(ctx context.Context, db *gorm.DB, sessionID string) (*CheckoutSession, error)
	CompleteSession(ctx context.Context, db *gorm.DB, sessionID string, at time.Time) error

	// InsertConfirmation reports false when the session was confirmed before.
	InsertConfirmation(ctx context.Context, db *gorm.DB, confirmation *Confirmation) (bool, error)
	FindConfirmation(ctx context.Context, db *gorm.DB, sessionID string) (*Confirmation, error)
	SetConfirmationTransaction(ctx context.Context, db *gorm.DB, id, transactionID snowflake.ID) error
}

type PackageRequest struct {
	Name              string   `json:"name"`
	Tokens            int64    `json:"tokens"`
	PriceCents        int64    `json:"price_cents"`
	SavingsPercentage int      `json:"savings_percentage"`
	IsPopular         bool     `json:"is_popular"`
	Features          []string `json:"features"`
	SortOrder         int      `json:"sort_order"`
	IsActive          *bool    `json:"is_active"`
}

type PackageUpdate struct {
	Name              *string   `json:"name"`
	Tokens            *int64    `json:"tokens"`
	PriceCents        *int64    `json:"price_cents"`
	SavingsPercentage *int      `json:"savings_percentage"`
	IsPopular         *bool     `json:"is_popular"`
	Features          *[]string `json:"features"`
	SortOrder         *int      `json:"sort_order"`
	IsActive          *bool     `json:"is_active"`
}

type CheckoutSessionRequest struct {
	PackageID  snowflake.ID `json:"package_id"`
	SuccessURL string       `json:"success_url"`
	CancelURL  string       `json:"cancel_url"`
}

type GatewaySessionRequest struct {
	UserID     snowflake.ID
	Package    TokenPackage
	Currency   string
	SuccessURL string
	CancelURL  string
}

// ConfirmRequest is the payment-succeeded signal shared by the webhook and poll paths.
type ConfirmRequest struct {
	SessionID       string
	UserID          snowflake.ID
	PackageID       snowflake.ID
	Tokens          int64
	AmountPaidCents int64
	Source          Source
}

type ConfirmResult struct {
	Confirmation Confirmation `json:"confirmation"`
	Balance      int64        `json:"balance"`
	// Duplicate is set when the session was already credited.
	Duplicate bool `json:"duplicate"`
}

type WebhookResult struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Ignored   bool           `json:"ignored"`
	Result    *ConfirmResult `json:"result,omitempty"`
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrEventIgnored     = errors.New("event_ignored")
)

var (
	ErrPackageNotFound   = apperror.New(apperror.ErrNotFound, "package_not_found")
	ErrPackageInactive   = apperror.New(apperror.ErrInvalidState, "package_inactive")
	ErrPackageNameTaken  = apperror.New(apperror.ErrInvalidState, "package_name_taken")
	ErrInvalidName       = apperror.Validation("name", "invalid_name")
	ErrInvalidTokens     = apperror.Validation("tokens", "invalid_tokens")
	ErrInvalidPrice      = apperror.Validation("price_cents", "invalid_price")
	ErrInvalidSavings    = apperror.Validation("savings_percentage", "invalid_savings_percentage")
	ErrInvalidSession    = apperror.Validation("session_id", "invalid_session_id")
	ErrInvalidUser       = apperror.Validation("user_id", "invalid_user_id")
	ErrSessionNotFound   = apperror.New(apperror.ErrNotFound, "session_not_found")
	ErrSessionMismatch   = apperror.New(apperror.ErrNotFound, "session_not_owned")
	ErrPaymentIncomplete = apperror.New(apperror.ErrInvalidState, "payment_not_completed")
	ErrGatewayDisabled   = apperror.New(apperror.ErrInvalidState, "payment_gateway_not_configured")
	ErrWebhookSignature  = apperror.Validation("stripe-signature", "invalid_signature")
	ErrWebhookPayload    = apperror.Validation("payload", "invalid_payload")
)
