package domain

import (
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// Source names the path that observed a successful payment.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceVerify  Source = "verify"
)

// TokenPackage is a purchasable bundle of tokens.
type TokenPackage struct {
	ID                 snowflake.ID                `gorm:"primaryKey" json:"id"`
	Name               string                      `gorm:"type:text;not null" json:"name"`
	Tokens             int64                       `gorm:"not null" json:"tokens"`
	PriceCents         int64                       `gorm:"not null" json:"price_cents"`
	PricePerTokenCents float64                     `gorm:"not null" json:"price_per_token_cents"`
	SavingsPercentage  int                         `gorm:"not null" json:"savings_percentage"`
	IsPopular          bool                        `gorm:"not null" json:"is_popular"`
	IsActive           bool                        `gorm:"not null" json:"is_active"`
	Features           datatypes.JSONSlice[string] `json:"features"`
	SortOrder          int                         `gorm:"not null" json:"sort_order"`
	CreatedAt          time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time                   `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (TokenPackage) TableName() string { return "token_packages" }

// NewTokenPackage builds a package with its derived per-token price filled in.
func NewTokenPackage(id snowflake.ID, name string, tokens, priceCents int64, now time.Time) TokenPackage {
	pkg := TokenPackage{
		ID:         id,
		Name:       strings.TrimSpace(name),
		Tokens:     tokens,
		PriceCents: priceCents,
		IsActive:   true,
		Features:   datatypes.JSONSlice[string]{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	pkg.Derive()
	return pkg
}

// Derive recomputes PricePerTokenCents from the price and token count.
func (p *TokenPackage) Derive() {
	if p.Tokens <= 0 {
		p.PricePerTokenCents = 0
		return
	}
	p.PricePerTokenCents = math.Round(float64(p.PriceCents)/float64(p.Tokens)*100) / 100
}

// CheckoutSession mirrors a gateway session created for a package purchase.
type CheckoutSession struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	SessionID   string        `gorm:"type:text;not null;uniqueIndex" json:"session_id"`
	UserID      snowflake.ID  `gorm:"not null" json:"user_id"`
	PackageID   snowflake.ID  `gorm:"not null" json:"package_id"`
	Tokens      int64         `gorm:"not null" json:"tokens"`
	AmountCents int64         `gorm:"not null" json:"amount_cents"`
	Currency    string        `gorm:"type:text;not null" json:"currency"`
	Status      SessionStatus `gorm:"type:text;not null" json:"status"`
	URL         string        `gorm:"type:text;not null" json:"url"`
	CreatedAt   time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"not null" json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// TableName sets the database table name.
func (CheckoutSession) TableName() string { return "checkout_sessions" }

// Confirmation is the durable marker of a credited payment session.
type Confirmation struct {
	ID              snowflake.ID  `gorm:"primaryKey" json:"id"`
	SessionID       string        `gorm:"type:text;not null;uniqueIndex" json:"session_id"`
	UserID          snowflake.ID  `gorm:"not null" json:"user_id"`
	PackageID       snowflake.ID  `gorm:"not null" json:"package_id"`
	Tokens          int64         `gorm:"not null" json:"tokens"`
	AmountPaidCents int64         `gorm:"not null" json:"amount_paid_cents"`
	Source          Source        `gorm:"type:text;not null" json:"source"`
	TransactionID   *snowflake.ID `json:"transaction_id,omitempty"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Confirmation) TableName() string { return "payment_confirmations" }

// GatewaySession is the gateway's view of a checkout session.
type GatewaySession struct {
	ID            string
	URL           string
	Status        string
	PaymentStatus string
	AmountTotal   int64
	Currency      string
	Metadata      map[string]string
}

// Paid reports whether the gateway settled the session.
func (s GatewaySession) Paid() bool {
	return strings.EqualFold(s.PaymentStatus, "paid")
}

// WebhookEvent is a verified and parsed gateway notification.
type WebhookEvent struct {
	ID      string
	Type    string
	Session GatewaySession
}
