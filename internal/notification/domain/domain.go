package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindOrderSubmitted  Kind = "order_submitted"
	KindOrderProcessing Kind = "order_processing"
	KindOrderCompleted  Kind = "order_completed"
	KindOrderFailed     Kind = "order_failed"
	KindTokensPurchased Kind = "tokens_purchased"
	KindWelcome         Kind = "welcome"
)

// IsOrder reports whether the kind describes an order transition.
func (k Kind) IsOrder() bool {
	switch k {
	case KindOrderSubmitted, KindOrderProcessing, KindOrderCompleted, KindOrderFailed:
		return true
	}
	return false
}

// Event carries everything a template needs, so the dispatcher never reads
// domain tables other than customers.
type Event struct {
	Kind        Kind
	UserID      snowflake.ID
	OrderID     snowflake.ID
	OrderNumber string
	OrderStatus string
	DesignName  string
	Formats     []string
	Notes       string
	Tokens      int64
	Balance     int64
	At          time.Time
}

// Notifier delivers events best-effort. Notify never blocks on delivery.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// SentMarker records that the notification for an order's status went out.
// A mark for a status the order has already left is a no-op.
type SentMarker interface {
	MarkNotificationSent(ctx context.Context, orderID snowflake.ID, status string, at time.Time) error
}

// Recipient is the resolved mail target of an event.
type Recipient struct {
	Email string
	Name  string
}

type RecipientResolver interface {
	Resolve(ctx context.Context, userID snowflake.ID) (*Recipient, error)
}

type noop struct{}

// Noop drops every event.
func Noop() Notifier { return noop{} }

func (noop) Notify(context.Context, Event) {}
