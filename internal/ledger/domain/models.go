package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionKind classifies a token movement.
type TransactionKind string

const (
	KindPurchase      TransactionKind = "purchase"
	KindUsage         TransactionKind = "usage"
	KindRefund        TransactionKind = "refund"
	KindWelcomeBonus  TransactionKind = "welcome_bonus"
	KindFeatureUsage  TransactionKind = "feature_usage"
	KindFeatureRefund TransactionKind = "feature_refund"
)

// Direction of a posting relative to the account balance.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

var kindDirections = map[TransactionKind]Direction{
	KindPurchase:      DirectionCredit,
	KindWelcomeBonus:  DirectionCredit,
	KindRefund:        DirectionCredit,
	KindFeatureRefund: DirectionCredit,
	KindUsage:         DirectionDebit,
	KindFeatureUsage:  DirectionDebit,
}

// refundPairs maps each refund kind to the debit kind it reverses.
var refundPairs = map[TransactionKind]TransactionKind{
	KindRefund:        KindUsage,
	KindFeatureRefund: KindFeatureUsage,
}

func (k TransactionKind) Valid() bool {
	_, ok := kindDirections[k]
	return ok
}

func (k TransactionKind) Direction() Direction {
	return kindDirections[k]
}

func (k TransactionKind) IsRefund() bool {
	_, ok := refundPairs[k]
	return ok
}

// Reverses reports whether a refund of kind k may reverse a debit of kind debit.
func (k TransactionKind) Reverses(debit TransactionKind) bool {
	return refundPairs[k] == debit
}

// Account holds the authoritative token balance of one user.
type Account struct {
	UserID    snowflake.ID `gorm:"primaryKey;column:user_id" json:"user_id"`
	Balance   int64        `gorm:"not null" json:"balance"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "token_accounts" }

// Transaction is an immutable ledger row. Debits carry a negative amount.
type Transaction struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID    `gorm:"not null;index" json:"user_id"`
	Kind           TransactionKind `gorm:"type:text;not null" json:"kind"`
	Amount         int64           `gorm:"not null" json:"amount"`
	BalanceAfter   int64           `gorm:"not null" json:"balance_after"`
	Description    string          `gorm:"type:text;not null" json:"description"`
	ReferenceType  string          `gorm:"type:text;not null" json:"reference_type,omitempty"`
	ReferenceID    *snowflake.ID   `json:"reference_id,omitempty"`
	RefundOf       *snowflake.ID   `json:"refund_of,omitempty"`
	IdempotencyKey *string         `json:"-"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "token_transactions" }

// PostingRequest describes a credit or debit.
type PostingRequest struct {
	UserID         snowflake.ID
	Kind           TransactionKind
	Amount         int64
	Description    string
	ReferenceType  string
	ReferenceID    *snowflake.ID
	IdempotencyKey string
}

// RefundRequest reverses part or all of an earlier debit.
type RefundRequest struct {
	UserID         snowflake.ID
	Kind           TransactionKind
	Amount         int64
	TransactionID  snowflake.ID
	Note           string
	ReferenceType  string
	ReferenceID    *snowflake.ID
	IdempotencyKey string
}

// Posting is the outcome of a balance mutation.
type Posting struct {
	Transaction Transaction `json:"transaction"`
	Balance     int64       `json:"balance"`
	// Replayed is set when the idempotency key matched an earlier posting.
	Replayed bool `json:"replayed"`
}

type ListTransactionsRequest struct {
	UserID snowflake.ID
	Kind   TransactionKind
	Limit  int
	Offset int
}

// Reconciliation compares the stored balance with the transaction sum.
type Reconciliation struct {
	UserID           snowflake.ID `json:"user_id"`
	Balance          int64        `json:"balance"`
	TransactionSum   int64        `json:"transaction_sum"`
	TransactionCount int64        `json:"transaction_count"`
	Balanced         bool         `json:"balanced"`
}
