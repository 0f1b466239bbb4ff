package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service is the only writer of token balances. Every call appends exactly
// one transaction and moves the balance by the same amount, or does neither.
type Service interface {
	// WithTx binds the ledger to an outer transaction so postings commit
	// together with the caller's own writes.
	WithTx(tx *gorm.DB) Service

	EnsureAccount(ctx context.Context, userID snowflake.ID) (*Account, error)
	Balance(ctx context.Context, userID snowflake.ID) (int64, error)
	Credit(ctx context.Context, req PostingRequest) (*Posting, error)
	Debit(ctx context.Context, req PostingRequest) (*Posting, error)
	Refund(ctx context.Context, req RefundRequest) (*Posting, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) ([]Transaction, error)
	Reconcile(ctx context.Context, userID snowflake.ID) (*Reconciliation, error)
	ListAccountIDs(ctx context.Context, after snowflake.ID, limit int) ([]snowflake.ID, error)
}

type Repository interface {
	EnsureAccount(ctx context.Context, db *gorm.DB, account *Account) error
	FindAccount(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Account, error)
	LockAccount(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Account, error)
	ApplyDelta(ctx context.Context, db *gorm.DB, userID snowflake.ID, delta int64, now time.Time) (bool, error)
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindTransactionByKey(ctx context.Context, db *gorm.DB, key string) (*Transaction, error)
	SumRefunds(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (int64, error)
	ListTransactions(ctx context.Context, db *gorm.DB, req ListTransactionsRequest) ([]Transaction, error)
	SumTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, int64, error)
	ListAccountIDs(ctx context.Context, db *gorm.DB, after snowflake.ID, limit int) ([]snowflake.ID, error)
}
