package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/ledger/domain"
	pkgdb "github.com/smallbiznis/stitchery/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureAccount(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO token_accounts (user_id, balance, created_at, updated_at)
		VALUES (?, 0, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`,
		account.UserID,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindAccount(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Account, error) {
	return r.findAccount(ctx, db, userID, "")
}

func (r *repo) LockAccount(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Account, error) {
	return r.findAccount(ctx, db, userID, pkgdb.ForUpdate(db))
}

func (r *repo) findAccount(ctx context.Context, db *gorm.DB, userID snowflake.ID, lock string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, balance, created_at, updated_at
		FROM token_accounts
		WHERE user_id = ?`+lock,
		userID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.UserID == 0 {
		return nil, nil
	}
	return &account, nil
}

// ApplyDelta moves the balance only if it stays non-negative.
func (r *repo) ApplyDelta(ctx context.Context, db *gorm.DB, userID snowflake.ID, delta int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE token_accounts
		SET balance = balance + ?, updated_at = ?
		WHERE user_id = ? AND balance + ? >= 0`,
		delta,
		now,
		userID,
		delta,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO token_transactions (
			id, user_id, kind, amount, balance_after, description,
			reference_type, reference_id, refund_of, idempotency_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.UserID,
		txn.Kind,
		txn.Amount,
		txn.BalanceAfter,
		txn.Description,
		txn.ReferenceType,
		txn.ReferenceID,
		txn.RefundOf,
		txn.IdempotencyKey,
		txn.CreatedAt,
	).Error
}

const transactionColumns = `id, user_id, kind, amount, balance_after, description,
	reference_type, reference_id, refund_of, idempotency_key, created_at`

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM token_transactions WHERE id = ?`,
		id,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) FindTransactionByKey(ctx context.Context, db *gorm.DB, key string) (*domain.Transaction, error) {
	var txn domain.Transaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+transactionColumns+` FROM token_transactions WHERE idempotency_key = ?`,
		key,
	).Scan(&txn).Error
	if err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}

func (r *repo) SumRefunds(ctx context.Context, db *gorm.DB, originalID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM token_transactions WHERE refund_of = ?`,
		originalID,
	).Scan(&total).Error
	return total, err
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, req domain.ListTransactionsRequest) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM token_transactions WHERE user_id = ?`
	args := []any{req.UserID}
	if req.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, req.Kind)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, req.Limit, req.Offset)

	var items []domain.Transaction
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count
		FROM token_transactions
		WHERE user_id = ?`,
		userID,
	).Scan(&row).Error
	return row.Total, row.Count, err
}

func (r *repo) ListAccountIDs(ctx context.Context, db *gorm.DB, after snowflake.ID, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT user_id FROM token_accounts WHERE user_id > ? ORDER BY user_id LIMIT ?`,
		after,
		limit,
	).Scan(&ids).Error
	return ids, err
}
