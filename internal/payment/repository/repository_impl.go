package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const packageColumns = `id, name, tokens, price_cents, price_per_token_cents, savings_percentage,
	is_popular, is_active, features, sort_order, created_at, updated_at`

func (r *repo) InsertPackage(ctx context.Context, db *gorm.DB, pkg *domain.TokenPackage) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO token_packages (`+packageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pkg.ID,
		pkg.Name,
		pkg.Tokens,
		pkg.PriceCents,
		pkg.PricePerTokenCents,
		pkg.SavingsPercentage,
		pkg.IsPopular,
		pkg.IsActive,
		pkg.Features,
		pkg.SortOrder,
		pkg.CreatedAt,
		pkg.UpdatedAt,
	).Error
}

func (r *repo) UpdatePackage(ctx context.Context, db *gorm.DB, pkg *domain.TokenPackage) error {
	return db.WithContext(ctx).Exec(
		`UPDATE token_packages
		 SET name = ?, tokens = ?, price_cents = ?, price_per_token_cents = ?,
			savings_percentage = ?, is_popular = ?, is_active = ?, features = ?,
			sort_order = ?, updated_at = ?
		 WHERE id = ?`,
		pkg.Name,
		pkg.Tokens,
		pkg.PriceCents,
		pkg.PricePerTokenCents,
		pkg.SavingsPercentage,
		pkg.IsPopular,
		pkg.IsActive,
		pkg.Features,
		pkg.SortOrder,
		pkg.UpdatedAt,
		pkg.ID,
	).Error
}

func (r *repo) FindPackage(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.TokenPackage, error) {
	var item domain.TokenPackage
	err := db.WithContext(ctx).Raw(
		`SELECT `+packageColumns+` FROM token_packages WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindPackageByName(ctx context.Context, db *gorm.DB, name string) (*domain.TokenPackage, error) {
	var item domain.TokenPackage
	err := db.WithContext(ctx).Raw(
		`SELECT `+packageColumns+` FROM token_packages WHERE LOWER(name) = LOWER(?) LIMIT 1`,
		name,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListPackages(ctx context.Context, db *gorm.DB, includeInactive bool) ([]domain.TokenPackage, error) {
	query := `SELECT ` + packageColumns + ` FROM token_packages`
	if !includeInactive {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY sort_order ASC, tokens ASC`

	var items []domain.TokenPackage
	if err := db.WithContext(ctx).Raw(query).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertSession(ctx context.Context, db *gorm.DB, session *domain.CheckoutSession) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO checkout_sessions (
			id, session_id, user_id, package_id, tokens, amount_cents, currency,
			status, url, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.SessionID,
		session.UserID,
		session.PackageID,
		session.Tokens,
		session.AmountCents,
		session.Currency,
		session.Status,
		session.URL,
		session.CreatedAt,
		session.UpdatedAt,
	).Error
}

func (r *repo) FindSession(ctx context.Context, db *gorm.DB, sessionID string) (*domain.CheckoutSession, error) {
	var item domain.CheckoutSession
	err := db.WithContext(ctx).Raw(
		`SELECT id, session_id, user_id, package_id, tokens, amount_cents, currency,
			status, url, created_at, updated_at, completed_at
		 FROM checkout_sessions
		 WHERE session_id = ?
		 LIMIT 1`,
		sessionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) CompleteSession(ctx context.Context, db *gorm.DB, sessionID string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE checkout_sessions
		 SET status = ?, completed_at = ?, updated_at = ?
		 WHERE session_id = ?`,
		domain.SessionCompleted,
		at,
		at,
		sessionID,
	).Error
}

func (r *repo) InsertConfirmation(ctx context.Context, db *gorm.DB, c *domain.Confirmation) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_confirmations (
			id, session_id, user_id, package_id, tokens, amount_paid_cents, source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING`,
		c.ID,
		c.SessionID,
		c.UserID,
		c.PackageID,
		c.Tokens,
		c.AmountPaidCents,
		c.Source,
		c.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindConfirmation(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Confirmation, error) {
	var item domain.Confirmation
	err := db.WithContext(ctx).Raw(
		`SELECT id, session_id, user_id, package_id, tokens, amount_paid_cents, source,
			transaction_id, created_at
		 FROM payment_confirmations
		 WHERE session_id = ?
		 LIMIT 1`,
		sessionID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SetConfirmationTransaction(ctx context.Context, db *gorm.DB, id, transactionID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_confirmations SET transaction_id = ? WHERE id = ?`,
		transactionID,
		id,
	).Error
}
