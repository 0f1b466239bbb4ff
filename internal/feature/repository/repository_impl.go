package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/feature/domain"
	"gorm.io/gorm"
)

const featureColumns = `id, code, name, description, category, tokens_required, is_active, is_popular,
	sort_order, icon_emoji, metadata, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, f *domain.Feature) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO features (`+featureColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID,
		f.Code,
		f.Name,
		f.Description,
		f.Category,
		f.TokensRequired,
		f.IsActive,
		f.IsPopular,
		f.SortOrder,
		f.IconEmoji,
		f.Metadata,
		f.CreatedAt,
		f.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, f *domain.Feature) error {
	if f == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Exec(
		`UPDATE features
		 SET code = ?, name = ?, description = ?, category = ?, tokens_required = ?, is_active = ?,
		     is_popular = ?, sort_order = ?, icon_emoji = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		f.Code,
		f.Name,
		f.Description,
		f.Category,
		f.TokensRequired,
		f.IsActive,
		f.IsPopular,
		f.SortOrder,
		f.IconEmoji,
		f.Metadata,
		f.UpdatedAt,
		f.ID,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Feature, error) {
	var f domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE id = ?`,
		id,
	).Scan(&f).Error
	if err != nil {
		return nil, err
	}
	if f.ID == 0 {
		return nil, nil
	}
	return &f, nil
}

func (r *repo) FindByCodeOrName(ctx context.Context, db *gorm.DB, code, name string) ([]domain.Feature, error) {
	var items []domain.Feature
	err := db.WithContext(ctx).Raw(
		`SELECT `+featureColumns+` FROM features WHERE code = ? OR LOWER(name) = LOWER(?)`,
		code,
		name,
	).Scan(&items).Error
	return items, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListRequest) ([]domain.Feature, error) {
	var items []domain.Feature
	stmt := db.WithContext(ctx).Model(&domain.Feature{})
	if filter.ActiveOnly {
		stmt = stmt.Where("is_active = ?", true)
	}
	if filter.Category != "" {
		stmt = stmt.Where("category = ?", filter.Category)
	}
	if err := stmt.Order("sort_order asc, name asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB) ([]domain.Stats, error) {
	var stats []domain.Stats
	err := db.WithContext(ctx).Raw(
		`SELECT f.id AS feature_id, f.code, f.name,
		        COUNT(u.id) AS times_used,
		        COALESCE(SUM(u.tokens_spent), 0) AS tokens_earned
		 FROM features f
		 LEFT JOIN feature_usages u ON u.feature_id = f.id
		 GROUP BY f.id, f.code, f.name, f.sort_order
		 ORDER BY times_used DESC, f.sort_order ASC, f.name ASC`,
	).Scan(&stats).Error
	return stats, err
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, u *domain.Usage) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO feature_usages (id, design_id, feature_id, user_id, tokens_spent, transaction_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.DesignID,
		u.FeatureID,
		u.UserID,
		u.TokensSpent,
		u.TransactionID,
		u.CreatedAt,
	).Error
}

func (r *repo) FindUsage(ctx context.Context, db *gorm.DB, designID, featureID snowflake.ID) (*domain.Usage, error) {
	var u domain.Usage
	err := db.WithContext(ctx).Raw(
		`SELECT id, design_id, feature_id, user_id, tokens_spent, transaction_id, created_at
		 FROM feature_usages WHERE design_id = ? AND feature_id = ?`,
		designID,
		featureID,
	).Scan(&u).Error
	if err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, nil
	}
	return &u, nil
}

func (r *repo) DeleteUsage(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM feature_usages WHERE id = ?`, id).Error
}

func (r *repo) ListApplied(ctx context.Context, db *gorm.DB, designID snowflake.ID) ([]domain.AppliedFeature, error) {
	var items []domain.AppliedFeature
	err := db.WithContext(ctx).Raw(
		`SELECT u.id AS usage_id, f.id AS feature_id, f.code, f.name, f.category,
		        u.tokens_spent, u.created_at AS applied_at
		 FROM feature_usages u
		 JOIN features f ON f.id = u.feature_id
		 WHERE u.design_id = ?
		 ORDER BY u.created_at ASC, u.id ASC`,
		designID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) CountUsages(ctx context.Context, db *gorm.DB, designID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM feature_usages WHERE design_id = ?`,
		designID,
	).Scan(&count).Error
	return count, err
}
