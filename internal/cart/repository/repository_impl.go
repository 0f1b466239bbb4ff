package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/cart/domain"
	"gorm.io/gorm"
)

const itemColumns = `id, user_id, design_id, size_cm, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Upsert adds the design to the cart, or updates the size of an existing line.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, item *domain.Item) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO cart_items (`+itemColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, design_id) DO UPDATE SET
		   size_cm = excluded.size_cm,
		   updated_at = excluded.updated_at`,
		item.ID,
		item.UserID,
		item.DesignID,
		item.SizeCM,
		item.CreatedAt,
		item.UpdatedAt,
	).Error
}

func (r *repo) FindByDesign(ctx context.Context, db *gorm.DB, userID, designID snowflake.ID) (*domain.Item, error) {
	var item domain.Item
	err := db.WithContext(ctx).Raw(
		`SELECT `+itemColumns+` FROM cart_items WHERE user_id = ? AND design_id = ?`,
		userID,
		designID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.Item, error) {
	var items []domain.Item
	err := db.WithContext(ctx).Raw(
		`SELECT `+itemColumns+` FROM cart_items WHERE user_id = ? ORDER BY created_at ASC, id ASC`,
		userID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM cart_items WHERE user_id = ? AND id = ?`, userID, id)
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteByDesign(ctx context.Context, db *gorm.DB, userID, designID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM cart_items WHERE user_id = ? AND design_id = ?`, userID, designID)
	return res.RowsAffected, res.Error
}

func (r *repo) DeleteByIDs(ctx context.Context, db *gorm.DB, userID snowflake.ID, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(`DELETE FROM cart_items WHERE user_id = ? AND id IN ?`, userID, ids).Error
}

func (r *repo) DeleteByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM cart_items WHERE user_id = ?`, userID).Error
}
