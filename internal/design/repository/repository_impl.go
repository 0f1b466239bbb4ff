package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/design/domain"
	pkgdb "github.com/smallbiznis/stitchery/pkg/db"
	"github.com/smallbiznis/stitchery/pkg/db/pagination"
	"gorm.io/gorm"
)

const designColumns = `id, user_id, name, prompt, machine_brand, requested_format, size_cm, status,
	tokens_used, normal_image_key, preview_image_key, generation_transaction_id, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, d *domain.Design) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO designs (`+designColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.UserID,
		d.Name,
		d.Prompt,
		d.MachineBrand,
		d.RequestedFormat,
		d.SizeCM,
		d.Status,
		d.TokensUsed,
		d.NormalImageKey,
		d.PreviewImageKey,
		d.GenerationTransactionID,
		d.CreatedAt,
		d.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Design, error) {
	return r.find(ctx, db, id, "")
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Design, error) {
	return r.find(ctx, db, id, pkgdb.ForUpdate(db))
}

func (r *repo) find(ctx context.Context, db *gorm.DB, id snowflake.ID, lock string) (*domain.Design, error) {
	var design domain.Design
	err := db.WithContext(ctx).Raw(
		`SELECT `+designColumns+` FROM designs WHERE id = ?`+lock,
		id,
	).Scan(&design).Error
	if err != nil {
		return nil, err
	}
	if design.ID == 0 {
		return nil, nil
	}
	return &design, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Design, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var designs []domain.Design
	err := db.WithContext(ctx).Raw(
		`SELECT `+designColumns+` FROM designs WHERE id IN ?`,
		ids,
	).Scan(&designs).Error
	return designs, err
}

func (r *repo) List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]domain.Design, error) {
	var designs []domain.Design
	stmt := db.WithContext(ctx).
		Model(&domain.Design{}).
		Where("user_id = ?", userID)
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	err := stmt.
		Order("created_at desc, id desc").
		Limit(page.Limit() + 1).
		Offset(page.Offset()).
		Find(&designs).Error
	return designs, err
}

func (r *repo) UpdateDetails(ctx context.Context, db *gorm.DB, d *domain.Design) error {
	return db.WithContext(ctx).Exec(
		`UPDATE designs
		 SET name = ?, machine_brand = ?, requested_format = ?, size_cm = ?, updated_at = ?
		 WHERE id = ?`,
		d.Name,
		d.MachineBrand,
		d.RequestedFormat,
		d.SizeCM,
		d.UpdatedAt,
		d.ID,
	).Error
}

func (r *repo) UpdateImages(ctx context.Context, db *gorm.DB, id snowflake.ID, normalKey, previewKey string, status domain.Status, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE designs SET normal_image_key = ?, preview_image_key = ?, status = ?, updated_at = ? WHERE id = ?`,
		normalKey,
		previewKey,
		status,
		now,
		id,
	).Error
}

func (r *repo) SetSize(ctx context.Context, db *gorm.DB, id snowflake.ID, size int, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE designs SET size_cm = ?, updated_at = ? WHERE id = ?`,
		size,
		now,
		id,
	).Error
}

func (r *repo) SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE designs SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		now,
		id,
	).Error
}

func (r *repo) AddTokensUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE designs
		 SET tokens_used = CASE WHEN tokens_used + ? < 0 THEN 0 ELSE tokens_used + ? END, updated_at = ?
		 WHERE id = ?`,
		delta,
		delta,
		now,
		id,
	).Error
}

func (r *repo) MarkProcessing(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE designs SET status = ?, updated_at = ? WHERE id IN ? AND status IN ?`,
		domain.StatusProcessing,
		now,
		ids,
		[]domain.Status{domain.StatusDraft, domain.StatusReady},
	)
	return res.RowsAffected, res.Error
}

// Delete removes the design together with its cart rows and feature usages.
func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	for _, stmt := range []string{
		`DELETE FROM cart_items WHERE design_id = ?`,
		`DELETE FROM feature_usages WHERE design_id = ?`,
		`DELETE FROM designs WHERE id = ?`,
	} {
		if err := db.WithContext(ctx).Exec(stmt, id).Error; err != nil {
			return err
		}
	}
	return nil
}
