package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/order/domain"
	pkgdb "github.com/smallbiznis/stitchery/pkg/db"
	"github.com/smallbiznis/stitchery/pkg/db/pagination"
	"gorm.io/gorm"
)

const orderColumns = `id, number, user_id, design_id, status, size_cm, tokens_used, requested_formats,
	admin_notes, notification_sent, notification_sent_at, created_at, updated_at, completed_at`

const deliverableColumns = `id, order_id, format, file_key, file_name, size_bytes, content_type, uploaded_by, uploaded_at`

const resourceColumns = `id, order_id, file_key, file_name, size_bytes, content_type, description, uploaded_by, created_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID,
		o.Number,
		o.UserID,
		o.DesignID,
		o.Status,
		o.SizeCM,
		o.TokensUsed,
		o.RequestedFormats,
		o.AdminNotes,
		o.NotificationSent,
		o.NotificationSentAt,
		o.CreatedAt,
		o.UpdatedAt,
		o.CompletedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.find(ctx, db, id, "")
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.find(ctx, db, id, pkgdb.ForUpdate(db))
}

func (r *repo) find(ctx context.Context, db *gorm.DB, id snowflake.ID, lock string) (*domain.Order, error) {
	var order domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`+lock,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]domain.Order, error) {
	var orders []domain.Order
	stmt := db.WithContext(ctx).Model(&domain.Order{})
	if filter.UserID != nil {
		stmt = stmt.Where("user_id = ?", *filter.UserID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	err := stmt.
		Order("created_at desc, id desc").
		Limit(page.Limit() + 1).
		Offset(page.Offset()).
		Find(&orders).Error
	return orders, err
}

// UpdateStatus persists a transition and clears the notification flag.
func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, o *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, admin_notes = ?, completed_at = ?, notification_sent = ?,
		     notification_sent_at = NULL, updated_at = ?
		 WHERE id = ?`,
		o.Status,
		o.AdminNotes,
		o.CompletedAt,
		false,
		o.UpdatedAt,
		o.ID,
	).Error
}

// MarkNotificationSent only flags the order while it is still in status, so a
// late delivery for an earlier state leaves the current one pending.
func (r *repo) MarkNotificationSent(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET notification_sent = ?, notification_sent_at = ? WHERE id = ? AND status = ?`,
		true,
		at,
		id,
		status,
	).Error
}

func (r *repo) ListPendingNotification(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM orders
		 WHERE notification_sent = ? AND updated_at < ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		false,
		before,
		limit,
	).Scan(&orders).Error
	return orders, err
}

// NextSequence increments the per-year counter. The UPDATE holds the row
// lock until the surrounding transaction ends.
func (r *repo) NextSequence(ctx context.Context, db *gorm.DB, prefix string, year int) (int64, error) {
	conn := db.WithContext(ctx)
	if err := conn.Exec(
		`INSERT INTO order_sequences (prefix, year, last_value) VALUES (?, ?, 0)
		 ON CONFLICT (prefix, year) DO NOTHING`,
		prefix,
		year,
	).Error; err != nil {
		return 0, err
	}
	if err := conn.Exec(
		`UPDATE order_sequences SET last_value = last_value + 1 WHERE prefix = ? AND year = ?`,
		prefix,
		year,
	).Error; err != nil {
		return 0, err
	}
	var value int64
	err := conn.Raw(
		`SELECT last_value FROM order_sequences WHERE prefix = ? AND year = ?`,
		prefix,
		year,
	).Scan(&value).Error
	return value, err
}

func (r *repo) UpsertDeliverable(ctx context.Context, db *gorm.DB, d *domain.Deliverable) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO order_deliverables (`+deliverableColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (order_id, format) DO UPDATE SET
		   file_key = excluded.file_key,
		   file_name = excluded.file_name,
		   size_bytes = excluded.size_bytes,
		   content_type = excluded.content_type,
		   uploaded_by = excluded.uploaded_by,
		   uploaded_at = excluded.uploaded_at`,
		d.ID,
		d.OrderID,
		d.Format,
		d.FileKey,
		d.FileName,
		d.SizeBytes,
		d.ContentType,
		d.UploadedBy,
		d.UploadedAt,
	).Error
}

func (r *repo) FindDeliverable(ctx context.Context, db *gorm.DB, orderID snowflake.ID, format string) (*domain.Deliverable, error) {
	var d domain.Deliverable
	err := db.WithContext(ctx).Raw(
		`SELECT `+deliverableColumns+` FROM order_deliverables WHERE order_id = ? AND format = ?`,
		orderID,
		format,
	).Scan(&d).Error
	if err != nil {
		return nil, err
	}
	if d.ID == 0 {
		return nil, nil
	}
	return &d, nil
}

func (r *repo) ListDeliverables(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.Deliverable, error) {
	var items []domain.Deliverable
	err := db.WithContext(ctx).Raw(
		`SELECT `+deliverableColumns+` FROM order_deliverables WHERE order_id = ? ORDER BY format ASC`,
		orderID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) InsertResource(ctx context.Context, db *gorm.DB, res *domain.Resource) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO order_resources (`+resourceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID,
		res.OrderID,
		res.FileKey,
		res.FileName,
		res.SizeBytes,
		res.ContentType,
		res.Description,
		res.UploadedBy,
		res.CreatedAt,
	).Error
}

func (r *repo) FindResource(ctx context.Context, db *gorm.DB, orderID, id snowflake.ID) (*domain.Resource, error) {
	var res domain.Resource
	err := db.WithContext(ctx).Raw(
		`SELECT `+resourceColumns+` FROM order_resources WHERE order_id = ? AND id = ?`,
		orderID,
		id,
	).Scan(&res).Error
	if err != nil {
		return nil, err
	}
	if res.ID == 0 {
		return nil, nil
	}
	return &res, nil
}

func (r *repo) ListResources(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.Resource, error) {
	var items []domain.Resource
	err := db.WithContext(ctx).Raw(
		`SELECT `+resourceColumns+` FROM order_resources WHERE order_id = ? ORDER BY created_at ASC, id ASC`,
		orderID,
	).Scan(&items).Error
	return items, err
}

func (r *repo) DeleteResource(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM order_resources WHERE id = ?`, id).Error
}
