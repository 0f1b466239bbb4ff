package domain

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/apperror"
	"github.com/smallbiznis/stitchery/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	Get(ctx context.Context, userID, id snowflake.ID) (*Detail, error)
	List(ctx context.Context, userID snowflake.ID, req ListRequest) (*ListResponse, error)
	Retry(ctx context.Context, userID, id snowflake.ID) (*Order, error)
	OpenDeliverable(ctx context.Context, userID, id snowflake.ID, format string) (io.ReadCloser, *Deliverable, error)
	Receipt(ctx context.Context, userID, id snowflake.ID) (io.Reader, *Order, error)

	AdminGet(ctx context.Context, id snowflake.ID) (*Detail, error)
	AdminList(ctx context.Context, req ListRequest) (*ListResponse, error)
	UpdateStatus(ctx context.Context, id snowflake.ID, req UpdateStatusRequest) (*Order, error)
	UploadDeliverable(ctx context.Context, req UploadRequest) (*Deliverable, error)
	AddResource(ctx context.Context, req UploadRequest) (*Resource, error)
	ListResources(ctx context.Context, id snowflake.ID) ([]Resource, error)
	OpenResource(ctx context.Context, id, resourceID snowflake.ID) (io.ReadCloser, *Resource, error)
	DeleteResource(ctx context.Context, id, resourceID snowflake.ID) error

	ResendPendingNotifications(ctx context.Context, limit int) (int, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]Order, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, order *Order) error
	MarkNotificationSent(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, at time.Time) error
	ListPendingNotification(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Order, error)
	NextSequence(ctx context.Context, db *gorm.DB, prefix string, year int) (int64, error)

	UpsertDeliverable(ctx context.Context, db *gorm.DB, d *Deliverable) error
	FindDeliverable(ctx context.Context, db *gorm.DB, orderID snowflake.ID, format string) (*Deliverable, error)
	ListDeliverables(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Deliverable, error)

	InsertResource(ctx context.Context, db *gorm.DB, r *Resource) error
	FindResource(ctx context.Context, db *gorm.DB, orderID, id snowflake.ID) (*Resource, error)
	ListResources(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Resource, error)
	DeleteResource(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

type ListFilter struct {
	UserID *snowflake.ID
	Status Status
}

type ListRequest struct {
	Status string
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Orders []Order `json:"orders"`
}

type UpdateStatusRequest struct {
	Status     Status  `json:"status"`
	AdminNotes *string `json:"admin_notes"`
}

// UploadRequest describes a staff file upload for an order.
type UploadRequest struct {
	OrderID     snowflake.ID
	Format      string
	FileName    string
	ContentType string
	Size        int64
	Description string
	Body        io.Reader
	UploadedBy  snowflake.ID
}

var (
	ErrInvalidStatus      = apperror.Validation("status", "invalid_status")
	ErrInvalidFormat      = apperror.Validation("format", "unsupported_format")
	ErrNoFormats          = apperror.Validation("requested_formats", "no_supported_formats")
	ErrInvalidFile        = apperror.Validation("file", "invalid_file")
	ErrFileTooLarge       = apperror.Validation("file", "file_too_large")
	ErrNotFound           = apperror.New(apperror.ErrNotFound, "order_not_found")
	ErrDeliverableMissing = apperror.New(apperror.ErrNotFound, "deliverable_not_found")
	ErrResourceNotFound   = apperror.New(apperror.ErrNotFound, "resource_not_found")
	ErrInvalidTransition  = apperror.New(apperror.ErrInvalidState, "invalid_transition")
	ErrIncomplete         = apperror.New(apperror.ErrInvalidState, "incomplete_deliverables")
	ErrNotDownloadable    = apperror.New(apperror.ErrInvalidState, "order_not_completed")
	ErrUploadClosed       = apperror.New(apperror.ErrInvalidState, "order_not_accepting_files")
)

// InvalidTransition reports a rejected status change.
func InvalidTransition(from, to Status) error {
	return ErrInvalidTransition.WithDetails(map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

// IncompleteDeliverables lists the requested formats still lacking a file.
func IncompleteDeliverables(missing []string) error {
	upper := make([]string, len(missing))
	for i, code := range missing {
		upper[i] = strings.ToUpper(code)
	}
	return ErrIncomplete.WithDetails(map[string]any{"missing_formats": upper}).
		WithMessage("missing files for formats: " + strings.Join(upper, ", "))
}
