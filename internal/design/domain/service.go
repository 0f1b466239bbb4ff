package domain

import (
	"context"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/apperror"
	"github.com/smallbiznis/stitchery/internal/storage"
	"github.com/smallbiznis/stitchery/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, userID snowflake.ID, req CreateRequest) (*Design, error)
	Get(ctx context.Context, userID, id snowflake.ID) (*Design, error)
	List(ctx context.Context, userID snowflake.ID, req ListRequest) (*ListResponse, error)
	Update(ctx context.Context, userID, id snowflake.ID, req UpdateRequest) (*Design, error)
	Delete(ctx context.Context, userID, id snowflake.ID) error
	// Generate charges the generation cost, then calls the image generator.
	// The charge is refunded when the generator fails.
	Generate(ctx context.Context, userID snowflake.ID, req GenerateRequest) (*GenerateResult, error)
	OpenImage(ctx context.Context, userID, id snowflake.ID, variant ImageVariant) (io.ReadCloser, *storage.Object, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, design *Design) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Design, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Design, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Design, error)
	List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]Design, error)
	UpdateDetails(ctx context.Context, db *gorm.DB, design *Design) error
	UpdateImages(ctx context.Context, db *gorm.DB, id snowflake.ID, normalKey, previewKey string, status Status, now time.Time) error
	SetSize(ctx context.Context, db *gorm.DB, id snowflake.ID, size int, now time.Time) error
	SetStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status, now time.Time) error
	// AddTokensUsed moves tokens_used by delta, flooring the result at zero.
	AddTokensUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, delta int64, now time.Time) error
	// MarkProcessing flips orderable designs to processing and returns how many rows changed.
	MarkProcessing(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) (int64, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}

type ImageVariant string

const (
	ImageNormal  ImageVariant = "normal"
	ImagePreview ImageVariant = "preview"
)

type CreateRequest struct {
	Name            string `json:"name"`
	Prompt          string `json:"prompt"`
	MachineBrand    string `json:"machine_brand"`
	RequestedFormat string `json:"requested_format"`
	SizeCM          int    `json:"size_cm"`
}

type UpdateRequest struct {
	Name            *string `json:"name"`
	MachineBrand    *string `json:"machine_brand"`
	RequestedFormat *string `json:"requested_format"`
	SizeCM          *int    `json:"size_cm"`
}

type GenerateRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	SizeCM int    `json:"size_cm"`
}

type GenerateResult struct {
	Design  *Design `json:"design"`
	Balance int64   `json:"tokens_remaining"`
}

type ListFilter struct {
	Status Status
}

type ListRequest struct {
	Status string
	pagination.Pagination
}

type ListResponse struct {
	pagination.PageInfo
	Designs []Design `json:"designs"`
}

var (
	ErrInvalidUser    = apperror.Validation("user_id", "invalid_user")
	ErrInvalidName    = apperror.Validation("name", "invalid_name")
	ErrInvalidPrompt  = apperror.Validation("prompt", "invalid_prompt")
	ErrInvalidSize    = apperror.Validation("size_cm", "invalid_size")
	ErrInvalidStatus  = apperror.Validation("status", "invalid_status")
	ErrInvalidVariant = apperror.Validation("variant", "invalid_image_variant")
	ErrNotFound       = apperror.New(apperror.ErrNotFound, "design_not_found")
	ErrImageNotFound  = apperror.New(apperror.ErrNotFound, "design_image_not_found")
	ErrNotEditable    = apperror.New(apperror.ErrInvalidState, "design_not_editable")
)
