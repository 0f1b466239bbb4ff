package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/apperror"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Feature, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateRequest) (*Feature, error)
	Deactivate(ctx context.Context, id snowflake.ID) (*Feature, error)
	Get(ctx context.Context, id snowflake.ID) (*Feature, error)
	List(ctx context.Context, req ListRequest) ([]Feature, error)
	Stats(ctx context.Context) ([]Stats, error)

	Attach(ctx context.Context, userID, designID, featureID snowflake.ID) (*AttachResult, error)
	Detach(ctx context.Context, userID, designID, featureID snowflake.ID) (*DetachResult, error)
	ListApplied(ctx context.Context, userID, designID snowflake.ID) ([]AppliedFeature, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, feature *Feature) error
	Update(ctx context.Context, db *gorm.DB, feature *Feature) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Feature, error)
	FindByCodeOrName(ctx context.Context, db *gorm.DB, code, name string) ([]Feature, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]Feature, error)
	Stats(ctx context.Context, db *gorm.DB) ([]Stats, error)

	InsertUsage(ctx context.Context, db *gorm.DB, usage *Usage) error
	FindUsage(ctx context.Context, db *gorm.DB, designID, featureID snowflake.ID) (*Usage, error)
	DeleteUsage(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	ListApplied(ctx context.Context, db *gorm.DB, designID snowflake.ID) ([]AppliedFeature, error)
	CountUsages(ctx context.Context, db *gorm.DB, designID snowflake.ID) (int64, error)
}

type CreateRequest struct {
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Category       Category       `json:"category"`
	TokensRequired *int64         `json:"tokens_required"`
	IsActive       *bool          `json:"is_active"`
	IsPopular      bool           `json:"is_popular"`
	SortOrder      int            `json:"sort_order"`
	IconEmoji      string         `json:"icon_emoji"`
	Metadata       map[string]any `json:"metadata"`
}

type UpdateRequest struct {
	Name           *string        `json:"name"`
	Description    *string        `json:"description"`
	Category       *Category      `json:"category"`
	TokensRequired *int64         `json:"tokens_required"`
	IsActive       *bool          `json:"is_active"`
	IsPopular      *bool          `json:"is_popular"`
	SortOrder      *int           `json:"sort_order"`
	IconEmoji      *string        `json:"icon_emoji"`
	Metadata       map[string]any `json:"metadata"`
}

type ListRequest struct {
	ActiveOnly bool
	Category   Category
}

type AttachResult struct {
	Usage            Usage `json:"usage"`
	Balance          int64 `json:"tokens_remaining"`
	DesignTokensUsed int64 `json:"design_tokens_used"`
}

type DetachResult struct {
	Refunded         int64 `json:"tokens_refunded"`
	Balance          int64 `json:"tokens_remaining"`
	DesignTokensUsed int64 `json:"design_tokens_used"`
}

var (
	ErrInvalidName     = apperror.Validation("name", "invalid_name")
	ErrInvalidCode     = apperror.Validation("code", "invalid_code")
	ErrInvalidCategory = apperror.Validation("category", "invalid_category")
	ErrInvalidTokens   = apperror.Validation("tokens_required", "invalid_tokens_required")
	ErrNameTaken       = apperror.Validation("name", "feature_name_taken")
	ErrNotFound        = apperror.New(apperror.ErrNotFound, "feature_not_found")
	ErrDesignNotFound  = apperror.New(apperror.ErrNotFound, "design_not_found")
	ErrFeatureInactive = apperror.New(apperror.ErrInvalidState, "feature_inactive")
	ErrAlreadyApplied  = apperror.New(apperror.ErrInvalidState, "feature_already_applied")
	ErrNotApplied      = apperror.New(apperror.ErrInvalidState, "feature_not_applied")
	ErrDesignLocked    = apperror.New(apperror.ErrInvalidState, "design_not_editable")
)
