package domain

import (
	"context"
	"time"

	"github.com/smallbiznis/stitchery/internal/apperror"
	pkgrepository "github.com/smallbiznis/stitchery/pkg/repository"
)

type Repository = pkgrepository.Repository[PricingTier]

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Response, error)
	Get(ctx context.Context, id string) (*Response, error)
	Quote(ctx context.Context, size float64) (*Quote, error)
	// Table snapshots the current tiers so a batch of items prices consistently.
	Table(ctx context.Context) (Table, error)
}

type CreateRequest struct {
	SizeCM int   `json:"size_cm"`
	Price  int64 `json:"price"`
}

type UpdateRequest struct {
	SizeCM *int   `json:"size_cm"`
	Price  *int64 `json:"price"`
}

type Response struct {
	ID        string    `json:"id"`
	SizeCM    int       `json:"size_cm"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Quote struct {
	SizeCM   float64 `json:"size_cm"`
	Price    int64   `json:"price"`
	Fallback bool    `json:"fallback"`
}

var (
	ErrInvalidID    = apperror.Validation("id", "invalid_id")
	ErrInvalidSize  = apperror.Validation("size_cm", "invalid_size")
	ErrInvalidPrice = apperror.Validation("price", "invalid_price")
	ErrSizeTaken    = apperror.Validation("size_cm", "size_taken")
	ErrNotFound     = apperror.New(apperror.ErrNotFound, "pricing_tier_not_found")
)
