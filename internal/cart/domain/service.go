package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/apperror"
	"gorm.io/gorm"
)

type Service interface {
	Add(ctx context.Context, userID snowflake.ID, req AddRequest) (*Item, error)
	Remove(ctx context.Context, userID, itemID snowflake.ID) error
	RemoveDesign(ctx context.Context, userID, designID snowflake.ID) error
	List(ctx context.Context, userID snowflake.ID) (*View, error)
	Clear(ctx context.Context, userID snowflake.ID) error
	Checkout(ctx context.Context, userID snowflake.ID, req CheckoutRequest) (*CheckoutResult, error)
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, item *Item) error
	FindByDesign(ctx context.Context, db *gorm.DB, userID, designID snowflake.ID) (*Item, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Item, error)
	Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (int64, error)
	DeleteByDesign(ctx context.Context, db *gorm.DB, userID, designID snowflake.ID) (int64, error)
	DeleteByIDs(ctx context.Context, db *gorm.DB, userID snowflake.ID, ids []snowflake.ID) error
	DeleteByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) error
}

type AddRequest struct {
	DesignID snowflake.ID `json:"design_id"`
	SizeCM   *int         `json:"size_cm"`
}

// CheckoutRequest lists the output formats wanted for every ordered design.
// An empty list selects the configured defaults.
type CheckoutRequest struct {
	Formats []string `json:"formats"`
}

var (
	ErrInvalidDesign  = apperror.Validation("design_id", "invalid_design_id")
	ErrInvalidSize    = apperror.Validation("size_cm", "invalid_size")
	ErrItemNotFound   = apperror.New(apperror.ErrNotFound, "cart_item_not_found")
	ErrDesignNotFound = apperror.New(apperror.ErrNotFound, "design_not_found")
	ErrNotOrderable   = apperror.New(apperror.ErrInvalidState, "design_not_orderable")
	ErrEmptyCart      = apperror.New(apperror.ErrInvalidState, "empty_cart")
)

// EmptyCart reports that nothing was left to order, listing what was pruned.
func EmptyCart(discarded []Discarded) error {
	if len(discarded) == 0 {
		return ErrEmptyCart
	}
	return ErrEmptyCart.WithDetails(map[string]any{"discarded": discarded})
}
