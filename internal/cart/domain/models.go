package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/smallbiznis/stitchery/internal/order/domain"
)

type Item struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID `gorm:"not null" json:"user_id"`
	DesignID  snowflake.ID `gorm:"not null" json:"design_id"`
	SizeCM    int          `gorm:"column:size_cm;not null" json:"size_cm"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Item) TableName() string { return "cart_items" }

// Reasons an item cannot be checked out.
const (
	ReasonDesignMissing = "design_missing"
	ReasonNotOrderable  = "design_not_orderable"
)

// Line is a cart item priced against the current tier table.
type Line struct {
	Item
	DesignName   string `json:"design_name"`
	DesignStatus string `json:"design_status,omitempty"`
	Price        int64  `json:"price"`
	Valid        bool   `json:"valid"`
	Reason       string `json:"reason,omitempty"`
}

type View struct {
	Items   []Line `json:"items"`
	Total   int64  `json:"total"`
	Balance int64  `json:"tokens_available"`
}

// Discarded describes an item pruned from the cart during checkout.
type Discarded struct {
	ItemID   snowflake.ID `json:"item_id"`
	DesignID snowflake.ID `json:"design_id"`
	Reason   string       `json:"reason"`
}

type CheckoutResult struct {
	Orders      []orderdomain.Order `json:"orders"`
	TokensSpent int64               `json:"tokens_spent"`
	Balance     int64               `json:"tokens_remaining"`
	Discarded   []Discarded         `json:"discarded,omitempty"`
}
