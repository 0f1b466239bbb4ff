package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// PricingTier anchors the price of one design size in centimetres.
type PricingTier struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	SizeCM    int          `json:"size_cm" gorm:"column:size_cm;not null;uniqueIndex"`
	Price     int64        `json:"price" gorm:"not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (PricingTier) TableName() string { return "pricing_tiers" }
