package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Category string

const (
	CategoryText    Category = "text"
	CategoryColor   Category = "color"
	CategoryEffect  Category = "effect"
	CategoryQuality Category = "quality"
	CategoryRush    Category = "rush"
	CategorySupport Category = "support"
)

var categories = map[Category]struct{}{
	CategoryText:    {},
	CategoryColor:   {},
	CategoryEffect:  {},
	CategoryQuality: {},
	CategoryRush:    {},
	CategorySupport: {},
}

func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

const DefaultTokensRequired int64 = 10

// Feature is a paid add-on that can be applied once to a design.
type Feature struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	Code           string            `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name           string            `gorm:"type:text;not null;uniqueIndex" json:"name"`
	Description    string            `gorm:"type:text;not null" json:"description"`
	Category       Category          `gorm:"type:text;not null" json:"category"`
	TokensRequired int64             `gorm:"not null" json:"tokens_required"`
	IsActive       bool              `gorm:"not null" json:"is_active"`
	IsPopular      bool              `gorm:"not null" json:"is_popular"`
	SortOrder      int               `gorm:"not null" json:"sort_order"`
	IconEmoji      string            `gorm:"type:text;not null" json:"icon_emoji"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updated_at"`
}

func (Feature) TableName() string { return "features" }

// Usage records the tokens actually spent when a feature was applied.
// Detaching refunds this amount, never the feature's current price.
type Usage struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	DesignID      snowflake.ID  `gorm:"not null" json:"design_id"`
	FeatureID     snowflake.ID  `gorm:"not null" json:"feature_id"`
	UserID        snowflake.ID  `gorm:"not null" json:"user_id"`
	TokensSpent   int64         `gorm:"not null" json:"tokens_spent"`
	TransactionID *snowflake.ID `json:"transaction_id,omitempty"`
	CreatedAt     time.Time     `gorm:"not null" json:"created_at"`
}

func (Usage) TableName() string { return "feature_usages" }

// AppliedFeature joins a usage row with its catalog entry.
type AppliedFeature struct {
	UsageID     snowflake.ID `json:"usage_id"`
	FeatureID   snowflake.ID `json:"feature_id"`
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	Category    Category     `json:"category"`
	TokensSpent int64        `json:"tokens_spent"`
	AppliedAt   time.Time    `json:"applied_at"`
}

type Stats struct {
	FeatureID    snowflake.ID `json:"feature_id"`
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	TimesUsed    int64        `json:"times_used"`
	TokensEarned int64        `json:"tokens_earned"`
}
