package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusReady      Status = "ready"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

const (
	MinSizeCM     = 5
	MaxSizeCM     = 40
	DefaultSizeCM = 10
)

// Orderable reports whether a design in this status may be put in a cart
// and checked out. Only orderable designs may be edited or deleted.
func (s Status) Orderable() bool {
	return s == StatusDraft || s == StatusReady
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusReady, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

// ValidSize reports whether size is within the supported hoop range.
func ValidSize(size int) bool {
	return size >= MinSizeCM && size <= MaxSizeCM
}

type Design struct {
	ID                      snowflake.ID  `gorm:"primaryKey" json:"id"`
	UserID                  snowflake.ID  `gorm:"not null;index" json:"user_id"`
	Name                    string        `gorm:"type:text;not null" json:"name"`
	Prompt                  string        `gorm:"type:text;not null" json:"prompt"`
	MachineBrand            string        `gorm:"type:text;not null" json:"machine_brand"`
	RequestedFormat         string        `gorm:"type:text;not null" json:"requested_format"`
	SizeCM                  int           `gorm:"column:size_cm;not null" json:"size_cm"`
	Status                  Status        `gorm:"type:text;not null" json:"status"`
	TokensUsed              int64         `gorm:"not null" json:"tokens_used"`
	NormalImageKey          string        `gorm:"type:text;not null" json:"normal_image_key,omitempty"`
	PreviewImageKey         string        `gorm:"type:text;not null" json:"preview_image_key,omitempty"`
	GenerationTransactionID *snowflake.ID `json:"generation_transaction_id,omitempty"`
	CreatedAt               time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time     `gorm:"not null" json:"updated_at"`
}

func (Design) TableName() string { return "designs" }
