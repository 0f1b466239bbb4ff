package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer is the profile of a verified user, keyed by the identity user id.
type Customer struct {
	UserID      snowflake.ID `gorm:"primaryKey;column:user_id" json:"user_id"`
	Email       string       `gorm:"type:text;not null" json:"email"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	ActivatedAt time.Time    `gorm:"not null" json:"activated_at"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (Customer) TableName() string { return "customers" }
