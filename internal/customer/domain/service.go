package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/apperror"
	"github.com/smallbiznis/stitchery/pkg/db/pagination"
	"gorm.io/gorm"
)

type Service interface {
	Activate(ctx context.Context, req ActivateRequest) (*ActivateResult, error)
	Get(ctx context.Context, userID snowflake.ID) (*Customer, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
}

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Customer, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]Customer, error)
}

type ActivateRequest struct {
	UserID snowflake.ID `json:"user_id"`
	Email  string       `json:"email"`
	Name   string       `json:"name"`
}

type ActivateResult struct {
	Customer     Customer `json:"customer"`
	BonusGranted bool     `json:"bonus_granted"`
	Balance      int64    `json:"balance"`
}

type ListRequest struct {
	Email string
	pagination.Pagination
}

type ListFilter struct {
	Email string
}

type ListResponse struct {
	pagination.PageInfo
	Customers []Customer `json:"customers"`
}

var (
	ErrInvalidUser  = apperror.Validation("user_id", "invalid_user_id")
	ErrInvalidEmail = apperror.Validation("email", "invalid_email")
	ErrNotFound     = apperror.New(apperror.ErrNotFound, "customer_not_found")
)
