package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/customer/domain"
	"github.com/smallbiznis/stitchery/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Upsert keeps the first activation time and refreshes the contact fields.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (user_id, email, name, activated_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   email = excluded.email,
		   name = excluded.name,
		   updated_at = excluded.updated_at`,
		customer.UserID,
		customer.Email,
		customer.Name,
		customer.ActivatedAt,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, email, name, activated_at, created_at, updated_at
		 FROM customers WHERE user_id = ?`,
		userID,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.UserID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]domain.Customer, error) {
	var customers []domain.Customer
	stmt := db.WithContext(ctx).Model(&domain.Customer{})
	if email := strings.TrimSpace(filter.Email); email != "" {
		stmt = stmt.Where("LOWER(email) = LOWER(?)", email)
	}
	err := stmt.
		Order("created_at desc, user_id desc").
		Limit(page.Limit() + 1).
		Offset(page.Offset()).
		Find(&customers).Error
	return customers, err
}
