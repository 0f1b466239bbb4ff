package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/customer/domain"
	notificationdomain "github.com/smallbiznis/stitchery/internal/notification/domain"
	"gorm.io/gorm"
)

type recipientResolver struct {
	db   *gorm.DB
	repo domain.Repository
}

// NewRecipientResolver looks up notification recipients from customer profiles.
func NewRecipientResolver(db *gorm.DB, repo domain.Repository) notificationdomain.RecipientResolver {
	return &recipientResolver{db: db, repo: repo}
}

func (r *recipientResolver) Resolve(ctx context.Context, userID snowflake.ID) (*notificationdomain.Recipient, error) {
	customer, err := r.repo.FindByUserID(ctx, r.db, userID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNotFound
	}
	return &notificationdomain.Recipient{Email: customer.Email, Name: customer.Name}, nil
}
