package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	notificationdomain "github.com/smallbiznis/stitchery/internal/notification/domain"
	orderdomain "github.com/smallbiznis/stitchery/internal/order/domain"
	"gorm.io/gorm"
)

type sentMarker struct {
	db   *gorm.DB
	repo orderdomain.Repository
}

// NewSentMarker lets the dispatcher flag delivered order notifications
// without depending on the order service.
func NewSentMarker(db *gorm.DB, repo orderdomain.Repository) notificationdomain.SentMarker {
	return &sentMarker{db: db, repo: repo}
}

func (m *sentMarker) MarkNotificationSent(ctx context.Context, orderID snowflake.ID, status string, at time.Time) error {
	return m.repo.MarkNotificationSent(ctx, m.db, orderID, orderdomain.Status(status), at)
}
