package service

import (
	"context"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	"github.com/smallbiznis/stitchery/internal/customer/domain"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	notificationdomain "github.com/smallbiznis/stitchery/internal/notification/domain"
	"github.com/smallbiznis/stitchery/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Repo     domain.Repository
	Ledger   ledgerdomain.Service
	Economy  *config.EconomyHolder
	Notifier notificationdomain.Notifier `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	ledger   ledgerdomain.Service
	economy  *config.EconomyHolder
	notifier notificationdomain.Notifier
}

func New(p Params) domain.Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notificationdomain.Noop()
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("customer.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		ledger:   p.Ledger,
		economy:  p.Economy,
		notifier: notifier,
	}
}

// Activate records the verified profile and grants the welcome bonus once per user.
func (s *Service) Activate(ctx context.Context, req domain.ActivateRequest) (*domain.ActivateResult, error) {
	if req.UserID == 0 {
		return nil, domain.ErrInvalidUser
	}
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}
	name := strings.TrimSpace(req.Name)

	now := s.clock.Now()
	customer := domain.Customer{
		UserID:      req.UserID,
		Email:       email,
		Name:        name,
		ActivatedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	bonus := s.economy.Get().WelcomeBonus
	var result *domain.ActivateResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Upsert(ctx, tx, &customer); err != nil {
			return err
		}
		stored, err := s.repo.FindByUserID(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if stored != nil {
			customer = *stored
		}

		ledger := s.ledger.WithTx(tx)
		result = &domain.ActivateResult{Customer: customer}
		if bonus <= 0 {
			account, err := ledger.EnsureAccount(ctx, req.UserID)
			if err != nil {
				return err
			}
			result.Balance = account.Balance
			return nil
		}

		posting, err := ledger.Credit(ctx, ledgerdomain.PostingRequest{
			UserID:         req.UserID,
			Kind:           ledgerdomain.KindWelcomeBonus,
			Amount:         bonus,
			Description:    "Welcome bonus",
			ReferenceType:  "customer",
			ReferenceID:    &customer.UserID,
			IdempotencyKey: "welcome_bonus:" + req.UserID.String(),
		})
		if err != nil {
			return err
		}
		result.BonusGranted = !posting.Replayed
		result.Balance = posting.Balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.BonusGranted {
		s.log.Info("welcome bonus granted",
			zap.String("user_id", req.UserID.String()),
			zap.Int64("amount", bonus),
			zap.String("kind", string(ledgerdomain.KindWelcomeBonus)),
		)
		s.notifier.Notify(ctx, notificationdomain.Event{
			Kind:    notificationdomain.KindWelcome,
			UserID:  req.UserID,
			Tokens:  bonus,
			Balance: result.Balance,
			At:      now,
		})
	}
	return result, nil
}

func (s *Service) Get(ctx context.Context, userID snowflake.ID) (*domain.Customer, error) {
	customer, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNotFound
	}
	return customer, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (*domain.ListResponse, error) {
	items, err := s.repo.List(ctx, s.db, domain.ListFilter{Email: req.Email}, req.Pagination)
	if err != nil {
		return nil, err
	}
	customers, info := pagination.Trim(items, req.Pagination)
	return &domain.ListResponse{PageInfo: info, Customers: customers}, nil
}
