package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/stitchery/internal/clock"
	designdomain "github.com/smallbiznis/stitchery/internal/design/domain"
	featuredomain "github.com/smallbiznis/stitchery/internal/feature/domain"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	pkgdb "github.com/smallbiznis/stitchery/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       featuredomain.Repository
	DesignRepo designdomain.Repository
	Ledger     ledgerdomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       featuredomain.Repository
	designRepo designdomain.Repository
	ledger     ledgerdomain.Service
}

func New(p Params) featuredomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("feature.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		designRepo: p.DesignRepo,
		ledger:     p.Ledger,
	}
}

func (s *Service) Create(ctx context.Context, req featuredomain.CreateRequest) (*featuredomain.Feature, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, featuredomain.ErrInvalidName
	}
	code := slug.Make(strings.TrimSpace(req.Code))
	if code == "" {
		code = slug.Make(name)
	}
	if code == "" {
		return nil, featuredomain.ErrInvalidCode
	}
	category := featuredomain.Category(strings.ToLower(strings.TrimSpace(string(req.Category))))
	if !category.Valid() {
		return nil, featuredomain.ErrInvalidCategory
	}
	tokens := featuredomain.DefaultTokensRequired
	if req.TokensRequired != nil {
		tokens = *req.TokensRequired
	}
	if tokens < 0 {
		return nil, featuredomain.ErrInvalidTokens
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	if err := s.ensureUnique(ctx, 0, code, name); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	feature := &featuredomain.Feature{
		ID:             s.genID.Generate(),
		Code:           code,
		Name:           name,
		Description:    strings.TrimSpace(req.Description),
		Category:       category,
		TokensRequired: tokens,
		IsActive:       active,
		IsPopular:      req.IsPopular,
		SortOrder:      req.SortOrder,
		IconEmoji:      strings.TrimSpace(req.IconEmoji),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Metadata != nil {
		feature.Metadata = datatypes.JSONMap(req.Metadata)
	}

	if err := s.repo.Insert(ctx, s.db, feature); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, featuredomain.ErrNameTaken
		}
		return nil, err
	}
	return feature, nil
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req featuredomain.UpdateRequest) (*featuredomain.Feature, error) {
	feature, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, featuredomain.ErrInvalidName
		}
		if !strings.EqualFold(name, feature.Name) {
			code := slug.Make(name)
			if err := s.ensureUnique(ctx, feature.ID, code, name); err != nil {
				return nil, err
			}
			feature.Code = code
		}
		feature.Name = name
	}
	if req.Description != nil {
		feature.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		category := featuredomain.Category(strings.ToLower(strings.TrimSpace(string(*req.Category))))
		if !category.Valid() {
			return nil, featuredomain.ErrInvalidCategory
		}
		feature.Category = category
	}
	if req.TokensRequired != nil {
		if *req.TokensRequired < 0 {
			return nil, featuredomain.ErrInvalidTokens
		}
		feature.TokensRequired = *req.TokensRequired
	}
	if req.IsActive != nil {
		feature.IsActive = *req.IsActive
	}
	if req.IsPopular != nil {
		feature.IsPopular = *req.IsPopular
	}
	if req.SortOrder != nil {
		feature.SortOrder = *req.SortOrder
	}
	if req.IconEmoji != nil {
		feature.IconEmoji = strings.TrimSpace(*req.IconEmoji)
	}
	if req.Metadata != nil {
		feature.Metadata = datatypes.JSONMap(req.Metadata)
	}

	feature.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, feature); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, featuredomain.ErrNameTaken
		}
		return nil, err
	}
	return feature, nil
}

func (s *Service) Deactivate(ctx context.Context, id snowflake.ID) (*featuredomain.Feature, error) {
	inactive := false
	return s.Update(ctx, id, featuredomain.UpdateRequest{IsActive: &inactive})
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*featuredomain.Feature, error) {
	feature, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if feature == nil {
		return nil, featuredomain.ErrNotFound
	}
	return feature, nil
}

func (s *Service) List(ctx context.Context, req featuredomain.ListRequest) ([]featuredomain.Feature, error) {
	if req.Category != "" && !req.Category.Valid() {
		return nil, featuredomain.ErrInvalidCategory
	}
	return s.repo.List(ctx, s.db, req)
}

func (s *Service) Stats(ctx context.Context) ([]featuredomain.Stats, error) {
	return s.repo.Stats(ctx, s.db)
}

func (s *Service) Attach(ctx context.Context, userID, designID, featureID snowflake.ID) (*featuredomain.AttachResult, error) {
	var result *featuredomain.AttachResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		design, err := s.lockDesign(ctx, tx, userID, designID)
		if err != nil {
			return err
		}

		feature, err := s.repo.FindByID(ctx, tx, featureID)
		if err != nil {
			return err
		}
		if feature == nil {
			return featuredomain.ErrNotFound
		}
		if !feature.IsActive {
			return featuredomain.ErrFeatureInactive.WithDetails(map[string]any{"feature_id": feature.ID.String()})
		}

		existing, err := s.repo.FindUsage(ctx, tx, designID, featureID)
		if err != nil {
			return err
		}
		if existing != nil {
			return alreadyApplied(design.ID, feature)
		}

		now := s.clock.Now()
		usage := featuredomain.Usage{
			ID:          s.genID.Generate(),
			DesignID:    design.ID,
			FeatureID:   feature.ID,
			UserID:      userID,
			TokensSpent: feature.TokensRequired,
			CreatedAt:   now,
		}

		ledger := s.ledger.WithTx(tx)
		var balance int64
		if feature.TokensRequired > 0 {
			posting, err := ledger.Debit(ctx, ledgerdomain.PostingRequest{
				UserID:        userID,
				Kind:          ledgerdomain.KindFeatureUsage,
				Amount:        feature.TokensRequired,
				Description:   "Feature: " + feature.Name + " on " + design.Name,
				ReferenceType: "feature_usage",
				ReferenceID:   &usage.ID,
			})
			if err != nil {
				return err
			}
			txnID := posting.Transaction.ID
			usage.TransactionID = &txnID
			balance = posting.Balance
		} else {
			if balance, err = ledger.Balance(ctx, userID); err != nil {
				return err
			}
		}

		if err := s.repo.InsertUsage(ctx, tx, &usage); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return alreadyApplied(design.ID, feature)
			}
			return err
		}
		if err := s.designRepo.AddTokensUsed(ctx, tx, design.ID, feature.TokensRequired, now); err != nil {
			return err
		}

		result = &featuredomain.AttachResult{
			Usage:            usage,
			Balance:          balance,
			DesignTokensUsed: design.TokensUsed + feature.TokensRequired,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("feature attached",
		zap.String("user_id", userID.String()),
		zap.String("design_id", designID.String()),
		zap.String("feature_id", featureID.String()),
		zap.Int64("amount", result.Usage.TokensSpent),
		zap.String("kind", string(ledgerdomain.KindFeatureUsage)),
	)
	return result, nil
}

func (s *Service) Detach(ctx context.Context, userID, designID, featureID snowflake.ID) (*featuredomain.DetachResult, error) {
	var result *featuredomain.DetachResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		design, err := s.lockDesign(ctx, tx, userID, designID)
		if err != nil {
			return err
		}

		usage, err := s.repo.FindUsage(ctx, tx, designID, featureID)
		if err != nil {
			return err
		}
		if usage == nil {
			return featuredomain.ErrNotApplied.WithDetails(map[string]any{
				"design_id":  designID.String(),
				"feature_id": featureID.String(),
			})
		}

		ledger := s.ledger.WithTx(tx)
		var balance int64
		if usage.TokensSpent > 0 && usage.TransactionID != nil {
			posting, err := ledger.Refund(ctx, ledgerdomain.RefundRequest{
				UserID:         userID,
				Kind:           ledgerdomain.KindFeatureRefund,
				Amount:         usage.TokensSpent,
				TransactionID:  *usage.TransactionID,
				Note:           "feature removed",
				ReferenceType:  "feature_usage",
				ReferenceID:    &usage.ID,
				IdempotencyKey: "feature_refund:" + usage.ID.String(),
			})
			if err != nil {
				return err
			}
			balance = posting.Balance
		} else {
			if balance, err = ledger.Balance(ctx, userID); err != nil {
				return err
			}
		}

		if err := s.designRepo.AddTokensUsed(ctx, tx, design.ID, -usage.TokensSpent, s.clock.Now()); err != nil {
			return err
		}
		if err := s.repo.DeleteUsage(ctx, tx, usage.ID); err != nil {
			return err
		}

		remaining := design.TokensUsed - usage.TokensSpent
		if remaining < 0 {
			remaining = 0
		}
		result = &featuredomain.DetachResult{
			Refunded:         usage.TokensSpent,
			Balance:          balance,
			DesignTokensUsed: remaining,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("feature detached",
		zap.String("user_id", userID.String()),
		zap.String("design_id", designID.String()),
		zap.String("feature_id", featureID.String()),
		zap.Int64("amount", result.Refunded),
		zap.String("kind", string(ledgerdomain.KindFeatureRefund)),
	)
	return result, nil
}

func (s *Service) ListApplied(ctx context.Context, userID, designID snowflake.ID) ([]featuredomain.AppliedFeature, error) {
	design, err := s.designRepo.FindByID(ctx, s.db, designID)
	if err != nil {
		return nil, err
	}
	if design == nil || design.UserID != userID {
		return nil, featuredomain.ErrDesignNotFound
	}
	return s.repo.ListApplied(ctx, s.db, designID)
}

// lockDesign serializes feature changes on one design and checks ownership.
func (s *Service) lockDesign(ctx context.Context, tx *gorm.DB, userID, designID snowflake.ID) (*designdomain.Design, error) {
	design, err := s.designRepo.FindForUpdate(ctx, tx, designID)
	if err != nil {
		return nil, err
	}
	if design == nil || design.UserID != userID {
		return nil, featuredomain.ErrDesignNotFound
	}
	if !design.Status.Orderable() {
		return nil, featuredomain.ErrDesignLocked.WithDetails(map[string]any{
			"design_id": design.ID.String(),
			"status":    string(design.Status),
		})
	}
	return design, nil
}

func (s *Service) ensureUnique(ctx context.Context, self snowflake.ID, code, name string) error {
	existing, err := s.repo.FindByCodeOrName(ctx, s.db, code, name)
	if err != nil {
		return err
	}
	for _, item := range existing {
		if item.ID != self {
			return featuredomain.ErrNameTaken.WithDetails(map[string]any{"code": code})
		}
	}
	return nil
}

func alreadyApplied(designID snowflake.ID, feature *featuredomain.Feature) error {
	return featuredomain.ErrAlreadyApplied.WithDetails(map[string]any{
		"design_id":  designID.String(),
		"feature_id": feature.ID.String(),
		"feature":    feature.Name,
	})
}
