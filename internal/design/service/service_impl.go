package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	designdomain "github.com/smallbiznis/stitchery/internal/design/domain"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	"github.com/smallbiznis/stitchery/internal/providers/imagegen"
	"github.com/smallbiznis/stitchery/internal/ratelimit"
	"github.com/smallbiznis/stitchery/internal/storage"
	"github.com/smallbiznis/stitchery/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const generatedNameLimit = 50

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      designdomain.Repository
	Ledger    ledgerdomain.Service
	Generator imagegen.Generator
	Storage   storage.Storage
	Limiter   *ratelimit.GenerationLimiter `optional:"true"`
	Economy   *config.EconomyHolder
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      designdomain.Repository
	ledger    ledgerdomain.Service
	generator imagegen.Generator
	storage   storage.Storage
	limiter   *ratelimit.GenerationLimiter
	economy   *config.EconomyHolder
}

func New(p Params) designdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("design.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		ledger:    p.Ledger,
		generator: p.Generator,
		storage:   p.Storage,
		limiter:   p.Limiter,
		economy:   p.Economy,
	}
}

func (s *Service) Create(ctx context.Context, userID snowflake.ID, req designdomain.CreateRequest) (*designdomain.Design, error) {
	if userID == 0 {
		return nil, designdomain.ErrInvalidUser
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, designdomain.ErrInvalidName
	}
	size, err := normalizeSize(req.SizeCM)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	design := &designdomain.Design{
		ID:              s.genID.Generate(),
		UserID:          userID,
		Name:            name,
		Prompt:          strings.TrimSpace(req.Prompt),
		MachineBrand:    strings.TrimSpace(req.MachineBrand),
		RequestedFormat: strings.ToLower(strings.TrimSpace(req.RequestedFormat)),
		SizeCM:          size,
		Status:          designdomain.StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, design); err != nil {
		return nil, err
	}
	return design, nil
}

func (s *Service) Get(ctx context.Context, userID, id snowflake.ID) (*designdomain.Design, error) {
	return s.owned(ctx, s.db, userID, id)
}

func (s *Service) List(ctx context.Context, userID snowflake.ID, req designdomain.ListRequest) (*designdomain.ListResponse, error) {
	if userID == 0 {
		return nil, designdomain.ErrInvalidUser
	}
	filter := designdomain.ListFilter{}
	if status := strings.TrimSpace(req.Status); status != "" {
		filter.Status = designdomain.Status(strings.ToLower(status))
		if !filter.Status.Valid() {
			return nil, designdomain.ErrInvalidStatus
		}
	}

	items, err := s.repo.List(ctx, s.db, userID, filter, req.Pagination)
	if err != nil {
		return nil, err
	}
	designs, info := pagination.Trim(items, req.Pagination)
	return &designdomain.ListResponse{PageInfo: info, Designs: designs}, nil
}

func (s *Service) Update(ctx context.Context, userID, id snowflake.ID, req designdomain.UpdateRequest) (*designdomain.Design, error) {
	var design *designdomain.Design
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.ownedForUpdate(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if !current.Status.Orderable() {
			return designdomain.ErrNotEditable.WithDetails(map[string]any{"status": string(current.Status)})
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return designdomain.ErrInvalidName
			}
			current.Name = name
		}
		if req.MachineBrand != nil {
			current.MachineBrand = strings.TrimSpace(*req.MachineBrand)
		}
		if req.RequestedFormat != nil {
			current.RequestedFormat = strings.ToLower(strings.TrimSpace(*req.RequestedFormat))
		}
		if req.SizeCM != nil {
			if !designdomain.ValidSize(*req.SizeCM) {
				return designdomain.ErrInvalidSize
			}
			current.SizeCM = *req.SizeCM
		}
		current.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateDetails(ctx, tx, current); err != nil {
			return err
		}
		design = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return design, nil
}

func (s *Service) Delete(ctx context.Context, userID, id snowflake.ID) error {
	var keys []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		design, err := s.ownedForUpdate(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if !design.Status.Orderable() {
			return designdomain.ErrNotEditable.WithDetails(map[string]any{"status": string(design.Status)})
		}
		keys = []string{design.NormalImageKey, design.PreviewImageKey}
		return s.repo.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.storage.Delete(ctx, key); err != nil {
			s.log.Warn("failed to delete design image", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) Generate(ctx context.Context, userID snowflake.ID, req designdomain.GenerateRequest) (*designdomain.GenerateResult, error) {
	if userID == 0 {
		return nil, designdomain.ErrInvalidUser
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, designdomain.ErrInvalidPrompt
	}
	size, err := normalizeSize(req.SizeCM)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Allow(ctx, userID); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "AI Generated: " + truncate(prompt, generatedNameLimit)
	}
	cost := s.economy.Get().GenerationCost

	now := s.clock.Now()
	design := &designdomain.Design{
		ID:         s.genID.Generate(),
		UserID:     userID,
		Name:       name,
		Prompt:     prompt,
		SizeCM:     size,
		Status:     designdomain.StatusDraft,
		TokensUsed: cost,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var balance int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cost > 0 {
			posting, err := s.ledger.WithTx(tx).Debit(ctx, ledgerdomain.PostingRequest{
				UserID:        userID,
				Kind:          ledgerdomain.KindUsage,
				Amount:        cost,
				Description:   "AI design generation: " + name,
				ReferenceType: "design",
				ReferenceID:   &design.ID,
			})
			if err != nil {
				return err
			}
			txnID := posting.Transaction.ID
			design.GenerationTransactionID = &txnID
			balance = posting.Balance
		} else {
			current, err := s.ledger.WithTx(tx).Balance(ctx, userID)
			if err != nil {
				return err
			}
			balance = current
		}
		return s.repo.Insert(ctx, tx, design)
	})
	if err != nil {
		return nil, err
	}

	result, genErr := s.generator.Generate(ctx, imagegen.Request{Prompt: prompt, SizeCM: size})
	if genErr == nil {
		genErr = s.storeImages(ctx, design, result)
	}
	if genErr != nil {
		refunded, err := s.refundGeneration(ctx, design, cost)
		if err != nil {
			s.log.Error("failed to refund generation attempt",
				zap.String("design_id", design.ID.String()),
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
			return nil, errors.Join(genErr, err)
		}
		s.log.Warn("design generation failed",
			zap.String("design_id", design.ID.String()),
			zap.String("user_id", userID.String()),
			zap.Int64("refunded", refunded),
			zap.Error(genErr),
		)
		return nil, genErr
	}

	s.log.Info("design generated",
		zap.String("design_id", design.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Int64("amount", cost),
	)
	return &designdomain.GenerateResult{Design: design, Balance: balance}, nil
}

func (s *Service) OpenImage(ctx context.Context, userID, id snowflake.ID, variant designdomain.ImageVariant) (io.ReadCloser, *storage.Object, error) {
	design, err := s.owned(ctx, s.db, userID, id)
	if err != nil {
		return nil, nil, err
	}
	var key string
	switch variant {
	case designdomain.ImageNormal, "":
		key = design.NormalImageKey
	case designdomain.ImagePreview:
		key = design.PreviewImageKey
	default:
		return nil, nil, designdomain.ErrInvalidVariant
	}
	if key == "" {
		return nil, nil, designdomain.ErrImageNotFound
	}
	body, obj, err := s.storage.Get(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil, designdomain.ErrImageNotFound
	}
	return body, obj, err
}

func (s *Service) storeImages(ctx context.Context, design *designdomain.Design, result *imagegen.Result) error {
	if result == nil || len(result.Image) == 0 {
		return fmt.Errorf("%w: no image returned", imagegen.ErrGenerationFailed)
	}
	preview := result.Preview
	if len(preview) == 0 {
		preview = result.Image
	}
	contentType := result.ContentType
	if contentType == "" {
		contentType = "image/png"
	}

	prefix := fmt.Sprintf("designs/%s/%s", design.UserID, design.ID)
	normalKey := fmt.Sprintf("%s/%s-normal.png", prefix, uuid.NewString())
	previewKey := fmt.Sprintf("%s/%s-preview.png", prefix, uuid.NewString())

	if err := s.storage.Put(ctx, normalKey, bytes.NewReader(result.Image), int64(len(result.Image)), contentType); err != nil {
		return err
	}
	if err := s.storage.Put(ctx, previewKey, bytes.NewReader(preview), int64(len(preview)), contentType); err != nil {
		return err
	}

	now := s.clock.Now()
	if err := s.repo.UpdateImages(ctx, s.db, design.ID, normalKey, previewKey, designdomain.StatusReady, now); err != nil {
		return err
	}
	design.NormalImageKey = normalKey
	design.PreviewImageKey = previewKey
	design.Status = designdomain.StatusReady
	design.UpdatedAt = now
	return nil
}

func (s *Service) refundGeneration(ctx context.Context, design *designdomain.Design, cost int64) (int64, error) {
	if cost <= 0 || design.GenerationTransactionID == nil {
		return 0, nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.ledger.WithTx(tx).Refund(ctx, ledgerdomain.RefundRequest{
			UserID:         design.UserID,
			Kind:           ledgerdomain.KindRefund,
			Amount:         cost,
			TransactionID:  *design.GenerationTransactionID,
			Note:           "generation failed",
			ReferenceType:  "design",
			ReferenceID:    &design.ID,
			IdempotencyKey: "generation_refund:" + design.ID.String(),
		})
		if err != nil {
			return err
		}
		return s.repo.AddTokensUsed(ctx, tx, design.ID, -cost, s.clock.Now())
	})
	if err != nil {
		return 0, err
	}
	design.TokensUsed = 0
	return cost, nil
}

func (s *Service) owned(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*designdomain.Design, error) {
	design, err := s.repo.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if design == nil || design.UserID != userID {
		return nil, designdomain.ErrNotFound
	}
	return design, nil
}

func (s *Service) ownedForUpdate(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*designdomain.Design, error) {
	design, err := s.repo.FindForUpdate(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if design == nil || design.UserID != userID {
		return nil, designdomain.ErrNotFound
	}
	return design, nil
}

func normalizeSize(size int) (int, error) {
	if size == 0 {
		return designdomain.DefaultSizeCM, nil
	}
	if !designdomain.ValidSize(size) {
		return 0, designdomain.ErrInvalidSize.WithDetails(map[string]any{
			"min": designdomain.MinSizeCM,
			"max": designdomain.MaxSizeCM,
		})
	}
	return size, nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
