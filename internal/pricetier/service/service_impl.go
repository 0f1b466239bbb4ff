package service

import (
	"context"
	"math"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	pricetierdomain "github.com/smallbiznis/stitchery/internal/pricetier/domain"
	pkgdb "github.com/smallbiznis/stitchery/pkg/db"
	pkgrepository "github.com/smallbiznis/stitchery/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    pricetierdomain.Repository
	Economy *config.EconomyHolder
}

type Service struct {
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    pricetierdomain.Repository
	economy *config.EconomyHolder
}

func New(p Params) pricetierdomain.Service {
	return &Service{
		log:     p.Log.Named("pricetier.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		economy: p.Economy,
	}
}

func (s *Service) Create(ctx context.Context, req pricetierdomain.CreateRequest) (*pricetierdomain.Response, error) {
	if req.SizeCM <= 0 {
		return nil, pricetierdomain.ErrInvalidSize
	}
	if req.Price < 0 {
		return nil, pricetierdomain.ErrInvalidPrice
	}
	if err := s.ensureSizeFree(ctx, req.SizeCM, 0); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entity := &pricetierdomain.PricingTier{
		ID:        s.genID.Generate(),
		SizeCM:    req.SizeCM,
		Price:     req.Price,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, entity); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, pricetierdomain.ErrSizeTaken
		}
		return nil, err
	}

	s.log.Info("pricing tier created", zap.Int("size_cm", entity.SizeCM), zap.Int64("price", entity.Price))
	return toResponse(entity), nil
}

func (s *Service) Update(ctx context.Context, id string, req pricetierdomain.UpdateRequest) (*pricetierdomain.Response, error) {
	entity, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if req.SizeCM != nil {
		if *req.SizeCM <= 0 {
			return nil, pricetierdomain.ErrInvalidSize
		}
		if *req.SizeCM != entity.SizeCM {
			if err := s.ensureSizeFree(ctx, *req.SizeCM, entity.ID); err != nil {
				return nil, err
			}
		}
		fields["size_cm"] = *req.SizeCM
		entity.SizeCM = *req.SizeCM
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return nil, pricetierdomain.ErrInvalidPrice
		}
		fields["price"] = *req.Price
		entity.Price = *req.Price
	}
	if len(fields) == 0 {
		return toResponse(entity), nil
	}

	entity.UpdatedAt = s.clock.Now()
	fields["updated_at"] = entity.UpdatedAt
	if err := s.repo.Update(ctx, entity.ID, fields); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, pricetierdomain.ErrSizeTaken
		}
		return nil, err
	}
	return toResponse(entity), nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	entity, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, entity.ID)
}

func (s *Service) List(ctx context.Context) ([]pricetierdomain.Response, error) {
	items, err := s.repo.Find(ctx, nil, pkgrepository.WithOrder("size_cm ASC"))
	if err != nil {
		return nil, err
	}
	resp := make([]pricetierdomain.Response, 0, len(items))
	for _, item := range items {
		resp = append(resp, *toResponse(item))
	}
	return resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*pricetierdomain.Response, error) {
	entity, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return toResponse(entity), nil
}

func (s *Service) Quote(ctx context.Context, size float64) (*pricetierdomain.Quote, error) {
	if math.IsNaN(size) || math.IsInf(size, 0) || size <= 0 {
		return nil, pricetierdomain.ErrInvalidSize
	}
	table, err := s.Table(ctx)
	if err != nil {
		return nil, err
	}
	return &pricetierdomain.Quote{
		SizeCM:   size,
		Price:    table.Price(size),
		Fallback: len(table.Tiers()) == 0,
	}, nil
}

func (s *Service) Table(ctx context.Context) (pricetierdomain.Table, error) {
	items, err := s.repo.Find(ctx, nil)
	if err != nil {
		return pricetierdomain.Table{}, err
	}
	tiers := make([]pricetierdomain.PricingTier, 0, len(items))
	for _, item := range items {
		tiers = append(tiers, *item)
	}
	return pricetierdomain.NewTable(tiers, s.economy.Get().FallbackPrice), nil
}

func (s *Service) find(ctx context.Context, id string) (*pricetierdomain.PricingTier, error) {
	tierID, err := parseID(id)
	if err != nil {
		return nil, pricetierdomain.ErrInvalidID
	}
	entity, err := s.repo.FindByID(ctx, tierID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, pricetierdomain.ErrNotFound
	}
	return entity, nil
}

func (s *Service) ensureSizeFree(ctx context.Context, size int, self snowflake.ID) error {
	existing, err := s.repo.FindOne(ctx, &pricetierdomain.PricingTier{SizeCM: size})
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return pricetierdomain.ErrSizeTaken
	}
	return nil
}

func toResponse(t *pricetierdomain.PricingTier) *pricetierdomain.Response {
	return &pricetierdomain.Response{
		ID:        t.ID.String(),
		SizeCM:    t.SizeCM,
		Price:     t.Price,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func parseID(value string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(value))
}
