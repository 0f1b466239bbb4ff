package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/apperror"
	cartdomain "github.com/smallbiznis/stitchery/internal/cart/domain"
	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	designdomain "github.com/smallbiznis/stitchery/internal/design/domain"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	notificationdomain "github.com/smallbiznis/stitchery/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/stitchery/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/stitchery/internal/order/domain"
	pricetierdomain "github.com/smallbiznis/stitchery/internal/pricetier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       cartdomain.Repository
	DesignRepo designdomain.Repository
	OrderRepo  orderdomain.Repository
	Pricing    pricetierdomain.Service
	Ledger     ledgerdomain.Service
	Economy    *config.EconomyHolder
	Notifier   notificationdomain.Notifier `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       cartdomain.Repository
	designRepo designdomain.Repository
	orderRepo  orderdomain.Repository
	pricing    pricetierdomain.Service
	ledger     ledgerdomain.Service
	economy    *config.EconomyHolder
	notifier   notificationdomain.Notifier
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) cartdomain.Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notificationdomain.Noop()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("cart.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		designRepo: p.DesignRepo,
		orderRepo:  p.OrderRepo,
		pricing:    p.Pricing,
		ledger:     p.Ledger,
		economy:    p.Economy,
		notifier:   notifier,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Add(ctx context.Context, userID snowflake.ID, req cartdomain.AddRequest) (*cartdomain.Item, error) {
	if req.DesignID == 0 {
		return nil, cartdomain.ErrInvalidDesign
	}
	if req.SizeCM != nil && !designdomain.ValidSize(*req.SizeCM) {
		return nil, cartdomain.ErrInvalidSize.WithDetails(map[string]any{
			"min": designdomain.MinSizeCM,
			"max": designdomain.MaxSizeCM,
		})
	}

	var item *cartdomain.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		design, err := s.designRepo.FindForUpdate(ctx, tx, req.DesignID)
		if err != nil {
			return err
		}
		if design == nil || design.UserID != userID {
			return cartdomain.ErrDesignNotFound
		}
		if !design.Status.Orderable() {
			return notOrderable(design)
		}

		now := s.clock.Now()
		size := design.SizeCM
		if req.SizeCM != nil && *req.SizeCM != design.SizeCM {
			size = *req.SizeCM
			if err := s.designRepo.SetSize(ctx, tx, design.ID, size, now); err != nil {
				return err
			}
		}

		if err := s.repo.Upsert(ctx, tx, &cartdomain.Item{
			ID:        s.genID.Generate(),
			UserID:    userID,
			DesignID:  design.ID,
			SizeCM:    size,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		item, err = s.repo.FindByDesign(ctx, tx, userID, design.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) Remove(ctx context.Context, userID, itemID snowflake.ID) error {
	n, err := s.repo.Delete(ctx, s.db, userID, itemID)
	if err != nil {
		return err
	}
	if n == 0 {
		return cartdomain.ErrItemNotFound
	}
	return nil
}

func (s *Service) RemoveDesign(ctx context.Context, userID, designID snowflake.ID) error {
	n, err := s.repo.DeleteByDesign(ctx, s.db, userID, designID)
	if err != nil {
		return err
	}
	if n == 0 {
		return cartdomain.ErrItemNotFound
	}
	return nil
}

func (s *Service) Clear(ctx context.Context, userID snowflake.ID) error {
	return s.repo.DeleteByUser(ctx, s.db, userID)
}

func (s *Service) List(ctx context.Context, userID snowflake.ID) (*cartdomain.View, error) {
	items, err := s.repo.ListByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	designs, err := s.designsFor(ctx, s.db, items)
	if err != nil {
		return nil, err
	}
	table, err := s.pricing.Table(ctx)
	if err != nil {
		return nil, err
	}

	view := &cartdomain.View{Items: make([]cartdomain.Line, 0, len(items))}
	for _, item := range items {
		line := cartdomain.Line{Item: item}
		design, ok := designs[item.DesignID]
		switch {
		case !ok || design.UserID != userID:
			line.Reason = cartdomain.ReasonDesignMissing
		case !design.Status.Orderable():
			line.DesignName = design.Name
			line.DesignStatus = string(design.Status)
			line.Reason = cartdomain.ReasonNotOrderable
		default:
			line.DesignName = design.Name
			line.DesignStatus = string(design.Status)
			line.SizeCM = design.SizeCM
			line.Price = table.Price(float64(design.SizeCM))
			line.Valid = true
			view.Total += line.Price
		}
		view.Items = append(view.Items, line)
	}

	if view.Balance, err = s.ledger.Balance(ctx, userID); err != nil {
		return nil, err
	}
	return view, nil
}

// Checkout converts every orderable cart line into a submitted order with a
// single debit. Lines whose design vanished or left draft/ready are pruned
// first, and stay pruned even when checkout fails.
func (s *Service) Checkout(ctx context.Context, userID snowflake.ID, req cartdomain.CheckoutRequest) (*cartdomain.CheckoutResult, error) {
	settings := s.economy.Get()
	requested := req.Formats
	if len(requested) == 0 {
		requested = settings.DefaultFormats
	}
	formats := orderdomain.NormalizeFormats(requested)
	if len(formats) == 0 {
		s.obsMetrics.RecordCheckout(ctx, "invalid_formats")
		return nil, orderdomain.ErrNoFormats.WithDetails(map[string]any{"formats": req.Formats})
	}

	valid, discarded, err := s.prune(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		s.obsMetrics.RecordCheckout(ctx, "empty_cart")
		return nil, cartdomain.EmptyCart(discarded)
	}

	table, err := s.pricing.Table(ctx)
	if err != nil {
		return nil, err
	}

	result := &cartdomain.CheckoutResult{Discarded: discarded}
	names := make(map[snowflake.ID]string, len(valid))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		designs := make([]*designdomain.Design, 0, len(valid))
		for _, item := range valid {
			design, err := s.designRepo.FindForUpdate(ctx, tx, item.DesignID)
			if err != nil {
				return err
			}
			if design == nil || design.UserID != userID {
				return cartdomain.ErrDesignNotFound.WithDetails(map[string]any{"design_id": item.DesignID.String()})
			}
			if !design.Status.Orderable() {
				return notOrderable(design)
			}
			designs = append(designs, design)
			names[design.ID] = design.Name
		}

		prices := make([]int64, len(designs))
		var total int64
		for i, design := range designs {
			prices[i] = table.Price(float64(design.SizeCM))
			total += prices[i]
		}

		balance, err := s.ledger.WithTx(tx).Balance(ctx, userID)
		if err != nil {
			return err
		}
		if total > 0 {
			posting, err := s.ledger.WithTx(tx).Debit(ctx, ledgerdomain.PostingRequest{
				UserID:        userID,
				Kind:          ledgerdomain.KindUsage,
				Amount:        total,
				Description:   fmt.Sprintf("Checkout of %d design(s)", len(designs)),
				ReferenceType: "checkout",
			})
			if err != nil {
				return err
			}
			balance = posting.Balance
		}

		now := s.clock.Now()
		year := now.Year()
		prefix := settings.OrderPrefix
		if prefix == "" {
			prefix = orderdomain.DefaultNumberPrefix
		}
		ids := make([]snowflake.ID, 0, len(designs))
		for i, design := range designs {
			seq, err := s.orderRepo.NextSequence(ctx, tx, prefix, year)
			if err != nil {
				return err
			}
			order := orderdomain.Order{
				ID:               s.genID.Generate(),
				Number:           orderdomain.FormatNumber(prefix, year, seq),
				UserID:           userID,
				DesignID:         design.ID,
				Status:           orderdomain.StatusSubmitted,
				SizeCM:           design.SizeCM,
				TokensUsed:       prices[i],
				RequestedFormats: formats,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := s.orderRepo.Insert(ctx, tx, &order); err != nil {
				return err
			}
			result.Orders = append(result.Orders, order)
			ids = append(ids, design.ID)
		}

		flipped, err := s.designRepo.MarkProcessing(ctx, tx, ids, now)
		if err != nil {
			return err
		}
		if flipped != int64(len(ids)) {
			return cartdomain.ErrNotOrderable
		}
		if err := s.repo.DeleteByUser(ctx, tx, userID); err != nil {
			return err
		}

		result.TokensSpent = total
		result.Balance = balance
		return nil
	})
	if err != nil {
		s.obsMetrics.RecordCheckout(ctx, checkoutOutcome(err))
		return nil, err
	}

	s.obsMetrics.RecordCheckout(ctx, "success")
	s.log.Info("checkout completed",
		zap.String("user_id", userID.String()),
		zap.Int64("amount", result.TokensSpent),
		zap.String("kind", string(ledgerdomain.KindUsage)),
		zap.Int("orders", len(result.Orders)),
		zap.Int("discarded", len(discarded)),
	)
	for i := range result.Orders {
		order := &result.Orders[i]
		s.notifier.Notify(ctx, notificationdomain.Event{
			Kind:        notificationdomain.KindOrderSubmitted,
			UserID:      userID,
			OrderID:     order.ID,
			OrderNumber: order.Number,
			OrderStatus: string(order.Status),
			DesignName:  names[order.DesignID],
			Formats:     upperAll(formats),
			Tokens:      order.TokensUsed,
			Balance:     result.Balance,
			At:          order.CreatedAt,
		})
	}
	return result, nil
}

// prune deletes lines that can no longer be ordered in its own transaction,
// so they are gone regardless of how checkout ends.
func (s *Service) prune(ctx context.Context, userID snowflake.ID) ([]cartdomain.Item, []cartdomain.Discarded, error) {
	var (
		valid     []cartdomain.Item
		discarded []cartdomain.Discarded
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items, err := s.repo.ListByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		designs, err := s.designsFor(ctx, tx, items)
		if err != nil {
			return err
		}

		var stale []snowflake.ID
		for _, item := range items {
			design, ok := designs[item.DesignID]
			reason := ""
			switch {
			case !ok || design.UserID != userID:
				reason = cartdomain.ReasonDesignMissing
			case !design.Status.Orderable():
				reason = cartdomain.ReasonNotOrderable
			}
			if reason == "" {
				valid = append(valid, item)
				continue
			}
			stale = append(stale, item.ID)
			discarded = append(discarded, cartdomain.Discarded{ItemID: item.ID, DesignID: item.DesignID, Reason: reason})
		}
		return s.repo.DeleteByIDs(ctx, tx, userID, stale)
	})
	if err != nil {
		return nil, nil, err
	}
	if len(discarded) > 0 {
		s.log.Info("pruned cart items",
			zap.String("user_id", userID.String()),
			zap.Int("count", len(discarded)),
		)
	}
	return valid, discarded, nil
}

func (s *Service) designsFor(ctx context.Context, db *gorm.DB, items []cartdomain.Item) (map[snowflake.ID]designdomain.Design, error) {
	ids := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.DesignID)
	}
	designs, err := s.designRepo.FindByIDs(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[snowflake.ID]designdomain.Design, len(designs))
	for _, d := range designs {
		out[d.ID] = d
	}
	return out, nil
}

func notOrderable(design *designdomain.Design) error {
	return cartdomain.ErrNotOrderable.WithDetails(map[string]any{
		"design_id": design.ID.String(),
		"status":    string(design.Status),
	})
}

func checkoutOutcome(err error) string {
	switch {
	case errors.Is(err, apperror.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, apperror.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, apperror.ErrNotFound):
		return "not_found"
	}
	return "error"
}

func upperAll(codes []string) []string {
	out := make([]string, len(codes))
	for i, code := range codes {
		out[i] = strings.ToUpper(code)
	}
	return out
}
