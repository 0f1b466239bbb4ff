package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	customerdomain "github.com/smallbiznis/stitchery/internal/customer/domain"
	designdomain "github.com/smallbiznis/stitchery/internal/design/domain"
	featuredomain "github.com/smallbiznis/stitchery/internal/feature/domain"
	notificationdomain "github.com/smallbiznis/stitchery/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/stitchery/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/stitchery/internal/order/domain"
	"github.com/smallbiznis/stitchery/internal/providers/pdf"
	"github.com/smallbiznis/stitchery/internal/storage"
	"github.com/smallbiznis/stitchery/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const receiptTimeLayout = "2006-01-02 15:04 MST"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        orderdomain.Repository
	DesignRepo  designdomain.Repository
	FeatureRepo featuredomain.Repository
	Customers   customerdomain.Repository
	Storage     storage.Storage
	Receipts    pdf.Provider
	Economy     *config.EconomyHolder
	Notifier    notificationdomain.Notifier `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	shopName    string
	repo        orderdomain.Repository
	designRepo  designdomain.Repository
	featureRepo featuredomain.Repository
	customers   customerdomain.Repository
	storage     storage.Storage
	receipts    pdf.Provider
	economy     *config.EconomyHolder
	notifier    notificationdomain.Notifier
	obsMetrics  *obsmetrics.Metrics
}

func New(p Params) orderdomain.Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notificationdomain.Noop()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("order.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		shopName:    p.Config.AppName,
		repo:        p.Repo,
		designRepo:  p.DesignRepo,
		featureRepo: p.FeatureRepo,
		customers:   p.Customers,
		storage:     p.Storage,
		receipts:    p.Receipts,
		economy:     p.Economy,
		notifier:    notifier,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Get(ctx context.Context, userID, id snowflake.ID) (*orderdomain.Detail, error) {
	order, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	deliverables, err := s.repo.ListDeliverables(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	return &orderdomain.Detail{Order: *order, Deliverables: deliverables}, nil
}

func (s *Service) List(ctx context.Context, userID snowflake.ID, req orderdomain.ListRequest) (*orderdomain.ListResponse, error) {
	return s.list(ctx, &userID, req)
}

func (s *Service) AdminList(ctx context.Context, req orderdomain.ListRequest) (*orderdomain.ListResponse, error) {
	return s.list(ctx, nil, req)
}

func (s *Service) list(ctx context.Context, userID *snowflake.ID, req orderdomain.ListRequest) (*orderdomain.ListResponse, error) {
	filter := orderdomain.ListFilter{UserID: userID}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status := orderdomain.Status(strings.ToLower(raw))
		if !status.Valid() {
			return nil, orderdomain.ErrInvalidStatus
		}
		filter.Status = status
	}
	items, err := s.repo.List(ctx, s.db, filter, req.Pagination)
	if err != nil {
		return nil, err
	}
	orders, info := pagination.Trim(items, req.Pagination)
	return &orderdomain.ListResponse{PageInfo: info, Orders: orders}, nil
}

func (s *Service) AdminGet(ctx context.Context, id snowflake.ID) (*orderdomain.Detail, error) {
	order, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	deliverables, err := s.repo.ListDeliverables(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	resources, err := s.repo.ListResources(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	return &orderdomain.Detail{Order: *order, Deliverables: deliverables, Resources: resources}, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id snowflake.ID, req orderdomain.UpdateStatusRequest) (*orderdomain.Order, error) {
	target := orderdomain.Status(strings.ToLower(strings.TrimSpace(string(req.Status))))
	if !target.Valid() {
		return nil, orderdomain.ErrInvalidStatus
	}
	return s.transition(ctx, id, nil, target, req.AdminNotes)
}

// Retry resubmits a failed order. Tokens charged at checkout stay charged.
func (s *Service) Retry(ctx context.Context, userID, id snowflake.ID) (*orderdomain.Order, error) {
	return s.transition(ctx, id, &userID, orderdomain.StatusSubmitted, nil)
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, owner *snowflake.ID, target orderdomain.Status, notes *string) (*orderdomain.Order, error) {
	var (
		order      *orderdomain.Order
		from       orderdomain.Status
		designName string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil || (owner != nil && current.UserID != *owner) {
			return orderdomain.ErrNotFound
		}
		if !orderdomain.CanTransition(current.Status, target) {
			return orderdomain.InvalidTransition(current.Status, target)
		}

		now := s.clock.Now()
		switch target {
		case orderdomain.StatusCompleted:
			deliverables, err := s.repo.ListDeliverables(ctx, tx, current.ID)
			if err != nil {
				return err
			}
			if missing := orderdomain.MissingFormats(current.RequestedFormats, deliverables); len(missing) > 0 {
				return orderdomain.IncompleteDeliverables(missing)
			}
			current.CompletedAt = &now
			if err := s.designRepo.SetStatus(ctx, tx, current.DesignID, designdomain.StatusCompleted, now); err != nil {
				return err
			}
		case orderdomain.StatusSubmitted:
			current.CompletedAt = nil
		}

		if notes != nil {
			current.AdminNotes = *notes
		}
		from = current.Status
		current.Status = target
		current.UpdatedAt = now
		current.NotificationSent = false
		current.NotificationSentAt = nil
		if err := s.repo.UpdateStatus(ctx, tx, current); err != nil {
			return err
		}

		design, err := s.designRepo.FindByID(ctx, tx, current.DesignID)
		if err != nil {
			return err
		}
		if design != nil {
			designName = design.Name
		}
		order = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordOrderTransition(ctx, string(from), string(target))
	s.log.Info("order transitioned",
		zap.String("order_id", order.ID.String()),
		zap.String("number", order.Number),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)
	s.notify(ctx, order, designName)
	return order, nil
}

func (s *Service) UploadDeliverable(ctx context.Context, req orderdomain.UploadRequest) (*orderdomain.Deliverable, error) {
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if !orderdomain.IsSupportedFormat(format) {
		return nil, orderdomain.ErrInvalidFormat.WithDetails(map[string]any{"format": req.Format})
	}
	if req.Body == nil || req.Size <= 0 {
		return nil, orderdomain.ErrInvalidFile
	}

	order, err := s.find(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !acceptsFiles(order.Status) {
		return nil, uploadClosed(order)
	}

	name := storage.SafeName(req.FileName)
	key := fmt.Sprintf("orders/%s/%s/%s-%s", order.Number, format, uuid.NewString(), name)
	if err := s.storage.Put(ctx, key, req.Body, req.Size, contentType(req.ContentType)); err != nil {
		return nil, err
	}

	var (
		deliverable *orderdomain.Deliverable
		replaced    string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.repo.FindForUpdate(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return orderdomain.ErrNotFound
		}
		if !acceptsFiles(locked.Status) {
			return uploadClosed(locked)
		}

		previous, err := s.repo.FindDeliverable(ctx, tx, order.ID, format)
		if err != nil {
			return err
		}
		deliverable = &orderdomain.Deliverable{
			ID:          s.genID.Generate(),
			OrderID:     order.ID,
			Format:      format,
			FileKey:     key,
			FileName:    name,
			SizeBytes:   req.Size,
			ContentType: contentType(req.ContentType),
			UploadedBy:  req.UploadedBy,
			UploadedAt:  s.clock.Now(),
		}
		if previous != nil {
			deliverable.ID = previous.ID
			replaced = previous.FileKey
		}
		return s.repo.UpsertDeliverable(ctx, tx, deliverable)
	})
	if err != nil {
		s.deleteObject(ctx, key)
		return nil, err
	}
	if replaced != "" && replaced != key {
		s.deleteObject(ctx, replaced)
	}

	s.log.Info("deliverable uploaded",
		zap.String("order_id", order.ID.String()),
		zap.String("format", format),
		zap.Int64("size_bytes", req.Size),
	)
	return deliverable, nil
}

func (s *Service) OpenDeliverable(ctx context.Context, userID, id snowflake.ID, format string) (io.ReadCloser, *orderdomain.Deliverable, error) {
	order, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	if order.Status != orderdomain.StatusCompleted {
		return nil, nil, orderdomain.ErrNotDownloadable.WithDetails(map[string]any{
			"order_id": order.ID.String(),
			"status":   string(order.Status),
		})
	}
	format = strings.ToLower(strings.TrimSpace(format))
	deliverable, err := s.repo.FindDeliverable(ctx, s.db, order.ID, format)
	if err != nil {
		return nil, nil, err
	}
	if deliverable == nil {
		return nil, nil, orderdomain.ErrDeliverableMissing.WithDetails(map[string]any{"format": strings.ToUpper(format)})
	}
	body, _, err := s.storage.Get(ctx, deliverable.FileKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil, orderdomain.ErrDeliverableMissing
	}
	if err != nil {
		return nil, nil, err
	}
	return body, deliverable, nil
}

func (s *Service) AddResource(ctx context.Context, req orderdomain.UploadRequest) (*orderdomain.Resource, error) {
	if req.Body == nil || req.Size <= 0 {
		return nil, orderdomain.ErrInvalidFile
	}
	if req.Size > orderdomain.MaxResourceBytes {
		return nil, orderdomain.ErrFileTooLarge.WithDetails(map[string]any{
			"size_bytes": req.Size,
			"max_bytes":  orderdomain.MaxResourceBytes,
		})
	}
	order, err := s.find(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	name := storage.SafeName(req.FileName)
	key := fmt.Sprintf("orders/%s/resources/%s-%s", order.Number, uuid.NewString(), name)
	if err := s.storage.Put(ctx, key, req.Body, req.Size, contentType(req.ContentType)); err != nil {
		return nil, err
	}

	resource := &orderdomain.Resource{
		ID:          s.genID.Generate(),
		OrderID:     order.ID,
		FileKey:     key,
		FileName:    name,
		SizeBytes:   req.Size,
		ContentType: contentType(req.ContentType),
		Description: strings.TrimSpace(req.Description),
		UploadedBy:  req.UploadedBy,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.InsertResource(ctx, s.db, resource); err != nil {
		s.deleteObject(ctx, key)
		return nil, err
	}
	return resource, nil
}

func (s *Service) ListResources(ctx context.Context, id snowflake.ID) ([]orderdomain.Resource, error) {
	if _, err := s.find(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListResources(ctx, s.db, id)
}

func (s *Service) OpenResource(ctx context.Context, id, resourceID snowflake.ID) (io.ReadCloser, *orderdomain.Resource, error) {
	resource, err := s.repo.FindResource(ctx, s.db, id, resourceID)
	if err != nil {
		return nil, nil, err
	}
	if resource == nil {
		return nil, nil, orderdomain.ErrResourceNotFound
	}
	body, _, err := s.storage.Get(ctx, resource.FileKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil, orderdomain.ErrResourceNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return body, resource, nil
}

func (s *Service) DeleteResource(ctx context.Context, id, resourceID snowflake.ID) error {
	resource, err := s.repo.FindResource(ctx, s.db, id, resourceID)
	if err != nil {
		return err
	}
	if resource == nil {
		return orderdomain.ErrResourceNotFound
	}
	if err := s.repo.DeleteResource(ctx, s.db, resource.ID); err != nil {
		return err
	}
	s.deleteObject(ctx, resource.FileKey)
	return nil
}

func (s *Service) Receipt(ctx context.Context, userID, id snowflake.ID) (io.Reader, *orderdomain.Order, error) {
	order, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}

	data := pdf.OrderReceipt{
		ShopName:    s.shopName,
		OrderNumber: order.Number,
		Status:      string(order.Status),
		SubmittedAt: order.CreatedAt.UTC().Format(receiptTimeLayout),
		SizeCM:      order.SizeCM,
		Formats:     upperAll(order.RequestedFormats),
		TokensUsed:  order.TokensUsed,
		AdminNotes:  order.AdminNotes,
	}
	if order.CompletedAt != nil {
		data.CompletedAt = order.CompletedAt.UTC().Format(receiptTimeLayout)
	}

	design, err := s.designRepo.FindByID(ctx, s.db, order.DesignID)
	if err != nil {
		return nil, nil, err
	}
	if design != nil {
		data.DesignName = design.Name
	}
	applied, err := s.featureRepo.ListApplied(ctx, s.db, order.DesignID)
	if err != nil {
		return nil, nil, err
	}
	for _, item := range applied {
		data.Features = append(data.Features, pdf.ReceiptLine{Description: item.Name, Tokens: item.TokensSpent})
	}
	customer, err := s.customers.FindByUserID(ctx, s.db, order.UserID)
	if err != nil {
		return nil, nil, err
	}
	if customer != nil {
		data.CustomerName = customer.Name
		data.CustomerEmail = customer.Email
	}

	doc, err := s.receipts.GenerateOrderReceipt(ctx, data)
	if err != nil {
		return nil, nil, err
	}
	return doc, order, nil
}

// ResendPendingNotifications re-publishes orders whose last transition was
// never confirmed as delivered.
func (s *Service) ResendPendingNotifications(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	before := s.clock.Now().Add(-s.economy.Get().NotificationResendAfter)
	orders, err := s.repo.ListPendingNotification(ctx, s.db, before, limit)
	if err != nil {
		return 0, err
	}
	for i := range orders {
		order := &orders[i]
		var name string
		design, err := s.designRepo.FindByID(ctx, s.db, order.DesignID)
		if err != nil {
			return i, err
		}
		if design != nil {
			name = design.Name
		}
		s.notify(ctx, order, name)
	}
	return len(orders), nil
}

func (s *Service) notify(ctx context.Context, order *orderdomain.Order, designName string) {
	kind, ok := NotificationKind(order.Status)
	if !ok {
		return
	}
	s.notifier.Notify(ctx, notificationdomain.Event{
		Kind:        kind,
		UserID:      order.UserID,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		OrderStatus: string(order.Status),
		DesignName:  designName,
		Formats:     upperAll(order.RequestedFormats),
		Notes:       order.AdminNotes,
		Tokens:      order.TokensUsed,
		At:          order.UpdatedAt,
	})
}

// NotificationKind maps an order status to the event announcing it.
func NotificationKind(status orderdomain.Status) (notificationdomain.Kind, bool) {
	switch status {
	case orderdomain.StatusSubmitted:
		return notificationdomain.KindOrderSubmitted, true
	case orderdomain.StatusProcessing:
		return notificationdomain.KindOrderProcessing, true
	case orderdomain.StatusCompleted:
		return notificationdomain.KindOrderCompleted, true
	case orderdomain.StatusFailed:
		return notificationdomain.KindOrderFailed, true
	}
	return "", false
}

func (s *Service) find(ctx context.Context, id snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrNotFound
	}
	return order, nil
}

func (s *Service) owned(ctx context.Context, userID, id snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, orderdomain.ErrNotFound
	}
	return order, nil
}

func (s *Service) deleteObject(ctx context.Context, key string) {
	if err := s.storage.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		s.log.Warn("delete stored file", zap.String("key", key), zap.Error(err))
	}
}

func acceptsFiles(status orderdomain.Status) bool {
	return status == orderdomain.StatusSubmitted || status == orderdomain.StatusProcessing
}

func uploadClosed(order *orderdomain.Order) error {
	return orderdomain.ErrUploadClosed.WithDetails(map[string]any{
		"order_id": order.ID.String(),
		"status":   string(order.Status),
	})
}

func contentType(value string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return "application/octet-stream"
}

func upperAll(codes []string) []string {
	out := make([]string, len(codes))
	for i, code := range codes {
		out[i] = strings.ToUpper(code)
	}
	return out
}

