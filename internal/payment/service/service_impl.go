package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	notificationdomain "github.com/smallbiznis/stitchery/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/stitchery/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/stitchery/internal/payment/domain"
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
	Config     config.Config
	Repo       paymentdomain.Repository
	Gateway    paymentdomain.Gateway
	Ledger     ledgerdomain.Service
	Notifier   notificationdomain.Notifier `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.Config
	repo       paymentdomain.Repository
	gateway    paymentdomain.Gateway
	ledger     ledgerdomain.Service
	notifier   notificationdomain.Notifier
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) paymentdomain.Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notificationdomain.Noop()
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Config,
		repo:       p.Repo,
		gateway:    p.Gateway,
		ledger:     p.Ledger,
		notifier:   notifier,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ListPackages(ctx context.Context, includeInactive bool) ([]paymentdomain.TokenPackage, error) {
	items, err := s.repo.ListPackages(ctx, s.db, includeInactive)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []paymentdomain.TokenPackage{}
	}
	return items, nil
}

func (s *Service) GetPackage(ctx context.Context, id snowflake.ID) (*paymentdomain.TokenPackage, error) {
	pkg, err := s.repo.FindPackage(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, paymentdomain.ErrPackageNotFound
	}
	return pkg, nil
}

func (s *Service) CreatePackage(ctx context.Context, req paymentdomain.PackageRequest) (*paymentdomain.TokenPackage, error) {
	pkg := paymentdomain.NewTokenPackage(s.genID.Generate(), req.Name, req.Tokens, req.PriceCents, s.clock.Now())
	pkg.SavingsPercentage = req.SavingsPercentage
	pkg.IsPopular = req.IsPopular
	pkg.SortOrder = req.SortOrder
	if req.Features != nil {
		pkg.Features = datatypes.JSONSlice[string](req.Features)
	}
	if req.IsActive != nil {
		pkg.IsActive = *req.IsActive
	}
	if err := validatePackage(&pkg); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureNameFree(ctx, tx, pkg.Name, 0); err != nil {
			return err
		}
		return s.repo.InsertPackage(ctx, tx, &pkg)
	})
	if err != nil {
		return nil, mapDuplicateName(err)
	}

	s.log.Info("token package created",
		zap.String("package_id", pkg.ID.String()),
		zap.Int64("tokens", pkg.Tokens),
		zap.Int64("price_cents", pkg.PriceCents),
	)
	return &pkg, nil
}

func (s *Service) UpdatePackage(ctx context.Context, id snowflake.ID, req paymentdomain.PackageUpdate) (*paymentdomain.TokenPackage, error) {
	var updated *paymentdomain.TokenPackage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pkg, err := s.repo.FindPackage(ctx, tx, id)
		if err != nil {
			return err
		}
		if pkg == nil {
			return paymentdomain.ErrPackageNotFound
		}

		if req.Name != nil {
			pkg.Name = strings.TrimSpace(*req.Name)
		}
		if req.Tokens != nil {
			pkg.Tokens = *req.Tokens
		}
		if req.PriceCents != nil {
			pkg.PriceCents = *req.PriceCents
		}
		if req.SavingsPercentage != nil {
			pkg.SavingsPercentage = *req.SavingsPercentage
		}
		if req.IsPopular != nil {
			pkg.IsPopular = *req.IsPopular
		}
		if req.Features != nil {
			pkg.Features = datatypes.JSONSlice[string](*req.Features)
		}
		if req.SortOrder != nil {
			pkg.SortOrder = *req.SortOrder
		}
		if req.IsActive != nil {
			pkg.IsActive = *req.IsActive
		}
		pkg.Derive()
		pkg.UpdatedAt = s.clock.Now()

		if err := validatePackage(pkg); err != nil {
			return err
		}
		if req.Name != nil {
			if err := s.ensureNameFree(ctx, tx, pkg.Name, pkg.ID); err != nil {
				return err
			}
		}
		if err := s.repo.UpdatePackage(ctx, tx, pkg); err != nil {
			return err
		}
		updated = pkg
		return nil
	})
	if err != nil {
		return nil, mapDuplicateName(err)
	}
	return updated, nil
}

func (s *Service) CreateCheckoutSession(ctx context.Context, userID snowflake.ID, req paymentdomain.CheckoutSessionRequest) (*paymentdomain.CheckoutSession, error) {
	if userID == 0 {
		return nil, paymentdomain.ErrInvalidUser
	}
	pkg, err := s.GetPackage(ctx, req.PackageID)
	if err != nil {
		return nil, err
	}
	if !pkg.IsActive {
		return nil, paymentdomain.ErrPackageInactive
	}

	currency := s.cfg.Stripe.Currency
	gs, err := s.gateway.CreateSession(ctx, paymentdomain.GatewaySessionRequest{
		UserID:     userID,
		Package:    *pkg,
		Currency:   currency,
		SuccessURL: s.redirectURL(req.SuccessURL, "/payment/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  s.redirectURL(req.CancelURL, "/payment/cancel"),
	})
	if err != nil {
		return nil, err
	}
	if currency == "" {
		currency = gs.Currency
	}

	now := s.clock.Now()
	session := paymentdomain.CheckoutSession{
		ID:          s.genID.Generate(),
		SessionID:   gs.ID,
		UserID:      userID,
		PackageID:   pkg.ID,
		Tokens:      pkg.Tokens,
		AmountCents: pkg.PriceCents,
		Currency:    currency,
		Status:      paymentdomain.SessionPending,
		URL:         gs.URL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertSession(ctx, s.db, &session); err != nil {
		return nil, err
	}

	s.log.Info("checkout session created",
		zap.String("user_id", userID.String()),
		zap.String("session_id", session.SessionID),
		zap.String("package_id", pkg.ID.String()),
	)
	return &session, nil
}

// ConfirmPayment credits a paid session exactly once. Later deliveries of the
// same session return the first confirmation with Duplicate set.
func (s *Service) ConfirmPayment(ctx context.Context, req paymentdomain.ConfirmRequest) (*paymentdomain.ConfirmResult, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return nil, paymentdomain.ErrInvalidSession
	}
	if req.UserID == 0 {
		return nil, paymentdomain.ErrInvalidUser
	}
	if req.Tokens <= 0 {
		return nil, paymentdomain.ErrInvalidTokens
	}

	now := s.clock.Now()
	result := &paymentdomain.ConfirmResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		confirmation := paymentdomain.Confirmation{
			ID:              s.genID.Generate(),
			SessionID:       req.SessionID,
			UserID:          req.UserID,
			PackageID:       req.PackageID,
			Tokens:          req.Tokens,
			AmountPaidCents: req.AmountPaidCents,
			Source:          req.Source,
			CreatedAt:       now,
		}
		inserted, err := s.repo.InsertConfirmation(ctx, tx, &confirmation)
		if err != nil {
			return err
		}
		ledger := s.ledger.WithTx(tx)

		if !inserted {
			existing, err := s.repo.FindConfirmation(ctx, tx, req.SessionID)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("confirmation %s vanished", req.SessionID)
			}
			balance, err := ledger.Balance(ctx, existing.UserID)
			if err != nil {
				return err
			}
			result.Confirmation = *existing
			result.Balance = balance
			result.Duplicate = true
			return nil
		}

		posting, err := ledger.Credit(ctx, ledgerdomain.PostingRequest{
			UserID:         req.UserID,
			Kind:           ledgerdomain.KindPurchase,
			Amount:         req.Tokens,
			Description:    fmt.Sprintf("Purchased %d tokens", req.Tokens),
			ReferenceType:  "payment_confirmation",
			ReferenceID:    &confirmation.ID,
			IdempotencyKey: "payment:" + req.SessionID,
		})
		if err != nil {
			return err
		}
		txnID := posting.Transaction.ID
		if err := s.repo.SetConfirmationTransaction(ctx, tx, confirmation.ID, txnID); err != nil {
			return err
		}
		if err := s.repo.CompleteSession(ctx, tx, req.SessionID, now); err != nil {
			return err
		}

		confirmation.TransactionID = &txnID
		result.Confirmation = confirmation
		result.Balance = posting.Balance
		return nil
	})
	if err != nil {
		s.obsMetrics.RecordPaymentConfirmation(ctx, string(req.Source), "error")
		return nil, err
	}

	if result.Duplicate {
		s.obsMetrics.RecordPaymentConfirmation(ctx, string(req.Source), "duplicate")
		s.log.Info("payment already confirmed",
			zap.String("session_id", req.SessionID),
			zap.String("source", string(req.Source)),
		)
		return result, nil
	}

	s.obsMetrics.RecordPaymentConfirmation(ctx, string(req.Source), "credited")
	s.log.Info("payment confirmed",
		zap.String("user_id", req.UserID.String()),
		zap.String("session_id", req.SessionID),
		zap.String("source", string(req.Source)),
		zap.Int64("amount", req.Tokens),
		zap.String("kind", string(ledgerdomain.KindPurchase)),
	)
	s.notifier.Notify(ctx, notificationdomain.Event{
		Kind:    notificationdomain.KindTokensPurchased,
		UserID:  req.UserID,
		Tokens:  req.Tokens,
		Balance: result.Balance,
		At:      now,
	})
	return result, nil
}

func (s *Service) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.WebhookResult, error) {
	if err := s.gateway.VerifyWebhook(payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.Error(err))
		return nil, paymentdomain.ErrWebhookSignature
	}

	event, err := s.gateway.ParseWebhook(payload)
	switch {
	case errors.Is(err, paymentdomain.ErrEventIgnored):
		return &paymentdomain.WebhookResult{EventID: event.ID, EventType: event.Type, Ignored: true}, nil
	case err != nil:
		return nil, paymentdomain.ErrWebhookPayload
	}

	out := &paymentdomain.WebhookResult{EventID: event.ID, EventType: event.Type}
	if !event.Session.Paid() {
		s.log.Info("webhook session not paid yet",
			zap.String("session_id", event.Session.ID),
			zap.String("payment_status", event.Session.PaymentStatus),
		)
		out.Ignored = true
		return out, nil
	}

	req, err := s.confirmRequest(ctx, event.Session, paymentdomain.SourceWebhook)
	if err != nil {
		return nil, err
	}
	result, err := s.ConfirmPayment(ctx, req)
	if err != nil {
		return nil, err
	}
	out.Result = result
	return out, nil
}

// Verify is the client poll path: it asks the gateway whether the caller's
// session was paid and confirms it if so.
func (s *Service) Verify(ctx context.Context, userID snowflake.ID, sessionID string) (*paymentdomain.ConfirmResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, paymentdomain.ErrInvalidSession
	}
	if userID == 0 {
		return nil, paymentdomain.ErrInvalidUser
	}

	gs, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if gs == nil {
		return nil, paymentdomain.ErrSessionNotFound
	}
	if gs.Metadata["user_id"] != userID.String() {
		return nil, paymentdomain.ErrSessionMismatch
	}
	if !gs.Paid() {
		return nil, paymentdomain.ErrPaymentIncomplete.WithDetails(map[string]any{
			"payment_status": gs.PaymentStatus,
		})
	}

	req, err := s.confirmRequest(ctx, *gs, paymentdomain.SourceVerify)
	if err != nil {
		return nil, err
	}
	return s.ConfirmPayment(ctx, req)
}

// confirmRequest reads the purchase from session metadata, falling back to
// the locally recorded session for fields the gateway omitted.
func (s *Service) confirmRequest(ctx context.Context, gs paymentdomain.GatewaySession, source paymentdomain.Source) (paymentdomain.ConfirmRequest, error) {
	req := paymentdomain.ConfirmRequest{
		SessionID:       gs.ID,
		AmountPaidCents: gs.AmountTotal,
		Source:          source,
	}
	if raw := gs.Metadata["user_id"]; raw != "" {
		if id, err := snowflake.ParseString(raw); err == nil {
			req.UserID = id
		}
	}
	if raw := gs.Metadata["package_id"]; raw != "" {
		if id, err := snowflake.ParseString(raw); err == nil {
			req.PackageID = id
		}
	}
	if raw := gs.Metadata["tokens"]; raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			req.Tokens = n
		}
	}

	if req.UserID == 0 || req.PackageID == 0 || req.Tokens <= 0 {
		local, err := s.repo.FindSession(ctx, s.db, gs.ID)
		if err != nil {
			return req, err
		}
		if local == nil {
			return req, paymentdomain.ErrSessionNotFound
		}
		if req.UserID == 0 {
			req.UserID = local.UserID
		}
		if req.PackageID == 0 {
			req.PackageID = local.PackageID
		}
		if req.Tokens <= 0 {
			req.Tokens = local.Tokens
		}
	}
	return req, nil
}

func (s *Service) redirectURL(requested, fallbackPath string) string {
	base := strings.TrimRight(s.cfg.FrontendURL, "/")
	requested = strings.TrimSpace(requested)
	if requested != "" && base != "" && strings.HasPrefix(requested, base+"/") {
		return requested
	}
	return base + fallbackPath
}

func (s *Service) ensureNameFree(ctx context.Context, db *gorm.DB, name string, self snowflake.ID) error {
	existing, err := s.repo.FindPackageByName(ctx, db, name)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != self {
		return paymentdomain.ErrPackageNameTaken
	}
	return nil
}

func validatePackage(pkg *paymentdomain.TokenPackage) error {
	if pkg.Name == "" {
		return paymentdomain.ErrInvalidName
	}
	if pkg.Tokens <= 0 {
		return paymentdomain.ErrInvalidTokens
	}
	if pkg.PriceCents < 0 {
		return paymentdomain.ErrInvalidPrice
	}
	if pkg.SavingsPercentage < 0 || pkg.SavingsPercentage > 100 {
		return paymentdomain.ErrInvalidSavings
	}
	return nil
}

func mapDuplicateName(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
		return paymentdomain.ErrPackageNameTaken
	}
	return err
}
