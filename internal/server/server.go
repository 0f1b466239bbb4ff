package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/stitchery/internal/auth"
	"github.com/smallbiznis/stitchery/internal/authorization"
	"github.com/smallbiznis/stitchery/internal/cart"
	cartdomain "github.com/smallbiznis/stitchery/internal/cart/domain"
	"github.com/smallbiznis/stitchery/internal/config"
	"github.com/smallbiznis/stitchery/internal/customer"
	customerdomain "github.com/smallbiznis/stitchery/internal/customer/domain"
	"github.com/smallbiznis/stitchery/internal/design"
	designdomain "github.com/smallbiznis/stitchery/internal/design/domain"
	"github.com/smallbiznis/stitchery/internal/feature"
	featuredomain "github.com/smallbiznis/stitchery/internal/feature/domain"
	"github.com/smallbiznis/stitchery/internal/ledger"
	ledgerdomain "github.com/smallbiznis/stitchery/internal/ledger/domain"
	"github.com/smallbiznis/stitchery/internal/liveevents"
	"github.com/smallbiznis/stitchery/internal/notification"
	"github.com/smallbiznis/stitchery/internal/observability"
	obslogger "github.com/smallbiznis/stitchery/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/stitchery/internal/observability/metrics"
	obstracing "github.com/smallbiznis/stitchery/internal/observability/tracing"
	"github.com/smallbiznis/stitchery/internal/order"
	orderdomain "github.com/smallbiznis/stitchery/internal/order/domain"
	"github.com/smallbiznis/stitchery/internal/payment"
	paymentdomain "github.com/smallbiznis/stitchery/internal/payment/domain"
	"github.com/smallbiznis/stitchery/internal/pricetier"
	pricetierdomain "github.com/smallbiznis/stitchery/internal/pricetier/domain"
	"github.com/smallbiznis/stitchery/internal/providers"
	"github.com/smallbiznis/stitchery/internal/ratelimit"
	"github.com/smallbiznis/stitchery/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	auth.Module,
	providers.Module,
	storage.Module,
	ratelimit.Module,
	liveevents.Module,
	notification.Module,
	ledger.Module,
	customer.Module,
	pricetier.Module,
	design.Module,
	feature.Module,
	order.Module,
	cart.Module,
	payment.Module,
	fx.Provide(newStreamer),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.Middleware())
	r.Use(CORS(cfg.CORSOrigins))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, cfg, httpMetrics)
}

func newStreamer(hub *liveevents.Hub, cfg config.Config, log *zap.Logger) *liveevents.Streamer {
	return liveevents.NewStreamer(hub, log, cfg.CORSOrigins)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	verifier    *auth.Verifier
	authzSvc    authorization.Service
	ledgerSvc   ledgerdomain.Service
	customerSvc customerdomain.Service
	pricingSvc  pricetierdomain.Service
	designSvc   designdomain.Service
	featureSvc  featuredomain.Service
	cartSvc     cartdomain.Service
	orderSvc    orderdomain.Service
	paymentSvc  paymentdomain.Service
	streamer    *liveevents.Streamer
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	Verifier    *auth.Verifier
	AuthzSvc    authorization.Service
	LedgerSvc   ledgerdomain.Service
	CustomerSvc customerdomain.Service
	PricingSvc  pricetierdomain.Service
	DesignSvc   designdomain.Service
	FeatureSvc  featuredomain.Service
	CartSvc     cartdomain.Service
	OrderSvc    orderdomain.Service
	PaymentSvc  paymentdomain.Service
	Streamer    *liveevents.Streamer `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http"),
		verifier:    p.Verifier,
		authzSvc:    p.AuthzSvc,
		ledgerSvc:   p.LedgerSvc,
		customerSvc: p.CustomerSvc,
		pricingSvc:  p.PricingSvc,
		designSvc:   p.DesignSvc,
		featureSvc:  p.FeatureSvc,
		cartSvc:     p.CartSvc,
		orderSvc:    p.OrderSvc,
		paymentSvc:  p.PaymentSvc,
		streamer:    p.Streamer,
	}

	svc.registerPublicRoutes()
	svc.registerCustomerRoutes()
	svc.registerServiceRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerPublicRoutes() {
	api := s.engine.Group("/api")

	api.GET("/pricing/tiers", s.ListPricingTiers)
	api.GET("/pricing/quote", s.QuotePrice)
	api.GET("/features", s.ListActiveFeatures)
	api.GET("/packages", s.ListActivePackages)

	// Stripe signs the raw body; no auth middleware.
	api.POST("/payments/webhook", s.HandleStripeWebhook)
}

func (s *Server) registerCustomerRoutes() {
	api := s.engine.Group("/api", s.JWTRequired())

	// -------- Ledger --------
	api.GET("/me/balance", s.GetMyBalance)
	api.GET("/me/transactions", s.ListMyTransactions)

	// -------- Designs --------
	api.GET("/designs", s.ListDesigns)
	api.POST("/designs", s.CreateDesign)
	api.POST("/designs/generate", s.GenerateDesign)
	api.GET("/designs/:id", s.GetDesign)
	api.PATCH("/designs/:id", s.UpdateDesign)
	api.DELETE("/designs/:id", s.DeleteDesign)
	api.GET("/designs/:id/image", s.GetDesignImage)
	api.GET("/designs/:id/features", s.ListDesignFeatures)
	api.POST("/designs/:id/features", s.AttachDesignFeature)
	api.DELETE("/designs/:id/features/:feature_id", s.DetachDesignFeature)

	// -------- Cart --------
	api.GET("/cart", s.GetCart)
	api.POST("/cart/items", s.AddCartItem)
	api.DELETE("/cart/items/:id", s.RemoveCartItem)
	api.DELETE("/cart/designs/:design_id", s.RemoveCartDesign)
	api.DELETE("/cart", s.ClearCart)
	api.POST("/cart/checkout", s.CheckoutCart)

	// -------- Orders --------
	api.GET("/orders", s.ListOrders)
	api.GET("/orders/events", s.StreamOrderEvents)
	api.GET("/orders/:id", s.GetOrder)
	api.POST("/orders/:id/retry", s.RetryOrder)
	api.GET("/orders/:id/deliverables/:format", s.DownloadDeliverable)
	api.GET("/orders/:id/receipt.pdf", s.DownloadReceipt)

	// -------- Payments --------
	api.POST("/payments/checkout-session", s.CreateCheckoutSession)
	api.POST("/payments/verify", s.VerifyPayment)
}

func (s *Server) registerServiceRoutes() {
	api := s.engine.Group("/api", s.JWTRequired(), s.RequireStaff())

	api.POST("/customers/activate", s.ActivateCustomer)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/admin", s.JWTRequired())

	pricing := s.authorizeAction(authorization.ObjectPricing, authorization.ActionManage)
	admin.GET("/pricing/tiers", pricing, s.ListPricingTiers)
	admin.POST("/pricing/tiers", pricing, s.CreatePricingTier)
	admin.GET("/pricing/tiers/:id", pricing, s.GetPricingTier)
	admin.PATCH("/pricing/tiers/:id", pricing, s.UpdatePricingTier)
	admin.DELETE("/pricing/tiers/:id", pricing, s.DeletePricingTier)

	features := s.authorizeAction(authorization.ObjectFeature, authorization.ActionManage)
	admin.GET("/features", features, s.ListAllFeatures)
	admin.POST("/features", features, s.CreateFeature)
	admin.GET("/features/stats", features, s.FeatureStats)
	admin.GET("/features/:id", features, s.GetFeature)
	admin.PATCH("/features/:id", features, s.UpdateFeature)
	admin.POST("/features/:id/deactivate", features, s.DeactivateFeature)

	packages := s.authorizeAction(authorization.ObjectPackage, authorization.ActionManage)
	admin.GET("/packages", packages, s.ListAllPackages)
	admin.POST("/packages", packages, s.CreatePackage)
	admin.GET("/packages/:id", packages, s.GetPackage)
	admin.PATCH("/packages/:id", packages, s.UpdatePackage)

	orders := s.authorizeAction(authorization.ObjectOrder, authorization.ActionManage)
	admin.GET("/orders", orders, s.AdminListOrders)
	admin.GET("/orders/:id", orders, s.AdminGetOrder)
	admin.POST("/orders/:id/status", orders, s.UpdateOrderStatus)
	admin.PUT("/orders/:id/deliverables/:format", orders, s.UploadDeliverable)
	admin.GET("/orders/:id/resources", orders, s.ListOrderResources)
	admin.POST("/orders/:id/resources", orders, s.AddOrderResource)
	admin.GET("/orders/:id/resources/:resource_id", orders, s.DownloadOrderResource)
	admin.DELETE("/orders/:id/resources/:resource_id", orders, s.DeleteOrderResource)

	ledger := s.authorizeAction(authorization.ObjectLedger, authorization.ActionManage)
	admin.GET("/ledger/:user/reconcile", ledger, s.ReconcileLedger)
	admin.POST("/ledger/:user/refunds", ledger, s.RefundLedger)
	admin.GET("/customers", s.authorizeAction(authorization.ObjectCustomer, authorization.ActionView), s.ListCustomers)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
