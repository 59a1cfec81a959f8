package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/lumora/internal/audit/domain"
	"github.com/smallbiznis/lumora/internal/config"
	creditdomain "github.com/smallbiznis/lumora/internal/credit/domain"
	"github.com/smallbiznis/lumora/internal/observability/logger"
	subscriptiondomain "github.com/smallbiznis/lumora/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/lumora/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	DB         *gorm.DB
	CreditSvc  creditdomain.Service
	SubSvc     subscriptiondomain.Service
	WebhookSvc webhookdomain.Service
	AuditSvc   auditdomain.Service
}

type Server struct {
	cfg        config.Config
	log        *zap.Logger
	db         *gorm.DB
	engine     *gin.Engine
	creditSvc  creditdomain.Service
	subSvc     subscriptiondomain.Service
	webhookSvc webhookdomain.Service
	auditSvc   auditdomain.Service
	limiter    *rateLimiter
}

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	return engine
}

func NewServer(p Params, engine *gin.Engine) *Server {
	limit := p.Cfg.RateLimit.Requests
	if limit <= 0 {
		limit = 60
	}
	window := p.Cfg.RateLimit.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Server{
		cfg:        p.Cfg,
		log:        p.Log.Named("server"),
		db:         p.DB,
		engine:     engine,
		creditSvc:  p.CreditSvc,
		subSvc:     p.SubSvc,
		webhookSvc: p.WebhookSvc,
		auditSvc:   p.AuditSvc,
		limiter:    newRateLimiter(limit, window),
	}
}

func (s *Server) RegisterAPIRoutes() {
	s.engine.GET("/healthz", s.Healthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)

	api := s.engine.Group("/api/v1")
	api.Use(s.UserRequired(), s.RateLimit())
	{
		api.GET("/credits", s.GetCredits)
		api.GET("/credits/transactions", s.ListCreditTransactions)
		api.GET("/subscription", s.GetSubscription)
		api.POST("/subscription/change", s.ChangeSubscriptionPlan)
	}

	internal := s.engine.Group("/internal/v1")
	internal.Use(s.InternalRequired())
	{
		internal.POST("/credits/consume", s.ConsumeCredits)
		internal.POST("/credits/refund", s.RefundCredits)
	}
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunHTTP starts the listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterAPIRoutes() }),
	fx.Invoke(RunHTTP),
)
