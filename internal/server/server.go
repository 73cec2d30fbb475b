package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/agencykit/creditd/internal/account"
	accountdomain "github.com/agencykit/creditd/internal/account/domain"
	"github.com/agencykit/creditd/internal/cache"
	"github.com/agencykit/creditd/internal/config"
	"github.com/agencykit/creditd/internal/expiry"
	expirydomain "github.com/agencykit/creditd/internal/expiry/domain"
	"github.com/agencykit/creditd/internal/ledger"
	ledgerdomain "github.com/agencykit/creditd/internal/ledger/domain"
	"github.com/agencykit/creditd/internal/lock"
	"github.com/agencykit/creditd/internal/reconciler"
	reconcilerdomain "github.com/agencykit/creditd/internal/reconciler/domain"
	"github.com/agencykit/creditd/internal/subscription"
	"github.com/agencykit/creditd/internal/usage"
	usageservice "github.com/agencykit/creditd/internal/usage/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(lock.NewLocker),
	cache.Module,
	account.Module,
	ledger.Module,
	usage.Module,
	reconciler.Module,
	subscription.Module,
	expiry.Module,
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

type Params struct {
	fx.In

	Engine        *gin.Engine
	Log           *zap.Logger
	AccountSvc    accountdomain.Service
	LedgerSvc     ledgerdomain.Service
	ReconcilerSvc reconcilerdomain.Service
	ExpirySvc     expirydomain.Service
	UsageQuery    *usageservice.Query
}

type Server struct {
	engine        *gin.Engine
	log           *zap.Logger
	accountSvc    accountdomain.Service
	ledgerSvc     ledgerdomain.Service
	reconcilerSvc reconcilerdomain.Service
	expirySvc     expirydomain.Service
	usageQuery    *usageservice.Query
}

func NewServer(p Params) *Server {
	return &Server{
		engine:        p.Engine,
		log:           p.Log.Named("http.server"),
		accountSvc:    p.AccountSvc,
		ledgerSvc:     p.LedgerSvc,
		reconcilerSvc: p.ReconcilerSvc,
		expirySvc:     p.ExpirySvc,
		usageQuery:    p.UsageQuery,
	}
}

func registerRoutes(s *Server) {
	v1 := s.engine.Group("/v1")
	v1.POST("/accounts", s.HandleCreateAccount)
	v1.GET("/accounts/:user_id/balance", s.HandleGetBalance)
	v1.GET("/accounts/:user_id/expiration", s.HandleGetExpiration)
	v1.GET("/accounts/:user_id/usage", s.HandleListUsage)
	v1.POST("/deductions", s.HandleDeduct)
	v1.POST("/webhooks/payments", s.HandlePaymentWebhook)
}

func run(lc fx.Lifecycle, engine *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: engine,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http.access")
	return func(c *gin.Context) {
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
		)
	}
}
