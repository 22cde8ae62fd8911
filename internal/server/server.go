package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/contractbilling/internal/applier"
	"github.com/smallbiznis/contractbilling/internal/authorization"
	"github.com/smallbiznis/contractbilling/internal/config"
	"github.com/smallbiznis/contractbilling/internal/contract"
	contractdomain "github.com/smallbiznis/contractbilling/internal/contract/domain"
	"github.com/smallbiznis/contractbilling/internal/observability"
	obsmiddleware "github.com/smallbiznis/contractbilling/internal/observability/logger"
	obstracing "github.com/smallbiznis/contractbilling/internal/observability/tracing"
	"github.com/smallbiznis/contractbilling/internal/planchange"
	planchangedomain "github.com/smallbiznis/contractbilling/internal/planchange/domain"
	"github.com/smallbiznis/contractbilling/internal/processor"
	"github.com/smallbiznis/contractbilling/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	ratelimit.Module,
	processor.Module,
	contract.Module,
	planchange.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

// routeOperations names the spans of each contract billing route.
var routeOperations = map[string]string{
	"POST /api/contracts":                          "contract.create",
	"GET /api/contracts/:id":                       "contract.get",
	"GET /api/contracts/:id/fees":                  "contract.fees",
	"POST /api/contracts/:id/plan-changes":         "plan_change.submit",
	"POST /api/contracts/:id/plan-changes/preview": "plan_change.preview",
	"GET /api/contracts/:id/plan-changes/pending":  "plan_change.pending",
	"GET /api/contracts/:id/plan-changes":          "plan_change.list",
	"POST /internal/applier/run":                   "applier.run",
}

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(obstracing.MiddlewareConfig{
		Operations:      routeOperations,
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	authzSvc      authorization.Service
	contractSvc   contractdomain.Service
	planChangeSvc planchangedomain.Service
	applier       *applier.Applier
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	AuthzSvc      authorization.Service
	ContractSvc   contractdomain.Service
	PlanChangeSvc planchangedomain.Service
	Applier       *applier.Applier         `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		authzSvc:      p.AuthzSvc,
		contractSvc:   p.ContractSvc,
		planChangeSvc: p.PlanChangeSvc,
		applier:       p.Applier,
	}

	svc.registerAPIRoutes()
	svc.registerInternalRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.Identity())

	// -------- Contracts --------
	api.POST("/contracts", s.OrgRequired(), s.authorizeOrgAction(authorization.ObjectContract, authorization.ActionContractCreate), s.CreateContract)
	api.GET("/contracts/:id", s.OrgRequired(), s.authorizeOrgAction(authorization.ObjectContract, authorization.ActionContractView), s.GetContract)
	api.GET("/contracts/:id/fees", s.OrgRequired(), s.authorizeOrgAction(authorization.ObjectContract, authorization.ActionContractView), s.GetContractFees)

	// -------- Plan changes --------
	api.POST("/contracts/:id/plan-changes", s.OrgRequired(), s.authorizeOrgAction(authorization.ObjectContract, authorization.ActionContractChangePlan), s.SubmitPlanChange)
	api.POST("/contracts/:id/plan-changes/preview", s.OrgRequired(), s.authorizeOrgAction(authorization.ObjectContract, authorization.ActionContractView), s.PreviewPlanChange)
	api.GET("/contracts/:id/plan-changes/pending", s.OrgRequired(), s.authorizeOrgAction(authorization.ObjectContract, authorization.ActionContractView), s.GetPendingPlanChange)
	api.GET("/contracts/:id/plan-changes", s.OrgRequired(), s.authorizeOrgAction(authorization.ObjectContract, authorization.ActionContractView), s.ListPlanChanges)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")
	internal.Use(s.Identity())

	internal.POST("/applier/run", s.authorizeSystemAction(authorization.ObjectApplier, authorization.ActionApplierRun), s.RunApplier)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
