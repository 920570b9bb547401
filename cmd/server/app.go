package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/adapters"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/analysis"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/cache"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/config"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/database"
	apperrors "github.com/ZanzyTHEbar/resonance-trajectory/internal/errors"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/intervention"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/middleware"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/monitoring"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/optimizer"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/ratelimit"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/resilience"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/security"
	"github.com/ZanzyTHEbar/resonance-trajectory/internal/trajectory"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const serviceName = "resonance-trajectory"

// app owns every long-lived component of the server
type app struct {
	cfg     *config.Config
	logger  *monitoring.Logger
	metrics *monitoring.Metrics

	db      *database.DB
	repo    *database.Repository
	source  *resilience.ResilientSource
	health  *resilience.HealthTracker
	redis   *ratelimit.RedisClient
	limiter *ratelimit.RateLimiter
	store   cache.Store
	engine  *trajectory.Service
	sec     *security.SecurityMiddleware
	gzip    *middleware.CompressionMiddleware

	router  *gin.Engine
	closers []func()
}

// newApp wires the server. The caller must call close.
func newApp(ctx context.Context, cfg *config.Config, logger *monitoring.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: monitoring.NewMetrics(),
		health:  resilience.NewHealthTracker(healthConfig(cfg)),
	}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	db, err := database.NewDB(a.cfg.Source.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, func() { apperrors.SafeClose(db, "database") })
	a.repo = database.NewRepository(db)

	if a.cfg.Source.Seed {
		if err := database.Seed(ctx, a.repo, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to seed database: %w", err)
		}
	}

	raw, err := a.openSource(ctx)
	if err != nil {
		return err
	}
	a.source = resilience.NewResilientSource(a.cfg.Source.Kind, raw, resilience.SourceConfig{
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: a.cfg.Resilience.FailureThreshold,
			RecoveryTimeout:  a.cfg.Resilience.OpenTimeout,
		},
		Retry:   retryConfig(a.cfg),
		Metrics: a.metrics,
		Health:  a.health,
		Logger:  a.logger,
	})

	// Redis is optional; a failed ping leaves a disabled client
	a.redis, err = ratelimit.NewRedisClient(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		a.logger.Warn("Continuing without Redis", "error", err)
	}
	a.closers = append(a.closers, func() { apperrors.SafeClose(a.redis, "redis") })

	a.limiter = ratelimit.NewRateLimiter(a.redis, ratelimit.Config{
		IPLimitPerMin:   a.cfg.RateLimit.IPPerMinute,
		RefreshPerHour:  a.cfg.RateLimit.RefreshPerHour,
		BurstMultiplier: a.cfg.RateLimit.BurstMultiplier,
	}, a.metrics)
	a.closers = append(a.closers, a.limiter.Close)

	if a.redis.IsEnabled() {
		a.store = cache.NewRedisStore(a.redis.GetClient(), "trajectory:", a.cfg.Engine.CacheTTL)
	} else {
		a.store = cache.NewCache(a.cfg.Engine.CacheTTL)
	}
	a.closers = append(a.closers, func() { apperrors.SafeClose(a.store, "result cache") })

	if err := a.initEngine(); err != nil {
		return err
	}

	a.sec = security.NewSecurityMiddleware(security.SecurityConfig{
		MaxIDLength:    64,
		MaxBudget:      1000,
		AllowedOrigins: a.cfg.Security.AllowedOrigins,
		TrustedProxies: a.cfg.Security.TrustedProxies,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		EnableHSTS:     a.cfg.Security.EnableHSTS,
	}, a.logger)
	a.gzip = middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig())

	a.router = a.routes()
	return nil
}

// openSource builds the configured record backend and registers its health check
func (a *app) openSource(ctx context.Context) (analysis.RecordSource, error) {
	name := a.cfg.Source.Kind

	switch name {
	case config.SourcePostgres:
		pg, err := database.NewPostgresStore(ctx, a.cfg.Source.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate postgres: %w", err)
		}
		a.health.Register(name, pg.Ping)
		return pg, nil

	case config.SourceRemote:
		remote := adapters.NewRecordsAdapter(adapters.RecordsConfig{
			BaseURL: a.cfg.Source.RemoteURL,
			Token:   a.cfg.Source.RemoteToken,
			Timeout: a.cfg.Source.Timeout,
			Retry:   retryConfig(a.cfg),
			Logger:  a.logger,
		})
		a.closers = append(a.closers, func() { apperrors.SafeClose(remote, "remote records") })
		a.health.Register(name, remote.Ping)
		return remote, nil

	default:
		a.health.Register(name, a.db.Health)
		return a.repo, nil
	}
}

func (a *app) initEngine() error {
	store := analysis.NewCalibrationStore(a.cfg.Engine.CalibrationDir)
	cal, err := store.LoadCalibration(a.cfg.Engine.Policy)
	if err != nil {
		return apperrors.NewConfigurationError("failed to load calibration", err)
	}

	registry, err := intervention.LoadRegistry(a.cfg.Engine.CatalogDir)
	if err != nil {
		return apperrors.NewConfigurationError("failed to load intervention catalogs", err)
	}
	catalog, ok := registry.Lookup(a.cfg.Engine.Policy)
	if !ok {
		catalog = registry.Get(intervention.DefaultPolicy)
		a.logger.Warn("No catalog for policy, using default", "policy", a.cfg.Engine.Policy, "catalogs", registry.Policies())
	}

	aggCfg := analysis.DefaultAggregatorConfig()
	aggCfg.Lookback = a.cfg.Engine.Lookback
	aggregator := analysis.NewAggregator(a.source, cal, aggCfg)

	engine, err := trajectory.New(aggregator, cal, catalog,
		trajectory.WithCache(a.store),
		trajectory.WithLookback(a.cfg.Engine.Lookback),
		trajectory.WithDefaultConstraints(optimizer.Constraints{Budget: a.cfg.Engine.DefaultBudget}),
		trajectory.WithComputeTimeout(a.cfg.Engine.ComputeTimeout),
		trajectory.WithLogger(a.logger),
		trajectory.WithMetrics(a.metrics),
		trajectory.WithTracer(monitoring.NewTracer(serviceName, a.logger)),
	)
	if err != nil {
		return apperrors.NewConfigurationError("failed to build trajectory engine", err)
	}
	a.engine = engine

	a.logger.SystemLogger("engine_ready", fmt.Sprintf("policy=%s catalog=%s candidates=%d source=%s",
		a.cfg.Engine.Policy, catalog.Name(), catalog.Len(), a.cfg.Source.Kind))
	return nil
}

func (a *app) routes() *gin.Engine {
	if !a.cfg.Server.DebugMode && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(a.cfg.Security.TrustedProxies); err != nil {
		a.logger.Warn("Invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(monitoring.RequestIDMiddleware())
	r.Use(monitoring.MonitoringMiddleware(a.metrics, a.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(a.logger))
	r.Use(a.gzip.Handler())
	r.Use(apperrors.ErrorHandler())
	r.Use(apperrors.RecoveryHandler())
	r.Use(a.sec.CORS())

	r.GET("/health", a.handleHealth)
	r.GET("/metrics", a.handleMetrics)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")
	api.Use(a.sec.SecurityHeaders, a.sec.RequestTimeout, a.sec.ValidateContentType, a.limiter.IPRateLimitMiddleware())

	api.POST("/trajectory",
		a.sec.ValidateTrajectoryRequest,
		a.sec.RequireRole(a.repo, database.RoleAdmin, database.RoleTeacher),
		a.handleTrajectory)
	api.GET("/ratelimit", a.limiter.HandleRateLimitStatus())

	admin := api.Group("/admin", a.sec.RequireRole(a.repo, database.RoleAdmin))
	admin.GET("/sources", a.handleSources)
	admin.DELETE("/ratelimit/users/:userID", a.limiter.HandleResetUser())

	return r
}

// handleTrajectory computes, or with refresh=true recomputes, a student's trajectory
//
// @Summary     Compute a student trajectory
// @Description Returns the state vector, risk, band and the smallest intervention set predicted to reach the target drop.
// @Tags        trajectory
// @Accept      json
// @Produce     json
// @Param       request body     types.TrajectoryRequest true "Trajectory request"
// @Success     200     {object} trajectory.Response
// @Failure     400     {object} apperrors.ErrorResponse
// @Failure     403     {object} apperrors.ErrorResponse
// @Failure     422     {object} apperrors.ErrorResponse
// @Failure     429     {object} apperrors.ErrorResponse
// @Router      /api/trajectory [post]
func (a *app) handleTrajectory(c *gin.Context) {
	req, ok := security.TrajectoryRequest(c)
	if !ok {
		_ = c.Error(apperrors.NewInternalError("trajectory request missing from context", nil))
		return
	}

	constraints := optimizer.Constraints{Budget: req.Budget, TargetDrop: req.TargetDrop}
	ctx := c.Request.Context()

	var (
		res *trajectory.Result
		err error
	)
	if req.Refresh {
		if !a.limiter.CheckRefresh(c, req.UserID) {
			return
		}
		res, err = a.engine.RefreshWith(ctx, req.StudentID, constraints)
	} else {
		res, err = a.engine.ComputeWith(ctx, req.StudentID, constraints)
	}
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, res.Response())
}

// @Summary Service health
// @Tags    ops
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router  /health [get]
func (a *app) handleHealth(c *gin.Context) {
	sources := a.health.Snapshot()

	status, code := "ok", http.StatusOK
	for _, s := range sources {
		if s.Level == resilience.LevelEmergency {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	if a.source.Breaker().State() == resilience.StateOpen {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":          status,
		"timestamp":       time.Now().Format(time.RFC3339),
		"version":         version,
		"source":          a.cfg.Source.Kind,
		"sources":         sources,
		"circuit_breaker": a.source.Breaker().State().String(),
		"redis":           a.redis.IsEnabled(),
	})
}

// @Summary Request and engine counters
// @Tags    ops
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router  /metrics [get]
func (a *app) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":        a.metrics.GetStats(),
		"data_sources": a.metrics.GetDataSourceStats(),
		"status_codes": a.metrics.GetStatusCodeDistribution(),
		"p95_ms":       a.metrics.GetPercentileResponseTime(95).Milliseconds(),
		"compression":  a.gzip.GetStats(),
	})
}

// handleSources reports record source pools and health for administrators
func (a *app) handleSources(c *gin.Context) {
	resp := gin.H{
		"sources":         a.health.Snapshot(),
		"circuit_breaker": gin.H{"state": a.source.Breaker().State().String(), "failures": a.source.Breaker().Failures()},
		"sqlite_pool":     a.db.GetPoolStats(),
		"rate_limiter":    a.limiter.GetStats(),
		"timestamp":       time.Now().Format(time.RFC3339),
	}
	if mem, ok := a.store.(*cache.Cache); ok {
		resp["result_cache"] = mem.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// startBackground runs periodic source health checks until ctx is done
func (a *app) startBackground(ctx context.Context) {
	go a.health.StartHealthChecks(ctx)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func healthConfig(cfg *config.Config) resilience.DegradationConfig {
	hc := resilience.DefaultDegradationConfig()
	if cfg.Resilience.HealthInterval > 0 {
		hc.HealthCheckInterval = cfg.Resilience.HealthInterval
	}
	return hc
}

func retryConfig(cfg *config.Config) resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	rc.MaxAttempts = cfg.Resilience.MaxAttempts
	rc.InitialDelay = cfg.Resilience.InitialDelay
	rc.MaxDelay = cfg.Resilience.MaxDelay
	return rc
}
