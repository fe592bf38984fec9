package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/niceverygood/maria-reservation-sub000/internal/config"
	"github.com/niceverygood/maria-reservation-sub000/internal/domain/availability"
	"github.com/niceverygood/maria-reservation-sub000/internal/domain/booking"
	"github.com/niceverygood/maria-reservation-sub000/internal/domain/rules"
	"github.com/niceverygood/maria-reservation-sub000/internal/domain/summary"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/auth"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/broadcast"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/cache"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/db"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/metrics"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/middleware"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/websocket"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/worker"
)

// app holds the wired components of one server instance.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool     *pgxpool.Pool
	redis    redis.UniversalClient
	memStore *cache.MemoryStore

	metrics     *metrics.Collector
	dispatcher  *worker.Dispatcher
	hub         *websocket.Hub
	broadcaster *broadcast.Broadcaster
	relay       *broadcast.RedisRelay

	slotCache    *availability.Cache
	rules        *rules.Service
	availability *availability.Service
	bookings     *booking.Coordinator
	summaries    *summary.Precomputer
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	var (
		ruleRepo    rules.Repository
		bookingRepo booking.Repository
		summaryRepo summary.Repository
	)
	switch cfg.StoreBackend {
	case "postgres":
		a.pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		logger.Info().Msg("connected to database")
		ruleRepo = rules.NewRepoPG(a.pool)
		bookingRepo = booking.NewRepoPG(a.pool)
		summaryRepo = summary.NewRepoPG(a.pool)
	default:
		logger.Warn().Msg("using in-memory stores, data is lost on restart")
		ruleRepo = rules.NewMemoryRepository()
		bookingRepo = booking.NewMemoryRepository()
		summaryRepo = summary.NewMemoryRepository()
	}

	if cfg.UsesRedis() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	var store cache.Store
	if cfg.CacheBackend == "redis" {
		store = cache.NewRedisStore(a.redis)
	} else {
		a.memStore = cache.NewMemoryStore()
		store = a.memStore
	}

	a.dispatcher = worker.NewDispatcher(logger,
		worker.WithWorkers(cfg.WorkerCount),
		worker.WithQueueSize(cfg.WorkerQueueSize),
		worker.WithMetrics(a.metrics))

	a.hub = websocket.NewHub(logger)
	if cfg.BroadcastBackend == "redis" {
		a.broadcaster = broadcast.NewBroadcaster(logger, a.metrics, cfg.BroadcastBuffer, broadcast.NewRedisTransport(a.redis))
		a.relay = broadcast.NewRedisRelay(a.redis, a.hub, logger)
	} else {
		a.broadcaster = broadcast.NewBroadcaster(logger, a.metrics, cfg.BroadcastBuffer, a.hub)
	}

	cachedRules := rules.NewCachedRepository(ruleRepo, store, cfg.RuleCacheTTL, logger)
	a.slotCache = availability.NewCache(store, cfg.AvailabilityCacheTTL, logger, a.metrics)
	a.availability = availability.NewService(cachedRules, bookingRepo, a.slotCache, cfg.LeadTime(), loc, logger)
	a.summaries = summary.NewPrecomputer(summaryRepo, cachedRules, bookingRepo, a.availability, logger,
		summary.WithMetrics(a.metrics),
		summary.WithHorizon(cfg.SummaryHorizonDays))
	a.rules = rules.NewService(cachedRules, a.slotCache, a.summaries, a.dispatcher, logger)
	a.bookings = booking.NewCoordinator(bookingRepo, cachedRules, a.availability, a.slotCache, logger,
		booking.WithSummaries(a.summaries, a.dispatcher),
		booking.WithPublisher(a.broadcaster),
		booking.WithMetrics(a.metrics),
		booking.WithInitialStatus(booking.Status(cfg.InitialBookingStatus)))
	return a, nil
}

// start launches the background loops. They stop when ctx is done.
func (a *app) start(ctx context.Context) {
	a.dispatcher.Start()
	go a.broadcaster.Run(ctx)
	if a.relay != nil {
		go func() {
			if err := a.relay.Run(ctx, nil); err != nil && ctx.Err() == nil {
				a.logger.Error().Err(err).Msg("redis relay stopped")
			}
		}()
	}
	if a.memStore != nil {
		a.memStore.StartCleanup(ctx, a.cfg.CacheSweepInterval)
	}
	a.slotCache.StartSweeper(ctx, a.cfg.CacheSweepInterval)
	if a.cfg.SummaryRebuildInterval > 0 {
		go a.summaries.Schedule(ctx, a.cfg.SummaryRebuildInterval, a.cfg.SummaryHorizonDays)
	}
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

type alwaysUp struct{}

func (alwaysUp) Ping(context.Context) error { return nil }

func (a *app) router() *echo.Echo {
	cfg := a.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(a.metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(echomw.BodyLimit("1M"))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	if a.pool != nil {
		pool := a.pool
		e.GET("/health/db", db.HealthHandler(pool, func() *db.PoolStats { return db.GetPoolStats(pool) }))
	} else {
		e.GET("/health/db", db.HealthHandler(alwaysUp{}, nil))
	}
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	websocket.NewHandler(a.hub, broadcast.ValidTopic, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	// API
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	jwtCfg := auth.JWTConfig{SigningKey: []byte(cfg.AuthSigningKey)}
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}

	rules.NewHandler(a.rules).RegisterRoutes(apiV1)
	availability.NewHandler(a.availability).RegisterRoutes(apiV1)
	booking.NewHandler(a.bookings).RegisterRoutes(apiV1)
	summary.NewHandler(a.summaries, cfg.SummaryHorizonDays).RegisterRoutes(apiV1)
	return e
}
