package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vishalthakur2004/Trendly-sub000/internal/config"
	intDatabase "github.com/vishalthakur2004/Trendly-sub000/internal/database"
	callHandler "github.com/vishalthakur2004/Trendly-sub000/internal/handler/http/call"
	notificationHandler "github.com/vishalthakur2004/Trendly-sub000/internal/handler/http/notification"
	pushHandler "github.com/vishalthakur2004/Trendly-sub000/internal/handler/http/push"
	wsHandler "github.com/vishalthakur2004/Trendly-sub000/internal/handler/ws"
	"github.com/vishalthakur2004/Trendly-sub000/internal/middleware"
	"github.com/vishalthakur2004/Trendly-sub000/internal/registry"
	"github.com/vishalthakur2004/Trendly-sub000/internal/relay"
	"github.com/vishalthakur2004/Trendly-sub000/internal/repository/cockroach"
	redisRepo "github.com/vishalthakur2004/Trendly-sub000/internal/repository/redis"
	callService "github.com/vishalthakur2004/Trendly-sub000/internal/service/call"
	notificationService "github.com/vishalthakur2004/Trendly-sub000/internal/service/notification"
	"github.com/vishalthakur2004/Trendly-sub000/internal/session"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/constants"
	pkgDatabase "github.com/vishalthakur2004/Trendly-sub000/pkg/database"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/env"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/jwt"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/logger"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/metrics"
	"github.com/vishalthakur2004/Trendly-sub000/pkg/push"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	cfg := config.Load()
	ctx := context.Background()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
		if cfg.JWTSecret == "dev-secret-change-me" {
			logger.Fatal("JWT_SECRET must be set in production")
		}
	}

	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, constants.AccessTokenExpiry)

	// Metrics
	intDatabase.InitRedisMetrics()
	appMetrics := metrics.NewMetrics("call-service")

	// CockroachDB with exponential backoff retry
	db := connectCockroach(ctx)
	defer db.Close()

	callRepo := cockroach.NewCallRepository(db.Pool)
	notificationRepo := cockroach.NewNotificationRepository(db.Pool)
	userRepo := cockroach.NewUserRepository(db.Pool)
	groupRepo := cockroach.NewGroupRepository(db.Pool)

	// Redis with degraded mode: presence and push tokens keep working
	// without it, so a connect failure is a warning, not fatal
	redisDB := intDatabase.NewRedisDB(&intDatabase.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
		Timeout:  5 * time.Second,
	})
	defer redisDB.Close()

	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unreachable at startup, presence runs degraded", zap.Error(err))
	}
	redisDB.StartHealthCheck(ctx, 10*time.Second)

	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB)

	// Push provider (mock outside production unless configured)
	pushProvider, err := push.NewProvider()
	if err != nil {
		if cfg.IsProduction() {
			logger.Fatal("Failed to initialize push provider", zap.Error(err))
		}
		logger.Warn("Push provider unavailable, falling back to mock", zap.Error(err))
		pushProvider = &push.MockProvider{}
	}
	if _, isMock := pushProvider.(*push.MockProvider); isMock && cfg.IsProduction() {
		logger.Fatal("Mock push provider is not allowed in production")
	}

	// Core call machinery
	reg := registry.New()
	sessions := session.NewDirectory()
	signalRelay := relay.New(reg, appMetrics)
	notifier := notificationService.NewService(notificationRepo, pushTokenRepo, pushProvider)
	callSvc := callService.NewService(callRepo, userRepo, groupRepo, sessions, signalRelay, notifier, appMetrics)

	// Close records orphaned by a previous crash before serving traffic
	if n := callSvc.ReconcileStaleRecords(ctx, cfg.ReconcileGrace); n > 0 {
		logger.Info("Reconciled stale call records at startup", zap.Int("count", n))
	}

	// Background sweeps: server-side ring timeout and periodic reconciliation
	scheduler := cron.New()
	scheduler.AddFunc("@every 10s", func() {
		callSvc.SweepStaleRinging(ctx, cfg.RingTimeout)
	})
	scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.ReconcileInterval), func() {
		callSvc.ReconcileStaleRecords(ctx, cfg.ReconcileGrace)
	})
	scheduler.Start()
	defer scheduler.Stop()

	// Handlers
	gateway := wsHandler.NewGateway(callSvc, reg, presenceRepo, appMetrics,
		cfg.AllowedOrigins, env.GetInt("WS_MAX_CONNECTIONS", 1000))
	callHdlr := callHandler.NewHandler(callSvc)
	notificationHdlr := notificationHandler.NewHandler(notifier)
	pushHdlr := pushHandler.NewHandler(pushTokenRepo)

	// Router
	router := gin.New()
	router.SetTrustedProxies(nil)

	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler())

	auth := middleware.AuthMiddleware(jwtManager)

	calls := router.Group("/v1/calls")
	calls.Use(auth)
	{
		calls.POST("/initiate", callHdlr.InitiateCall)
		calls.POST("/:id/status", callHdlr.UpdateStatus)
		calls.POST("/:id/participants", callHdlr.AddParticipant)
		calls.POST("/:id/end", callHdlr.EndCall)
		calls.GET("/history", callHdlr.GetHistory)
		calls.GET("/active", callHdlr.GetActiveCalls)
		calls.GET("/:id", callHdlr.GetCall)

		// Signaling channel
		calls.GET("/ws", gateway.ServeWS)
	}

	notifications := router.Group("/v1/notifications")
	notifications.Use(auth)
	{
		notifications.GET("", notificationHdlr.List)
		notifications.POST("/:id/read", notificationHdlr.MarkRead)
	}

	pushTokens := router.Group("/v1/push/tokens")
	pushTokens.Use(auth)
	{
		pushTokens.POST("", pushHdlr.RegisterToken)
		pushTokens.DELETE("", pushHdlr.UnregisterToken)
		pushTokens.GET("", pushHdlr.GetTokens)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Call service starting",
			zap.Int("port", cfg.Port),
			zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-stopCtx.Done()

	logger.Info("Shutting down call service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}

// connectCockroach retries with exponential backoff; the durable store is
// required, so running without it is not an option
func connectCockroach(ctx context.Context) *pkgDatabase.CockroachDB {
	const maxRetries = 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	var db *pkgDatabase.CockroachDB
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = pkgDatabase.NewCockroachDBFromEnv(ctx)
		if err == nil {
			logger.Info("Connected to CockroachDB", zap.Int("attempt", attempt))
			return db
		}

		delay := baseDelay << (attempt - 1)
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("CockroachDB connection failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		time.Sleep(delay)
	}

	logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	return nil
}
