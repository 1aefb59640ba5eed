package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livemap/internal/core/services"
	httphandlers "livemap/internal/handlers/http"
	"livemap/internal/infrastructure/middleware"
	"livemap/internal/infrastructure/monitoring"
	repositories "livemap/internal/infrastructure/repositories"
	signalserver "livemap/internal/infrastructure/signal"
	"livemap/pkg/config"
	"livemap/pkg/logger"
	"livemap/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

func main() {
	// Local overrides; absent in production
	godotenv.Load()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/livemap/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "livemap",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	consentRepo := repoFactory.CreateConsentRepository()
	locationRepo := repoFactory.CreateLocationRepository()
	userDirectory := repositories.NewCachedUserDirectory(repoFactory.CreateUserDirectory(), time.Minute)
	defer userDirectory.Stop()

	registry := services.NewPresenceRegistry(log)

	var metrics services.DispatchMetrics
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(registry.Count)
	}

	dispatchService := services.NewDispatchService(consentRepo, locationRepo, userDirectory, registry, metrics, log)
	locationService := services.NewLocationService(consentRepo, locationRepo, userDirectory, cfg.Presence.StalenessWindow, log)
	consentService := services.NewConsentService(consentRepo, log)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	wsServer := signalserver.NewWebSocketServer(
		authService,
		registry,
		dispatchService,
		locationService,
		signalserver.Options{
			PingInterval:      cfg.Signal.PingInterval,
			PongTimeout:       cfg.Signal.PongTimeout,
			ReadTimeout:       cfg.Signal.ReadTimeout,
			WriteTimeout:      cfg.Signal.WriteTimeout,
			SendBufferSize:    cfg.Presence.SendBufferSize,
			MessagesPerSecond: cfg.RateLimiting.WebSocket.MessagesPerSecond,
			MessageBurst:      cfg.RateLimiting.WebSocket.Burst,
			AllowedOrigins:    cfg.Server.AllowedOrigins,
		},
		log,
	)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddStoreCheck(repoFactory.HealthCheck, 2*time.Second)

	authHandler := httphandlers.NewAuthHandler(authService, userDirectory, cfg.Auth.AccessTokenTTL)
	locationHandler := httphandlers.NewLocationHandler(dispatchService, locationService, consentService)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	ctxLogger := logger.NewContextLogger(zapLogger)

	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(ctxLogger))
	router.Use(middleware.ErrorHandlerMiddleware(ctxLogger))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	authHandler.SetupRoutes(router)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService))
	locationHandler.SetupRoutes(api)

	router.GET("/ws", func(c *gin.Context) {
		wsServer.HandleWebSocket(c.Writer, c.Request)
	})

	router.GET("/health", gin.WrapF(wsServer.HealthCheck))

	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting presence server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down presence server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server shutdown failed", "error", err)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("tracing shutdown failed", "error", err)
	}

	log.Info("server stopped")
}
