package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/bustickets/service-tracking/internal/application"
	"github.com/bustickets/service-tracking/internal/config"
	"github.com/bustickets/service-tracking/internal/connectivity"
	"github.com/bustickets/service-tracking/internal/events"
	"github.com/bustickets/service-tracking/internal/handler"
	"github.com/bustickets/service-tracking/internal/logger"
	"github.com/bustickets/service-tracking/internal/middleware"
	"github.com/bustickets/service-tracking/internal/repository"
	"github.com/bustickets/service-tracking/internal/schedule"
	"github.com/bustickets/service-tracking/internal/storage"
	"github.com/bustickets/service-tracking/internal/ws"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	// Initialize logger.
	log, err := logger.NewNamed(cfg.AppEnv, "service-tracking")
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	// Open the key-value store backend.
	store, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("failed to open storage backend", zap.Error(err))
	}

	// Connectivity monitor; the telemetry consumer feeds it.
	monitor := connectivity.NewMonitor(log)

	// Share lifecycle.
	shareStore := repository.NewShareStore(store)
	defaultTTL := time.Duration(cfg.Share.DefaultTTLMinutes) * time.Minute
	shareService := application.NewShareService(shareStore, cfg.Share.BaseURL, defaultTTL, log)

	// Offline cache and sync; the replay processor is wired below once
	// the tracking service exists.
	offlineService := application.NewOfflineService(store, monitor, nil, log)

	// Initialize WebSocket hub.
	wsHub := ws.NewHub(log)
	go wsHub.Run()

	// Initialize Kafka producer.
	producer := events.NewProducer(cfg.Kafka.Brokers, log)
	defer func() { _ = producer.Close() }()

	// Tracking orchestration.
	trackingService := application.NewTrackingService(
		offlineService,
		shareService,
		wsHub,
		producer,
		cfg.Kafka.UpdatesTopic,
		monitor,
		log,
	)
	offlineService.SetProcessor(trackingService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Replay queued actions on every reconnect.
	stopSync := offlineService.Start(ctx)
	defer stopSync()

	// Consume bus telemetry in the background.
	telemetryConsumer := events.NewBusEventConsumer(
		cfg.Kafka.Brokers,
		cfg.Kafka.GroupID,
		cfg.Kafka.TelemetryTopic,
		trackingService,
		monitor,
		log,
	)
	defer func() { _ = telemetryConsumer.Close() }()

	go func() {
		if err := telemetryConsumer.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error("telemetry consumer error", zap.Error(err))
		}
	}()

	// Sweep expired shares on a schedule; expiry is otherwise lazy.
	scheduler := schedule.NewCronScheduler(log)
	if err := scheduler.AddJob(&schedule.ShareSweepJob{Shares: shareService}, cfg.Share.SweepSpec); err != nil {
		log.Fatal("failed to schedule share sweep", zap.Error(err))
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Initialize Gin router.
	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
		middleware.CORS(),
		middleware.SecurityHeaders(),
	)

	// Register REST API routes.
	apiV1 := router.Group("/api/v1")
	handler.NewShareHandler(shareService).RegisterRoutes(apiV1)
	trackingHandler := handler.NewTrackingHandler(trackingService, wsHub, log)
	trackingHandler.RegisterRoutes(apiV1)
	handler.NewCacheHandler(offlineService, monitor).RegisterRoutes(apiV1)

	// Register WebSocket route.
	trackingHandler.RegisterWSRoute(router)

	// Start HTTP server.
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting service-tracking", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down service-tracking...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("service-tracking stopped")
}

// openStore selects the key-value backend from configuration.
func openStore(cfg *config.ServiceConfig, log *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		db, err := gorm.Open(postgres.Open(cfg.Storage.DSN), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		if err := db.AutoMigrate(&storage.KVModel{}); err != nil {
			return nil, err
		}
		log.Info("using postgres key-value store")
		return storage.NewGormStore(db), nil

	default:
		log.Info("using in-memory key-value store")
		return storage.NewMemoryStore(), nil
	}
}
