package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos-service/config"
	"pos-service/internal/api"
	"pos-service/internal/broker"
	"pos-service/internal/redisclient"
	"pos-service/internal/service"
	"pos-service/internal/store"
	"pos-service/internal/store/memory"
	"pos-service/internal/util"
	"pos-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "pos-service", cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting pos service")

	tp, err := util.InitTracer(util.TracingConfig{
		ServiceName:    "pos-service",
		Environment:    cfg.Server.Env,
		JaegerEndpoint: cfg.Observ.JaegerEndpoint,
		SampleRatio:    cfg.Observ.TraceSampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	var repo store.Repository
	switch cfg.Database.Backend {
	case "memory":
		repo = memory.New()
		logger.Warn("Using in-memory store; data is lost on restart")
	default:
		if cfg.Database.AutoMigrate {
			if err := store.Migrate(cfg.Database.URL, cfg.Database.MigrationsPath); err != nil {
				logger.Fatal("Failed to apply migrations", zap.Error(err))
			}
			logger.Info("Migrations applied")
		}
		db, err := store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		repo = db
		logger.Info("Database connected")
	}

	var redisClient *redisclient.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var publisher service.EventPublisher
	var producer *broker.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	var idempotency service.IdempotencyStore
	if redisClient != nil {
		idempotency = redisClient
	}

	inventoryService := service.NewInventoryService(repo, publisher, cfg.Reservation.Lookback)
	reservationService := service.NewReservationService(inventoryService)
	draftService := service.NewDraftService(repo, inventoryService)
	orderService := service.NewOrderService(repo, inventoryService, publisher, idempotency, service.OrderConfig{
		DefaultAllowOverselling: cfg.Orders.DefaultAllowOverselling,
		IdempotencyTTL:          cfg.Orders.IdempotencyTTL,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var projectionWorker *worker.StockProjectionWorker
	if redisClient != nil && len(cfg.Kafka.Brokers) > 0 {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
		projectionWorker = worker.NewStockProjectionWorker(consumer, redisClient)
		go func() {
			if err := projectionWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Stock projection worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Reservation.SweepEnabled {
		var locker worker.Locker
		if redisClient != nil {
			locker = redisClient
		}
		sweeper := worker.NewReservationSweeper(inventoryService, locker, worker.SweeperConfig{
			Interval: cfg.Reservation.SweepInterval,
			TTL:      cfg.Reservation.TTL,
			Horizon:  cfg.Reservation.SweepHorizon,
		})
		go func() {
			if err := sweeper.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Reservation sweeper error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, draftService, inventoryService, reservationService)
	if redisClient != nil {
		handler.WithProjection(redisClient)
	}
	handler.SetupRoutes(router, cfg.Server.CORSAllowedOrigins)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if projectionWorker != nil {
		if err := projectionWorker.Stop(); err != nil {
			logger.Warn("Failed to stop stock projection worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
