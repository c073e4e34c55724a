package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/allocator"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/clients"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/metrics"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/repository"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/service"
	transportHttp "github.com/Juan-Andres-Motta/proyecto-2-backend/internal/transport/http"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/transport/http/handler"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/config"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/db"
	pkgKafka "github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/kafka"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/mylogger"
	outboxRepository "github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/outbox/repository"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/outbox/worker"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, "order-service")
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	pool, err := db.NewPostgresDB(cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}

	logger, err := config.NewLogger(config.LoggerConfig{
		Level: "Info",
		Env:   cfg.Env,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	m := metrics.New()
	go m.Serve(ctx, cfg.Metrics.Port, logger)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})

	customerClient := clients.NewCustomerClient(cfg.Services.CustomerURL, logger)
	catalogClient := clients.NewCachedCatalogClient(
		clients.NewCatalogClient(cfg.Services.CatalogURL, logger),
		redisClient,
	)

	orderRepo := repository.NewOrderRepository(pool, logger)
	inventoryRepo := repository.NewInventoryRepository(pool, logger)
	outboxRepo := outboxRepository.NewOutboxRepository(pool, logger)
	alloc := allocator.New(inventoryRepo, logger, cfg.Allocator.Retries)
	alloc.OnConflict(m.AllocationConflicts.Inc)

	orderService := service.NewOrderService(
		pool,
		logger,
		orderRepo,
		alloc,
		outboxRepo,
		customerClient,
		catalogClient,
		cfg.Kafka.OrderTopic,
		cfg.Allocator.OrderRetries,
	)

	kafkaProducer, err := pkgKafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	dispatcher := worker.NewDispatcher(pool, outboxRepo, kafkaProducer, logger, worker.Config{
		BatchSize:   cfg.Outbox.BatchSize,
		Interval:    cfg.Outbox.Interval,
		BackoffBase: cfg.Outbox.BackoffBase,
		BackoffCap:  cfg.Outbox.BackoffCap,
	})
	dispatcher.OnPublished(m.OutboxPublished.Inc)
	dispatcher.OnFailed(m.OutboxPublishFailures.Inc)

	go dispatcher.Start(ctx)

	app := fiber.New(fiber.Config{
		ReadTimeout: cfg.HTTP.Timeout,
	})

	handlers := &transportHttp.Handlers{
		Order: handler.NewOrderHandler(orderService, logger, m),
	}

	transportHttp.RegisterRoutes(app, handlers, transportHttp.LimiterConfig{
		Max:        cfg.Limiter.Max,
		Expiration: cfg.Limiter.Expiration,
	})

	go func() {
		log.Printf("HTTP server listening on %s 🔥", cfg.HTTP.Port)
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error serving HTTP: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), time.Second*5)
	defer exit()

	mylogger.Info(
		shutdownCtx,
		logger,
		"Shutting down order server",
	)

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		mylogger.Warn(
			shutdownCtx,
			logger,
			"Failed to shut down HTTP server",
			zap.Error(err),
		)
	}

	if err := kafkaProducer.Close(); err != nil {
		mylogger.Warn(
			shutdownCtx,
			logger,
			"Failed to close kafka producer",
			zap.Error(err),
		)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(
			shutdownCtx,
			logger,
			"Failed to shut down telemetry",
			zap.Error(err),
		)
	}

	if err := redisClient.Close(); err != nil {
		mylogger.Warn(
			shutdownCtx,
			logger,
			"Failed to close redis client",
			zap.Error(err),
		)
	}

	pool.Close()
}
