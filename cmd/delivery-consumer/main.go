package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/consumer"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/config"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/db"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/mylogger"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	cfg := config.MustLoad()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, "delivery-consumer")
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

	c := consumer.NewDeliveryConsumer(pool, logger, cfg.Delivery.LeadDays)
	c.Start(ctx, cfg.Kafka.Brokers, cfg.Kafka.OrderTopic)

	shutdownCtx, exit := context.WithTimeout(context.Background(), time.Second*5)
	defer exit()

	mylogger.Info(shutdownCtx, logger, "Shutting down delivery consumer")

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(
			shutdownCtx,
			logger,
			"Failed to shut down telemetry",
			zap.Error(err),
		)
	}

	pool.Close()
}
