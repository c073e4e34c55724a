package consumer

import (
	"context"
	"encoding/json"

	"github.com/IBM/sarama"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/domain"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/kafka"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const sellerConsumerName = "seller-service"

// SellerConsumer tracks per-seller sales progress from order-created events.
type SellerConsumer struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewSellerConsumer(pool *pgxpool.Pool, logger *zap.Logger) *SellerConsumer {
	return &SellerConsumer{
		pool:   pool,
		logger: logger,
	}
}

func (c *SellerConsumer) Start(ctx context.Context, brokers []string, topic string) {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		"seller-service-group",
		[]string{topic},
		c.ProcessMessage,
		c.logger,
	)

	consumerGroup.Run(ctx)
}

func (c *SellerConsumer) ProcessMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var envelope EventEnvelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling envelope", zap.Error(err))
		return err
	}

	switch envelope.Event {
	case domain.EventTypeOrderCreated:
		var event domain.OrderCreatedEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to unmarshal payload", zap.Error(err))
			return err
		}

		return c.HandleOrderCreated(ctx, envelope.EventID, &event)
	default:
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event_type", envelope.Event))
	}

	return nil
}

func (c *SellerConsumer) HandleOrderCreated(ctx context.Context, eventID int64, event *domain.OrderCreatedEvent) error {
	if event.SellerID == nil {
		// customer_app orders carry no seller attribution.
		return nil
	}

	outcome, err := ApplyOnce(ctx, c.pool, c.logger, sellerConsumerName, eventID, func(tx pgx.Tx) error {
		query := `
			INSERT INTO seller_sales (seller_id, order_id, amount)
			VALUES ($1, $2, $3)
		`

		_, err := tx.Exec(ctx, query, event.SellerID, event.OrderID, event.TotalAmount)
		return err
	})
	if err != nil {
		mylogger.Error(
			ctx,
			c.logger,
			"Failed to record seller sale",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)

		return err
	}

	if outcome == Applied {
		mylogger.Info(
			ctx,
			c.logger,
			"Seller sale recorded",
			zap.String("order_id", event.OrderID.String()),
			zap.String("seller_id", event.SellerID.String()),
		)
	}

	return nil
}
