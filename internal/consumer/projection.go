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

const projectionConsumerName = "gateway-projection"

// ProjectionConsumer maintains the order history projection the client
// gateway reads, so it never has to query the order service's tables.
type ProjectionConsumer struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewProjectionConsumer(pool *pgxpool.Pool, logger *zap.Logger) *ProjectionConsumer {
	return &ProjectionConsumer{
		pool:   pool,
		logger: logger,
	}
}

func (c *ProjectionConsumer) Start(ctx context.Context, brokers []string, topic string) {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		"gateway-projection-group",
		[]string{topic},
		c.ProcessMessage,
		c.logger,
	)

	consumerGroup.Run(ctx)
}

func (c *ProjectionConsumer) ProcessMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
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

func (c *ProjectionConsumer) HandleOrderCreated(ctx context.Context, eventID int64, event *domain.OrderCreatedEvent) error {
	outcome, err := ApplyOnce(ctx, c.pool, c.logger, projectionConsumerName, eventID, func(tx pgx.Tx) error {
		query := `
			INSERT INTO order_projections (order_id, customer_id, creation_channel, status, total_amount, placed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`

		_, err := tx.Exec(
			ctx,
			query,
			event.OrderID,
			event.CustomerID,
			string(event.Channel),
			string(domain.OrderStatusPlaced),
			event.TotalAmount,
			event.PlacedAt,
		)
		return err
	})
	if err != nil {
		mylogger.Error(
			ctx,
			c.logger,
			"Failed to project order",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)

		return err
	}

	if outcome == Applied {
		mylogger.Debug(
			ctx,
			c.logger,
			"Order projected",
			zap.String("order_id", event.OrderID.String()),
		)
	}

	return nil
}
