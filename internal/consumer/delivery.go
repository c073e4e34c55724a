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

const deliveryConsumerName = "delivery-service"

// DeliveryConsumer schedules a delivery for every placed order. The
// delivery date is the order's placement date plus a configured lead
// time in days.
type DeliveryConsumer struct {
	pool     *pgxpool.Pool
	logger   *zap.Logger
	leadDays int
}

func NewDeliveryConsumer(pool *pgxpool.Pool, logger *zap.Logger, leadDays int) *DeliveryConsumer {
	return &DeliveryConsumer{
		pool:     pool,
		logger:   logger,
		leadDays: leadDays,
	}
}

func (c *DeliveryConsumer) Start(ctx context.Context, brokers []string, topic string) {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		"delivery-service-group",
		[]string{topic},
		c.ProcessMessage,
		c.logger,
	)

	consumerGroup.Run(ctx)
}

func (c *DeliveryConsumer) ProcessMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
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

func (c *DeliveryConsumer) HandleOrderCreated(ctx context.Context, eventID int64, event *domain.OrderCreatedEvent) error {
	deliveryDate := event.PlacedAt.AddDate(0, 0, c.leadDays)

	outcome, err := ApplyOnce(ctx, c.pool, c.logger, deliveryConsumerName, eventID, func(tx pgx.Tx) error {
		query := `
			INSERT INTO deliveries (order_id, delivery_date)
			VALUES ($1, $2)
		`

		_, err := tx.Exec(ctx, query, event.OrderID, deliveryDate)
		return err
	})
	if err != nil {
		mylogger.Error(
			ctx,
			c.logger,
			"Failed to schedule delivery",
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)

		return err
	}

	if outcome == Applied {
		mylogger.Debug(
			ctx,
			c.logger,
			"Delivery scheduled",
			zap.String("order_id", event.OrderID.String()),
			zap.Time("delivery_date", deliveryDate),
		)
	}

	return nil
}
