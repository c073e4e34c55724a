package consumer_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/consumer"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/domain"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/testsuite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type ConsumerSuite struct {
	testsuite.BaseSuite
	logger *zap.Logger
}

func TestConsumerSuite(t *testing.T) {
	suite.Run(t, new(ConsumerSuite))
}

func (s *ConsumerSuite) SetupSuite() {
	s.SetupPostgres("../../migrations")
	s.logger = zap.NewNop()
}

func (s *ConsumerSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *ConsumerSuite) SetupTest() {
	s.TruncateTable("processed_events")
	s.TruncateTable("seller_sales")
	s.TruncateTable("order_projections")
	s.TruncateTable("deliveries")
}

func (s *ConsumerSuite) newMessage(eventID int64, event *domain.OrderCreatedEvent) *sarama.ConsumerMessage {
	payload, err := json.Marshal(event)
	s.Require().NoError(err)

	value, err := json.Marshal(consumer.EventEnvelope{
		Event:   domain.EventTypeOrderCreated,
		EventID: eventID,
		Payload: payload,
	})
	s.Require().NoError(err)

	return &sarama.ConsumerMessage{
		Topic: "order_events",
		Value: value,
	}
}

func sampleEvent(sellerID *uuid.UUID) *domain.OrderCreatedEvent {
	return &domain.OrderCreatedEvent{
		OrderID:     uuid.New(),
		CustomerID:  uuid.New(),
		Channel:     domain.ChannelSellerVisit,
		SellerID:    sellerID,
		PlacedAt:    time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC),
		TotalAmount: 1370,
	}
}

func (s *ConsumerSuite) TestSellerConsumerRecordsSaleOnce() {
	sellerID := uuid.New()
	event := sampleEvent(&sellerID)
	msg := s.newMessage(101, event)

	c := consumer.NewSellerConsumer(s.DbPool, s.logger)

	s.Require().NoError(c.ProcessMessage(s.Ctx, msg))
	// Redelivery of the same outbox row must be a no-op.
	s.Require().NoError(c.ProcessMessage(s.Ctx, msg))

	var count int
	err := s.DbPool.QueryRow(
		s.Ctx,
		"SELECT COUNT(*) FROM seller_sales WHERE order_id = $1",
		event.OrderID,
	).Scan(&count)
	s.Require().NoError(err)
	s.Equal(1, count)

	var amount int64
	err = s.DbPool.QueryRow(
		s.Ctx,
		"SELECT amount FROM seller_sales WHERE order_id = $1",
		event.OrderID,
	).Scan(&amount)
	s.Require().NoError(err)
	s.Equal(event.TotalAmount, amount)
}

func (s *ConsumerSuite) TestSellerConsumerSkipsOrdersWithoutSeller() {
	event := sampleEvent(nil)
	event.Channel = domain.ChannelCustomerApp
	msg := s.newMessage(102, event)

	c := consumer.NewSellerConsumer(s.DbPool, s.logger)
	s.Require().NoError(c.ProcessMessage(s.Ctx, msg))

	var count int
	err := s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM seller_sales").Scan(&count)
	s.Require().NoError(err)
	s.Equal(0, count)
}

func (s *ConsumerSuite) TestProjectionConsumerAppliesOnce() {
	sellerID := uuid.New()
	event := sampleEvent(&sellerID)
	msg := s.newMessage(103, event)

	c := consumer.NewProjectionConsumer(s.DbPool, s.logger)

	s.Require().NoError(c.ProcessMessage(s.Ctx, msg))
	s.Require().NoError(c.ProcessMessage(s.Ctx, msg))

	var channel, status string
	var total int64
	err := s.DbPool.QueryRow(
		s.Ctx,
		"SELECT creation_channel, status, total_amount FROM order_projections WHERE order_id = $1",
		event.OrderID,
	).Scan(&channel, &status, &total)
	s.Require().NoError(err)

	s.Equal("seller_visit", channel)
	s.Equal("placed", status)
	s.Equal(event.TotalAmount, total)

	var count int
	err = s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM order_projections").Scan(&count)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *ConsumerSuite) TestDeliveryConsumerSchedulesWithLeadTime() {
	sellerID := uuid.New()
	event := sampleEvent(&sellerID)
	msg := s.newMessage(104, event)

	c := consumer.NewDeliveryConsumer(s.DbPool, s.logger, 3)

	s.Require().NoError(c.ProcessMessage(s.Ctx, msg))
	s.Require().NoError(c.ProcessMessage(s.Ctx, msg))

	var deliveryDate time.Time
	err := s.DbPool.QueryRow(
		s.Ctx,
		"SELECT delivery_date FROM deliveries WHERE order_id = $1",
		event.OrderID,
	).Scan(&deliveryDate)
	s.Require().NoError(err)

	s.Equal("2025-06-13", deliveryDate.Format("2006-01-02"))

	var count int
	err = s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM deliveries").Scan(&count)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *ConsumerSuite) TestConsumersDedupeIndependently() {
	sellerID := uuid.New()
	event := sampleEvent(&sellerID)
	msg := s.newMessage(105, event)

	seller := consumer.NewSellerConsumer(s.DbPool, s.logger)
	projection := consumer.NewProjectionConsumer(s.DbPool, s.logger)

	s.Require().NoError(seller.ProcessMessage(s.Ctx, msg))
	// Same event id, different consumer name: both effects must land.
	s.Require().NoError(projection.ProcessMessage(s.Ctx, msg))

	var sales, projections int
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM seller_sales").Scan(&sales))
	s.Require().NoError(s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM order_projections").Scan(&projections))

	s.Equal(1, sales)
	s.Equal(1, projections)
}

func (s *ConsumerSuite) TestUnknownEventTypeIsIgnored() {
	value := []byte(`{"event":"OrderCancelled","event_id":106,"payload":{}}`)
	msg := &sarama.ConsumerMessage{Topic: "order_events", Value: value}

	c := consumer.NewSellerConsumer(s.DbPool, s.logger)
	s.Require().NoError(c.ProcessMessage(s.Ctx, msg))

	var count int
	err := s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM processed_events").Scan(&count)
	s.Require().NoError(err)
	s.Equal(0, count)
}
