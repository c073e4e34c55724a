package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/allocator"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/clients"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/domain"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/repository"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/service"
	pkgKafka "github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/kafka"
	outboxDomain "github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/outbox/domain"
	outboxRepository "github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/outbox/repository"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/outbox/worker"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/testsuite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type stubCustomerClient struct {
	exists bool
}

func (s *stubCustomerClient) Exists(_ context.Context, _ uuid.UUID) (bool, error) {
	return s.exists, nil
}

type stubCatalogClient struct {
	products map[uuid.UUID]*clients.Product
}

func (s *stubCatalogClient) Get(_ context.Context, productID uuid.UUID) (*clients.Product, error) {
	product, ok := s.products[productID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "product", ID: productID}
	}
	return product, nil
}

type failingOutboxRepo struct {
	worker.OutboxRepository
}

func (f *failingOutboxRepo) SaveOutboxEvent(_ context.Context, _ pgx.Tx, _ *outboxDomain.OutboxEvent) error {
	return errors.New("outbox unavailable")
}

type failingPublisher struct{}

func (f *failingPublisher) ProduceMessage(_ context.Context, _ string, _ interface{}) error {
	return errors.New("broker unavailable")
}

type OrderServiceSuite struct {
	testsuite.BaseSuite
	logger     *zap.Logger
	orderRepo  repository.OrderRepository
	outboxRepo worker.OutboxRepository
	alloc      *allocator.Allocator
	catalog    *stubCatalogClient
}

func TestOrderServiceSuite(t *testing.T) {
	suite.Run(t, new(OrderServiceSuite))
}

func (s *OrderServiceSuite) SetupSuite() {
	s.SetupInfrastructure("../../migrations")

	s.logger = zap.NewNop()
	s.orderRepo = repository.NewOrderRepository(s.DbPool, s.logger)
	s.outboxRepo = outboxRepository.NewOutboxRepository(s.DbPool, s.logger)
	s.alloc = allocator.New(repository.NewInventoryRepository(s.DbPool, s.logger), s.logger, 3)
	s.catalog = &stubCatalogClient{products: map[uuid.UUID]*clients.Product{}}
}

func (s *OrderServiceSuite) TearDownSuite() {
	s.TearDownInfrastructure()
}

func (s *OrderServiceSuite) SetupTest() {
	s.TruncateTable("order_item_allocations")
	s.TruncateTable("order_items")
	s.TruncateTable("orders")
	s.TruncateTable("inventory_batches")
	s.TruncateTable("outbox")
	s.catalog.products = map[uuid.UUID]*clients.Product{}
}

func (s *OrderServiceSuite) newService(outboxRepo worker.OutboxRepository, orderRetries int) service.OrderService {
	return service.NewOrderService(
		s.DbPool,
		s.logger,
		s.orderRepo,
		s.alloc,
		outboxRepo,
		&stubCustomerClient{exists: true},
		s.catalog,
		"order_events",
		orderRetries,
	)
}

func (s *OrderServiceSuite) registerProduct(basePrice int64) uuid.UUID {
	productID := uuid.New()
	s.catalog.products[productID] = &clients.Product{
		ID:        productID,
		SKU:       "SKU-" + productID.String()[:8],
		Name:      "test product",
		BasePrice: basePrice,
	}
	return productID
}

func (s *OrderServiceSuite) seedBatch(productID uuid.UUID, batchNumber string, expiration time.Time, total, reserved int32) uuid.UUID {
	batchID := uuid.New()
	_, err := s.DbPool.Exec(
		s.Ctx,
		`INSERT INTO inventory_batches (id, product_id, warehouse_id, batch_number, expiration_date, total_quantity, reserved_quantity)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		batchID, productID, uuid.New(), batchNumber, expiration, total, reserved,
	)
	s.Require().NoError(err)
	return batchID
}

func (s *OrderServiceSuite) reservedQuantity(batchID uuid.UUID) int32 {
	var reserved int32
	err := s.DbPool.QueryRow(
		s.Ctx,
		"SELECT reserved_quantity FROM inventory_batches WHERE id = $1",
		batchID,
	).Scan(&reserved)
	s.Require().NoError(err)
	return reserved
}

func (s *OrderServiceSuite) countRows(table string) int {
	var count int
	err := s.DbPool.QueryRow(s.Ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	s.Require().NoError(err)
	return count
}

func (s *OrderServiceSuite) TestCreateOrderAllocatesFefoAndStagesEvent() {
	productID := s.registerProduct(105)

	day := 24 * time.Hour
	now := time.Now()
	earlier := s.seedBatch(productID, "B-001", now.Add(10*day), 5, 0)
	later := s.seedBatch(productID, "B-002", now.Add(20*day), 10, 0)

	svc := s.newService(s.outboxRepo, 1)

	order, err := svc.CreateOrder(s.Ctx, service.CreateOrderInput{
		CustomerID: uuid.New(),
		Channel:    domain.ChannelCustomerApp,
		Items: []service.CreateOrderItemInput{
			{ProductID: productID, Quantity: 7},
		},
	})
	s.Require().NoError(err)

	// 105 cents base, 30% markup: unit 137, line 959.
	s.Equal(int64(959), order.TotalAmount)
	s.Require().Len(order.Items, 1)
	s.Require().Len(order.Items[0].Allocations, 2)

	// Earliest expiration drained first, remainder from the next batch.
	s.Equal(earlier, order.Items[0].Allocations[0].BatchID)
	s.Equal(int32(5), order.Items[0].Allocations[0].Quantity)
	s.Equal(later, order.Items[0].Allocations[1].BatchID)
	s.Equal(int32(2), order.Items[0].Allocations[1].Quantity)

	s.Equal(int32(5), s.reservedQuantity(earlier))
	s.Equal(int32(2), s.reservedQuantity(later))

	stored, err := svc.GetOrder(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(order.TotalAmount, stored.TotalAmount)
	s.Require().Len(stored.Items, 1)
	s.Len(stored.Items[0].Allocations, 2)

	// The staged event committed together with the order.
	var aggregateID, eventType string
	err = s.DbPool.QueryRow(
		s.Ctx,
		"SELECT aggregate_id, event_type FROM outbox WHERE published_at IS NULL",
	).Scan(&aggregateID, &eventType)
	s.Require().NoError(err)
	s.Equal(order.ID.String(), aggregateID)
	s.Equal(domain.EventTypeOrderCreated, eventType)
}

func (s *OrderServiceSuite) TestShortfallAbortsWholeOrder() {
	cheap := s.registerProduct(100)
	scarce := s.registerProduct(100)

	day := 24 * time.Hour
	now := time.Now()
	cheapBatch := s.seedBatch(cheap, "B-010", now.Add(10*day), 50, 0)
	s.seedBatch(scarce, "B-011", now.Add(10*day), 3, 0)

	svc := s.newService(s.outboxRepo, 1)

	_, err := svc.CreateOrder(s.Ctx, service.CreateOrderInput{
		CustomerID: uuid.New(),
		Channel:    domain.ChannelCustomerApp,
		Items: []service.CreateOrderItemInput{
			{ProductID: cheap, Quantity: 10},
			{ProductID: scarce, Quantity: 5},
		},
	})

	var outOfStock *domain.OutOfStockError
	s.Require().ErrorAs(err, &outOfStock)
	s.Equal(scarce, outOfStock.ProductID)
	s.Equal(int32(5), outOfStock.Requested)
	s.Equal(int32(3), outOfStock.Available)

	// Nothing persisted, including the reservation taken for the first item.
	s.Equal(0, s.countRows("orders"))
	s.Equal(0, s.countRows("outbox"))
	s.Equal(int32(0), s.reservedQuantity(cheapBatch))
}

func (s *OrderServiceSuite) TestOutboxFailureRollsBackOrder() {
	productID := s.registerProduct(200)

	batchID := s.seedBatch(productID, "B-020", time.Now().Add(240*time.Hour), 10, 0)

	svc := s.newService(&failingOutboxRepo{s.outboxRepo}, 0)

	_, err := svc.CreateOrder(s.Ctx, service.CreateOrderInput{
		CustomerID: uuid.New(),
		Channel:    domain.ChannelCustomerApp,
		Items: []service.CreateOrderItemInput{
			{ProductID: productID, Quantity: 4},
		},
	})

	var persistence *domain.PersistenceError
	s.Require().ErrorAs(err, &persistence)

	s.Equal(0, s.countRows("orders"))
	s.Equal(0, s.countRows("order_items"))
	s.Equal(int32(0), s.reservedQuantity(batchID))
}

func (s *OrderServiceSuite) TestUnknownCustomerRejected() {
	productID := s.registerProduct(100)
	s.seedBatch(productID, "B-030", time.Now().Add(240*time.Hour), 10, 0)

	svc := service.NewOrderService(
		s.DbPool,
		s.logger,
		s.orderRepo,
		s.alloc,
		s.outboxRepo,
		&stubCustomerClient{exists: false},
		s.catalog,
		"order_events",
		1,
	)

	_, err := svc.CreateOrder(s.Ctx, service.CreateOrderInput{
		CustomerID: uuid.New(),
		Channel:    domain.ChannelCustomerApp,
		Items: []service.CreateOrderItemInput{
			{ProductID: productID, Quantity: 1},
		},
	})

	var notFound *domain.NotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Equal("customer", notFound.Resource)
}

func (s *OrderServiceSuite) TestChannelRulesRejectBeforeAnySideEffect() {
	productID := s.registerProduct(100)
	batchID := s.seedBatch(productID, "B-040", time.Now().Add(240*time.Hour), 10, 0)

	svc := s.newService(s.outboxRepo, 1)
	sellerID := uuid.New()

	_, err := svc.CreateOrder(s.Ctx, service.CreateOrderInput{
		CustomerID: uuid.New(),
		Channel:    domain.ChannelCustomerApp,
		SellerID:   &sellerID,
		Items: []service.CreateOrderItemInput{
			{ProductID: productID, Quantity: 1},
		},
	})

	var validation *domain.ValidationError
	s.Require().ErrorAs(err, &validation)
	s.Equal("seller_id", validation.Field)
	s.Equal(int32(0), s.reservedQuantity(batchID))
}

func (s *OrderServiceSuite) TestConcurrentOrdersNeverOversell() {
	productID := s.registerProduct(100)
	batchID := s.seedBatch(productID, "B-050", time.Now().Add(240*time.Hour), 10, 0)

	svc := s.newService(s.outboxRepo, 1)

	const workers = 6
	var wg sync.WaitGroup
	results := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			_, results[i] = svc.CreateOrder(s.Ctx, service.CreateOrderInput{
				CustomerID: uuid.New(),
				Channel:    domain.ChannelCustomerApp,
				Items: []service.CreateOrderItemInput{
					{ProductID: productID, Quantity: 3},
				},
			})
		}(i)
	}

	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}

		var outOfStock *domain.OutOfStockError
		var conflict *domain.ConcurrencyConflictError
		s.Require().True(
			errors.As(err, &outOfStock) || errors.As(err, &conflict),
			"unexpected error: %v", err,
		)
	}

	// 10 units, 3 per order: at most 3 orders can succeed and every
	// successful order is fully reserved.
	s.GreaterOrEqual(succeeded, 1)
	s.LessOrEqual(succeeded, 3)
	s.Equal(int32(succeeded*3), s.reservedQuantity(batchID))
	s.Equal(succeeded, s.countRows("orders"))
	s.Equal(succeeded, s.countRows("outbox"))
}

func (s *OrderServiceSuite) TestDispatcherPublishesStagedEvent() {
	productID := s.registerProduct(105)
	s.seedBatch(productID, "B-060", time.Now().Add(240*time.Hour), 10, 0)

	svc := s.newService(s.outboxRepo, 1)

	order, err := svc.CreateOrder(s.Ctx, service.CreateOrderInput{
		CustomerID: uuid.New(),
		Channel:    domain.ChannelCustomerApp,
		Items: []service.CreateOrderItemInput{
			{ProductID: productID, Quantity: 2},
		},
	})
	s.Require().NoError(err)

	producer, err := pkgKafka.NewProducer(s.KafkaBrokers)
	s.Require().NoError(err)
	defer producer.Close()

	dispatcherCtx, cancel := context.WithCancel(s.Ctx)
	defer cancel()

	dispatcher := worker.NewDispatcher(s.DbPool, s.outboxRepo, producer, s.logger, worker.Config{
		Interval:  100 * time.Millisecond,
		BatchSize: 10,
	})
	go dispatcher.Start(dispatcherCtx)

	s.Require().Eventually(func() bool {
		var published int
		err := s.DbPool.QueryRow(
			s.Ctx,
			"SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL",
		).Scan(&published)
		return err == nil && published == 1
	}, 30*time.Second, 200*time.Millisecond)

	msg := s.consumeOne("order_events", 30*time.Second)

	var envelope struct {
		Event   string          `json:"event"`
		EventID int64           `json:"event_id"`
		Payload json.RawMessage `json:"payload"`
	}
	s.Require().NoError(json.Unmarshal(msg, &envelope))
	s.Equal(domain.EventTypeOrderCreated, envelope.Event)
	s.NotZero(envelope.EventID)

	var event domain.OrderCreatedEvent
	s.Require().NoError(json.Unmarshal(envelope.Payload, &event))
	s.Equal(order.ID, event.OrderID)
	s.Equal(order.TotalAmount, event.TotalAmount)
	s.Require().Len(event.Items, 1)
	s.Len(event.Items[0].Allocations, 1)
}

func (s *OrderServiceSuite) TestDispatcherReschedulesOnPublishFailure() {
	productID := s.registerProduct(100)
	s.seedBatch(productID, "B-070", time.Now().Add(240*time.Hour), 10, 0)

	svc := s.newService(s.outboxRepo, 1)

	_, err := svc.CreateOrder(s.Ctx, service.CreateOrderInput{
		CustomerID: uuid.New(),
		Channel:    domain.ChannelCustomerApp,
		Items: []service.CreateOrderItemInput{
			{ProductID: productID, Quantity: 1},
		},
	})
	s.Require().NoError(err)

	dispatcherCtx, cancel := context.WithCancel(s.Ctx)
	defer cancel()

	var failures atomic.Int64
	dispatcher := worker.NewDispatcher(s.DbPool, s.outboxRepo, &failingPublisher{}, s.logger, worker.Config{
		Interval:    50 * time.Millisecond,
		BatchSize:   10,
		BackoffBase: time.Hour,
		BackoffCap:  2 * time.Hour,
	})
	dispatcher.OnFailed(func() { failures.Add(1) })
	go dispatcher.Start(dispatcherCtx)

	s.Require().Eventually(func() bool {
		var attempts int64
		err := s.DbPool.QueryRow(s.Ctx, "SELECT attempts FROM outbox").Scan(&attempts)
		return err == nil && attempts >= 1
	}, 10*time.Second, 100*time.Millisecond)

	cancel()

	// The row stays pending with its retry pushed behind the backoff window.
	var published *time.Time
	var nextAttempt time.Time
	var lastError *string
	err = s.DbPool.QueryRow(
		s.Ctx,
		"SELECT published_at, next_attempt_at, last_error FROM outbox",
	).Scan(&published, &nextAttempt, &lastError)
	s.Require().NoError(err)

	s.Nil(published)
	s.True(nextAttempt.After(time.Now().Add(30 * time.Minute)))
	s.Require().NotNil(lastError)
	s.Contains(*lastError, "broker unavailable")
	s.GreaterOrEqual(failures.Load(), int64(1))
}

func (s *OrderServiceSuite) consumeOne(topic string, timeout time.Duration) []byte {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	client, err := sarama.NewConsumer(s.KafkaBrokers, config)
	s.Require().NoError(err)
	defer client.Close()

	partition, err := client.ConsumePartition(topic, 0, sarama.OffsetOldest)
	s.Require().NoError(err)
	defer partition.Close()

	select {
	case msg := <-partition.Messages():
		return msg.Value
	case err := <-partition.Errors():
		s.Require().NoError(fmt.Errorf("consume error: %w", err))
	case <-time.After(timeout):
		s.Require().Fail("timed out waiting for kafka message on " + topic)
	}

	return nil
}
