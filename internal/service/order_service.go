package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/allocator"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/clients"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/domain"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/pricing"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/repository"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/mylogger"
	outboxDomain "github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/outbox/domain"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/outbox/worker"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CreateOrderItemInput struct {
	ProductID uuid.UUID
	Quantity  int32
}

type CreateOrderInput struct {
	CustomerID uuid.UUID
	Channel    domain.CreationChannel
	SellerID   *uuid.UUID
	VisitID    *uuid.UUID
	Items      []CreateOrderItemInput
}

type OrderService interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListCustomerOrders(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]domain.Order, error)
}

type orderService struct {
	pool         *pgxpool.Pool
	logger       *zap.Logger
	orderRepo    repository.OrderRepository
	alloc        *allocator.Allocator
	outboxRepo   worker.OutboxRepository
	customers    clients.CustomerClient
	catalog      clients.CatalogClient
	orderTopic   string
	orderRetries int
	tracer       trace.Tracer
}

func NewOrderService(
	pool *pgxpool.Pool,
	logger *zap.Logger,
	orderRepo repository.OrderRepository,
	alloc *allocator.Allocator,
	outboxRepo worker.OutboxRepository,
	customers clients.CustomerClient,
	catalog clients.CatalogClient,
	orderTopic string,
	orderRetries int,
) OrderService {
	if orderRetries < 0 {
		orderRetries = 0
	}

	return &orderService{
		pool:         pool,
		logger:       logger,
		orderRepo:    orderRepo,
		alloc:        alloc,
		outboxRepo:   outboxRepo,
		customers:    customers,
		catalog:      catalog,
		orderTopic:   orderTopic,
		orderRetries: orderRetries,
		tracer:       otel.Tracer("order_service"),
	}
}

// CreateOrder runs the admission pipeline: validate → allocate (FEFO) →
// price → persist order, items, reservations and the staged OrderCreated
// event as one transaction. The event row exists if and only if the order
// committed.
func (s *orderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("customer_id", input.CustomerID.String()),
		attribute.String("channel", string(input.Channel)),
		attribute.Int("items_count", len(input.Items)),
	)

	draft := s.buildDraft(input)
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.customers.Exists(ctx, input.CustomerID)
	if err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Customer lookup failed",
			zap.String("customer_id", input.CustomerID.String()),
			zap.Error(err),
		)

		return nil, fmt.Errorf("customer lookup failed: %w", err)
	}
	if !exists {
		return nil, &domain.NotFoundError{Resource: "customer", ID: input.CustomerID}
	}

	products, err := s.fetchProducts(ctx, input.Items)
	if err != nil {
		return nil, err
	}

	// A conflict means the allocator's bounded retries were beaten by
	// concurrent orders every time; one whole-order retry against fresh
	// availability is allowed before giving up.
	var order *domain.Order
	for attempt := 0; ; attempt++ {
		order, err = s.createOnce(ctx, draft, products)
		if err == nil {
			break
		}

		var conflictErr *domain.ConcurrencyConflictError
		if errors.As(err, &conflictErr) && attempt < s.orderRetries {
			mylogger.Warn(
				ctx,
				s.logger,
				"Order allocation conflicted, retrying whole order",
				zap.String("product_id", conflictErr.ProductID.String()),
				zap.Int("attempt", attempt+1),
			)

			continue
		}

		return nil, err
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order created",
		zap.String("order_id", order.ID.String()),
		zap.Int64("total_amount", order.TotalAmount),
		zap.Int("items_count", len(order.Items)),
	)

	return order, nil
}

func (s *orderService) buildDraft(input CreateOrderInput) *domain.Order {
	items := make([]domain.OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, domain.OrderItem{
			ID:        uuid.New(),
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	return &domain.Order{
		ID:         uuid.New(),
		CustomerID: input.CustomerID,
		Channel:    input.Channel,
		SellerID:   input.SellerID,
		VisitID:    input.VisitID,
		Status:     domain.OrderStatusPlaced,
		PlacedAt:   time.Now().UTC(),
		Items:      items,
	}
}

func (s *orderService) fetchProducts(ctx context.Context, items []CreateOrderItemInput) (map[uuid.UUID]*clients.Product, error) {
	products := make(map[uuid.UUID]*clients.Product, len(items))
	for _, item := range items {
		if _, ok := products[item.ProductID]; ok {
			continue
		}

		product, err := s.catalog.Get(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}

		products[item.ProductID] = product
	}

	return products, nil
}

func (s *orderService) createOnce(ctx context.Context, draft *domain.Order, products map[uuid.UUID]*clients.Product) (*domain.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "begin transaction", Err: err}
	}
	defer func() {
		// A client disconnect must still release any reservations taken in
		// this attempt, so the rollback runs on an uncancellable context.
		shutdownCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(shutdownCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				shutdownCtx,
				s.logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	// Fresh ids and state per attempt so a retried order cannot collide
	// with rows from an aborted attempt.
	order := &domain.Order{
		ID:         uuid.New(),
		CustomerID: draft.CustomerID,
		Channel:    draft.Channel,
		SellerID:   draft.SellerID,
		VisitID:    draft.VisitID,
		Status:     draft.Status,
		PlacedAt:   draft.PlacedAt,
		Items:      make([]domain.OrderItem, len(draft.Items)),
	}

	for i, draftItem := range draft.Items {
		allocations, err := s.alloc.Allocate(ctx, tx, draftItem.ProductID, draftItem.Quantity)
		if err != nil {
			// OutOfStock or ConcurrencyConflict: the deferred rollback
			// releases every reservation this order already took.
			return nil, err
		}

		product := products[draftItem.ProductID]
		unitPrice := pricing.UnitPrice(product.BasePrice)

		order.Items[i] = domain.OrderItem{
			ID:          uuid.New(),
			OrderID:     order.ID,
			ProductID:   draftItem.ProductID,
			Quantity:    draftItem.Quantity,
			UnitPrice:   unitPrice,
			LineTotal:   pricing.LineTotal(unitPrice, draftItem.Quantity),
			Allocations: allocations,
		}
	}

	order.CalculateTotal()

	if err := s.orderRepo.CreateOrder(ctx, tx, order); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to persist order",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)

		return nil, &domain.PersistenceError{Op: "insert order", Err: err}
	}

	if err := s.stageOrderCreated(ctx, tx, order); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to commit order transaction",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)

		return nil, &domain.PersistenceError{Op: "commit order", Err: err}
	}

	return order, nil
}

func (s *orderService) stageOrderCreated(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	envelope := map[string]any{
		"event":   domain.EventTypeOrderCreated,
		"payload": domain.NewOrderCreatedEvent(order),
	}

	payloadBytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	outboxEvent := &outboxDomain.OutboxEvent{
		AggregateType: "Order",
		AggregateID:   order.ID.String(),
		EventType:     domain.EventTypeOrderCreated,
		Payload:       payloadBytes,
		Topic:         s.orderTopic,
	}

	if err := s.outboxRepo.SaveOutboxEvent(ctx, tx, outboxEvent); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to stage outbox event",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)

		return &domain.PersistenceError{Op: "stage outbox event", Err: err}
	}

	return nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.orderRepo.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, &domain.NotFoundError{Resource: "order", ID: orderID}
		}

		return nil, &domain.PersistenceError{Op: "get order", Err: err}
	}

	return order, nil
}

func (s *orderService) ListCustomerOrders(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListCustomerOrders")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	orders, err := s.orderRepo.ListCustomerOrders(ctx, customerID, limit, offset)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list customer orders", Err: err}
	}

	return orders, nil
}
