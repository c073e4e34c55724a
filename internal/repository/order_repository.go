package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/domain"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/mylogger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OrderRepository interface {
	CreateOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListCustomerOrders(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]domain.Order, error)
}

type orderRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("order_repository"),
	}
}

// CreateOrder inserts the order row, its items and their batch-allocation
// records. It runs inside the caller's transaction: the caller decides when
// (and whether) any of this becomes visible.
func (r *orderRepo) CreateOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID.String()),
		attribute.Int("items_count", len(order.Items)),
	)

	queryOrder := `
		INSERT INTO orders (id, customer_id, creation_channel, seller_id, visit_id, status, total_amount, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := tx.Exec(
		ctx,
		queryOrder,
		order.ID,
		order.CustomerID,
		string(order.Channel),
		order.SellerID,
		order.VisitID,
		string(order.Status),
		order.TotalAmount,
		order.PlacedAt,
	)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to insert order",
			zap.Error(err),
		)

		return fmt.Errorf("failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	queryAllocation := `
		INSERT INTO order_item_allocations (order_item_id, batch_id, quantity)
		VALUES ($1, $2, $3)
	`

	for _, item := range order.Items {
		_, err := tx.Exec(
			ctx,
			queryItem,
			item.ID,
			order.ID,
			item.ProductID,
			item.Quantity,
			item.UnitPrice,
			item.LineTotal,
		)
		if err != nil {
			span.RecordError(err)

			mylogger.Error(
				ctx,
				r.logger,
				"Failed to insert order item",
				zap.Error(err),
			)

			return fmt.Errorf("failed to insert order item: %w", err)
		}

		for _, alloc := range item.Allocations {
			_, err := tx.Exec(ctx, queryAllocation, item.ID, alloc.BatchID, alloc.Quantity)
			if err != nil {
				span.RecordError(err)

				return fmt.Errorf("failed to insert item allocation: %w", err)
			}
		}
	}

	return nil
}

func (r *orderRepo) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID.String()),
	)

	query := `
		SELECT id, customer_id, creation_channel, seller_id, visit_id, status, total_amount, placed_at
		FROM orders
		WHERE id = $1
	`

	var order domain.Order
	err := r.pool.QueryRow(ctx, query, orderID).Scan(
		&order.ID,
		&order.CustomerID,
		&order.Channel,
		&order.SellerID,
		&order.VisitID,
		&order.Status,
		&order.TotalAmount,
		&order.PlacedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)

		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	items, err := r.orderItems(ctx, orderID)
	if err != nil {
		span.RecordError(err)

		return nil, err
	}
	order.Items = items

	return &order, nil
}

func (r *orderRepo) ListCustomerOrders(ctx context.Context, customerID uuid.UUID, limit, offset int) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListCustomerOrders")
	defer span.End()

	span.SetAttributes(
		attribute.String("customer_id", customerID.String()),
	)

	query := `
		SELECT id, customer_id, creation_channel, seller_id, visit_id, status, total_amount, placed_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY placed_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, customerID, limit, offset)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query customer orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID,
			&order.CustomerID,
			&order.Channel,
			&order.SellerID,
			&order.VisitID,
			&order.Status,
			&order.TotalAmount,
			&order.PlacedAt,
		); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning order: %w", err)
		}

		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func (r *orderRepo) orderItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	query := `
		SELECT i.id, i.order_id, i.product_id, i.quantity, i.unit_price, i.line_total
		FROM order_items i
		WHERE i.order_id = $1
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("error scanning order item: %w", err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	allocQuery := `
		SELECT batch_id, quantity
		FROM order_item_allocations
		WHERE order_item_id = $1
	`

	for i := range items {
		allocRows, err := r.pool.Query(ctx, allocQuery, items[i].ID)
		if err != nil {
			return nil, fmt.Errorf("failed to query item allocations: %w", err)
		}

		var allocations []domain.BatchAllocation
		for allocRows.Next() {
			var alloc domain.BatchAllocation
			if err := allocRows.Scan(&alloc.BatchID, &alloc.Quantity); err != nil {
				allocRows.Close()

				return nil, fmt.Errorf("error scanning allocation: %w", err)
			}

			allocations = append(allocations, alloc)
		}
		allocRows.Close()

		if err := allocRows.Err(); err != nil {
			return nil, fmt.Errorf("rows error: %w", err)
		}

		items[i].Allocations = allocations
	}

	return items, nil
}
