package repository

import (
	"context"
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

type InventoryRepository interface {
	AvailableBatches(ctx context.Context, tx pgx.Tx, productID uuid.UUID) ([]domain.InventoryBatch, error)
	Reserve(ctx context.Context, tx pgx.Tx, batchID uuid.UUID, quantity int32) error
}

type inventoryRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewInventoryRepository(pool *pgxpool.Pool, logger *zap.Logger) InventoryRepository {
	return &inventoryRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("inventory_repository"),
	}
}

// AvailableBatches returns the batches with remaining stock for a product in
// FEFO order: soonest expiration first, ties broken by batch_number so the
// walk is deterministic.
func (r *inventoryRepo) AvailableBatches(ctx context.Context, tx pgx.Tx, productID uuid.UUID) ([]domain.InventoryBatch, error) {
	ctx, span := r.tracer.Start(ctx, "InventoryRepository.AvailableBatches")
	defer span.End()

	span.SetAttributes(
		attribute.String("product_id", productID.String()),
	)

	query := `
		SELECT id, product_id, warehouse_id, batch_number, expiration_date, total_quantity, reserved_quantity
		FROM inventory_batches
		WHERE product_id = $1 AND total_quantity - reserved_quantity > 0
		ORDER BY expiration_date ASC, batch_number ASC
	`

	rows, err := tx.Query(ctx, query, productID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query inventory batches",
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to query inventory batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.InventoryBatch
	for rows.Next() {
		var b domain.InventoryBatch
		if err := rows.Scan(
			&b.ID,
			&b.ProductID,
			&b.WarehouseID,
			&b.BatchNumber,
			&b.ExpirationDate,
			&b.TotalQuantity,
			&b.ReservedQuantity,
		); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning batch: %w", err)
		}

		batches = append(batches, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return batches, nil
}

// Reserve increases reserved_quantity by quantity only if the batch still
// has that much available. The check and the increment are a single UPDATE,
// so two concurrent orders can never both take the last units of a batch.
func (r *inventoryRepo) Reserve(ctx context.Context, tx pgx.Tx, batchID uuid.UUID, quantity int32) error {
	ctx, span := r.tracer.Start(ctx, "InventoryRepository.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("batch_id", batchID.String()),
		attribute.Int("quantity", int(quantity)),
	)

	query := `
		UPDATE inventory_batches
		SET reserved_quantity = reserved_quantity + $2,
			updated_at = NOW()
		WHERE id = $1
		  AND total_quantity - reserved_quantity >= $2
	`

	commandTag, err := tx.Exec(ctx, query, batchID, quantity)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to reserve batch quantity",
			zap.String("batch_id", batchID.String()),
			zap.Error(err),
		)

		return fmt.Errorf("failed to reserve batch quantity: %w", err)
	}

	if commandTag.RowsAffected() == 0 {
		mylogger.Debug(
			ctx,
			r.logger,
			"Batch reservation lost to a concurrent order",
			zap.String("batch_id", batchID.String()),
			zap.Int32("quantity", quantity),
		)

		return ErrReservationConflict
	}

	return nil
}
