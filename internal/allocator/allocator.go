// Package allocator selects inventory batches for an order line using a
// First-Expiry-First-Out policy and reserves them against concurrent orders.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/domain"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/internal/repository"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/mylogger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Plan walks the product's batches in FEFO order and decides how much to
// take from each. It is pure: no storage access, deterministic for a given
// input (ties on expiration date break on batch_number).
func Plan(batches []domain.InventoryBatch, productID uuid.UUID, quantity int32) ([]domain.BatchAllocation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("allocation quantity must be positive, got %d", quantity)
	}

	sorted := make([]domain.InventoryBatch, len(batches))
	copy(sorted, batches)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].ExpirationDate.Equal(sorted[j].ExpirationDate) {
			return sorted[i].ExpirationDate.Before(sorted[j].ExpirationDate)
		}
		return sorted[i].BatchNumber < sorted[j].BatchNumber
	})

	var allocations []domain.BatchAllocation
	var available int32
	remaining := quantity

	for _, batch := range sorted {
		if batch.Available() <= 0 {
			continue
		}
		available += batch.Available()

		if remaining <= 0 {
			continue
		}

		take := remaining
		if batch.Available() < take {
			take = batch.Available()
		}

		allocations = append(allocations, domain.BatchAllocation{
			BatchID:  batch.ID,
			Quantity: take,
		})
		remaining -= take
	}

	if remaining > 0 {
		return nil, &domain.OutOfStockError{
			ProductID: productID,
			Requested: quantity,
			Available: available,
		}
	}

	return allocations, nil
}

type Allocator struct {
	inventory repository.InventoryRepository
	logger    *zap.Logger
	retries   int
	tracer    trace.Tracer

	onConflict func()
}

func New(inventory repository.InventoryRepository, logger *zap.Logger, retries int) *Allocator {
	if retries <= 0 {
		retries = 3
	}

	return &Allocator{
		inventory: inventory,
		logger:    logger,
		retries:   retries,
		tracer:    otel.Tracer("inventory_allocator"),
	}
}

// OnConflict registers a hook invoked every time a reservation attempt loses
// to a concurrent order (used to bump metrics counters).
func (a *Allocator) OnConflict(fn func()) { a.onConflict = fn }

// Allocate reserves quantity units of a product inside the caller's
// transaction. Each attempt runs in a savepoint: if a conditional reserve
// loses to a concurrent order, the savepoint rolls back (releasing this
// attempt's partial reservations) and the plan is rebuilt against current
// availability, up to the configured retry bound.
//
// Reservations applied here only become durable when the caller commits the
// outer transaction; an abort of the whole order releases everything.
func (a *Allocator) Allocate(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int32) ([]domain.BatchAllocation, error) {
	ctx, span := a.tracer.Start(ctx, "Allocator.Allocate")
	defer span.End()

	span.SetAttributes(
		attribute.String("product_id", productID.String()),
		attribute.Int("quantity", int(quantity)),
	)

	for attempt := 1; attempt <= a.retries; attempt++ {
		batches, err := a.inventory.AvailableBatches(ctx, tx, productID)
		if err != nil {
			span.RecordError(err)

			return nil, err
		}

		allocations, err := Plan(batches, productID, quantity)
		if err != nil {
			return nil, err
		}

		applied, err := a.applyPlan(ctx, tx, allocations)
		if err != nil {
			span.RecordError(err)

			return nil, err
		}
		if applied {
			span.SetAttributes(attribute.Int("batches_used", len(allocations)))

			return allocations, nil
		}

		if a.onConflict != nil {
			a.onConflict()
		}

		mylogger.Debug(
			ctx,
			a.logger,
			"Allocation attempt conflicted, re-reading availability",
			zap.String("product_id", productID.String()),
			zap.Int("attempt", attempt),
		)
	}

	return nil, &domain.ConcurrencyConflictError{
		ProductID: productID,
		Attempts:  a.retries,
	}
}

// applyPlan reserves every allocation of the plan in a savepoint. Returns
// false (with a clean savepoint rollback) if any reservation conflicted.
func (a *Allocator) applyPlan(ctx context.Context, tx pgx.Tx, allocations []domain.BatchAllocation) (bool, error) {
	inner, err := tx.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to open savepoint: %w", err)
	}

	for _, alloc := range allocations {
		if err := a.inventory.Reserve(ctx, inner, alloc.BatchID, alloc.Quantity); err != nil {
			if rbErr := inner.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				return false, fmt.Errorf("failed to rollback savepoint: %w", rbErr)
			}

			if errors.Is(err, repository.ErrReservationConflict) {
				return false, nil
			}

			return false, err
		}
	}

	if err := inner.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to release savepoint: %w", err)
	}

	return true, nil
}
