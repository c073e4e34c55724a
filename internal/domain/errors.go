package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError is a client-input fault. It is never retried automatically
// and names the rule that was broken.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError marks a referenced customer or product that does not exist.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// OutOfStockError carries the per-product shortfall detail. The allocation
// that produced it left no partial reservation behind.
type OutOfStockError struct {
	ProductID uuid.UUID
	Requested int32
	Available int32
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf(
		"insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available,
	)
}

// ConcurrencyConflictError surfaces after the allocator exhausted its bounded
// retries against concurrent reservations on the same batches.
type ConcurrencyConflictError struct {
	ProductID uuid.UUID
	Attempts  int
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf(
		"reservation conflict on product %s after %d attempts",
		e.ProductID, e.Attempts,
	)
}

// PersistenceError wraps a storage fault during order creation. Nothing was
// committed, so the whole call is safe to retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
