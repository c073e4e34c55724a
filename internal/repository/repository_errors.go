package repository

import "errors"

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrReservationConflict means the conditional reserved_quantity update
	// matched no row: a concurrent allocation consumed the stock first.
	ErrReservationConflict = errors.New("batch reservation conflict")
)
