package consumer

import (
	"context"
	"errors"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Outcome of a single event delivery.
type Outcome int

const (
	Applied Outcome = iota
	Skipped
)

// ApplyOnce makes at-least-once delivery safe: it records
// (consumer_name, event_id) in processed_events and runs the effect inside
// the same transaction. A redelivered event hits the primary key and is
// skipped without running the effect; a crash between effect and record is
// impossible because they commit together.
func ApplyOnce(
	ctx context.Context,
	pool *pgxpool.Pool,
	logger *zap.Logger,
	consumerName string,
	eventID int64,
	effect func(tx pgx.Tx) error,
) (Outcome, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return Skipped, err
	}

	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(shutdownCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				shutdownCtx,
				logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	query := `
		INSERT INTO processed_events (consumer_name, event_id)
		VALUES ($1, $2)
	`

	_, err = tx.Exec(ctx, query, consumerName, eventID)
	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == "23505" {
			mylogger.Info(
				ctx,
				logger,
				"Event already processed, skipping",
				zap.String("consumer", consumerName),
				zap.Int64("event_id", eventID),
			)

			return Skipped, nil
		}

		return Skipped, err
	}

	if err := effect(tx); err != nil {
		return Skipped, err
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(
			ctx,
			logger,
			"Failed to commit consumer transaction",
			zap.String("consumer", consumerName),
			zap.Int64("event_id", eventID),
			zap.Error(err),
		)

		return Skipped, err
	}

	return Applied, nil
}
