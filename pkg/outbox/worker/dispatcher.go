package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/mylogger"
	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/outbox/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	GetPendingEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error
	MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, errMsg string, retryIn time.Duration) error
}

// Publisher is the broker boundary. Production wires the Kafka producer;
// tests wire an in-memory fanout double.
type Publisher interface {
	ProduceMessage(ctx context.Context, topic string, message interface{}) error
}

type Config struct {
	BatchSize   int
	Interval    time.Duration
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   50,
		Interval:    500 * time.Millisecond,
		BackoffBase: time.Second,
		BackoffCap:  time.Minute,
	}
}

// Dispatcher drains staged outbox rows and publishes them to the broker.
// A crash between the order commit and the publish is harmless: the next
// cycle finds the still-unpublished row and retries.
type Dispatcher struct {
	pool      *pgxpool.Pool
	repo      OutboxRepository
	publisher Publisher
	logger    *zap.Logger
	cfg       Config
	tracer    trace.Tracer

	onPublished func()
	onFailed    func()
}

func NewDispatcher(
	pool *pgxpool.Pool,
	repo OutboxRepository,
	publisher Publisher,
	logger *zap.Logger,
	cfg Config,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}

	return &Dispatcher{
		pool:      pool,
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		tracer:    otel.Tracer("outbox-dispatcher"),
	}
}

// OnPublished registers a hook invoked after each successful publish
// (used to bump metrics counters).
func (d *Dispatcher) OnPublished(fn func()) { d.onPublished = fn }

// OnFailed registers a hook invoked after each failed publish.
func (d *Dispatcher) OnFailed(fn func()) { d.onFailed = fn }

func (d *Dispatcher) Start(ctx context.Context) {
	mylogger.Info(ctx, d.logger, "Starting outbox dispatcher")

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, d.logger, "Outbox dispatcher stopping")

			return
		case <-ticker.C:
			if err := d.processBatch(ctx); err != nil {
				mylogger.Error(
					ctx,
					d.logger,
					"Error processing outbox batch",
					zap.Error(err),
				)
			}
		}
	}
}

// Backoff returns the delay before the next publish attempt after the given
// number of failed attempts: base doubled per attempt, capped.
func Backoff(attempts int64, base, cap time.Duration) time.Duration {
	delay := base
	for i := int64(0); i < attempts; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.processBatch")
	defer span.End()

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				cleanupCtx,
				d.logger,
				"Outbox dispatcher failed to rollback transaction",
				zap.Error(err),
			)
		}
	}()

	events, err := d.repo.GetPendingEvents(ctx, tx, d.cfg.BatchSize)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	mylogger.Debug(
		ctx,
		d.logger,
		"Dispatching outbox events",
		zap.Int("count", len(events)),
	)

	for _, event := range events {
		var payloadMap map[string]any
		if err := json.Unmarshal(event.Payload, &payloadMap); err != nil {
			mylogger.Error(
				ctx,
				d.logger,
				"outbox dispatcher unmarshal event payload failed",
				zap.Int64("id", event.Id),
				zap.Error(err),
			)

			_ = d.repo.MarkEventFailed(ctx, tx, event.Id, err.Error(), d.backoffFor(event))
			continue
		}

		// The outbox id doubles as the idempotency key consumers dedupe on.
		payloadMap["event_id"] = event.Id

		err = d.publisher.ProduceMessage(ctx, event.Topic, payloadMap)
		if err != nil {
			// Publish failures never surface to the order-creation caller;
			// the row stays pending and the next eligible cycle retries it.
			mylogger.Error(
				ctx,
				d.logger,
				"outbox dispatcher publish failed",
				zap.Int64("id", event.Id),
				zap.Int64("attempts", event.Attempts),
				zap.Error(err),
			)

			if d.onFailed != nil {
				d.onFailed()
			}

			if dbErr := d.repo.MarkEventFailed(ctx, tx, event.Id, err.Error(), d.backoffFor(event)); dbErr != nil {
				mylogger.Error(
					ctx,
					d.logger,
					"outbox dispatcher mark event failed failed",
					zap.Int64("id", event.Id),
					zap.Error(dbErr),
				)
			}
		} else {
			if dbErr := d.repo.MarkEventPublished(ctx, tx, event.Id); dbErr != nil {
				mylogger.Error(
					ctx,
					d.logger,
					"outbox dispatcher mark event published failed",
					zap.Int64("id", event.Id),
					zap.Error(dbErr),
				)

				return dbErr
			}

			if d.onPublished != nil {
				d.onPublished()
			}

			mylogger.Debug(
				ctx,
				d.logger,
				"outbox event published successfully",
				zap.Int64("id", event.Id),
			)
		}
	}

	return tx.Commit(ctx)
}

func (d *Dispatcher) backoffFor(event *domain.OutboxEvent) time.Duration {
	return Backoff(event.Attempts, d.cfg.BackoffBase, d.cfg.BackoffCap)
}
