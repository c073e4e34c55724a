package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the service's prometheus collectors on a dedicated
// registry, exposed on a side listener separate from the API port.
type Metrics struct {
	registry *prometheus.Registry

	OrdersCreated         prometheus.Counter
	OrdersRejected        *prometheus.CounterVec
	OrderCreateDuration   prometheus.Histogram
	AllocationConflicts   prometheus.Counter
	OutboxPublished       prometheus.Counter
	OutboxPublishFailures prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Orders accepted and committed.",
		}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_rejected_total",
			Help: "Orders rejected, by reason.",
		}, []string{"reason"}),
		OrderCreateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "order_create_duration_seconds",
			Help:    "Time spent admitting an order, allocation included.",
			Buckets: prometheus.DefBuckets,
		}),
		AllocationConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "allocation_conflicts_total",
			Help: "Reservation attempts lost to a concurrent order.",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox events successfully published to the broker.",
		}),
		OutboxPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Outbox publish attempts that failed and were rescheduled.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OrdersCreated,
		m.OrdersRejected,
		m.OrderCreateDuration,
		m.AllocationConflicts,
		m.OutboxPublished,
		m.OutboxPublishFailures,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve blocks on a plain http listener until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down metrics server", zap.Error(err))
		}
	}()

	logger.Info("Metrics server listening", zap.String("addr", addr))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server stopped", zap.Error(err))
	}
}
