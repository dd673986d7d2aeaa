// Package metrics registra los indicadores Prometheus del ledger y del relay del outbox.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stock_ledger"

var (
	// MovesAppended movimientos agregados al ledger por tipo y método de valoración.
	MovesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moves_appended_total",
		Help:      "Stock moves appended to the ledger.",
	}, []string{"type", "method"})

	// IdempotentReplays respuestas servidas desde un resultado almacenado.
	IdempotentReplays = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "idempotent_replays_total",
		Help:      "Requests answered from a stored idempotency record.",
	})

	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "lock_wait_seconds",
		Help:      "Time spent acquiring per-key stock leases.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})

	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lock_timeouts_total",
		Help:      "Stock lease acquisitions that timed out.",
	})

	// ConcurrentRetries transacciones reintentadas por modificación concurrente.
	ConcurrentRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "concurrent_modification_retries_total",
		Help:      "Transactions retried after an optimistic version conflict.",
	})

	OutboxEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_enqueued_total",
		Help:      "Outbox events enqueued by type.",
	}, []string{"event_type"})

	OutboxPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_published_total",
		Help:      "Outbox events published by type.",
	}, []string{"event_type"})

	OutboxFailedAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_failed_attempts_total",
		Help:      "Failed outbox publish attempts.",
	})

	// OutboxDeadLettered eventos que agotaron sus intentos.
	OutboxDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_dead_lettered_total",
		Help:      "Outbox events marked failed after exhausting attempts.",
	})

	OutboxArchived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_archived_total",
		Help:      "Published outbox events archived after retention.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)
