// Package metrics provides Prometheus metrics for the clinical engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestsComposed      prometheus.Counter
	RequestsRejected      prometheus.Counter
	CatalogItemsCreated   prometheus.Counter
	ReconcileUnresolved   prometheus.Counter
	ComposeDuration       prometheus.Histogram
	DocumentsDelivered    prometheus.Counter
	DeliveryFailures      prometheus.Counter
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		RequestsComposed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "requests_composed_total",
			Help: "Total clinical requests composed",
		}),
		RequestsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "requests_rejected_total",
			Help: "Total clinical requests rejected by validation",
		}),
		CatalogItemsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_items_created_total",
			Help: "Total catalog items created during reconciliation",
		}),
		ReconcileUnresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_unresolved_total",
			Help: "Total item names left unresolved after reconciliation",
		}),
		ComposeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "request_compose_duration_seconds",
			Help:    "End-to-end compose duration including catalog reconciliation",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		DocumentsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "documents_delivered_total",
			Help: "Total request documents delivered downstream",
		}),
		DeliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "document_delivery_failures_total",
			Help: "Total failed document deliveries",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.RequestsComposed,
		m.RequestsRejected,
		m.CatalogItemsCreated,
		m.ReconcileUnresolved,
		m.ComposeDuration,
		m.DocumentsDelivered,
		m.DeliveryFailures,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
