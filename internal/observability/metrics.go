// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indexer.
type Metrics struct {
	// Ingestion metrics
	TransactionsReceived prometheus.Counter
	EventsParsed         *prometheus.CounterVec
	EventsApplied        *prometheus.CounterVec
	EventsSkipped        *prometheus.CounterVec
	ParseMismatches      prometheus.Counter
	StoreRetries         prometheus.Counter
	HighestSlotSeen      prometheus.Gauge
	PendingBatches       prometheus.Gauge

	// Latency metrics
	ResolveLatency prometheus.Histogram
	ApplyLatency   *prometheus.HistogramVec
	RPCCallLatency *prometheus.HistogramVec

	// Broadcast metrics
	UpdatesPublished *prometheus.CounterVec
	UpdatesDropped   *prometheus.CounterVec
	WSSubscribers    prometheus.Gauge
	WSReconnects     prometheus.Counter

	// Health metrics
	LastAppliedTimestamp prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "openclaw_indexer"
	}
	factory := promauto.With(reg)

	return &Metrics{
		TransactionsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "transactions_received_total",
			Help:      "Total number of log notifications received from the log source",
		}),
		EventsParsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_parsed_total",
			Help:      "Total number of domain events parsed by kind",
		}, []string{"kind"}),
		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_applied_total",
			Help:      "Total number of domain events applied to the state store by kind",
		}, []string{"kind"}),
		EventsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_skipped_total",
			Help:      "Total number of domain events skipped by kind and reason",
		}, []string{"kind", "reason"}),
		ParseMismatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "parse_mismatches_total",
			Help:      "Total number of log lines that matched a marker but failed to parse",
		}),
		StoreRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "store_retries_total",
			Help:      "Total number of retried state store applies",
		}),
		HighestSlotSeen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),
		PendingBatches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "pending_batches",
			Help:      "Transactions resolved or resolving but not yet applied",
		}),

		ResolveLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "resolve_latency_seconds",
			Help:      "Chain context resolution latency per transaction in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		ApplyLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "apply_latency_seconds",
			Help:      "State store apply latency in seconds by kind",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		UpdatesPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "updates_published_total",
			Help:      "Total number of derived updates published by type",
		}, []string{"type"}),
		UpdatesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "updates_dropped_total",
			Help:      "Total number of updates dropped by a full buffer, by sink",
		}, []string{"sink"}),
		WSSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "ws_clients",
			Help:      "Currently connected push clients",
		}),
		WSReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "ws_reconnects_total",
			Help:      "Total number of Solana WebSocket reconnects",
		}),

		LastAppliedTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_applied_timestamp",
			Help:      "Unix timestamp of the last applied transaction",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordTransactionReceived increments the received transactions counter.
func RecordTransactionReceived(slot int64) {
	DefaultMetrics.TransactionsReceived.Inc()
	DefaultMetrics.HighestSlotSeen.Set(float64(slot))
}

// RecordEventParsed increments the parsed events counter.
func RecordEventParsed(kind string) {
	DefaultMetrics.EventsParsed.WithLabelValues(kind).Inc()
}

// RecordEventApplied records a successful apply and its latency.
func RecordEventApplied(kind string, seconds float64) {
	DefaultMetrics.EventsApplied.WithLabelValues(kind).Inc()
	DefaultMetrics.ApplyLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordEventSkipped records an event that was not applied.
// Reasons: duplicate, unresolved, unknown_token, migrated, invalid.
func RecordEventSkipped(kind, reason string) {
	DefaultMetrics.EventsSkipped.WithLabelValues(kind, reason).Inc()
}

// RecordParseMismatch increments the parse mismatch counter.
func RecordParseMismatch() {
	DefaultMetrics.ParseMismatches.Inc()
}

// RecordStoreRetry increments the store retry counter.
func RecordStoreRetry() {
	DefaultMetrics.StoreRetries.Inc()
}

// RecordResolveLatency records chain context resolution latency.
func RecordResolveLatency(seconds float64) {
	DefaultMetrics.ResolveLatency.Observe(seconds)
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// SetPendingBatches updates the pending batches gauge.
func SetPendingBatches(n int) {
	DefaultMetrics.PendingBatches.Set(float64(n))
}

// RecordUpdatePublished increments the published updates counter.
func RecordUpdatePublished(updateType string) {
	DefaultMetrics.UpdatesPublished.WithLabelValues(updateType).Inc()
}

// RecordUpdateDropped increments the dropped updates counter.
func RecordUpdateDropped(sink string) {
	DefaultMetrics.UpdatesDropped.WithLabelValues(sink).Inc()
}

// AddWSClients adjusts the connected push clients gauge.
func AddWSClients(delta int) {
	DefaultMetrics.WSSubscribers.Add(float64(delta))
}

// RecordWSReconnect increments the Solana WebSocket reconnect counter.
func RecordWSReconnect() {
	DefaultMetrics.WSReconnects.Inc()
}

// RecordApplied marks the time of the last applied transaction.
func RecordApplied(unixSeconds int64) {
	DefaultMetrics.LastAppliedTimestamp.Set(float64(unixSeconds))
}
