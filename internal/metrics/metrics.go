// Package metrics holds the prometheus collectors shared by the price
// cache, fetcher, matcher, broadcaster and webhook notifier.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "papertrade"

// Outcome labels for upstream fetches.
const (
	FetchOK          = "ok"
	FetchRateLimited = "rate_limited"
	FetchNotFound    = "not_found"
	FetchError       = "error"
)

// Metrics groups every collector the engine updates.
type Metrics struct {
	UpstreamFetches *prometheus.CounterVec // caller, outcome
	CacheReads      *prometheus.CounterVec // result: fresh, joined, initiated
	CacheFallbacks  prometheus.Counter
	MatcherOrders   *prometheus.CounterVec // outcome
	MatcherCycle    prometheus.Histogram
	BroadcastPushes prometheus.Counter
	ActiveSymbols   prometheus.Gauge
	Connections     prometheus.Gauge
	WebhookDelivery *prometheus.CounterVec // outcome: ok, error
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UpstreamFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_fetches_total",
			Help:      "Upstream quote requests by caller and outcome.",
		}, []string{"caller", "outcome"}),
		CacheReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_cache_reads_total",
			Help:      "Price cache reads by how they were served.",
		}, []string{"result"}),
		CacheFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_cache_stale_fallbacks_total",
			Help:      "Reads answered with a stale or missing price after a failed or slow fetch.",
		}),
		MatcherOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matcher_orders_total",
			Help:      "Orders evaluated by the matcher, by outcome.",
		}, []string{"outcome"}),
		MatcherCycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matcher_cycle_seconds",
			Help:      "Duration of a full matcher cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}),
		BroadcastPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_pushes_total",
			Help:      "Price change events pushed to subscribers.",
		}),
		ActiveSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_symbols",
			Help:      "Symbols with at least one live subscriber.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_connections",
			Help:      "Open websocket connections.",
		}),
		WebhookDelivery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Fill webhook deliveries by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.UpstreamFetches,
		m.CacheReads,
		m.CacheFallbacks,
		m.MatcherOrders,
		m.MatcherCycle,
		m.BroadcastPushes,
		m.ActiveSymbols,
		m.Connections,
		m.WebhookDelivery,
	)
	return m
}

// Discard returns collectors registered on a private registry, for tests
// and tools that do not expose /metrics.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
