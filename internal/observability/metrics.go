// README: Prometheus collectors for dispatch, lifecycle, wallet and transport.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "rides_requested_total", Help: "Ride requests created"})
	ClaimsTotal    = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "claims_total", Help: "Claim attempts by result"},
		[]string{"result"},
	)
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "ride_transitions_total", Help: "Successful ride status transitions"},
		[]string{"to"},
	)
	BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dispatch",
		Name:      "broadcast_fanout_workers",
		Help:      "Workers reached per broadcast",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
	})
	WalletOps = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "wallet_operations_total", Help: "Wallet mutations by type and result"},
		[]string{"type", "result"},
	)
	WorkersOnline     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "workers_online", Help: "Workers in the available pool"})
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "connections_active", Help: "Live gateway connections"})
	EventsDropped     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "events_dropped_total", Help: "Outbound events with no live connection"},
		[]string{"event"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
