package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts API requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes request latency by path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "treasury_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// RPCCallsTotal counts chain RPC calls by chain and outcome.
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_rpc_calls_total",
		Help: "Total chain RPC calls",
	}, []string{"chain_id", "outcome"})

	// BridgeQuotesTotal counts bridge quotes by provider and outcome.
	BridgeQuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_bridge_quotes_total",
		Help: "Total bridge quotes requested",
	}, []string{"provider", "outcome"})

	// DeploymentsTotal counts account deployment registrations by chain.
	DeploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "treasury_account_deployments_total",
		Help: "Total account deployments registered",
	}, []string{"chain_id"})

	// FillTrackingDuration observes how long fill tracking runs take.
	FillTrackingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "treasury_fill_tracking_duration_seconds",
		Help:    "Duration of bridge fill tracking runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
)
