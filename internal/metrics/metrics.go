// Package metrics exposes Prometheus metrics for the trading client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OrdersTotal counts placed entry orders by instrument, side and type.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpdesk",
		Name:      "orders_total",
		Help:      "Total entry orders placed",
	}, []string{"instrument", "side", "type"})

	// ExecutionFailuresTotal counts execution failures by stage.
	ExecutionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpdesk",
		Name:      "execution_failures_total",
		Help:      "Execution failures by state machine stage",
	}, []string{"instrument", "stage"})

	// AlgoOrdersTotal counts attached conditional orders.
	AlgoOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpdesk",
		Name:      "algo_orders_total",
		Help:      "Conditional stop-loss/take-profit orders placed",
	}, []string{"instrument", "kind"})

	// UnprotectedPositionsTotal counts live positions whose conditional
	// order placement failed.
	UnprotectedPositionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpdesk",
		Name:      "unprotected_positions_total",
		Help:      "Live positions left without a stop-loss or take-profit",
	}, []string{"instrument"})

	// StageDuration observes per-stage execution latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "perpdesk",
		Name:      "stage_duration_seconds",
		Help:      "Execution state machine stage latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	// CacheRefreshTotal counts contract metadata refreshes.
	CacheRefreshTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "perpdesk",
		Name:      "metadata_refresh_total",
		Help:      "Contract metadata refreshes",
	})

	// PriceRowsWrittenTotal counts persisted price rows.
	PriceRowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "perpdesk",
		Name:      "price_rows_written_total",
		Help:      "Price rows written to persistent storage",
	}, []string{"instrument", "timeframe"})
)
