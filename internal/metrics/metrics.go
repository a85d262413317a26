package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printops_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "printops_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QuotaOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printops_quota_operations_total",
			Help: "Quota ledger operations by operation and result.",
		},
		[]string{"operation", "result"},
	)

	QuotaUnitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printops_quota_units_total",
			Help: "Print units deducted or refunded, by operation and kind.",
		},
		[]string{"operation", "kind"},
	)

	QuotaLockWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "printops_quota_lock_wait_seconds",
			Help:    "Time spent inside a locked quota ledger update.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	QuotaAlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printops_quota_alerts_total",
			Help: "Quota warning thresholds crossed, by kind.",
		},
		[]string{"kind"},
	)

	OrdersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printops_orders_created_total",
			Help: "Order creation attempts by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printops_order_transitions_total",
			Help: "Successful order status transitions.",
		},
		[]string{"from", "to"},
	)

	ImportRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printops_import_rows_total",
			Help: "Bulk import rows processed, by outcome.",
		},
		[]string{"outcome"},
	)

	EventsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printops_events_consumed_total",
			Help: "Events consumed from JetStream, by consumer and result.",
		},
		[]string{"consumer", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QuotaOperationsTotal,
		QuotaUnitsTotal,
		QuotaLockWait,
		QuotaAlertsTotal,
		OrdersCreatedTotal,
		OrderTransitionsTotal,
		ImportRowsTotal,
		EventsConsumedTotal,
	)
}
