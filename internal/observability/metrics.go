package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal           = promauto.NewCounter(prometheus.CounterOpts{Namespace: "transit_dispatch", Name: "ticks_total", Help: "Completed simulator ticks"})
	PositionUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "transit_dispatch", Name: "position_updates_total", Help: "Vehicle position writes (simulated and telemetry)"})
	TickerRestartsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "transit_dispatch", Name: "ticker_restarts_total", Help: "Supervisor-forced ticker restarts"})

	DispatchDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "transit_dispatch", Name: "dispatch_decisions_total", Help: "Ride decisions by outcome"},
		[]string{"decision", "reason"},
	)
	BoardingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "transit_dispatch", Name: "boarding_events_total", Help: "Boarding lifecycle events"},
		[]string{"type"},
	)

	VehiclesTracked = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "transit_dispatch", Name: "vehicles_tracked", Help: "Vehicles currently tracked"})
	AuditEntries    = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "transit_dispatch", Name: "audit_entries", Help: "Audit log size after last maintenance pass"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "transit_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "transit_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
