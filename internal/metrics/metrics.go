package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PositionsIngested counts accepted vehicle position samples
	PositionsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "positions_ingested_total", Help: "Vehicle position samples stored."},
	)
	// GeofenceEvents counts geofence transitions by type
	GeofenceEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geofence_events_total", Help: "Geofence events by type."},
		[]string{"type"},
	)
	// Optimizations counts optimization runs by outcome
	Optimizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_optimizations_total", Help: "Route optimization runs by outcome."},
		[]string{"outcome"},
	)
	// PlanRuns counts planning runs by mode and outcome
	PlanRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "plan_runs_total", Help: "Distribution planning runs by mode and outcome."},
		[]string{"mode", "outcome"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(PositionsIngested)
		Registry.MustRegister(GeofenceEvents)
		Registry.MustRegister(Optimizations)
		Registry.MustRegister(PlanRuns)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
