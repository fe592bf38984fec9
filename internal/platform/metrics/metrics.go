// Package metrics owns the service's Prometheus registry. A nil *Collector is
// valid and records nothing, so components can be built without metrics in
// tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	bookingResults *prometheus.CounterVec
	cacheRequests  *prometheus.CounterVec
	rebuildSeconds *prometheus.HistogramVec
	cellsUpdated   prometheus.Counter
	broadcastSent  *prometheus.CounterVec
	broadcastDrops prometheus.Counter
	workerTasks    *prometheus.CounterVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		bookingResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_outcomes_total",
			Help: "Booking coordinator outcomes by operation and result code",
		}, []string{"operation", "result"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "availability_cache_requests_total",
			Help: "Availability cache lookups by result",
		}, []string{"result"}),
		rebuildSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "summary_rebuild_duration_seconds",
			Help:    "Duration of summary rebuilds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"mode"}),
		cellsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "summary_cells_updated_total",
			Help: "Daily slot summary rows written",
		}),
		broadcastSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcast_events_total",
			Help: "Change events delivered to transports by event type",
		}, []string{"type"}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_dropped_total",
			Help: "Change events dropped because the broadcast buffer was full",
		}),
		workerTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_tasks_total",
			Help: "Background side-effect tasks by name and result",
		}, []string{"task", "result"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.httpRequests,
		c.httpDuration,
		c.bookingResults,
		c.cacheRequests,
		c.rebuildSeconds,
		c.cellsUpdated,
		c.broadcastSent,
		c.broadcastDrops,
		c.workerTasks,
	)
	return c
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RecordBookingOutcome(operation, result string) {
	if c == nil {
		return
	}
	c.bookingResults.WithLabelValues(operation, result).Inc()
}

func (c *Collector) RecordCacheRequest(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheRequests.WithLabelValues(result).Inc()
}

func (c *Collector) RecordSummaryRebuild(mode string, d time.Duration, cells int) {
	if c == nil {
		return
	}
	c.rebuildSeconds.WithLabelValues(mode).Observe(d.Seconds())
	c.cellsUpdated.Add(float64(cells))
}

func (c *Collector) RecordBroadcast(eventType string) {
	if c == nil {
		return
	}
	c.broadcastSent.WithLabelValues(eventType).Inc()
}

func (c *Collector) RecordBroadcastDrop() {
	if c == nil {
		return
	}
	c.broadcastDrops.Inc()
}

func (c *Collector) RecordWorkerTask(task, result string) {
	if c == nil {
		return
	}
	c.workerTasks.WithLabelValues(task, result).Inc()
}

// Middleware records request counts and latency keyed by the matched route
// pattern, not the raw path, to keep label cardinality bounded.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			if c == nil {
				return next(ec)
			}
			start := time.Now()
			err := next(ec)

			status := ec.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}
			route := ec.Path()
			if route == "" {
				route = "unmatched"
			}
			method := ec.Request().Method
			c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			c.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
