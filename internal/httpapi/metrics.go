package httpapi

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"nexrt/pkg/types"
)

const metricsNamespace = "nexrt"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "In-flight HTTP requests",
		},
		[]string{"path"},
	)

	backpressureTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "backpressure_total",
			Help:      "Total requests rejected because a plugin could not take them",
		},
		[]string{"reason"},
	)

	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events not delivered to a slow websocket subscriber",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight, backpressureTotal, eventsDropped)
}

// statusRecorder wraps http.ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// Hijack hands the connection to the websocket upgrader.
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("httpapi: response writer cannot be hijacked")
	}
	sr.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// MetricsMiddleware instruments requests for Prometheus
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The route pattern is unknown until routing completes.
		inflight := inflightLabel(r.URL.Path)
		httpInflight.WithLabelValues(inflight).Inc()
		defer httpInflight.WithLabelValues(inflight).Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)
		path := routePatternOrPath(r)
		statusLabel := strconv.Itoa(sr.status)
		httpRequestsTotal.WithLabelValues(path, r.Method, statusLabel).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method, statusLabel).Observe(time.Since(start).Seconds())
	})
}

func inflightLabel(path string) string {
	switch path {
	case "/healthz", "/readyz", "/metrics", "/v1/stats", "/v1/platform", "/v1/plugins", "/v1/events":
		return path
	}
	return "other"
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// IncrementBackpressure counts a rejected request.
func IncrementBackpressure(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	backpressureTotal.WithLabelValues(reason).Inc()
}

// RuntimeCollector exports a runtime snapshot as gauges on every scrape.
type RuntimeCollector struct {
	snapshot func() types.StatsResponse

	healthy        *prometheus.Desc
	poolCount      *prometheus.Desc
	bytesInUse     *prometheus.Desc
	peakBytes      *prometheus.Desc
	allocations    *prometheus.Desc
	deallocations  *prometheus.Desc
	corruption     *prometheus.Desc
	threads        *prometheus.Desc
	queueDepth     *prometheus.Desc
	tasksCompleted *prometheus.Desc
	tasksFailed    *prometheus.Desc
	plugins        *prometheus.Desc
	failedLoads    *prometheus.Desc
}

// NewRuntimeCollector builds a collector over snapshot.
func NewRuntimeCollector(snapshot func() types.StatsResponse) *RuntimeCollector {
	d := func(sub, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, sub, name), help, labels, nil)
	}
	return &RuntimeCollector{
		snapshot:       snapshot,
		healthy:        d("", "healthy", "1 when every subsystem reports healthy"),
		poolCount:      d("memory", "pools", "Object pools created"),
		bytesInUse:     d("memory", "allocator_bytes_in_use", "Bytes outstanding from the general allocator"),
		peakBytes:      d("memory", "allocator_peak_bytes", "Peak bytes outstanding from the general allocator"),
		allocations:    d("memory", "allocations_total", "Allocator allocations"),
		deallocations:  d("memory", "deallocations_total", "Allocator deallocations"),
		corruption:     d("memory", "corruption_events_total", "Detected invariant violations"),
		threads:        d("scheduler", "threads", "Worker threads across schedulers"),
		queueDepth:     d("scheduler", "queue_depth", "Queued tasks across schedulers"),
		tasksCompleted: d("scheduler", "tasks_completed_total", "Tasks completed"),
		tasksFailed:    d("scheduler", "tasks_failed_total", "Tasks failed"),
		plugins:        d("plugin", "loaded", "Loaded plugins by status", "status"),
		failedLoads:    d("plugin", "failed_loads_total", "Plugin load failures"),
	}
}

func (c *RuntimeCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.healthy, c.poolCount, c.bytesInUse, c.peakBytes, c.allocations, c.deallocations, c.corruption,
		c.threads, c.queueDepth, c.tasksCompleted, c.tasksFailed, c.plugins, c.failedLoads,
	} {
		ch <- d
	}
}

func (c *RuntimeCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	healthy := 0.0
	if s.Healthy {
		healthy = 1
	}
	gauge(c.healthy, healthy)
	gauge(c.poolCount, float64(s.Memory.PoolCount))
	gauge(c.bytesInUse, float64(s.Memory.BytesInUse))
	gauge(c.peakBytes, float64(s.Memory.PeakBytes))
	counter(c.allocations, s.Memory.AllocationCount)
	counter(c.deallocations, s.Memory.DeallocationCount)
	counter(c.corruption, s.Memory.CorruptionEvents)
	gauge(c.threads, float64(s.Scheduler.TotalThreads))
	gauge(c.queueDepth, float64(s.Scheduler.QueueDepth))
	counter(c.tasksCompleted, s.Scheduler.Completed)
	counter(c.tasksFailed, s.Scheduler.Failed)
	for status, n := range s.Plugins.ByStatus {
		gauge(c.plugins, float64(n), status)
	}
	counter(c.failedLoads, s.Plugins.FailedLoads)
}
