package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and batch flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	vendorCallsTotal    *prometheus.CounterVec
	vendorCallDuration  *prometheus.HistogramVec
	batchesTotal        *prometheus.CounterVec
	batchItemsTotal     *prometheus.CounterVec
	batchInflight       *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "did_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "did_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		vendorCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "did_engine",
				Name:      "vendor_calls_total",
				Help:      "Total number of vendor API calls by operation and HTTP status.",
			},
			[]string{"operation", "status"},
		),
		vendorCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "did_engine",
				Name:      "vendor_call_duration_seconds",
				Help:      "Vendor API call duration in seconds grouped by operation.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"operation"},
		),
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "did_engine",
				Name:      "batches_total",
				Help:      "Total number of batch runs by operation.",
			},
			[]string{"operation"},
		),
		batchItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "did_engine",
				Name:      "batch_items_total",
				Help:      "Total number of batch items by operation and terminal status.",
			},
			[]string{"operation", "status"},
		),
		batchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "did_engine",
				Name:      "batch_inflight",
				Help:      "Current number of in-flight batch runs grouped by operation.",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.vendorCallsTotal,
		m.vendorCallDuration,
		m.batchesTotal,
		m.batchItemsTotal,
		m.batchInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncVendorCall(operation string, status int) {
	if m == nil {
		return
	}
	m.vendorCallsTotal.WithLabelValues(normalizeLabel(operation), strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveVendorCallDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.vendorCallDuration.WithLabelValues(normalizeLabel(operation)).Observe(seconds)
}

func (m *Metrics) IncBatch(operation string) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *Metrics) IncBatchItem(operation string, status string) {
	if m == nil {
		return
	}
	m.batchItemsTotal.WithLabelValues(normalizeLabel(operation), normalizeLabel(status)).Inc()
}

func (m *Metrics) IncBatchInFlight(operation string) {
	if m == nil {
		return
	}
	m.batchInflight.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *Metrics) DecBatchInFlight(operation string) {
	if m == nil {
		return
	}
	m.batchInflight.WithLabelValues(normalizeLabel(operation)).Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
