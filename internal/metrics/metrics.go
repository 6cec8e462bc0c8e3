// Package metrics exposes Prometheus instruments for credentials, network
// mode and HTTP traffic.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var modes = []string{"setup", "transitioning", "normal"}

type Metrics struct {
	registry *prometheus.Registry

	credentials     *prometheus.CounterVec
	networkMode     *prometheus.GaugeVec
	networkSwitches *prometheus.CounterVec
	setupEpoch      prometheus.Gauge
	setupComplete   prometheus.Gauge
	rateLimited     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		credentials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homebase_credential_operations_total",
			Help: "Credential operations by credential kind and outcome",
		}, []string{"kind", "outcome"}),
		networkMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "homebase_network_mode",
			Help: "1 for the current network mode, 0 otherwise",
		}, []string{"mode"}),
		networkSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homebase_network_switches_total",
			Help: "Completed network mode switches by result",
		}, []string{"result"}),
		setupEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homebase_setup_epoch",
			Help: "Number of setup resets",
		}),
		setupComplete: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "homebase_setup_complete",
			Help: "1 once onboarding has completed",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "homebase_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter",
		}, []string{"path"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.credentials, m.networkMode, m.networkSwitches,
		m.setupEpoch, m.setupComplete, m.rateLimited,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// ObserveCredential matches the authority observer signature.
func (m *Metrics) ObserveCredential(kind, outcome string) {
	m.credentials.WithLabelValues(kind, outcome).Inc()
}

// SetNetworkMode records the current mode. failed marks a switch that ended
// in error.
func (m *Metrics) SetNetworkMode(mode string, switched, failed bool) {
	for _, md := range modes {
		v := 0.0
		if md == mode {
			v = 1
		}
		m.networkMode.WithLabelValues(md).Set(v)
	}
	switch {
	case failed:
		m.networkSwitches.WithLabelValues("failed").Inc()
	case switched:
		m.networkSwitches.WithLabelValues("ok").Inc()
	}
}

func (m *Metrics) SetSetupState(complete bool, epoch int64) {
	if complete {
		m.setupComplete.Set(1)
	} else {
		m.setupComplete.Set(0)
	}
	m.setupEpoch.Set(float64(epoch))
}

func (m *Metrics) RateLimited(path string) {
	m.rateLimited.WithLabelValues(path).Inc()
}

// GaugeFunc registers a gauge whose value is read at scrape time.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes through for the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// Middleware counts requests by route pattern. It must wrap the ServeMux
// directly so the matched pattern is visible after the handler returns.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": r.Method, "path": path, "status": strconv.Itoa(rec.status)}
		m.httpRequests.With(labels).Inc()
		m.httpDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}
