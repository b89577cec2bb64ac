// Package metrics exposes the broker's Prometheus instruments: gRPC
// request counters/histograms plus registration-pipeline-specific gauges
// and counters repointed from the teacher's solver/graph instruments onto
// this broker's own stages (spec §10.5).
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the broker's global instrument container.
type Metrics struct {
	// gRPC
	GRPCRequestsTotal    *prometheus.CounterVec
	GRPCRequestDuration  *prometheus.HistogramVec
	GRPCRequestsInFlight prometheus.Gauge

	// Registration pipeline (C1)
	RegistrationStageDuration *prometheus.HistogramVec
	RegistrationsTotal        *prometheus.CounterVec
	RollbackInvocationsTotal  *prometheus.CounterVec

	// Health gate (C3)
	HealthGateWaitDuration *prometheus.HistogramVec

	// Schema cascade (C7)
	SchemaCascadeTierHitsTotal *prometheus.CounterVec

	// Module callback channel cache (C4)
	ChannelCacheSize      prometheus.Gauge
	ChannelCacheEvictions prometheus.Counter

	// Event Publisher
	EventsPublishedTotal *prometheus.CounterVec

	// Service info
	ServiceInfo *prometheus.GaugeVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Init builds and registers every instrument under namespace/subsystem.
func Init(namespace, subsystem string) *Metrics {
	m := &Metrics{
		GRPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "grpc_requests_total", Help: "Total number of gRPC requests",
			},
			[]string{"method", "status"},
		),
		GRPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "grpc_request_duration_seconds", Help: "Duration of gRPC requests",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		GRPCRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "grpc_requests_in_flight", Help: "Current number of gRPC requests being processed",
			},
		),
		RegistrationStageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "registration_stage_duration_seconds", Help: "Duration of each registration pipeline stage",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		RegistrationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "registrations_total", Help: "Total number of Register attempts by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		RollbackInvocationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "rollback_invocations_total", Help: "Total number of compensation-stack unwinds by failing stage",
			},
			[]string{"failed_stage"},
		),
		HealthGateWaitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "health_gate_wait_duration_seconds", Help: "Time spent polling for an instance to become healthy",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 15, 30, 60},
			},
			[]string{"outcome"},
		),
		SchemaCascadeTierHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "schema_cascade_tier_hits_total", Help: "Which tier of the GetModuleSchema cascade resolved the request",
			},
			[]string{"tier"},
		),
		ChannelCacheSize: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "callback_channel_cache_size", Help: "Current number of cached module callback channels",
			},
		),
		ChannelCacheEvictions: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "callback_channel_cache_evictions_total", Help: "Total number of channel cache evictions",
			},
		),
		EventsPublishedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "events_published_total", Help: "Total number of lifecycle events published by kind",
			},
			[]string{"kind"},
		),
		ServiceInfo: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace, Subsystem: subsystem,
				Name: "service_info", Help: "Service build/environment information",
			},
			[]string{"version", "environment"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global instrument container, lazily initializing a
// default one (e.g. for unit tests that never call Init).
func Get() *Metrics {
	once.Do(func() {
		if defaultMetrics == nil {
			defaultMetrics = Init("regbroker", "")
		}
	})
	return defaultMetrics
}

// RecordGRPCRequest records one gRPC call's outcome and duration.
func (m *Metrics) RecordGRPCRequest(method, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRegistrationStage records how long one pipeline stage took.
func (m *Metrics) RecordRegistrationStage(stage string, duration time.Duration) {
	m.RegistrationStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRegistration records a completed Register attempt.
func (m *Metrics) RecordRegistration(kind, outcome string) {
	m.RegistrationsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordRollback records a compensation-stack unwind triggered by failedStage.
func (m *Metrics) RecordRollback(failedStage string) {
	m.RollbackInvocationsTotal.WithLabelValues(failedStage).Inc()
}

// RecordHealthGateWait records how long the health gate waited, and whether
// the instance ultimately became healthy.
func (m *Metrics) RecordHealthGateWait(outcome string, duration time.Duration) {
	m.HealthGateWaitDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordSchemaCascadeTierHit records which cascade tier resolved a
// GetModuleSchema call ("metadata_repository", "schema_archive",
// "module_callback", "not_found").
func (m *Metrics) RecordSchemaCascadeTierHit(tier string) {
	m.SchemaCascadeTierHitsTotal.WithLabelValues(tier).Inc()
}

// SetChannelCacheSize reports the callback channel cache's current occupancy.
func (m *Metrics) SetChannelCacheSize(n int) {
	m.ChannelCacheSize.Set(float64(n))
}

// RecordChannelCacheEviction records one LRU/idle-TTL eviction.
func (m *Metrics) RecordChannelCacheEviction() {
	m.ChannelCacheEvictions.Inc()
}

// RecordEventPublished records one lifecycle event handoff to the writer.
func (m *Metrics) RecordEventPublished(kind string) {
	m.EventsPublishedTotal.WithLabelValues(kind).Inc()
}

// SetServiceInfo publishes a constant 1-valued gauge carrying build labels.
func (m *Metrics) SetServiceInfo(version, environment string) {
	m.ServiceInfo.WithLabelValues(version, environment).Set(1)
}

// RequestTracker tracks per-method in-flight request counts against a
// single shared gauge, used by internal/interceptors' metrics interceptor.
type RequestTracker struct {
	mu       sync.Mutex
	active   map[string]int
	inFlight prometheus.Gauge
}

// NewRequestTracker builds a tracker reporting into inFlight.
func NewRequestTracker(inFlight prometheus.Gauge) *RequestTracker {
	return &RequestTracker{
		active:   make(map[string]int),
		inFlight: inFlight,
	}
}

// Start marks the beginning of a request for method.
func (t *RequestTracker) Start(method string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[method]++
	t.inFlight.Inc()
}

// End marks the end of a request for method.
func (t *RequestTracker) End(method string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active[method] > 0 {
		t.active[method]--
		t.inFlight.Dec()
	}
}

// Handler returns the HTTP handler serving the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer runs a dedicated HTTP server exposing /metrics and /healthz,
// blocking until it returns an error (normally on shutdown).
func StartServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
