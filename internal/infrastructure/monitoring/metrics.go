package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Pipeline metrics
	PipelinesActive prometheus.Gauge
	PipelineCreates *prometheus.CounterVec
	PipelineStops   *prometheus.CounterVec
	Signals         *prometheus.CounterVec
	StatusUpdates   *prometheus.CounterVec

	// Fanout metrics
	Subscribers       *prometheus.GaugeVec
	BroadcastFailures *prometheus.CounterVec
	BridgesActive     prometheus.Gauge
	BridgeRetries     prometheus.Counter

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
	done      chan struct{}
	closeOnce sync.Once

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint
type Snapshot struct {
	TotalRequests   int64 `json:"total_requests"`
	TotalErrors     int64 `json:"total_errors"`
	ActivePipelines int64 `json:"active_pipelines"`
	TotalSignals    int64 `json:"total_signals"`
	ForcedStops     int64 `json:"forced_stops"`
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		done:      make(chan struct{}),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "armctl_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "armctl_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		PipelinesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "armctl_pipelines_active",
				Help: "Number of pipelines currently managed",
			},
		),
		PipelineCreates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "armctl_pipeline_creates_total",
				Help: "Pipeline create attempts by pipeline and result",
			},
			[]string{"pipeline", "result"},
		),
		PipelineStops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "armctl_pipeline_stops_total",
				Help: "Pipeline stops by pipeline and outcome (graceful or forced)",
			},
			[]string{"pipeline", "outcome"},
		),
		Signals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "armctl_pipeline_signals_total",
				Help: "Signals forwarded to pipelines",
			},
			[]string{"pipeline", "priority"},
		),
		StatusUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "armctl_pipeline_status_updates_total",
				Help: "Status snapshots received from pipeline processes",
			},
			[]string{"pipeline"},
		),

		Subscribers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "armctl_telemetry_subscribers",
				Help: "Connected telemetry subscribers by scope",
			},
			[]string{"scope"},
		),
		BroadcastFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "armctl_telemetry_send_failures_total",
				Help: "Failed sends to telemetry subscribers",
			},
			[]string{"scope"},
		),
		BridgesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "armctl_telemetry_bridges_active",
				Help: "Active pub/sub bridges",
			},
		),
		BridgeRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "armctl_telemetry_bridge_retries_total",
				Help: "Pub/sub bridge subscription retries",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "armctl_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime refreshes the uptime gauge until Close
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		case <-m.done:
			return
		}
	}
}

// Close stops background updates
func (m *Metrics) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SetPipelinesActive sets the number of managed pipelines
func (m *Metrics) SetPipelinesActive(count int) {
	m.PipelinesActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActivePipelines = int64(count)
	m.mu.Unlock()
}

// RecordCreate records a pipeline create attempt
func (m *Metrics) RecordCreate(pipeline string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.PipelineCreates.WithLabelValues(pipeline, result).Inc()
}

// RecordStop records a pipeline stop
func (m *Metrics) RecordStop(pipeline string, graceful bool) {
	outcome := "graceful"
	if !graceful {
		outcome = "forced"
		m.mu.Lock()
		m.snapshot.ForcedStops++
		m.mu.Unlock()
	}
	m.PipelineStops.WithLabelValues(pipeline, outcome).Inc()
}

// RecordSignal records a forwarded signal
func (m *Metrics) RecordSignal(pipeline, priority string) {
	m.Signals.WithLabelValues(pipeline, priority).Inc()
	m.mu.Lock()
	m.snapshot.TotalSignals++
	m.mu.Unlock()
}

// RecordStatus records a status snapshot from a child
func (m *Metrics) RecordStatus(pipeline string) {
	m.StatusUpdates.WithLabelValues(pipeline).Inc()
}

// SetSubscribers sets the subscriber gauge for a scope
func (m *Metrics) SetSubscribers(scope string, count int) {
	m.Subscribers.WithLabelValues(scope).Set(float64(count))
}

// RecordSendFailure records a failed send to a subscriber
func (m *Metrics) RecordSendFailure(scope string) {
	m.BroadcastFailures.WithLabelValues(scope).Inc()
}

// IncBridges increments active bridges
func (m *Metrics) IncBridges() { m.BridgesActive.Inc() }

// DecBridges decrements active bridges
func (m *Metrics) DecBridges() { m.BridgesActive.Dec() }

// RecordBridgeRetry records a bridge subscription retry
func (m *Metrics) RecordBridgeRetry() { m.BridgeRetries.Inc() }

// Snapshot returns current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
