package audit

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks orchestrator metrics and serves them in Prometheus text format.
// It uses a custom prometheus.Registry for isolation and testability.
type Metrics struct {
	registry *prometheus.Registry

	tasksTotal       *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	routingDecisions *prometheus.CounterVec
	activeStreams    *prometheus.GaugeVec
	streamEvents     *prometheus.CounterVec
	firstEvent       *prometheus.HistogramVec
	rateLimitHits    *prometheus.CounterVec

	discoveryFetches  *prometheus.CounterVec
	discoveryDuration prometheus.Histogram
	agentDegraded     *prometheus.GaugeVec
	agentCardChanges  *prometheus.CounterVec

	configReloads    *prometheus.CounterVec
	configReloadTime prometheus.Gauge
	buildInfo        *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics collector with a custom Prometheus registry.
// All metric families are pre-registered with HELP and TYPE metadata.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tasks_total",
			Help: "Total number of tasks by routed agent and terminal state.",
		}, []string{"agent", "state"}),

		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_task_duration_seconds",
			Help:    "Time from task creation to its terminal event.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"agent"}),

		routingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_routing_decisions_total",
			Help: "Routing decisions by selected agent and reason (score, default, explicit, no_match).",
		}, []string{"agent", "reason"}),

		activeStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_active_streams",
			Help: "Number of currently relayed task streams per agent.",
		}, []string{"agent"}),

		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_stream_events_total",
			Help: "Events relayed to callers by agent and event kind.",
		}, []string{"agent", "kind"}),

		firstEvent: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_upstream_first_event_seconds",
			Help:    "Time from submission to the first upstream event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),

		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_rate_limit_hits_total",
			Help: "Total number of rate limit hits.",
		}, []string{"layer"}),

		discoveryFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_discovery_fetches_total",
			Help: "Agent card fetches by result (ok, error, invalid).",
		}, []string{"result"}),

		discoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchestrator_discovery_fetch_seconds",
			Help:    "Agent card fetch duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		agentDegraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_agent_degraded",
			Help: "1 while an agent's cached card is served after a failed refresh.",
		}, []string{"url"}),

		agentCardChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_agent_card_changes_total",
			Help: "Agent card changes seen on refresh by severity.",
		}, []string{"url", "severity"}),

		configReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_config_reloads_total",
			Help: "Total number of configuration reload attempts.",
		}, []string{"result"}),

		configReloadTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_config_reload_timestamp_seconds",
			Help: "Unix timestamp of the last successful configuration reload.",
		}),

		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_build_info",
			Help: "Build information about the orchestrator binary. Value is always 1.",
		}, []string{"version", "go_version"}),
	}

	reg.MustRegister(
		m.tasksTotal,
		m.taskDuration,
		m.routingDecisions,
		m.activeStreams,
		m.streamEvents,
		m.firstEvent,
		m.rateLimitHits,
		m.discoveryFetches,
		m.discoveryDuration,
		m.agentDegraded,
		m.agentCardChanges,
		m.configReloads,
		m.configReloadTime,
		m.buildInfo,
	)

	return m
}

// RecordTask counts a finished task and observes its duration.
func (m *Metrics) RecordTask(agent, state string, d time.Duration) {
	if agent == "" {
		agent = "none"
	}
	m.tasksTotal.WithLabelValues(agent, state).Inc()
	m.taskDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordRoute counts a routing decision.
func (m *Metrics) RecordRoute(agent, reason string) {
	if agent == "" {
		agent = "none"
	}
	m.routingDecisions.WithLabelValues(agent, reason).Inc()
}

// IncrActiveStreams increments the active stream count for agent.
func (m *Metrics) IncrActiveStreams(agent string) {
	m.activeStreams.WithLabelValues(agent).Inc()
}

// DecrActiveStreams decrements the active stream count for agent.
func (m *Metrics) DecrActiveStreams(agent string) {
	m.activeStreams.WithLabelValues(agent).Dec()
}

// RecordStreamEvents adds n relayed events of kind for agent.
func (m *Metrics) RecordStreamEvents(agent, kind string, n int) {
	if agent == "" {
		agent = "none"
	}
	m.streamEvents.WithLabelValues(agent, kind).Add(float64(n))
}

// RecordFirstEvent observes the upstream latency to the first event.
func (m *Metrics) RecordFirstEvent(agent string, d time.Duration) {
	m.firstEvent.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordRateLimitHit records a rate limit event for the given layer.
func (m *Metrics) RecordRateLimitHit(layer string) {
	m.rateLimitHits.WithLabelValues(layer).Inc()
}

// CardFetched records one agent card fetch.
func (m *Metrics) CardFetched(_ string, result string, d time.Duration) {
	m.discoveryFetches.WithLabelValues(result).Inc()
	m.discoveryDuration.Observe(d.Seconds())
}

// CardDegraded sets the degraded gauge for the agent at url.
func (m *Metrics) CardDegraded(url string, degraded bool) {
	var val float64
	if degraded {
		val = 1
	}
	m.agentDegraded.WithLabelValues(url).Set(val)
}

// CardChanged counts a card change seen on refresh.
func (m *Metrics) CardChanged(url string, critical bool) {
	severity := "info"
	if critical {
		severity = "critical"
	}
	m.agentCardChanges.WithLabelValues(url, severity).Inc()
}

// Handler returns an HTTP handler that serves /metrics in Prometheus text format.
func (m *Metrics) Handler() http.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	}
}

// RecordConfigReload records a configuration reload attempt.
// Pass true for a successful reload, false for a failure.
func (m *Metrics) RecordConfigReload(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.configReloads.WithLabelValues(result).Inc()
}

// SetConfigReloadTime records the timestamp of the last configuration reload.
func (m *Metrics) SetConfigReloadTime(t time.Time) {
	m.configReloadTime.Set(float64(t.Unix()))
}

// SetBuildInfo sets the build information gauge. The gauge value is always 1;
// version and Go version are exposed as labels.
func (m *Metrics) SetBuildInfo(version, goVersion string) {
	m.buildInfo.WithLabelValues(version, goVersion).Set(1)
}
