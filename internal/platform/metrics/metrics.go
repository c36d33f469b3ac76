package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the player orchestrator.
// Every method is safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	requestsTotal     prometheus.Counter
	errorsTotal       prometheus.Counter
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	playerErrorsTotal *prometheus.CounterVec
	playerState       prometheus.Gauge
	queueDepth        prometheus.Gauge
	suspendsTotal     prometheus.Counter
	resumesTotal      *prometheus.CounterVec
	droppedEvents     prometheus.Counter
}

// New creates and registers Prometheus metrics for the orchestrator.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_http_requests_total",
			Help: "Total number of bridge HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_http_errors_total",
			Help: "Total number of bridge HTTP responses with error status (4xx or 5xx)",
		}),
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_operations_total",
			Help: "Player operations executed on the worker, by operation and result",
		}, []string{"op", "result"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "player_operation_duration_seconds",
			Help:    "Time from submission to completion of a player operation",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		playerErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_errors_total",
			Help: "Errors broadcast on the playback error channel, by kind",
		}, []string{"kind"}),
		playerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_state",
			Help: "Current player state (0=None 1=Idle 2=Ready 3=Playing 4=Paused)",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "player_executor_queue_depth",
			Help: "Operations waiting for the player worker",
		}),
		suspendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_suspends_total",
			Help: "Lifecycle suspends that tore down a live player",
		}),
		resumesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "player_resumes_total",
			Help: "Lifecycle resumes, by result",
		}, []string{"result"}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "player_dropped_events_total",
			Help: "Events not delivered to a subscriber with a full buffer",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.operationsTotal,
		m.operationDuration,
		m.playerErrorsTotal,
		m.playerState,
		m.queueDepth,
		m.suspendsTotal,
		m.resumesTotal,
		m.droppedEvents,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the HTTP errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// ObserveOperation records one completed operation.
func (m *Metrics) ObserveOperation(op string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operationsTotal.WithLabelValues(op, result).Inc()
	m.operationDuration.WithLabelValues(op).Observe(took.Seconds())
}

// IncPlayerError counts an error broadcast with the given kind.
func (m *Metrics) IncPlayerError(kind string) {
	if m == nil {
		return
	}
	m.playerErrorsTotal.WithLabelValues(kind).Inc()
}

// SetPlayerState sets the state gauge.
func (m *Metrics) SetPlayerState(state int) {
	if m == nil {
		return
	}
	m.playerState.Set(float64(state))
}

// SetQueueDepth sets the executor queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// IncSuspends increments the suspend counter.
func (m *Metrics) IncSuspends() {
	if m == nil {
		return
	}
	m.suspendsTotal.Inc()
}

// IncResumes counts a resume outcome.
func (m *Metrics) IncResumes(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.resumesTotal.WithLabelValues(result).Inc()
}

// IncDroppedEvents increments the dropped event counter.
func (m *Metrics) IncDroppedEvents() {
	if m == nil {
		return
	}
	m.droppedEvents.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
