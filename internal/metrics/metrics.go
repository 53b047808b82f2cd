package metrics

import (
	"errors"
	"net/http"

	"github.com/keagan/clipcannon/internal/pipeline"
	"github.com/keagan/clipcannon/internal/publish"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the clipper.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	videosTotal      *prometheus.CounterVec
	clipsSelected    prometheus.Counter
	rankerFallbacks  prometheus.Counter
	transitionsTotal *prometheus.CounterVec
	claimPending     prometheus.Gauge
	queueDepth       prometheus.Gauge
}

// New creates and registers every collector on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipcannon_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipcannon_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	videosTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipcannon_videos_processed_total",
		Help: "Videos run through selection, by outcome stage",
	}, []string{"outcome"})
	clipsSelected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipcannon_clips_selected_total",
		Help: "Clip specs emitted by selection",
	})
	rankerFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipcannon_ranker_fallbacks_total",
		Help: "Selections that fell back to the deterministic ranking",
	})
	transitionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipcannon_publish_transitions_total",
		Help: "Committed publish state transitions, by target state",
	}, []string{"state"})
	claimPending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipcannon_claim_pending",
		Help: "Uploads waiting out their claim window",
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipcannon_queue_depth",
		Help: "Videos queued for processing",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		videosTotal,
		clipsSelected,
		rankerFallbacks,
		transitionsTotal,
		claimPending,
		queueDepth,
	)

	return &Metrics{
		registry:         registry,
		requestsTotal:    requestsTotal,
		errorsTotal:      errorsTotal,
		videosTotal:      videosTotal,
		clipsSelected:    clipsSelected,
		rankerFallbacks:  rankerFallbacks,
		transitionsTotal: transitionsTotal,
		claimPending:     claimPending,
		queueDepth:       queueDepth,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// ObserveReport records the outcome of one selection run.
func (m *Metrics) ObserveReport(report pipeline.Report, err error) {
	m.videosTotal.WithLabelValues(Outcome(err)).Inc()
	if err != nil {
		return
	}
	m.clipsSelected.Add(float64(len(report.Specs)))
	if report.Fallback {
		m.rankerFallbacks.Inc()
	}
}

// OnTransition counts committed publish transitions.
func (m *Metrics) OnTransition(_ publish.Record, t publish.Transition) {
	m.transitionsTotal.WithLabelValues(string(t.To)).Inc()
}

var _ publish.Observer = (*Metrics)(nil)

// SetClaimPending sets the claim-window gauge.
func (m *Metrics) SetClaimPending(n int) {
	m.claimPending.Set(float64(n))
}

// SetQueueDepth sets the processing queue gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
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

// Outcome maps a selection error to its metric label.
func Outcome(err error) string {
	if err == nil {
		return "selected"
	}
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return "error"
}
