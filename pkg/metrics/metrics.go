// Package metrics provides Prometheus-based metrics for the request
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineRecorder records pipeline-level metrics.
type PipelineRecorder struct {
	requestsTotal  *prometheus.CounterVec
	retriesTotal   *prometheus.CounterVec
	agentCostTotal prometheus.Counter
	turnDuration   *prometheus.HistogramVec
	notifyFailures prometheus.Counter
	queueDepth     prometheus.Gauge
}

// NewPipelineRecorder creates a recorder registered on the default
// registry.
func NewPipelineRecorder() *PipelineRecorder {
	return newPipelineRecorder(promauto.With(prometheus.DefaultRegisterer))
}

// NewPipelineRecorderWith creates a recorder on a caller-owned registry.
// Tests use this to avoid duplicate registration on the default registry.
func NewPipelineRecorderWith(reg prometheus.Registerer) *PipelineRecorder {
	return newPipelineRecorder(promauto.With(reg))
}

func newPipelineRecorder(factory promauto.Factory) *PipelineRecorder {
	return &PipelineRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clarity_requests_total",
				Help: "Total number of processed deliveries by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clarity_retries_total",
				Help: "Total number of delivery retries by error class",
			},
			[]string{"class"},
		),
		agentCostTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "clarity_agent_cost_usd_total",
				Help: "Total agent spend in USD",
			},
		),
		turnDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clarity_turn_duration_seconds",
				Help:    "Duration of complete agent turns in seconds",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 2700},
			},
			[]string{"agent"},
		),
		notifyFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "clarity_notify_failures_total",
				Help: "Total number of dropped best-effort notifications",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "clarity_queue_depth",
				Help: "Number of deliveries waiting in the queue",
			},
		),
	}
}

// RecordDelivery counts one settled delivery.
func (r *PipelineRecorder) RecordDelivery(kind, outcome string) {
	r.requestsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordRetry counts one re-enqueued delivery.
func (r *PipelineRecorder) RecordRetry(class string) {
	r.retriesTotal.WithLabelValues(class).Inc()
}

// RecordTurn records one completed agent turn.
func (r *PipelineRecorder) RecordTurn(agent string, duration time.Duration, costUSD float64) {
	r.turnDuration.WithLabelValues(agent).Observe(duration.Seconds())
	if costUSD > 0 {
		r.agentCostTotal.Add(costUSD)
	}
}

// RecordNotifyFailure counts one dropped notification.
func (r *PipelineRecorder) RecordNotifyFailure() {
	r.notifyFailures.Inc()
}

// SetQueueDepth reports the current queue backlog.
func (r *PipelineRecorder) SetQueueDepth(depth int) {
	r.queueDepth.Set(float64(depth))
}
