// Package metrics records stage durations and failures for a farbot run and
// writes them in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors for one farbot invocation.
type Metrics struct {
	registry *prometheus.Registry

	StageDuration *prometheus.HistogramVec
	StageFailures *prometheus.CounterVec
	RunsTotal     *prometheus.CounterVec
	LastSuccess   *prometheus.GaugeVec
}

// New registers the farbot collectors on a fresh registry. Every series
// carries the run id so textfiles from different runs stay distinguishable.
func New(runID string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"run_id": runID}, registry))

	return &Metrics{
		registry: registry,
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "farbot_stage_duration_seconds",
				Help: "Duration of build stages in seconds",
				// Release builds take hours; package builds minutes.
				Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400, 28800},
			},
			[]string{"runner", "stage"},
		),
		StageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farbot_stage_failures_total",
				Help: "Total number of failed build stages",
			},
			[]string{"runner", "stage"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farbot_runs_total",
				Help: "Total number of runner executions",
			},
			[]string{"runner", "success"},
		),
		LastSuccess: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "farbot_last_success_timestamp_seconds",
				Help: "Unix time of the last successful runner execution",
			},
			[]string{"runner"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage took and whether it failed. A nil
// receiver records nothing.
func (m *Metrics) ObserveStage(runner, stage string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(runner, stage).Observe(time.Since(started).Seconds())
	if err != nil {
		m.StageFailures.WithLabelValues(runner, stage).Inc()
	}
}

// ObserveRun records the outcome of a whole runner.
func (m *Metrics) ObserveRun(runner string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RunsTotal.WithLabelValues(runner, "false").Inc()
		return
	}
	m.RunsTotal.WithLabelValues(runner, "true").Inc()
	m.LastSuccess.WithLabelValues(runner).SetToCurrentTime()
}

// WriteTextfile writes all metrics to path atomically, for collection by the
// node exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
