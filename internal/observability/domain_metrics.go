package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	analysisRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_analysis_requests_total",
			Help: "Total number of analysis requests by terminal action.",
		},
		[]string{"action"},
	)
	analysisAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabletalk_analysis_attempts",
			Help:    "Generation attempts consumed per analysis request.",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)
	repairRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_repair_retries_total",
			Help: "Total repair retries by failure kind.",
		},
		[]string{"kind"},
	)
	safetyViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_safety_violations_total",
			Help: "Total rejected SQL candidates by denylisted keyword.",
		},
		[]string{"keyword"},
	)
	sandboxDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabletalk_sandbox_duration_seconds",
			Help:    "Sandboxed query execution latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
	chartRenderFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletalk_chart_render_failures_total",
			Help: "Total chart render failures (non-fatal to the query result).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		analysisRequestsTotal,
		analysisAttempts,
		repairRetriesTotal,
		safetyViolationsTotal,
		sandboxDurationSeconds,
		chartRenderFailuresTotal,
	)
}

func ObserveAnalysis(action string, attempts int) {
	analysisRequestsTotal.WithLabelValues(action).Inc()
	analysisAttempts.Observe(float64(attempts))
}

func IncrementRepairRetry(kind string) {
	repairRetriesTotal.WithLabelValues(kind).Inc()
}

func IncrementSafetyViolation(keyword string) {
	safetyViolationsTotal.WithLabelValues(keyword).Inc()
}

func ObserveSandboxDuration(elapsed time.Duration) {
	sandboxDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementChartRenderFailure() {
	chartRenderFailuresTotal.Inc()
}
