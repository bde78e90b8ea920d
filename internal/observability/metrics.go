package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dorian",
		Subsystem: "runner",
		Name:      "runs_total",
		Help:      "Per-person runs by outcome (generated, skipped, failed).",
	}, []string{"person", "status"})
	resetReasons = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dorian",
		Subsystem: "runner",
		Name:      "reset_decisions_total",
		Help:      "Reset policy decisions taken before a generation.",
	}, []string{"person", "reason"})
	generationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dorian",
		Subsystem: "generator",
		Name:      "duration_seconds",
		Help:      "Latency of image generation calls.",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"backend", "result"})
	activityFetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dorian",
		Subsystem: "activity",
		Name:      "fetch_failures_total",
		Help:      "Activity source fetches that failed and were counted as zero minutes.",
	}, []string{"person"})
	unproductiveMinutes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dorian",
		Subsystem: "activity",
		Name:      "unproductive_minutes",
		Help:      "Unproductive minutes in the current accounting period at the last check.",
	}, []string{"person"})
	lastGeneratedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dorian",
		Subsystem: "runner",
		Name:      "last_generated_timestamp_seconds",
		Help:      "Unix timestamp of the most recent portrait stored per person.",
	}, []string{"person"})
)

func init() {
	prometheus.MustRegister(runsTotal, resetReasons, generationSeconds, activityFetchFailures,
		unproductiveMinutes, lastGeneratedGauge)
}

// RecordRun counts one finished per-person run.
func RecordRun(person, status string) {
	runsTotal.WithLabelValues(person, status).Inc()
}

func RecordResetReason(person, reason string) {
	resetReasons.WithLabelValues(person, reason).Inc()
}

// ObserveGeneration records the latency of one generation call.
func ObserveGeneration(backend string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	generationSeconds.WithLabelValues(backend, result).Observe(elapsed.Seconds())
}

func RecordActivityFetchFailure(person string, _ error) {
	activityFetchFailures.WithLabelValues(person).Inc()
}

func SetUnproductiveMinutes(person string, minutes float64) {
	unproductiveMinutes.WithLabelValues(person).Set(minutes)
}

// RecordGenerated updates the per-person generation watermark.
func RecordGenerated(person string, ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastGeneratedGauge.WithLabelValues(person).Set(float64(ts.Unix()))
}
