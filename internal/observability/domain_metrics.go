package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	chatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_chat_turns_total",
			Help: "Total number of chat pipeline runs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	generationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_generation_latency_ms",
			Help:    "LLM generation latency in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000, 30000},
		},
		[]string{"provider", "model"},
	)
	generationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_generation_failures_total",
			Help: "Total number of failed LLM generation calls.",
		},
		[]string{"provider"},
	)
	validationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_sql_validation_failures_total",
			Help: "Total number of generated statements rejected by the SQL guard.",
		},
	)
	queryExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_query_executions_total",
			Help: "Total number of read-only query executions by outcome.",
		},
		[]string{"outcome"},
	)
	queryLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_query_latency_ms",
			Help:    "Read-only query execution latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000},
		},
	)
	queryRowsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_query_rows_returned",
			Help:    "Rows materialized per executed query.",
			Buckets: []float64{0, 1, 10, 50, 100, 250, 500, 1000},
		},
	)
	resultExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_result_exports_total",
			Help: "Total number of result set exports by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		chatTurnsTotal,
		generationLatencyMs,
		generationFailuresTotal,
		validationFailuresTotal,
		queryExecutionsTotal,
		queryLatencyMs,
		queryRowsReturned,
		resultExportsTotal,
	)
}

func IncChatTurn(outcome string) {
	chatTurnsTotal.WithLabelValues(outcome).Inc()
}

func ObserveGeneration(provider, model string, elapsed time.Duration, failed bool) {
	generationLatencyMs.WithLabelValues(provider, model).Observe(float64(elapsed.Milliseconds()))
	if failed {
		generationFailuresTotal.WithLabelValues(provider).Inc()
	}
}

func IncValidationFailure() {
	validationFailuresTotal.Inc()
}

func ObserveExecution(success bool, rows int, elapsed time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	queryExecutionsTotal.WithLabelValues(outcome).Inc()
	queryLatencyMs.Observe(float64(elapsed.Milliseconds()))
	if success {
		queryRowsReturned.Observe(float64(rows))
	}
}

func IncResultExport(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	resultExportsTotal.WithLabelValues(outcome).Inc()
}
