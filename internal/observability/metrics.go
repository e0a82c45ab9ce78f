package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mnemo"

type moduleMetrics struct {
	indexRunsTotal   *prometheus.CounterVec
	indexRunDuration prometheus.Histogram
	recordsWritten   *prometheus.CounterVec
	memoryRecords    *prometheus.GaugeVec

	embeddingCallsTotal   *prometheus.CounterVec
	embeddingCallDuration prometheus.Histogram
	embeddingRetriesTotal prometheus.Counter

	memorySearchDuration prometheus.Histogram
	recallTotal          *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			indexRunsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "index_runs_total",
					Help:      "Total index runs by status.",
				},
				[]string{"status"},
			),
			indexRunDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "index_run_duration_seconds",
					Help:      "Index run duration in seconds.",
					Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
				},
			),
			recordsWritten: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "records_written_total",
					Help:      "Embedding records inserted or deleted by source type.",
				},
				[]string{"source_type", "op"},
			),
			memoryRecords: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "memory_records",
					Help:      "Stored embedding records by source type.",
				},
				[]string{"source_type"},
			),
			embeddingCallsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "embedding_calls_total",
					Help:      "Embedding requests by status, retries included.",
				},
				[]string{"status"},
			),
			embeddingCallDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "embedding_call_duration_seconds",
					Help:      "Embedding request duration in seconds, retries included.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			embeddingRetriesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "embedding_retries_total",
					Help:      "Embedding attempts that were retried.",
				},
			),
			memorySearchDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "memory_search_duration_seconds",
					Help:      "Memory search duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			recallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "recall_total",
					Help:      "Proactive recall requests by outcome.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.indexRunsTotal,
			m.indexRunDuration,
			m.recordsWritten,
			m.memoryRecords,
			m.embeddingCallsTotal,
			m.embeddingCallDuration,
			m.embeddingRetriesTotal,
			m.memorySearchDuration,
			m.recallTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordIndexRun(duration time.Duration, success bool) {
	m := getMetrics()
	m.indexRunsTotal.WithLabelValues(statusLabel(success)).Inc()
	m.indexRunDuration.Observe(duration.Seconds())
}

func RecordRecordsWritten(sourceType string, inserted, deleted int) {
	m := getMetrics()
	if inserted > 0 {
		m.recordsWritten.WithLabelValues(sourceType, "insert").Add(float64(inserted))
	}
	if deleted > 0 {
		m.recordsWritten.WithLabelValues(sourceType, "delete").Add(float64(deleted))
	}
}

func SetMemoryRecords(sourceType string, total int) {
	m := getMetrics()
	m.memoryRecords.WithLabelValues(sourceType).Set(float64(total))
}

func RecordEmbeddingCall(duration time.Duration, success bool) {
	m := getMetrics()
	m.embeddingCallsTotal.WithLabelValues(statusLabel(success)).Inc()
	m.embeddingCallDuration.Observe(duration.Seconds())
}

func RecordEmbeddingRetry() {
	getMetrics().embeddingRetriesTotal.Inc()
}

func RecordMemorySearch(duration time.Duration) {
	m := getMetrics()
	m.memorySearchDuration.Observe(duration.Seconds())
}

// RecordRecall counts a recall outcome: success, unavailable or error
func RecordRecall(status string) {
	getMetrics().recallTotal.WithLabelValues(status).Inc()
}
