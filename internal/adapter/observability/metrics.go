package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of upstream API requests by provider, endpoint and outcome",
		},
		[]string{"provider", "endpoint", "outcome"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Upstream API request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "endpoint"},
	)
	APIKeyState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "api_key_state",
			Help: "Key registry state per key hash (1 = key currently in this state)",
		},
		[]string{"provider", "key_hash", "state"},
	)
	APIKeyUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "api_key_usage",
			Help: "Calls debited against the key's daily quota today",
		},
		[]string{"provider", "key_hash"},
	)
	GovernorWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "governor_wait_duration_seconds",
			Help:    "Time spent waiting for a concurrency slot and pacing interval",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.25, 1, 2.5, 10},
		},
		[]string{"provider"},
	)

	JobExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_executions_total",
			Help: "Total number of job executions by terminal status",
		},
		[]string{"job_id", "status"},
	)
	JobsRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Number of jobs currently running",
		},
		[]string{"job_id"},
	)
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"job_id"},
	)

	UpsertRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upsert_rows_total",
			Help: "Rows handed to the bulk upsert engine by table and result",
		},
		[]string{"table", "result"},
	)
	UpsertChunkRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upsert_chunk_retries_total",
			Help: "Chunk retries performed by the bulk upsert engine",
		},
		[]string{"table"},
	)

	QualityScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quality_score",
			Help: "Latest quality gate score per table and dimension (0..1)",
		},
		[]string{"table", "dimension"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(APIKeyState)
	prometheus.MustRegister(APIKeyUsage)
	prometheus.MustRegister(GovernorWaitDuration)
	prometheus.MustRegister(JobExecutionsTotal)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(UpsertRowsTotal)
	prometheus.MustRegister(UpsertChunkRetriesTotal)
	prometheus.MustRegister(QualityScore)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveAPICall records one upstream call.
func ObserveAPICall(provider, endpoint, outcome string, dur time.Duration) {
	APIRequestsTotal.WithLabelValues(provider, endpoint, outcome).Inc()
	APIRequestDuration.WithLabelValues(provider, endpoint).Observe(dur.Seconds())
}

// ObserveGovernorWait records how long a call waited for its slot and pacing.
func ObserveGovernorWait(provider string, dur time.Duration) {
	GovernorWaitDuration.WithLabelValues(provider).Observe(dur.Seconds())
}

// AddUpsertRows records the landed and failed row counts of one bulk call.
func AddUpsertRows(table string, succeeded, failed int) {
	UpsertRowsTotal.WithLabelValues(table, "success").Add(float64(succeeded))
	UpsertRowsTotal.WithLabelValues(table, "failed").Add(float64(failed))
}

// AddUpsertChunkRetry counts one retried chunk write.
func AddUpsertChunkRetry(table string) {
	UpsertChunkRetriesTotal.WithLabelValues(table).Inc()
}

// SetKeyState flips the state gauge for one key: the current state reads 1,
// every other state 0.
func SetKeyState(provider, keyHash, state string, usage int) {
	for _, s := range []string{"active", "cooling", "exhausted", "disabled"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		APIKeyState.WithLabelValues(provider, keyHash, s).Set(v)
	}
	APIKeyUsage.WithLabelValues(provider, keyHash).Set(float64(usage))
}

func StartJob(jobID string) {
	JobsRunning.WithLabelValues(jobID).Inc()
}

// FinishJob closes the running gauge and records the terminal status.
func FinishJob(jobID, status string, dur time.Duration) {
	JobsRunning.WithLabelValues(jobID).Dec()
	JobExecutionsTotal.WithLabelValues(jobID, status).Inc()
	JobDuration.WithLabelValues(jobID).Observe(dur.Seconds())
}

// SkipJob records a fire that never ran (dependency unmet or already running).
func SkipJob(jobID string) {
	JobExecutionsTotal.WithLabelValues(jobID, "skipped").Inc()
}

// ObserveQuality publishes the latest gate scores for a table.
func ObserveQuality(table string, completeness, validity, consistency, freshness, overall float64) {
	QualityScore.WithLabelValues(table, "completeness").Set(completeness)
	QualityScore.WithLabelValues(table, "validity").Set(validity)
	QualityScore.WithLabelValues(table, "consistency").Set(consistency)
	QualityScore.WithLabelValues(table, "freshness").Set(freshness)
	QualityScore.WithLabelValues(table, "overall").Set(overall)
}
