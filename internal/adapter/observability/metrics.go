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

	StageRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stage_requests_total",
			Help: "Total number of pipeline stage invocations by stage and outcome",
		},
		[]string{"stage", "outcome"},
	)
	StageRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stage_request_duration_seconds",
			Help:    "Pipeline stage invocation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"stage"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_depth",
			Help: "Number of jobs waiting in the generation queue",
		},
	)
	QueueActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_active_jobs",
			Help: "Number of jobs currently held by workers",
		},
	)

	SSEConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of open SSE streaming connections",
		},
	)

	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of submissions rejected by the rate limiter",
		},
		[]string{"reason"},
	)

	// Cost outcome distributions
	JobCostHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_total_cost_dollars",
			Help:    "Distribution of final per-job generation cost in dollars",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 50, 100, 200},
		},
	)
	StageCostHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stage_cost_dollars",
			Help:    "Distribution of per-stage generation cost in dollars",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 50},
		},
		[]string{"stage"},
	)

	CostDriftGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stage_cost_drift",
			Help: "Absolute drift of recent stage cost from its baseline in dollars",
		},
		[]string{"stage"},
	)

	CircuitBreakerStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name", "operation"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(StageRequestsTotal)
	prometheus.MustRegister(StageRequestDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(QueueActiveJobs)
	prometheus.MustRegister(SSEConnectionsActive)
	prometheus.MustRegister(RateLimitRejectionsTotal)
	prometheus.MustRegister(JobCostHistogram)
	prometheus.MustRegister(StageCostHistogram)
	prometheus.MustRegister(CostDriftGauge)
	prometheus.MustRegister(CircuitBreakerStateGauge)
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

func EnqueueJob(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func StartProcessingJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Inc()
}

func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

func FailJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}

// ObserveStageCall records one pipeline stage invocation.
func ObserveStageCall(stage, outcome string, seconds float64) {
	StageRequestsTotal.WithLabelValues(stage, outcome).Inc()
	StageRequestDuration.WithLabelValues(stage).Observe(seconds)
}

// ObserveJobCost records the final cost of a completed job.
func ObserveJobCost(cost float64) {
	if cost >= 0 {
		JobCostHistogram.Observe(cost)
	}
}

// ObserveStageCost records the cost charged by a single stage call.
func ObserveStageCost(stage string, cost float64) {
	if cost >= 0 {
		StageCostHistogram.WithLabelValues(stage).Observe(cost)
	}
}

func SetQueueDepth(depth int64) {
	QueueDepth.Set(float64(depth))
}

func SetActiveJobs(active int64) {
	QueueActiveJobs.Set(float64(active))
}

func SSEConnected() {
	SSEConnectionsActive.Inc()
}

func SSEDisconnected() {
	SSEConnectionsActive.Dec()
}

func RateLimitRejected(reason string) {
	RateLimitRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordCostDrift exposes the current drift of a stage's cost from baseline.
func RecordCostDrift(stage string, drift float64) {
	CostDriftGauge.WithLabelValues(stage).Set(drift)
}

// RecordCircuitBreakerStatus exposes the state of a named circuit breaker.
func RecordCircuitBreakerStatus(name, operation string, state int) {
	CircuitBreakerStateGauge.WithLabelValues(name, operation).Set(float64(state))
}
