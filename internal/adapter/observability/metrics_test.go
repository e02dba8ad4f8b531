package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/videogen/internal/adapter/observability"
)

func TestInitMetrics_RegistersOnce(t *testing.T) {
	assert.NotPanics(t, observability.InitMetrics)
}

func TestHTTPMetricsMiddleware_RecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(observability.HTTPMetricsMiddleware)
	r.Get("/v1/jobs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	before := testutil.ToFloat64(observability.HTTPRequestsTotal.WithLabelValues("/v1/jobs/{id}", "GET", "OK"))

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	after := testutil.ToFloat64(observability.HTTPRequestsTotal.WithLabelValues("/v1/jobs/{id}", "GET", "OK"))
	assert.Equal(t, before+1, after)
}

func TestJobLifecycleHelpers(t *testing.T) {
	const jobType = "metrics-test"

	observability.EnqueueJob(jobType)
	assert.Equal(t, 1.0, testutil.ToFloat64(observability.JobsEnqueuedTotal.WithLabelValues(jobType)))

	observability.StartProcessingJob(jobType)
	assert.Equal(t, 1.0, testutil.ToFloat64(observability.JobsProcessing.WithLabelValues(jobType)))

	observability.CompleteJob(jobType)
	assert.Equal(t, 0.0, testutil.ToFloat64(observability.JobsProcessing.WithLabelValues(jobType)))
	assert.Equal(t, 1.0, testutil.ToFloat64(observability.JobsCompletedTotal.WithLabelValues(jobType)))

	observability.StartProcessingJob(jobType)
	observability.FailJob(jobType)
	assert.Equal(t, 0.0, testutil.ToFloat64(observability.JobsProcessing.WithLabelValues(jobType)))
	assert.Equal(t, 1.0, testutil.ToFloat64(observability.JobsFailedTotal.WithLabelValues(jobType)))
}

func TestQueueAndSSEGauges(t *testing.T) {
	observability.SetQueueDepth(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(observability.QueueDepth))

	observability.SetActiveJobs(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(observability.QueueActiveJobs))

	base := testutil.ToFloat64(observability.SSEConnectionsActive)
	observability.SSEConnected()
	observability.SSEConnected()
	observability.SSEDisconnected()
	assert.Equal(t, base+1, testutil.ToFloat64(observability.SSEConnectionsActive))
}

func TestRateLimitRejected(t *testing.T) {
	before := testutil.ToFloat64(observability.RateLimitRejectionsTotal.WithLabelValues("quota"))
	observability.RateLimitRejected("quota")
	assert.Equal(t, before+1, testutil.ToFloat64(observability.RateLimitRejectionsTotal.WithLabelValues("quota")))
}

func TestRecordCostDriftAndBreakerStatus(t *testing.T) {
	observability.RecordCostDrift("video_generator", 1.25)
	assert.Equal(t, 1.25, testutil.ToFloat64(observability.CostDriftGauge.WithLabelValues("video_generator")))

	observability.RecordCircuitBreakerStatus("stage:composer", "call", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(observability.CircuitBreakerStateGauge.WithLabelValues("stage:composer", "call")))
}

func TestObserveCostIgnoresNegatives(t *testing.T) {
	assert.NotPanics(t, func() {
		observability.ObserveJobCost(-1)
		observability.ObserveStageCost("composer", -1)
		observability.ObserveJobCost(12.5)
		observability.ObserveStageCost("composer", 0.25)
		observability.ObserveStageCall("composer", "ok", 1.5)
	})
}
