package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/videogen/internal/domain"
)

func streamRequest(t *testing.T, f serverFixture, target string, wait time.Duration) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.router.ServeHTTP(rec, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait + 2*time.Second):
		t.Fatal("stream handler did not return after context cancellation")
	}
	return rec
}

func TestStream_InitialProgressSnapshot(t *testing.T) {
	f := newServerFixture(t, domain.Job{
		ID: "j1", UserID: "u1", Status: domain.JobProcessing,
		Progress: 40, CurrentStage: string(domain.StagePromptGenerator), TotalCost: 0.75,
	})

	rec := streamRequest(t, f, "/api/v1/jobs/j1/stream", 150*time.Millisecond)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: progress\n"), body)
	assert.Contains(t, body, `"progress":40`)
	assert.Contains(t, body, `"stage":"prompt_generator"`)
}

func TestStream_TokenQueryParameter(t *testing.T) {
	f := newServerFixture(t, domain.Job{ID: "j1", UserID: "u1", Status: domain.JobQueued})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1/stream?token=good-token", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		f.router.ServeHTTP(rec, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return")
	}

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: progress")
}

func TestStream_OwnershipEnforced(t *testing.T) {
	f := newServerFixture(t, domain.Job{ID: "j1", UserID: "someone-else", Status: domain.JobQueued})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/j1/stream", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeEnvelope(t, rec).Code)
}
