//go:build e2e

package e2e_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestE2E_CancelQueuedJob cancels right after admission. Depending on worker
// pickup timing the job is either still cancellable or already terminal; both
// outcomes are legitimate, only the status codes are pinned.
func TestE2E_CancelQueuedJob(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping e2e in short mode")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	skipUnlessUp(t, client)

	token := mintToken(t, newUserID())
	code, body := uploadAudio(t, client, token, e2ePrompt)
	require.Equal(t, http.StatusCreated, code, "upload response: %v", body)
	jobID := jobIDFrom(t, body)

	code, cancelBody := postJSON(t, client, token, "/jobs/"+jobID+"/cancel")
	switch code {
	case http.StatusOK:
		assert.Equal(t, "failed", cancelBody["status"])
		assert.Equal(t, "Job cancelled by user", cancelBody["message"])
	case http.StatusBadRequest:
		// Raced to completion before the cancel landed.
		assert.Equal(t, "NOT_CANCELLABLE", cancelBody["code"])
	default:
		t.Fatalf("unexpected cancel status %d: %v", code, cancelBody)
	}

	// A second cancel of a terminal job always conflicts.
	if code == http.StatusOK {
		code, cancelBody = postJSON(t, client, token, "/jobs/"+jobID+"/cancel")
		require.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "NOT_CANCELLABLE", cancelBody["code"])
	}
}
