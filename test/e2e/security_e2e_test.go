//go:build e2e

package e2e_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestE2E_AuthRequired pins the rejection surface: missing and garbage
// bearer tokens both yield 403 with the AUTH_ERROR code.
func TestE2E_AuthRequired(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping e2e in short mode")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	skipUnlessUp(t, client)

	code, body := getJSON(t, client, "", "/jobs")
	require.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "AUTH_ERROR", body["code"])

	code, body = getJSON(t, client, "not-a-jwt", "/jobs")
	require.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "AUTH_ERROR", body["code"])
}

// TestE2E_OwnershipIsolation checks that one user cannot read another user's
// job through status, download, or cancel.
func TestE2E_OwnershipIsolation(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping e2e in short mode")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	skipUnlessUp(t, client)

	owner := mintToken(t, newUserID())
	code, body := uploadAudio(t, client, owner, e2ePrompt)
	require.Equal(t, http.StatusCreated, code, "upload response: %v", body)
	jobID := jobIDFrom(t, body)

	intruder := mintToken(t, newUserID())

	code, body = getJSON(t, client, intruder, "/jobs/"+jobID)
	require.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", body["code"])

	code, body = getJSON(t, client, intruder, "/jobs/"+jobID+"/download")
	assert.Equal(t, http.StatusForbidden, code, "download leak: %v", body)

	code, body = postJSON(t, client, intruder, "/jobs/"+jobID+"/cancel")
	assert.Equal(t, http.StatusForbidden, code, "cancel leak: %v", body)
}

// TestE2E_PromptValidation rejects briefs outside the 50..500 band.
func TestE2E_PromptValidation(t *testing.T) {
	t.Parallel()
	if testing.Short() {
		t.Skip("skipping e2e in short mode")
	}
	client := &http.Client{Timeout: 5 * time.Second}
	skipUnlessUp(t, client)

	token := mintToken(t, newUserID())
	code, body := uploadAudio(t, client, token, "too short")
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}
