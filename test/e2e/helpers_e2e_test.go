//go:build e2e

package e2e_test

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// getenv returns the value of the environment variable k or def if empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

var (
	baseURL   = getenv("E2E_BASE_URL", "http://localhost:8080/api/v1")
	jwtSecret = getenv("SUPABASE_JWT_SECRET", "dev-jwt-secret")
)

const e2ePrompt = "A neon-soaked city montage with rain on the windows and slow dolly shots following the beat."

// mintToken signs a short-lived HS256 token for a throwaway user, the same
// shape Supabase auth issues.
func mintToken(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	})
	signed, err := tok.SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

func newUserID() string { return "e2e-" + uuid.NewString() }

// wavBytes builds a valid PCM WAV header describing the given duration. The
// duration probe only reads the header, so the data section can stay empty.
func wavBytes(seconds int) []byte {
	const (
		sampleRate = 44100
		channels   = 1
		bitsPer    = 16
	)
	byteRate := sampleRate * channels * bitsPer / 8
	dataLen := byteRate * seconds

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPer/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPer))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	return buf.Bytes()
}

// skipUnlessUp skips the test when the stack is not reachable.
func skipUnlessUp(t *testing.T, client *http.Client) {
	t.Helper()
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		t.Skipf("stack not reachable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		t.Skipf("unexpected health status %d", resp.StatusCode)
	}
}

// uploadAudio submits a WAV and decodes the response envelope.
func uploadAudio(t *testing.T, client *http.Client, token, prompt string) (int, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio_file", "track.wav")
	require.NoError(t, err)
	_, err = fw.Write(wavBytes(2))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("user_prompt", prompt))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, baseURL+"/upload-audio", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

// getJSON performs an authenticated GET and decodes the response.
func getJSON(t *testing.T, client *http.Client, token, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func postJSON(t *testing.T, client *http.Client, token, path string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return out
}

// waitForTerminal polls job status until it leaves queued/processing or the
// deadline passes, returning the last snapshot.
func waitForTerminal(t *testing.T, client *http.Client, token, jobID string, deadline time.Duration) map[string]any {
	t.Helper()
	stop := time.Now().Add(deadline)
	var last map[string]any
	for time.Now().Before(stop) {
		code, body := getJSON(t, client, token, "/jobs/"+jobID)
		require.Equal(t, http.StatusOK, code, "status poll failed: %v", body)
		last = body
		if st, _ := body["status"].(string); st == "completed" || st == "failed" {
			return body
		}
		time.Sleep(500 * time.Millisecond)
	}
	return last
}

func jobIDFrom(t *testing.T, body map[string]any) string {
	t.Helper()
	id, ok := body["job_id"].(string)
	require.True(t, ok && id != "", "expected job_id in %v", body)
	return id
}
