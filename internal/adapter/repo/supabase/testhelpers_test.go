package supabase_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	supa "github.com/supabase-community/supabase-go"
	"github.com/stretchr/testify/require"
)

// newTestClient points a supabase client at an httptest server so repo tests
// can assert the exact REST requests the adapters produce.
func newTestClient(t *testing.T, handler http.Handler) *supa.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := supa.NewClient(srv.URL, "test-key", &supa.ClientOptions{})
	require.NoError(t, err)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		t.Errorf("failed to write response: %v", err)
	}
}
