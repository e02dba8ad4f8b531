package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Check is one dependency probe.
type Check func(ctx context.Context) error

// BuildReadinessChecks returns the store and broker probes backing /readyz
// and the API health endpoint.
func BuildReadinessChecks(storePing, brokerPing Check) (Check, Check) {
	storeCheck := func(ctx context.Context) error {
		if storePing == nil {
			return fmt.Errorf("store not configured")
		}
		return storePing(ctx)
	}
	brokerCheck := func(ctx context.Context) error {
		if brokerPing == nil {
			return fmt.Errorf("broker not configured")
		}
		return brokerPing(ctx)
	}
	return storeCheck, brokerCheck
}

// ReadyzHandler probes every dependency with a short deadline; any failure is
// a 503 so the orchestrator stops routing traffic here.
func ReadyzHandler(checks map[string]Check) http.HandlerFunc {
	type result struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		results := make([]result, 0, len(checks))
		ok := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results = append(results, result{Name: name, OK: false, Details: err.Error()})
				ok = false
			} else {
				results = append(results, result{Name: name, OK: true})
			}
		}

		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"checks": results})
	}
}
