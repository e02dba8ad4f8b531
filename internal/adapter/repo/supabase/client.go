// Package supabase persists jobs, stages, costs, and the durable audio
// analysis cache through the Supabase REST interface, and signs object
// storage URLs. Row filtering, ordering, and counting are pushed down to
// the store.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	supa "github.com/supabase-community/supabase-go"

	"github.com/fairyhunter13/videogen/internal/config"
	"github.com/fairyhunter13/videogen/internal/domain"
)

const (
	tableJobs     = "jobs"
	tableStages   = "job_stages"
	tableCosts    = "job_costs"
	tableAnalysis = "audio_analysis_cache"
)

// NewClient builds the shared Supabase client from configuration.
func NewClient(cfg config.Config) (*supa.Client, error) {
	client, err := supa.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supa.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("op=supabase.NewClient: %w", err)
	}
	slog.Info("connected to supabase", slog.String("url", cfg.SupabaseURL))
	return client, nil
}

// Ping issues the cheapest possible query to verify the REST interface is
// reachable. Used by readiness and health probes.
func Ping(_ context.Context, client *supa.Client) error {
	var rows []struct {
		ID string `json:"id"`
	}
	if _, err := client.From(tableJobs).Select("id", "", false).Limit(1, "").ExecuteTo(&rows); err != nil {
		return fmt.Errorf("op=supabase.Ping: %w", err)
	}
	return nil
}

// wrapErr tags a store failure with the op and classifies transient faults
// as domain.ErrRetryable so the worker requeues instead of failing the job.
// Data-level errors from PostgREST stay plain wrapped.
func wrapErr(op string, err error) error {
	if isTransient(err) {
		return fmt.Errorf("op=%s: %w: %v", op, domain.ErrRetryable, err)
	}
	return fmt.Errorf("op=%s: %w", op, err)
}

// isTransient reports whether a store failure is worth retrying. PostgREST
// renders HTTP errors as "(code) message" strings, so classification leans
// on the code prefix; network faults and non-JSON error bodies (the shape of
// a 502/503 page from a gateway in front of the store) always are.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	if strings.Contains(msg, "error parsing error response") {
		return true
	}
	// Connection failures (08xxx, PGRST0xx), resource exhaustion (53xxx),
	// and cancelled statements (57014) recover on a later attempt.
	for _, prefix := range []string{"(08", "(53", "(PGRST0", "(57014)"} {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

const writeTimeLayout = "2006-01-02T15:04:05.999999Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(writeTimeLayout)
}

func nowUTC() time.Time { return time.Now().UTC() }

// parseTime tolerates the timestamp renderings PostgREST produces for
// timestamptz and plain timestamp columns.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999-07",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseTime(*s)
	return &t
}
