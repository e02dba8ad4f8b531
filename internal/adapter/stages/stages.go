// Package stages adapts the external media-processing collaborators behind
// domain.PipelineExecutor. The real client speaks JSON over HTTP with backoff
// and per-stage circuit breakers; the stub synthesizes deterministic outputs
// for development and tests; Cached layers the analysis cache over either.
package stages

import (
	"context"

	"github.com/fairyhunter13/videogen/internal/domain"
)

// CostSink receives the charge each successful stage call incurred.
// *costs.Ledger satisfies it.
type CostSink interface {
	TrackCost(ctx context.Context, jobID string, stage domain.StageName, apiName string, amount float64) (float64, error)
}
