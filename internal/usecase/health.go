package usecase

import (
	"context"
	"time"

	"github.com/fairyhunter13/videogen/internal/adapter/observability"
	"github.com/fairyhunter13/videogen/internal/domain"
)

// HealthService probes the control plane's dependencies and reports queue
// pressure.
type HealthService struct {
	StoreCheck  func(ctx context.Context) error
	BrokerCheck func(ctx context.Context) error
	Queue       domain.Queue
	Workers     int
}

// HealthReport is the public health payload.
type HealthReport struct {
	Status string         `json:"status"`
	Queue  map[string]any `json:"queue"`
	Issues []string       `json:"issues,omitempty"`
}

// Healthy reports whether every probe passed.
func (r HealthReport) Healthy() bool { return r.Status == "healthy" }

// Check probes the store and broker with a short deadline and samples queue
// depth. Queue gauges are refreshed as a side effect so /metrics stays
// current even without worker traffic.
func (h HealthService) Check(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	report := HealthReport{Status: "healthy", Queue: map[string]any{"workers": h.Workers}}

	if h.StoreCheck != nil {
		if err := h.StoreCheck(ctx); err != nil {
			report.Issues = append(report.Issues, "store: "+err.Error())
		}
	}
	if h.BrokerCheck != nil {
		if err := h.BrokerCheck(ctx); err != nil {
			report.Issues = append(report.Issues, "broker: "+err.Error())
		}
	}

	if h.Queue != nil {
		if depth, err := h.Queue.Depth(ctx); err == nil {
			report.Queue["size"] = depth
			observability.SetQueueDepth(depth)
		} else {
			report.Issues = append(report.Issues, "queue: "+err.Error())
		}
		if active, err := h.Queue.ActiveCount(ctx); err == nil {
			report.Queue["active_jobs"] = active
			observability.SetActiveJobs(active)
		}
	}

	if len(report.Issues) > 0 {
		report.Status = "unhealthy"
	}
	return report
}
