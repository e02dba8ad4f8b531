package supabase

import (
	supa "github.com/supabase-community/supabase-go"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/videogen/internal/domain"
)

type costRow struct {
	JobID     string  `json:"job_id"`
	StageName string  `json:"stage_name"`
	APIName   string  `json:"api_name"`
	Cost      float64 `json:"cost"`
	CreatedAt string  `json:"created_at,omitempty"`
}

// CostRepo appends to the immutable per-charge audit trail.
type CostRepo struct{ Client *supa.Client }

func NewCostRepo(c *supa.Client) *CostRepo { return &CostRepo{Client: c} }

// Append records one charge. Entries are never updated or deleted.
func (r *CostRepo) Append(ctx domain.Context, e domain.CostEntry) error {
	tracer := otel.Tracer("repo.costs")
	_, span := tracer.Start(ctx, "costs.Append")
	defer span.End()

	row := costRow{
		JobID:     e.JobID,
		StageName: string(e.StageName),
		APIName:   e.APIName,
		Cost:      e.Cost,
		CreatedAt: formatTime(e.CreatedAt),
	}
	_, _, err := r.Client.From(tableCosts).Insert(row, false, "", "", "").Execute()
	if err != nil {
		return wrapErr("costs.append", err)
	}
	return nil
}
