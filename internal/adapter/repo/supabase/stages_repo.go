package supabase

import (
	supa "github.com/supabase-community/supabase-go"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/videogen/internal/domain"
)

type stageRow struct {
	JobID     string         `json:"job_id"`
	StageName string         `json:"stage_name"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

// StageRepo records per-stage progress, one row per (job, stage) pair.
type StageRepo struct{ Client *supa.Client }

func NewStageRepo(c *supa.Client) *StageRepo { return &StageRepo{Client: c} }

// Upsert writes the stage record, replacing any prior row for the pair.
func (r *StageRepo) Upsert(ctx domain.Context, s domain.JobStage) error {
	tracer := otel.Tracer("repo.stages")
	_, span := tracer.Start(ctx, "stages.Upsert")
	defer span.End()

	row := stageRow{
		JobID:     s.JobID,
		StageName: string(s.StageName),
		Status:    string(s.Status),
		Metadata:  s.Metadata,
		UpdatedAt: formatTime(nowUTC()),
	}
	_, _, err := r.Client.From(tableStages).Upsert(row, "job_id,stage_name", "", "").Execute()
	if err != nil {
		return wrapErr("stages.upsert", err)
	}
	return nil
}
