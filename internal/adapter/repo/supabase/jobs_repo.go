package supabase

import (
	"fmt"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/videogen/internal/domain"
)

// jobRow mirrors the jobs table. Timestamps stay strings because PostgREST
// renders them differently for timestamp and timestamptz columns.
type jobRow struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	Status        string  `json:"status"`
	AudioURL      string  `json:"audio_url"`
	UserPrompt    string  `json:"user_prompt"`
	Progress      int     `json:"progress"`
	CurrentStage  *string `json:"current_stage,omitempty"`
	EstimatedCost float64 `json:"estimated_cost"`
	TotalCost     float64 `json:"total_cost"`
	VideoURL      *string `json:"video_url,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
	CreatedAt     string  `json:"created_at,omitempty"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}

func (r jobRow) toDomain() domain.Job {
	j := domain.Job{
		ID:            r.ID,
		UserID:        r.UserID,
		Status:        domain.JobStatus(r.Status),
		AudioURL:      r.AudioURL,
		UserPrompt:    r.UserPrompt,
		Progress:      r.Progress,
		EstimatedCost: r.EstimatedCost,
		TotalCost:     r.TotalCost,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
		CompletedAt:   parseTimePtr(r.CompletedAt),
	}
	if r.CurrentStage != nil {
		j.CurrentStage = *r.CurrentStage
	}
	if r.VideoURL != nil {
		j.VideoURL = *r.VideoURL
	}
	if r.ErrorMessage != nil {
		j.ErrorMessage = *r.ErrorMessage
	}
	return j
}

// JobRepo persists and loads jobs through the Supabase REST interface.
type JobRepo struct{ Client *supa.Client }

// NewJobRepo constructs a JobRepo with the given client.
func NewJobRepo(c *supa.Client) *JobRepo { return &JobRepo{Client: c} }

// Create inserts a new job row.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) error {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()

	row := jobRow{
		ID:            j.ID,
		UserID:        j.UserID,
		Status:        string(j.Status),
		AudioURL:      j.AudioURL,
		UserPrompt:    j.UserPrompt,
		Progress:      j.Progress,
		EstimatedCost: j.EstimatedCost,
		TotalCost:     j.TotalCost,
		CreatedAt:     formatTime(j.CreatedAt),
		UpdatedAt:     formatTime(j.UpdatedAt),
	}
	_, _, err := r.Client.From(tableJobs).Insert(row, false, "", "", "").Execute()
	if err != nil {
		return wrapErr("jobs.create", err)
	}
	return nil
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()

	var rows []jobRow
	_, err := r.Client.From(tableJobs).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return domain.Job{}, wrapErr("jobs.get", err)
	}
	if len(rows) == 0 {
		return domain.Job{}, fmt.Errorf("op=jobs.get: %w", domain.ErrNotFound)
	}
	return rows[0].toDomain(), nil
}

// ListByUser returns one page of a user's jobs newest first, plus the exact
// total count for pagination.
func (r *JobRepo) ListByUser(ctx domain.Context, userID string, status *domain.JobStatus, limit, offset int) ([]domain.Job, int64, error) {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.ListByUser")
	defer span.End()

	q := r.Client.From(tableJobs).
		Select("*", "exact", false).
		Eq("user_id", userID)
	if status != nil {
		q = q.Eq("status", string(*status))
	}
	q = q.Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Range(offset, offset+limit-1, "")

	var rows []jobRow
	total, err := q.ExecuteTo(&rows)
	if err != nil {
		return nil, 0, wrapErr("jobs.list_by_user", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	return jobs, total, nil
}

// ListStaleProcessing returns processing jobs untouched since cutoff, oldest
// first, bounded by limit. Backs the stale-job sweeper.
func (r *JobRepo) ListStaleProcessing(ctx domain.Context, cutoff time.Time, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.ListStaleProcessing")
	defer span.End()

	var rows []jobRow
	_, err := r.Client.From(tableJobs).
		Select("*", "", false).
		Eq("status", string(domain.JobProcessing)).
		Lt("updated_at", formatTime(cutoff)).
		Order("updated_at", &postgrest.OrderOpts{Ascending: true}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, wrapErr("jobs.list_stale_processing", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		jobs = append(jobs, row.toDomain())
	}
	return jobs, nil
}

// MarkProcessing transitions a job into the processing state.
func (r *JobRepo) MarkProcessing(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.MarkProcessing")
	defer span.End()

	update := map[string]any{
		"status":     string(domain.JobProcessing),
		"updated_at": formatTime(nowUTC()),
	}
	_, _, err := r.Client.From(tableJobs).Update(update, "", "").Eq("id", id).Execute()
	if err != nil {
		return wrapErr("jobs.mark_processing", err)
	}
	return nil
}

// UpdateProgress records pipeline advancement for a running job.
func (r *JobRepo) UpdateProgress(ctx domain.Context, id string, progress int, stage domain.StageName) error {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.UpdateProgress")
	defer span.End()

	update := map[string]any{
		"progress":      progress,
		"current_stage": string(stage),
		"updated_at":    formatTime(nowUTC()),
	}
	_, _, err := r.Client.From(tableJobs).Update(update, "", "").Eq("id", id).Execute()
	if err != nil {
		return wrapErr("jobs.update_progress", err)
	}
	return nil
}

// liveStatuses are the states a terminal write may transition from. The
// filter keeps terminal rows immutable under races: whoever writes the
// terminal state first wins, the loser sees zero rows and ErrConflict.
var liveStatuses = []string{string(domain.JobQueued), string(domain.JobProcessing)}

// MarkFailed finalizes a job with an operator-readable error message.
// Returns ErrConflict when the job is already terminal.
func (r *JobRepo) MarkFailed(ctx domain.Context, id string, errMsg string) error {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.MarkFailed")
	defer span.End()

	update := map[string]any{
		"status":        string(domain.JobFailed),
		"error_message": errMsg,
		"updated_at":    formatTime(nowUTC()),
	}
	_, count, err := r.Client.From(tableJobs).
		Update(update, "", "exact").
		Eq("id", id).
		In("status", liveStatuses).
		Execute()
	if err != nil {
		return wrapErr("jobs.mark_failed", err)
	}
	if count == 0 {
		return fmt.Errorf("op=jobs.mark_failed: job %s is already terminal: %w", id, domain.ErrConflict)
	}
	return nil
}

// MarkCompleted finalizes a successful job with its artifact and final cost.
// Returns ErrConflict when the job is already terminal.
func (r *JobRepo) MarkCompleted(ctx domain.Context, id string, videoURL string, totalCost float64) error {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.MarkCompleted")
	defer span.End()

	now := formatTime(nowUTC())
	update := map[string]any{
		"status":       string(domain.JobCompleted),
		"progress":     100,
		"video_url":    videoURL,
		"total_cost":   totalCost,
		"completed_at": now,
		"updated_at":   now,
	}
	_, count, err := r.Client.From(tableJobs).
		Update(update, "", "exact").
		Eq("id", id).
		In("status", liveStatuses).
		Execute()
	if err != nil {
		return wrapErr("jobs.mark_completed", err)
	}
	if count == 0 {
		return fmt.Errorf("op=jobs.mark_completed: job %s is already terminal: %w", id, domain.ErrConflict)
	}
	return nil
}

// GetTotalCost reads the running total for a job.
func (r *JobRepo) GetTotalCost(ctx domain.Context, id string) (float64, error) {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.GetTotalCost")
	defer span.End()

	var rows []struct {
		TotalCost float64 `json:"total_cost"`
	}
	_, err := r.Client.From(tableJobs).
		Select("total_cost", "", false).
		Eq("id", id).
		ExecuteTo(&rows)
	if err != nil {
		return 0, wrapErr("jobs.get_total_cost", err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("op=jobs.get_total_cost: %w", domain.ErrNotFound)
	}
	return rows[0].TotalCost, nil
}

// SetTotalCost writes the running total for a job.
func (r *JobRepo) SetTotalCost(ctx domain.Context, id string, total float64) error {
	tracer := otel.Tracer("repo.jobs")
	_, span := tracer.Start(ctx, "jobs.SetTotalCost")
	defer span.End()

	update := map[string]any{
		"total_cost": total,
		"updated_at": formatTime(nowUTC()),
	}
	_, _, err := r.Client.From(tableJobs).Update(update, "", "").Eq("id", id).Execute()
	if err != nil {
		return wrapErr("jobs.set_total_cost", err)
	}
	return nil
}
