package usecase

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/fairyhunter13/videogen/internal/config"
	"github.com/fairyhunter13/videogen/internal/domain"
	"github.com/fairyhunter13/videogen/internal/observability"
)

const (
	statusCacheTTL  = 30 * time.Second
	cancelMarkerTTL = 15 * time.Minute
	signedURLTTL    = time.Hour

	// ListMaxLimit bounds one page of the jobs listing.
	ListMaxLimit = 50
)

func roundCents(v float64) float64 { return math.Round(v*100) / 100 }

// JobService serves status, listing, cancellation and artifact download.
type JobService struct {
	Cfg   config.Config
	Jobs  domain.JobRepository
	Cache domain.Cache
	Queue domain.Queue
	Store domain.ObjectStore
}

// NewJobService constructs a JobService.
func NewJobService(cfg config.Config, jobs domain.JobRepository, cache domain.Cache, queue domain.Queue, store domain.ObjectStore) JobService {
	return JobService{Cfg: cfg, Jobs: jobs, Cache: cache, Queue: queue, Store: store}
}

// JobView is the wire shape of one job row.
type JobView struct {
	JobID         string   `json:"job_id"`
	Status        string   `json:"status"`
	Progress      int      `json:"progress"`
	CurrentStage  *string  `json:"current_stage"`
	EstimatedCost float64  `json:"estimated_cost"`
	TotalCost     float64  `json:"total_cost"`
	VideoURL      *string  `json:"video_url,omitempty"`
	ErrorMessage  *string  `json:"error_message,omitempty"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
	CompletedAt   *string  `json:"completed_at,omitempty"`
}

func viewOf(j domain.Job) JobView {
	v := JobView{
		JobID:         j.ID,
		Status:        string(j.Status),
		Progress:      j.Progress,
		EstimatedCost: j.EstimatedCost,
		TotalCost:     j.TotalCost,
		CreatedAt:     j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     j.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if j.CurrentStage != "" {
		stage := j.CurrentStage
		v.CurrentStage = &stage
	}
	if j.VideoURL != "" {
		u := j.VideoURL
		v.VideoURL = &u
	}
	if j.ErrorMessage != "" {
		m := j.ErrorMessage
		v.ErrorMessage = &m
	}
	if j.CompletedAt != nil {
		c := j.CompletedAt.UTC().Format(time.RFC3339)
		v.CompletedAt = &c
	}
	return v
}

// authorize loads the job and verifies ownership. A missing job is
// ErrNotFound; someone else's job is ErrOwnership.
func (s JobService) authorize(ctx domain.Context, userID, jobID string) (domain.Job, error) {
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=usecase.authorize: %w", err)
	}
	if job.UserID != userID {
		return domain.Job{}, fmt.Errorf("op=usecase.authorize: job %s not owned by caller: %w", jobID, domain.ErrOwnership)
	}
	return job, nil
}

// Status returns one job, serving from the 30-second status cache when it
// can. Ownership is checked against the authoritative row first.
func (s JobService) Status(ctx domain.Context, userID, jobID string) (JobView, error) {
	job, err := s.authorize(ctx, userID, jobID)
	if err != nil {
		return JobView{}, err
	}

	lg := observability.LoggerFromContext(ctx)
	key := domain.JobStatusKey(jobID)
	if cached, err := s.Cache.Get(ctx, key); err == nil {
		var v JobView
		if jsonErr := json.Unmarshal([]byte(cached), &v); jsonErr == nil {
			return v, nil
		}
		lg.Warn("malformed status cache entry, rereading", "job_id", jobID)
	}

	v := viewOf(job)
	if raw, err := json.Marshal(v); err == nil {
		if err := s.Cache.Set(ctx, key, string(raw), statusCacheTTL); err != nil {
			lg.Warn("status cache write failed", "job_id", jobID, "error", err)
		}
	}
	return v, nil
}

// JobPage is one page of the jobs listing.
type JobPage struct {
	Jobs   []JobView `json:"jobs"`
	Total  int64     `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// List returns the caller's jobs, newest first, with an optional status
// filter. Ordering and the exact count are pushed down to the store.
func (s JobService) List(ctx domain.Context, userID string, status *domain.JobStatus, limit, offset int) (JobPage, error) {
	if limit < 1 || limit > ListMaxLimit {
		return JobPage{}, fmt.Errorf("op=usecase.List: limit must be 1-%d: %w", ListMaxLimit, domain.ErrValidation)
	}
	if offset < 0 {
		return JobPage{}, fmt.Errorf("op=usecase.List: offset must be non-negative: %w", domain.ErrValidation)
	}

	jobs, total, err := s.Jobs.ListByUser(ctx, userID, status, limit, offset)
	if err != nil {
		return JobPage{}, fmt.Errorf("op=usecase.List: %w", err)
	}

	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	return JobPage{Jobs: views, Total: total, Limit: limit, Offset: offset}, nil
}

// CancelledMessage is the terminal error message cancellation writes.
const CancelledMessage = "Job cancelled by user"

// Cancel stops a queued or processing job. Queued jobs lose their payload key
// so no worker picks them up; processing jobs get a cancellation marker the
// orchestrator honors at its next checkpoint. Terminal jobs are not
// cancellable.
func (s JobService) Cancel(ctx domain.Context, userID, jobID string) error {
	job, err := s.authorize(ctx, userID, jobID)
	if err != nil {
		return err
	}

	lg := observability.LoggerFromContext(ctx).With("job_id", jobID)
	switch job.Status {
	case domain.JobQueued:
		if err := s.Queue.Remove(ctx, jobID); err != nil {
			lg.Warn("payload removal failed during cancel", "error", err)
		}
		// The marker also covers the window where a worker dequeued the
		// stale list entry just before the payload key vanished.
		if err := s.Cache.Set(ctx, domain.CancelKey(jobID), "1", cancelMarkerTTL); err != nil {
			lg.Warn("cancel marker write failed", "error", err)
		}
	case domain.JobProcessing:
		if err := s.Cache.Set(ctx, domain.CancelKey(jobID), "1", cancelMarkerTTL); err != nil {
			return fmt.Errorf("op=usecase.Cancel: marker: %w", err)
		}
	default:
		return fmt.Errorf("op=usecase.Cancel: job is %s: %w", job.Status, domain.ErrConflict)
	}

	if err := s.Jobs.MarkFailed(ctx, jobID, CancelledMessage); err != nil {
		return fmt.Errorf("op=usecase.Cancel: %w", err)
	}
	if err := s.Cache.Delete(ctx, domain.JobStatusKey(jobID)); err != nil {
		lg.Warn("status cache invalidation failed", "error", err)
	}

	lg.Info("job cancelled", "prior_status", string(job.Status))
	return nil
}

// DownloadLink is the signed-URL response payload.
type DownloadLink struct {
	DownloadURL string `json:"download_url"`
	ExpiresIn   int    `json:"expires_in"`
	Filename    string `json:"filename"`
}

// Download mints a one-hour signed URL for the finished artifact. Jobs that
// are not completed are ErrNotFound; a completed job that somehow lost its
// artifact reference is ErrGone.
func (s JobService) Download(ctx domain.Context, userID, jobID string) (DownloadLink, error) {
	job, err := s.authorize(ctx, userID, jobID)
	if err != nil {
		return DownloadLink{}, err
	}

	if job.Status != domain.JobCompleted {
		return DownloadLink{}, fmt.Errorf("op=usecase.Download: job is %s, not completed: %w", job.Status, domain.ErrNotFound)
	}
	if job.VideoURL == "" {
		return DownloadLink{}, fmt.Errorf("op=usecase.Download: artifact missing for completed job: %w", domain.ErrGone)
	}

	path := fmt.Sprintf("%s/final_video.mp4", jobID)
	url, err := s.Store.SignedURL(ctx, s.Cfg.VideoBucket, path, signedURLTTL)
	if err != nil {
		return DownloadLink{}, fmt.Errorf("op=usecase.Download: %w", err)
	}

	return DownloadLink{
		DownloadURL: url,
		ExpiresIn:   int(signedURLTTL.Seconds()),
		Filename:    fmt.Sprintf("music_video_%s.mp4", jobID),
	}, nil
}
