// Package usecase holds the application services behind the ingress API and
// the worker: admission, job queries, cancellation, download, health, and the
// pipeline orchestrator.
package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/videogen/internal/adapter/audiometa"
	"github.com/fairyhunter13/videogen/internal/config"
	"github.com/fairyhunter13/videogen/internal/domain"
	"github.com/fairyhunter13/videogen/internal/observability"
	"github.com/fairyhunter13/videogen/pkg/textx"
)

const (
	promptMinLen = 50
	promptMaxLen = 500
)

// RateLimiter admits or rejects one submission for a user.
type RateLimiter interface {
	Check(ctx domain.Context, userID string) error
}

// SubmitService admits an upload: validation, cost estimation, rate control,
// object upload, job persistence, and enqueue.
type SubmitService struct {
	Cfg     config.Config
	Jobs    domain.JobRepository
	Store   domain.ObjectStore
	Queue   domain.Queue
	Limiter RateLimiter
}

// NewSubmitService constructs a SubmitService.
func NewSubmitService(cfg config.Config, jobs domain.JobRepository, store domain.ObjectStore, queue domain.Queue, limiter RateLimiter) SubmitService {
	return SubmitService{Cfg: cfg, Jobs: jobs, Store: store, Queue: queue, Limiter: limiter}
}

// Admission is the accepted-job response payload.
type Admission struct {
	JobID         string
	Status        domain.JobStatus
	EstimatedCost float64
	CreatedAt     time.Time
}

// Admit validates the upload and prompt, estimates cost against the
// environment budget, consults the rate limiter, stores the audio, persists
// the job row and enqueues it.
func (s SubmitService) Admit(ctx domain.Context, userID, filename string, audio []byte, userPrompt string) (Admission, error) {
	lg := observability.LoggerFromContext(ctx).With("user_id", userID)

	prompt := textx.NormalizePrompt(userPrompt)
	if n := len([]rune(prompt)); n < promptMinLen || n > promptMaxLen {
		return Admission{}, fmt.Errorf("op=usecase.Admit: prompt must be %d-%d characters, got %d: %w",
			promptMinLen, promptMaxLen, n, domain.ErrValidation)
	}

	maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
	if int64(len(audio)) > maxBytes {
		return Admission{}, fmt.Errorf("op=usecase.Admit: file exceeds %d MiB: %w", s.Cfg.MaxUploadMB, domain.ErrValidation)
	}

	info, err := audiometa.Probe(audio)
	if err != nil {
		return Admission{}, fmt.Errorf("op=usecase.Admit: %w", err)
	}

	estimate := roundCents(s.Cfg.EstimateCost(info.Duration / 60))
	limit := s.Cfg.BudgetLimit()
	if estimate > limit {
		return Admission{}, fmt.Errorf("op=usecase.Admit: estimated cost $%.2f exceeds budget $%.2f: %w",
			estimate, limit, domain.ErrBudgetExceeded)
	}

	if err := s.Limiter.Check(ctx, userID); err != nil {
		return Admission{}, fmt.Errorf("op=usecase.Admit: %w", err)
	}

	jobID := uuid.NewString()
	sum := sha256.Sum256(audio)
	fileHash := hex.EncodeToString(sum[:])

	objectPath := fmt.Sprintf("%s/%s/%s", userID, jobID, filename)
	if err := s.Store.Upload(ctx, s.Cfg.AudioBucket, objectPath, audio, info.ContentType); err != nil {
		return Admission{}, fmt.Errorf("op=usecase.Admit: upload: %w", err)
	}
	audioURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.Cfg.SupabaseURL, s.Cfg.AudioBucket, objectPath)

	now := time.Now().UTC()
	job := domain.Job{
		ID:            jobID,
		UserID:        userID,
		Status:        domain.JobQueued,
		AudioURL:      audioURL,
		UserPrompt:    prompt,
		EstimatedCost: estimate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Jobs.Create(ctx, job); err != nil {
		return Admission{}, fmt.Errorf("op=usecase.Admit: persist: %w", err)
	}

	payload := domain.QueuePayload{
		JobID:      jobID,
		UserID:     userID,
		AudioURL:   audioURL,
		UserPrompt: prompt,
		FileHash:   fileHash,
		CreatedAt:  now,
	}
	if err := s.Queue.Enqueue(ctx, payload); err != nil {
		// The row exists but no worker will ever see it; close it out.
		if markErr := s.Jobs.MarkFailed(ctx, jobID, "Failed to enqueue job"); markErr != nil {
			lg.Error("failed to mark unenqueued job", "job_id", jobID, "error", markErr)
		}
		return Admission{}, fmt.Errorf("op=usecase.Admit: enqueue: %w", err)
	}

	lg.Info("job admitted",
		"job_id", jobID,
		"format", info.Format,
		"duration_seconds", info.Duration,
		"estimated_cost", estimate)
	return Admission{JobID: jobID, Status: domain.JobQueued, EstimatedCost: estimate, CreatedAt: now}, nil
}
