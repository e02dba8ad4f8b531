package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuth           = errors.New("invalid authentication token")
	ErrAuthNoSubject  = errors.New("token missing subject claim")
	ErrOwnership      = errors.New("access denied")
	ErrNotFound       = errors.New("not found")
	ErrGone           = errors.New("gone")
	ErrConflict       = errors.New("conflict")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrBudgetExceeded = errors.New("budget exceeded")
	ErrRetryable      = errors.New("transient failure")
	ErrPipeline       = errors.New("pipeline failure")
	ErrConfig         = errors.New("invalid configuration")
)

// RateLimitError carries the seconds-until-admission hint alongside the
// ErrRateLimited sentinel. ServiceUnavailable marks the fail-closed variant
// produced when the broker itself is unreachable.
type RateLimitError struct {
	RetryAfter         int
	ServiceUnavailable bool
}

func (e *RateLimitError) Error() string {
	if e.ServiceUnavailable {
		return fmt.Sprintf("rate limiter unavailable, retry after %ds", e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ValidJobStatus reports whether s names a known lifecycle state.
func ValidJobStatus(s string) bool {
	switch JobStatus(s) {
	case JobQueued, JobProcessing, JobCompleted, JobFailed:
		return true
	}
	return false
}

// Terminal reports whether the status is sticky.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// Job is one end-to-end unit of work driven by one audio+prompt pair.
// Invariants: Progress==100 iff Status==completed; Status==failed implies
// ErrorMessage non-empty; TotalCost never exceeds the environment budget.
type Job struct {
	ID            string
	UserID        string
	Status        JobStatus
	AudioURL      string
	UserPrompt    string
	Progress      int
	CurrentStage  string
	EstimatedCost float64
	TotalCost     float64
	VideoURL      string
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// JobStage is the per-(job, stage) record. The orchestrator upserts exactly
// one row per pair; degradable-stage fallbacks land here with
// metadata {fallback_mode: true, fallback_reason}.
type JobStage struct {
	JobID     string
	StageName StageName
	Status    StageStatus
	Metadata  map[string]any
	UpdatedAt time.Time
}

// CostEntry is an append-only charge record. The sum of a job's entries
// equals jobs.total_cost eventually; writers hold the per-job ledger lock.
type CostEntry struct {
	JobID     string
	StageName StageName
	APIName   string
	Cost      float64
	CreatedAt time.Time
}

// AnalysisCacheEntry caches the first-stage audio analysis by content hash,
// durable half of the 24-hour cache.
type AnalysisCacheEntry struct {
	FileHash  string
	Analysis  AudioAnalysis
	CreatedAt time.Time
	ExpiresAt time.Time
}

// QueuePayload is the wire record pushed onto the FIFO list and mirrored in
// the expiring per-job payload key. FileHash keys the analysis cache; Attempt
// counts requeues after transient failures and is absent from first-time
// payloads.
type QueuePayload struct {
	JobID      string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	AudioURL   string    `json:"audio_url"`
	UserPrompt string    `json:"user_prompt"`
	FileHash   string    `json:"file_hash,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Attempt    int       `json:"attempt,omitempty"`
}

// Repositories (ports)

type JobRepository interface {
	Create(ctx Context, j Job) error
	Get(ctx Context, id string) (Job, error)
	// ListByUser returns the page plus the exact total count; ordering by
	// created_at descending is pushed down to the store.
	ListByUser(ctx Context, userID string, status *JobStatus, limit, offset int) ([]Job, int64, error)
	MarkProcessing(ctx Context, id string) error
	UpdateProgress(ctx Context, id string, progress int, stage StageName) error
	MarkFailed(ctx Context, id string, errMsg string) error
	MarkCompleted(ctx Context, id string, videoURL string, totalCost float64) error
	GetTotalCost(ctx Context, id string) (float64, error)
	SetTotalCost(ctx Context, id string, total float64) error
}

type StageRepository interface {
	Upsert(ctx Context, s JobStage) error
}

type CostRepository interface {
	Append(ctx Context, e CostEntry) error
}

type AnalysisRepository interface {
	Get(ctx Context, fileHash string) (AnalysisCacheEntry, error)
	Upsert(ctx Context, e AnalysisCacheEntry) error
	PurgeExpired(ctx Context, now time.Time) (int64, error)
}

// ObjectStore mints signed URLs and receives uploaded artifacts; the control
// plane never downloads media itself.
type ObjectStore interface {
	Upload(ctx Context, bucket, path string, data []byte, contentType string) error
	SignedURL(ctx Context, bucket, path string, ttl time.Duration) (string, error)
}

// Cache is the subset of broker operations the use cases touch directly
// (status cache, cancellation marker). Misses return ErrNotFound.
type Cache interface {
	Get(ctx Context, key string) (string, error)
	Set(ctx Context, key, value string, ttl time.Duration) error
	Delete(ctx Context, keys ...string) error
	Exists(ctx Context, key string) (bool, error)
}

// Queue (port)

type Queue interface {
	Enqueue(ctx Context, p QueuePayload) error
	// BlockingPop waits up to timeout; a nil payload with nil error means
	// the wait elapsed empty.
	BlockingPop(ctx Context, timeout time.Duration) (*QueuePayload, error)
	// Finish removes queue bookkeeping for a job (processing-set member and
	// payload key); it always runs, success or failure.
	Finish(ctx Context, jobID string) error
	// Remove deletes only the payload key; the list entry is left behind on
	// purpose and the dequeue pre-check disposes of it.
	Remove(ctx Context, jobID string) error
	Depth(ctx Context) (int64, error)
	ActiveCount(ctx Context) (int64, error)
}

// EventPublisher (port). Publication is fire-and-forget: implementations log
// failures and never surface them to callers.

type EventPublisher interface {
	Publish(ctx Context, jobID string, eventType EventType, data any)
}

// EventStream (port) delivers raw event envelopes for one job until the stop
// function is called.
type EventStream interface {
	Subscribe(ctx Context, jobID string) (<-chan []byte, func(), error)
}

// Context is an alias to allow decoupling from std context in domain
// Adapters and usecases should pass context.Context through

type Context = context.Context
