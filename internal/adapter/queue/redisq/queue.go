// Package redisq implements the durable job queue on broker primitives: a
// FIFO list for pending work, a set for in-flight job ids, and an expiring
// per-job payload key for crash-resume retrieval.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/videogen/internal/adapter/observability"
	"github.com/fairyhunter13/videogen/internal/domain"
)

// payloadTTL bounds how long a crashed worker's payload survives for resume.
const payloadTTL = 15 * time.Minute

// broker is the slice of the redis client the queue uses.
type broker interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	LPush(ctx context.Context, key, value string) error
	BRPop(ctx context.Context, timeout time.Duration, key string) (string, error)
	LLen(ctx context.Context, key string) (int64, error)
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SCard(ctx context.Context, key string) (int64, error)
}

// Queue implements domain.Queue.
type Queue struct {
	broker broker
}

func New(b broker) *Queue { return &Queue{broker: b} }

// Enqueue pushes the payload onto the list head and mirrors it under the
// expiring per-job key.
func (q *Queue) Enqueue(ctx context.Context, p domain.QueuePayload) error {
	tracer := otel.Tracer("queue.redisq")
	ctx, span := tracer.Start(ctx, "queue.Enqueue")
	defer span.End()

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("op=redisq.Enqueue: %w", err)
	}
	if err := q.broker.LPush(ctx, domain.QueueKey, string(raw)); err != nil {
		return fmt.Errorf("op=redisq.Enqueue: %w", err)
	}
	if err := q.broker.Set(ctx, domain.JobPayloadKey(p.JobID), string(raw), payloadTTL); err != nil {
		return fmt.Errorf("op=redisq.Enqueue: payload key: %w", err)
	}

	observability.EnqueueJob("video_generation")
	slog.Info("job enqueued", slog.String("job_id", p.JobID), slog.String("user_id", p.UserID))
	return nil
}

// BlockingPop waits up to timeout for the next payload. A nil payload with a
// nil error means the wait elapsed empty. On a hit the job id joins the
// processing set before the payload is returned.
func (q *Queue) BlockingPop(ctx context.Context, timeout time.Duration) (*domain.QueuePayload, error) {
	raw, err := q.broker.BRPop(ctx, timeout, domain.QueueKey)
	if err != nil {
		return nil, fmt.Errorf("op=redisq.BlockingPop: %w", err)
	}
	if raw == "" {
		return nil, nil
	}

	var p domain.QueuePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		// A payload that cannot decode would wedge the queue if requeued.
		slog.Error("dropping undecodable queue payload", slog.Any("error", err))
		return nil, fmt.Errorf("op=redisq.BlockingPop: decode: %w: %v", domain.ErrPipeline, err)
	}

	if err := q.broker.SAdd(ctx, domain.ProcessingKey, p.JobID); err != nil {
		slog.Warn("failed to mark job in-flight", slog.String("job_id", p.JobID), slog.Any("error", err))
	}
	return &p, nil
}

// Finish clears queue bookkeeping for a job: processing-set membership and
// the payload key. Runs on both success and failure.
func (q *Queue) Finish(ctx context.Context, jobID string) error {
	if err := q.broker.SRem(ctx, domain.ProcessingKey, jobID); err != nil {
		return fmt.Errorf("op=redisq.Finish: %w", err)
	}
	if err := q.broker.Delete(ctx, domain.JobPayloadKey(jobID)); err != nil {
		return fmt.Errorf("op=redisq.Finish: %w", err)
	}
	return nil
}

// Remove deletes only the payload key; used when cancelling a queued job. The
// list entry stays behind and the dequeue cancellation pre-check disposes of
// it. Idempotent.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	if err := q.broker.Delete(ctx, domain.JobPayloadKey(jobID)); err != nil {
		return fmt.Errorf("op=redisq.Remove: %w", err)
	}
	slog.Info("queued payload removed", slog.String("job_id", jobID))
	return nil
}

// Depth returns the pending list length.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.broker.LLen(ctx, domain.QueueKey)
	if err != nil {
		return 0, fmt.Errorf("op=redisq.Depth: %w", err)
	}
	return n, nil
}

// ActiveCount returns the in-flight set cardinality.
func (q *Queue) ActiveCount(ctx context.Context) (int64, error) {
	n, err := q.broker.SCard(ctx, domain.ProcessingKey)
	if err != nil {
		return 0, fmt.Errorf("op=redisq.ActiveCount: %w", err)
	}
	return n, nil
}
