package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fairyhunter13/videogen/internal/adapter/observability"
	"github.com/fairyhunter13/videogen/internal/domain"
)

// JobHandler drives one job through the pipeline. The orchestrator
// implements it.
type JobHandler interface {
	Run(ctx context.Context, p domain.QueuePayload) error
}

// cancelChecker reads the cancellation marker.
type cancelChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// failMarker writes terminal failure state for jobs that never reach the
// orchestrator (cancelled before pickup, retries exhausted).
type failMarker interface {
	MarkFailed(ctx context.Context, id string, errMsg string) error
}

// errorPublisher emits the terminal error event for worker-side failures.
type errorPublisher interface {
	Publish(ctx context.Context, jobID string, eventType domain.EventType, data any)
}

const cancelledMessage = "Job cancelled by user"

// Consumer is the worker pool: one blocking dequeue loop feeding a
// semaphore-bounded set of executions.
type Consumer struct {
	queue       *Queue
	handler     JobHandler
	cache       cancelChecker
	jobs        failMarker
	bus         errorPublisher
	popTimeout  time.Duration
	sem         *semaphore.Weighted
	concurrency int64
	retry       domain.RetryPolicy
}

// NewConsumer builds a worker pool with the given concurrency cap.
func NewConsumer(q *Queue, handler JobHandler, cache cancelChecker, jobs failMarker, bus errorPublisher, popTimeout time.Duration, concurrency int64, retry domain.RetryPolicy) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{
		queue:       q,
		handler:     handler,
		cache:       cache,
		jobs:        jobs,
		bus:         bus,
		popTimeout:  popTimeout,
		sem:         semaphore.NewWeighted(concurrency),
		concurrency: concurrency,
		retry:       retry,
	}
}

// Run loops until ctx is cancelled. The pop timeout keeps the loop responsive
// to shutdown; executions in flight are drained before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("worker loop started", slog.Duration("pop_timeout", c.popTimeout))

	for {
		if err := ctx.Err(); err != nil {
			break
		}

		p, err := c.queue.BlockingPop(ctx, c.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("queue pop failed, backing off", slog.Any("error", err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if p == nil {
			continue
		}

		if err := c.sem.Acquire(ctx, 1); err != nil {
			// Shutting down with a payload in hand: put it back.
			c.requeue(context.Background(), *p)
			break
		}
		go func(p domain.QueuePayload) {
			defer c.sem.Release(1)
			c.handle(ctx, p)
		}(*p)
	}

	// Drain: acquiring the full weight waits for every in-flight execution.
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.sem.Acquire(drainCtx, c.concurrency); err != nil {
		slog.Warn("worker drain timed out", slog.Any("error", err))
	}
	slog.Info("worker loop stopped")
	return nil
}

// handle runs one payload. Queue bookkeeping is always cleared before the
// outcome branches; a requeue re-creates both the list entry and the payload
// key through Enqueue.
func (c *Consumer) handle(ctx context.Context, p domain.QueuePayload) {
	lg := slog.Default().With(slog.String("job_id", p.JobID))
	observability.StartProcessingJob("video_generation")

	cancelled, err := c.cache.Exists(ctx, domain.CancelKey(p.JobID))
	if err != nil {
		lg.Warn("cancellation pre-check failed, proceeding", slog.Any("error", err))
	}
	if cancelled {
		lg.Info("job cancelled before pickup, fast-failing")
		if err := c.jobs.MarkFailed(ctx, p.JobID, cancelledMessage); err != nil && !errors.Is(err, domain.ErrConflict) {
			lg.Warn("failed to mark cancelled job", slog.Any("error", err))
		}
		observability.FailJob("video_generation")
		_ = c.queue.Finish(ctx, p.JobID)
		return
	}

	runErr := c.handler.Run(ctx, p)
	if runErr == nil {
		observability.CompleteJob("video_generation")
		_ = c.queue.Finish(ctx, p.JobID)
		return
	}

	if errors.Is(runErr, domain.ErrRetryable) {
		_ = c.queue.Finish(ctx, p.JobID)
		if c.retry.Exhausted(p.Attempt + 1) {
			lg.Error("retries exhausted", slog.Int("attempts", p.Attempt+1), slog.Any("error", runErr))
			msg := fmt.Sprintf("Job failed after %d attempts: transient errors persisted", p.Attempt+1)
			if err := c.jobs.MarkFailed(ctx, p.JobID, msg); err != nil {
				lg.Warn("failed to mark exhausted job", slog.Any("error", err))
			}
			c.bus.Publish(ctx, p.JobID, domain.EventError, domain.ErrorData(msg, "RETRYABLE_ERROR", false))
			observability.FailJob("video_generation")
			return
		}
		// Back out of the processing gauge without counting an outcome.
		observability.JobsProcessing.WithLabelValues("video_generation").Dec()
		delay := c.retry.Delay(p.Attempt)
		lg.Warn("transient failure, requeueing",
			slog.Int("attempt", p.Attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", runErr))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		p.Attempt++
		c.requeue(ctx, p)
		return
	}

	// Non-retryable: the orchestrator already wrote the terminal state.
	lg.Info("job failed terminally", slog.Any("error", runErr))
	observability.FailJob("video_generation")
	_ = c.queue.Finish(ctx, p.JobID)
}

func (c *Consumer) requeue(ctx context.Context, p domain.QueuePayload) {
	if err := c.queue.Enqueue(ctx, p); err != nil {
		slog.Error("requeue failed, marking job failed",
			slog.String("job_id", p.JobID), slog.Any("error", err))
		if markErr := c.jobs.MarkFailed(ctx, p.JobID, "Job lost after transient failure: requeue failed"); markErr != nil {
			slog.Error("failed to mark lost job", slog.String("job_id", p.JobID), slog.Any("error", markErr))
		}
	}
}
