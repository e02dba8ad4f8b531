package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/videogen/internal/domain"
)

// staleJobStore is the repository slice the sweeper needs.
type staleJobStore interface {
	ListStaleProcessing(ctx domain.Context, cutoff time.Time, limit int) ([]domain.Job, error)
	MarkFailed(ctx domain.Context, id string, errMsg string) error
}

// queueFinisher clears processing-set membership and the payload key for a
// job the sweeper is closing out.
type queueFinisher interface {
	Finish(ctx domain.Context, jobID string) error
}

// errorPublisher notifies any live stream subscribers of the terminal error.
type errorPublisher interface {
	Publish(ctx domain.Context, jobID string, eventType domain.EventType, data any)
}

// StaleJobSweeper fails processing jobs whose worker died without writing a
// terminal state, so they do not sit at "processing" forever.
type StaleJobSweeper struct {
	jobs             staleJobStore
	cache            domain.Cache
	queue            queueFinisher
	bus              errorPublisher
	maxProcessingAge time.Duration
	interval         time.Duration
}

func NewStaleJobSweeper(jobs staleJobStore, cache domain.Cache, queue queueFinisher, bus errorPublisher, maxProcessingAge, interval time.Duration) *StaleJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StaleJobSweeper{
		jobs:             jobs,
		cache:            cache,
		queue:            queue,
		bus:              bus,
		maxProcessingAge: maxProcessingAge,
		interval:         interval,
	}
}

// Run sweeps once immediately and then on every tick until ctx ends.
func (s *StaleJobSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stale job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

const sweepPageSize = 100

func (s *StaleJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StaleJobSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().UTC().Add(-s.maxProcessingAge)
	span.SetAttributes(attribute.Float64("jobs.max_processing_age_seconds", s.maxProcessingAge.Seconds()))

	failed := 0
	for {
		jobs, err := s.jobs.ListStaleProcessing(ctx, cutoff, sweepPageSize)
		if err != nil {
			span.RecordError(err)
			slog.Error("stale job sweep list failed", slog.Any("error", err))
			return
		}
		if len(jobs) == 0 {
			break
		}

		for _, j := range jobs {
			msg := fmt.Sprintf("Job exceeded maximum processing time of %s", s.maxProcessingAge)
			if err := s.jobs.MarkFailed(ctx, j.ID, msg); err != nil {
				slog.Error("stale job sweep mark failed", slog.String("job_id", j.ID), slog.Any("error", err))
				continue
			}
			if s.cache != nil {
				if err := s.cache.Delete(ctx, domain.JobStatusKey(j.ID)); err != nil {
					slog.Warn("stale job status cache invalidation failed", slog.String("job_id", j.ID), slog.Any("error", err))
				}
			}
			if s.queue != nil {
				if err := s.queue.Finish(ctx, j.ID); err != nil {
					slog.Warn("stale job queue cleanup failed", slog.String("job_id", j.ID), slog.Any("error", err))
				}
			}
			if s.bus != nil {
				s.bus.Publish(ctx, j.ID, domain.EventError, domain.ErrorData(msg, "PROCESSING_TIMEOUT", false))
			}
			failed++
			slog.Warn("stale processing job failed by sweeper",
				slog.String("job_id", j.ID),
				slog.Time("updated_at", j.UpdatedAt))
		}

		// Every marked row leaves the processing state, so a short page
		// means the backlog is drained.
		if len(jobs) < sweepPageSize {
			break
		}
	}

	span.SetAttributes(attribute.Int("jobs.total_marked_failed", failed))
	if failed > 0 {
		slog.Info("stale job sweep complete", slog.Int("failed", failed))
	}
}
