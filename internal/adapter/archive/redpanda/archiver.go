// Package redpanda mirrors terminal job transitions to a Kafka/Redpanda topic
// for downstream analytics. The archive is strictly best-effort: the pipeline
// never waits on it and never fails because of it.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/videogen/internal/domain"
)

// record is the wire shape of one archived terminal transition.
type record struct {
	JobID         string    `json:"job_id"`
	UserID        string    `json:"user_id"`
	Status        string    `json:"status"`
	EstimatedCost float64   `json:"estimated_cost"`
	TotalCost     float64   `json:"total_cost"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ArchivedAt    time.Time `json:"archived_at"`
}

// Archiver publishes terminal job records. A nil Archiver is valid and does
// nothing, which is how deployments without Kafka run.
type Archiver struct {
	client *kgo.Client
	topic  string
}

// New connects a producer to the given brokers. Partitioning by job id keeps
// one job's records in order.
func New(brokers []string, topic string) (*Archiver, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.New: no seed brokers: %w", domain.ErrConfig)
	}
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(
			kotel.TracerProvider(otel.GetTracerProvider()),
		)),
	)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
		kgo.RequestRetries(5),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.New: %w", err)
	}
	slog.Info("terminal-event archiver connected", slog.Any("brokers", brokers), slog.String("topic", topic))
	return &Archiver{client: client, topic: topic}, nil
}

// ArchiveTerminal publishes one terminal transition asynchronously. Delivery
// failures are logged, nothing more.
func (a *Archiver) ArchiveTerminal(ctx context.Context, job domain.Job) {
	if a == nil {
		return
	}
	if !job.Status.Terminal() {
		slog.Warn("skipping archive of non-terminal job",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)))
		return
	}

	rec := record{
		JobID:         job.ID,
		UserID:        job.UserID,
		Status:        string(job.Status),
		EstimatedCost: job.EstimatedCost,
		TotalCost:     job.TotalCost,
		ErrorMessage:  job.ErrorMessage,
		CreatedAt:     job.CreatedAt,
		ArchivedAt:    time.Now().UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		slog.Error("archive record marshal failed", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}

	a.client.Produce(ctx, &kgo.Record{Key: []byte(job.ID), Value: raw}, func(r *kgo.Record, err error) {
		if err != nil {
			slog.Warn("terminal-event archive delivery failed",
				slog.String("job_id", string(r.Key)),
				slog.Any("error", err))
		}
	})
}

// Close flushes buffered records and releases the client.
func (a *Archiver) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if err := a.client.Flush(ctx); err != nil {
		slog.Warn("archiver flush failed", slog.Any("error", err))
	}
	a.client.Close()
}
