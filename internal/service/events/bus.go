// Package events publishes job lifecycle envelopes to per-job broker
// channels and hands out subscriptions on them.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/fairyhunter13/videogen/internal/domain"
)

type broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Bus fans job events out through the broker. Publish failures are logged
// and swallowed; event delivery is best-effort and never fails a job.
type Bus struct {
	broker broker
}

func NewBus(b broker) *Bus { return &Bus{broker: b} }

// Publish emits a {event_type, data} envelope on the job's channel.
func (b *Bus) Publish(ctx context.Context, jobID string, eventType domain.EventType, data any) {
	payload := map[string]any{
		"event_type": string(eventType),
		"data":       data,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("event marshal failed",
			slog.String("job_id", jobID),
			slog.String("event_type", string(eventType)),
			slog.Any("error", err))
		return
	}
	if err := b.broker.Publish(ctx, domain.EventsChannel(jobID), raw); err != nil {
		slog.Warn("event publish failed",
			slog.String("job_id", jobID),
			slog.String("event_type", string(eventType)),
			slog.Any("error", err))
	}
}

// Subscribe returns the raw envelope stream for one job.
func (b *Bus) Subscribe(ctx context.Context, jobID string) (<-chan []byte, func(), error) {
	return b.broker.Subscribe(ctx, domain.EventsChannel(jobID))
}
