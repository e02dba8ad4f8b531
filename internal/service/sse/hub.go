// Package sse owns per-job subscriber registries for the event-stream
// endpoint: connection caps, fan-out buffers, heartbeat bookkeeping and
// stale-connection sweeping.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/videogen/internal/domain"
)

// ErrMaxConnections rejects a subscription once a job already has
// MaxConnectionsPerJob live subscribers.
var ErrMaxConnections = errors.New("maximum connections per job exceeded")

const (
	MaxConnectionsPerJob = 10
	// HeartbeatInterval is how long a subscription may sit idle before the
	// serve loop emits a heartbeat frame.
	HeartbeatInterval = 30 * time.Second
	// staleThreshold evicts subscriptions whose serve loop stopped
	// heartbeating, sweepInterval is the sweeper cadence.
	staleThreshold = 60 * time.Second
	sweepInterval  = 30 * time.Second

	subscriptionBuffer = 16
)

// Subscription is one live stream consumer. The serve loop reads Buf for
// locally broadcast frames and Done for eviction.
type Subscription struct {
	jobID    string
	buf      chan []byte
	done     chan struct{}
	lastBeat time.Time
}

func (s *Subscription) JobID() string         { return s.jobID }
func (s *Subscription) Buf() <-chan []byte    { return s.buf }
func (s *Subscription) Done() <-chan struct{} { return s.done }

// JobSnapshotter reads the job row backing the initial progress frame.
type JobSnapshotter interface {
	Get(ctx context.Context, id string) (domain.Job, error)
}

// Hub guards the job→subscriptions map with one mutex. Holders never perform
// I/O under it; Broadcast snapshots the list, releases the lock, then
// delivers.
type Hub struct {
	jobs JobSnapshotter

	mu   sync.Mutex
	subs map[string][]*Subscription
	// now is overridable in tests
	now func() time.Time
}

func NewHub(jobs JobSnapshotter) *Hub {
	return &Hub{
		jobs: jobs,
		subs: make(map[string][]*Subscription),
		now:  time.Now,
	}
}

// Add registers a subscription for jobID, rejecting past the per-job cap.
func (h *Hub) Add(jobID string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.subs[jobID]) >= MaxConnectionsPerJob {
		return nil, fmt.Errorf("op=sse.Add: %w", ErrMaxConnections)
	}

	sub := &Subscription{
		jobID:    jobID,
		buf:      make(chan []byte, subscriptionBuffer),
		done:     make(chan struct{}),
		lastBeat: h.now(),
	}
	h.subs[jobID] = append(h.subs[jobID], sub)
	slog.Debug("sse connection added", slog.String("job_id", jobID), slog.Int("total", len(h.subs[jobID])))
	return sub, nil
}

// Remove deregisters a subscription. Idempotent.
func (h *Hub) Remove(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscription) {
	list := h.subs[sub.jobID]
	for i, s := range list {
		if s == sub {
			h.subs[sub.jobID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(h.subs[sub.jobID]) == 0 {
		delete(h.subs, sub.jobID)
	}
}

// Count returns the number of live subscriptions for a job.
func (h *Hub) Count(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

// Touch refreshes the subscription's heartbeat timestamp.
func (h *Hub) Touch(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub.lastBeat = h.now()
}

// Broadcast formats one SSE frame and delivers it to every subscriber of the
// job. A full buffer drops the frame for that subscriber only.
func (h *Hub) Broadcast(jobID string, eventType domain.EventType, data any) {
	frame, err := Format(eventType, data)
	if err != nil {
		slog.Error("sse frame marshal failed",
			slog.String("job_id", jobID),
			slog.String("event_type", string(eventType)),
			slog.Any("error", err))
		return
	}

	h.mu.Lock()
	snapshot := make([]*Subscription, len(h.subs[jobID]))
	copy(snapshot, h.subs[jobID])
	h.mu.Unlock()

	for _, sub := range snapshot {
		select {
		case sub.buf <- frame:
		default:
			slog.Warn("sse subscriber buffer full, frame dropped", slog.String("job_id", jobID))
		}
	}
}

// InitialState reads the current job row and returns the payload of the
// progress frame sent on connect. Read failures degrade to queued defaults.
func (h *Hub) InitialState(ctx context.Context, jobID string) map[string]any {
	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		slog.Warn("initial sse state unavailable", slog.String("job_id", jobID), slog.Any("error", err))
		return domain.ProgressData(0, "", domain.JobQueued, 0)
	}
	return domain.ProgressData(job.Progress, job.CurrentStage, job.Status, job.TotalCost)
}

// RunSweeper evicts stale subscriptions every sweepInterval until ctx ends.
func (h *Hub) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	slog.Info("sse sweeper started", slog.Duration("interval", sweepInterval))
	for {
		select {
		case <-ctx.Done():
			slog.Info("sse sweeper stopped")
			return
		case <-ticker.C:
			if removed := h.sweepOnce(); removed > 0 {
				slog.Info("removed stale sse connections", slog.Int("count", removed))
			}
		}
	}
}

// sweepOnce closes and removes every subscription whose last heartbeat is
// older than staleThreshold. Closing done signals the serve loop to finalize
// its response.
func (h *Hub) sweepOnce() int {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for jobID, list := range h.subs {
		kept := list[:0]
		for _, sub := range list {
			if now.Sub(sub.lastBeat) > staleThreshold {
				close(sub.done)
				removed++
				slog.Info("removed stale sse connection",
					slog.String("job_id", jobID),
					slog.Duration("inactive", now.Sub(sub.lastBeat)))
				continue
			}
			kept = append(kept, sub)
		}
		if len(kept) == 0 {
			delete(h.subs, jobID)
		} else {
			h.subs[jobID] = kept
		}
	}
	return removed
}

// Format renders one SSE frame: "event: <type>\ndata: <json>\n\n".
func Format(eventType domain.EventType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("op=sse.Format: %w", err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, raw)), nil
}

// FormatEnvelope unwraps a broker envelope into an SSE frame carrying the
// inner data only.
func FormatEnvelope(raw []byte) ([]byte, error) {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("op=sse.FormatEnvelope: %w", err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("op=sse.FormatEnvelope: missing event_type")
	}
	return Format(env.EventType, env.Data)
}

// Heartbeat renders the periodic keepalive frame.
func Heartbeat(now time.Time) []byte {
	frame, _ := Format(domain.EventHeartbeat, map[string]any{"timestamp": now.UTC().Format(time.RFC3339)})
	return frame
}
