package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/videogen/internal/adapter/observability"
	"github.com/fairyhunter13/videogen/internal/domain"
	"github.com/fairyhunter13/videogen/internal/service/sse"
	"github.com/fairyhunter13/videogen/internal/usecase"
)

// StreamHandler serves the per-job event stream. Frames arrive on two paths:
// the in-process hub (same-process worker) and the broker subscription
// (cross-process); duplicates are tolerated by subscribers.
type StreamHandler struct {
	Hub    *sse.Hub
	Events domain.EventStream
	Jobs   usecase.JobService
}

// ServeHTTP upgrades the request to text/event-stream and pumps frames until
// the client disconnects or the hub evicts the subscription.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	userID := UserIDFrom(r)

	// Ownership before any stream state is allocated.
	if _, err := h.Jobs.Status(r.Context(), userID, jobID); err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, domain.ErrPipeline)
		return
	}

	sub, err := h.Hub.Add(jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer h.Hub.Remove(sub)

	events, stop, err := h.Events.Subscribe(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer stop()

	observability.SSEConnected()
	defer observability.SSEDisconnected()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	lg := LoggerFrom(r).With(slog.String("job_id", jobID))
	lg.Info("sse stream opened")

	// Fresh subscribers get the current progress immediately so late joiners
	// render state without waiting for the next transition.
	if frame, err := sse.Format(domain.EventProgress, h.Hub.InitialState(r.Context(), jobID)); err == nil {
		h.write(w, flusher, frame)
	}

	heartbeat := time.NewTicker(sse.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			lg.Info("sse stream closed by client")
			return
		case <-sub.Done():
			lg.Info("sse stream evicted as stale")
			return
		case frame, ok := <-sub.Buf():
			if !ok {
				return
			}
			h.write(w, flusher, frame)
			h.Hub.Touch(sub)
		case raw, ok := <-events:
			if !ok {
				lg.Info("sse stream closed, broker subscription ended")
				return
			}
			frame, err := sse.FormatEnvelope(raw)
			if err != nil {
				lg.Warn("dropping malformed event envelope", slog.Any("error", err))
				continue
			}
			h.write(w, flusher, frame)
			h.Hub.Touch(sub)
		case now := <-heartbeat.C:
			h.write(w, flusher, sse.Heartbeat(now))
			h.Hub.Touch(sub)
		}
	}
}

func (h *StreamHandler) write(w http.ResponseWriter, flusher http.Flusher, frame []byte) {
	if _, err := w.Write(frame); err != nil {
		return
	}
	flusher.Flush()
}
