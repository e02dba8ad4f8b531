package httpserver

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/videogen/internal/config"
	"github.com/fairyhunter13/videogen/internal/domain"
	"github.com/fairyhunter13/videogen/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg    config.Config
	Submit usecase.SubmitService
	Jobs   usecase.JobService
	Health usecase.HealthService
	Stream *StreamHandler
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, submit usecase.SubmitService, jobs usecase.JobService, health usecase.HealthService, stream *StreamHandler) *Server {
	return &Server{Cfg: cfg, Submit: submit, Jobs: jobs, Health: health, Stream: stream}
}

// UploadAudioHandler admits one audio upload plus creative prompt.
func (s *Server) UploadAudioHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("content-type must be multipart/form-data: %w", domain.ErrValidation))
			return
		}

		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		// Slack covers multipart framing and the prompt field; the service
		// enforces the exact file cap.
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1024*1024)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{
					Error:     fmt.Sprintf("file exceeds %d MiB", s.Cfg.MaxUploadMB),
					Code:      "VALIDATION_ERROR",
					RequestID: r.Header.Get("X-Request-Id"),
				})
				return
			}
			writeError(w, r, fmt.Errorf("malformed multipart body: %w", domain.ErrValidation))
			return
		}

		file, header, err := r.FormFile("audio_file")
		if err != nil {
			writeError(w, r, fmt.Errorf("audio_file is required: %w", domain.ErrValidation))
			return
		}
		defer func() { _ = file.Close() }()

		audio, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("audio_file read: %w", domain.ErrValidation))
			return
		}

		adm, err := s.Submit.Admit(r.Context(), UserIDFrom(r), header.Filename, audio, r.FormValue("user_prompt"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"job_id":         adm.JobID,
			"status":         string(adm.Status),
			"estimated_cost": adm.EstimatedCost,
			"created_at":     adm.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
}

// JobStatusHandler returns one job, cached for up to 30 seconds.
func (s *Server) JobStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.Jobs.Status(r.Context(), UserIDFrom(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// ListJobsHandler returns a page of the caller's jobs.
func (s *Server) ListJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := parseListQuery(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		page, err := s.Jobs.List(r.Context(), UserIDFrom(r), q.status, q.Limit, q.Offset)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// CancelHandler stops a queued or processing job.
func (s *Server) CancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		if err := s.Jobs.Cancel(r.Context(), UserIDFrom(r), jobID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":  jobID,
			"status":  string(domain.JobFailed),
			"message": usecase.CancelledMessage,
		})
	}
}

// DownloadHandler mints a signed URL for the finished artifact.
func (s *Server) DownloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link, err := s.Jobs.Download(r.Context(), UserIDFrom(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, link)
	}
}

// HealthHandler reports dependency health and queue pressure.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := s.Health.Check(r.Context())
		status := http.StatusOK
		if !report.Healthy() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}
