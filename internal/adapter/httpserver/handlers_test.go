package httpserver

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/videogen/internal/config"
	"github.com/fairyhunter13/videogen/internal/domain"
	"github.com/fairyhunter13/videogen/internal/service/sse"
	"github.com/fairyhunter13/videogen/internal/usecase"
)

type stubRepo struct {
	mu   sync.Mutex
	rows map[string]domain.Job
}

func newStubRepo(rows ...domain.Job) *stubRepo {
	r := &stubRepo{rows: make(map[string]domain.Job)}
	for _, j := range rows {
		r.rows[j.ID] = j
	}
	return r
}

func (s *stubRepo) Create(_ domain.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[j.ID] = j
	return nil
}

func (s *stubRepo) Get(_ domain.Context, id string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.rows[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("op=stubRepo.Get: %w", domain.ErrNotFound)
	}
	return j, nil
}

func (s *stubRepo) ListByUser(_ domain.Context, userID string, status *domain.JobStatus, limit, offset int) ([]domain.Job, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Job
	for _, j := range s.rows {
		if j.UserID != userID {
			continue
		}
		if status != nil && j.Status != *status {
			continue
		}
		out = append(out, j)
	}
	return out, int64(len(out)), nil
}

func (s *stubRepo) MarkProcessing(_ domain.Context, id string) error { return nil }

func (s *stubRepo) UpdateProgress(_ domain.Context, id string, progress int, stage domain.StageName) error {
	return nil
}

func (s *stubRepo) MarkFailed(_ domain.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.rows[id]
	j.Status = domain.JobFailed
	j.ErrorMessage = errMsg
	s.rows[id] = j
	return nil
}

func (s *stubRepo) MarkCompleted(_ domain.Context, id, videoURL string, totalCost float64) error {
	return nil
}

func (s *stubRepo) GetTotalCost(_ domain.Context, id string) (float64, error) { return 0, nil }
func (s *stubRepo) SetTotalCost(_ domain.Context, id string, _ float64) error { return nil }

type stubCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (c *stubCache) Get(_ domain.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return "", fmt.Errorf("op=stubCache.Get: %w", domain.ErrNotFound)
	}
	return v, nil
}

func (c *stubCache) Set(_ domain.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string]string)
	}
	c.data[key] = value
	return nil
}

func (c *stubCache) Delete(_ domain.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *stubCache) Exists(_ domain.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

type stubQueue struct {
	mu       sync.Mutex
	enqueued []domain.QueuePayload
	removed  []string
}

func (q *stubQueue) Enqueue(_ domain.Context, p domain.QueuePayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, p)
	return nil
}

func (q *stubQueue) BlockingPop(_ domain.Context, _ time.Duration) (*domain.QueuePayload, error) {
	return nil, nil
}

func (q *stubQueue) Finish(_ domain.Context, _ string) error { return nil }

func (q *stubQueue) Remove(_ domain.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = append(q.removed, jobID)
	return nil
}

func (q *stubQueue) Depth(_ domain.Context) (int64, error)       { return 0, nil }
func (q *stubQueue) ActiveCount(_ domain.Context) (int64, error) { return 0, nil }

type stubStore struct{}

func (stubStore) Upload(_ domain.Context, _, _ string, _ []byte, _ string) error { return nil }

func (stubStore) SignedURL(_ domain.Context, bucket, path string, _ time.Duration) (string, error) {
	return "https://signed.example/" + bucket + "/" + path, nil
}

type stubLimiter struct{ err error }

func (l stubLimiter) Check(_ domain.Context, _ string) error { return l.err }

// stubValidator maps tokens to user ids.
type stubValidator struct{ users map[string]string }

func (v stubValidator) Validate(_ context.Context, token string) (string, error) {
	if id, ok := v.users[token]; ok {
		return id, nil
	}
	return "", fmt.Errorf("op=stubValidator: %w", domain.ErrAuth)
}

type serverFixture struct {
	router http.Handler
	repo   *stubRepo
	cache  *stubCache
	queue  *stubQueue
}

func newServerFixture(t *testing.T, rows ...domain.Job) serverFixture {
	t.Helper()
	repo := newStubRepo(rows...)
	cache := &stubCache{}
	queue := &stubQueue{}
	cfg := config.Config{
		AppEnv:      "test",
		SupabaseURL: "http://localhost:54321",
		AudioBucket: "audio-uploads",
		VideoBucket: "video-outputs",
		MaxUploadMB: 10,
	}

	submit := usecase.NewSubmitService(cfg, repo, stubStore{}, queue, stubLimiter{})
	jobs := usecase.NewJobService(cfg, repo, cache, queue, stubStore{})
	health := usecase.HealthService{Queue: queue, Workers: 3}
	hub := sse.NewHub(repoSnapshotter{repo})
	stream := &StreamHandler{Hub: hub, Events: nullEvents{}, Jobs: jobs}
	srv := NewServer(cfg, submit, jobs, health, stream)

	auth := RequireAuth(stubValidator{users: map[string]string{"good-token": "u1"}})

	r := chi.NewRouter()
	r.Use(RequestID())
	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", srv.HealthHandler())
		api.Group(func(priv chi.Router) {
			priv.Use(auth)
			priv.Post("/upload-audio", srv.UploadAudioHandler())
			priv.Get("/jobs", srv.ListJobsHandler())
			priv.Get("/jobs/{id}", srv.JobStatusHandler())
			priv.Post("/jobs/{id}/cancel", srv.CancelHandler())
			priv.Get("/jobs/{id}/download", srv.DownloadHandler())
			priv.Get("/jobs/{id}/stream", stream.ServeHTTP)
		})
	})
	return serverFixture{router: r, repo: repo, cache: cache, queue: queue}
}

type repoSnapshotter struct{ repo *stubRepo }

func (s repoSnapshotter) Get(ctx context.Context, id string) (domain.Job, error) {
	return s.repo.Get(ctx, id)
}

type nullEvents struct{}

func (nullEvents) Subscribe(_ domain.Context, _ string) (<-chan []byte, func(), error) {
	ch := make(chan []byte)
	return ch, func() {}, nil
}

func wavUpload(t *testing.T, prompt string) (*bytes.Buffer, string) {
	t.Helper()
	const byteRate, dataLen = 176400, 352800
	var wav bytes.Buffer
	wav.WriteString("RIFF")
	binary.Write(&wav, binary.LittleEndian, uint32(36+dataLen))
	wav.WriteString("WAVE")
	wav.WriteString("fmt ")
	binary.Write(&wav, binary.LittleEndian, uint32(16))
	binary.Write(&wav, binary.LittleEndian, uint16(1))
	binary.Write(&wav, binary.LittleEndian, uint16(2))
	binary.Write(&wav, binary.LittleEndian, uint32(44100))
	binary.Write(&wav, binary.LittleEndian, uint32(byteRate))
	binary.Write(&wav, binary.LittleEndian, uint16(4))
	binary.Write(&wav, binary.LittleEndian, uint16(16))
	wav.WriteString("data")
	binary.Write(&wav, binary.LittleEndian, uint32(dataLen))
	wav.Write(make([]byte, dataLen))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio_file", "track.wav")
	require.NoError(t, err)
	_, err = fw.Write(wav.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("user_prompt", prompt))
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

const streamPrompt = "A neon-soaked city montage with rain on the windows and slow dolly shots following the beat."

func authedRequest(method, target string, body *bytes.Buffer) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer good-token")
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestUploadAudio_Created(t *testing.T) {
	f := newServerFixture(t)
	body, contentType := wavUpload(t, streamPrompt)
	req := authedRequest(http.MethodPost, "/api/v1/upload-audio", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["job_id"])
	assert.Equal(t, "queued", resp["status"])
	assert.InDelta(t, 2.0, resp["estimated_cost"].(float64), 0.001)
	assert.NotEmpty(t, resp["created_at"])

	f.queue.mu.Lock()
	defer f.queue.mu.Unlock()
	assert.Len(t, f.queue.enqueued, 1)
}

func TestUploadAudio_RejectsShortPrompt(t *testing.T) {
	f := newServerFixture(t)
	body, contentType := wavUpload(t, "too short")
	req := authedRequest(http.MethodPost, "/api/v1/upload-audio", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
	assert.False(t, env.Retryable)
	assert.NotEmpty(t, env.RequestID)
}

func TestUploadAudio_RequiresMultipart(t *testing.T) {
	f := newServerFixture(t)
	req := authedRequest(http.MethodPost, "/api/v1/upload-audio", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec).Code)
}

func TestAuth_MissingAndInvalidToken(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "AUTH_ERROR", decodeEnvelope(t, rec).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "AUTH_ERROR", decodeEnvelope(t, rec).Code)
}

func TestJobStatus_OwnershipAndMissing(t *testing.T) {
	f := newServerFixture(t,
		domain.Job{ID: "j1", UserID: "u1", Status: domain.JobProcessing, Progress: 40},
		domain.Job{ID: "j2", UserID: "someone-else", Status: domain.JobProcessing},
	)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/jobs/j1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view usecase.JobView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "j1", view.JobID)
	assert.Equal(t, 40, view.Progress)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/jobs/j2", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decodeEnvelope(t, rec).Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/jobs/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeEnvelope(t, rec).Code)
}

func TestListJobs_QueryValidation(t *testing.T) {
	f := newServerFixture(t)

	cases := []string{
		"/api/v1/jobs?limit=0",
		"/api/v1/jobs?limit=51",
		"/api/v1/jobs?offset=-1",
		"/api/v1/jobs?status=exploded",
		"/api/v1/jobs?limit=abc",
	}
	for _, target := range cases {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, authedRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec).Code, target)
	}
}

func TestListJobs_ReturnsPage(t *testing.T) {
	f := newServerFixture(t,
		domain.Job{ID: "j1", UserID: "u1", Status: domain.JobCompleted},
		domain.Job{ID: "j2", UserID: "u1", Status: domain.JobProcessing},
	)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/jobs?status=completed", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page usecase.JobPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, "j1", page.Jobs[0].JobID)
	assert.Equal(t, 10, page.Limit)
}

func TestCancel_Flow(t *testing.T) {
	f := newServerFixture(t, domain.Job{ID: "j1", UserID: "u1", Status: domain.JobProcessing})

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/jobs/j1/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp["status"])
	assert.Equal(t, usecase.CancelledMessage, resp["message"])

	// Second cancel hits a terminal job.
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/jobs/j1/cancel", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "NOT_CANCELLABLE", decodeEnvelope(t, rec).Code)
}

func TestDownload_StatusMapping(t *testing.T) {
	f := newServerFixture(t,
		domain.Job{ID: "done", UserID: "u1", Status: domain.JobCompleted, VideoURL: "http://store/x.mp4"},
		domain.Job{ID: "busy", UserID: "u1", Status: domain.JobProcessing},
		domain.Job{ID: "lost", UserID: "u1", Status: domain.JobCompleted},
	)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/jobs/done/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var link usecase.DownloadLink
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	assert.Equal(t, 3600, link.ExpiresIn)
	assert.Equal(t, "music_video_done.mp4", link.Filename)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/jobs/busy/download", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/jobs/lost/download", nil))
	require.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "GONE", decodeEnvelope(t, rec).Code)
}

func TestHealth_PublicEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report usecase.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "healthy", report.Status)
}

func TestRequestID_EchoedOnResponses(t *testing.T) {
	f := newServerFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-Id", "caller-chosen")
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, "caller-chosen", rec.Header().Get("X-Request-Id"))
}
