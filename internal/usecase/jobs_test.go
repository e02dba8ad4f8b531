package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/videogen/internal/config"
	"github.com/fairyhunter13/videogen/internal/domain"
)

func newJobService(rows ...domain.Job) (JobService, *memJobs, *memCache, *memQueue) {
	jobs := newMemJobs(rows...)
	cache := &memCache{}
	queue := &memQueue{}
	store := &memStore{}
	cfg := config.Config{AppEnv: "test", VideoBucket: "video-outputs"}
	return NewJobService(cfg, jobs, cache, queue, store), jobs, cache, queue
}

func processingJob(id, userID string) domain.Job {
	now := time.Now().UTC().Add(-time.Minute)
	return domain.Job{
		ID: id, UserID: userID, Status: domain.JobProcessing,
		Progress: 40, CurrentStage: string(domain.StagePromptGenerator),
		EstimatedCost: 2, TotalCost: 0.75,
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestStatus_CachesSnapshot(t *testing.T) {
	svc, _, cache, _ := newJobService(processingJob("j1", "u1"))

	v, err := svc.Status(context.Background(), "u1", "j1")
	require.NoError(t, err)
	assert.Equal(t, "j1", v.JobID)
	assert.Equal(t, "processing", v.Status)
	assert.Equal(t, 40, v.Progress)
	require.NotNil(t, v.CurrentStage)
	assert.Equal(t, string(domain.StagePromptGenerator), *v.CurrentStage)
	assert.Nil(t, v.VideoURL)
	assert.Nil(t, v.CompletedAt)

	raw, err := cache.Get(context.Background(), domain.JobStatusKey("j1"))
	require.NoError(t, err)
	var cached JobView
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, v, cached)
}

func TestStatus_ServesFromCache(t *testing.T) {
	svc, jobs, _, _ := newJobService(processingJob("j1", "u1"))

	_, err := svc.Status(context.Background(), "u1", "j1")
	require.NoError(t, err)

	// Mutate the row behind the cache; the stale snapshot wins until TTL.
	require.NoError(t, jobs.UpdateProgress(context.Background(), "j1", 85, domain.StageVideoGenerator))

	v, err := svc.Status(context.Background(), "u1", "j1")
	require.NoError(t, err)
	assert.Equal(t, 40, v.Progress)
}

func TestStatus_OwnershipAndMissing(t *testing.T) {
	svc, _, _, _ := newJobService(processingJob("j1", "u1"))

	_, err := svc.Status(context.Background(), "intruder", "j1")
	require.ErrorIs(t, err, domain.ErrOwnership)

	_, err = svc.Status(context.Background(), "u1", "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestList_Validation(t *testing.T) {
	svc, _, _, _ := newJobService()

	_, err := svc.List(context.Background(), "u1", nil, 0, 0)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.List(context.Background(), "u1", nil, ListMaxLimit+1, 0)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.List(context.Background(), "u1", nil, 10, -1)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestList_FiltersAndCounts(t *testing.T) {
	done := processingJob("j2", "u1")
	done.Status = domain.JobCompleted
	other := processingJob("j3", "someone-else")
	svc, _, _, _ := newJobService(processingJob("j1", "u1"), done, other)

	page, err := svc.List(context.Background(), "u1", nil, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Total)
	assert.Len(t, page.Jobs, 2)

	status := domain.JobCompleted
	page, err = svc.List(context.Background(), "u1", &status, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, page.Total)
	require.Len(t, page.Jobs, 1)
	assert.Equal(t, "j2", page.Jobs[0].JobID)
}

func TestCancel_QueuedRemovesPayload(t *testing.T) {
	queued := processingJob("j1", "u1")
	queued.Status = domain.JobQueued
	svc, jobs, cache, queue := newJobService(queued)

	require.NoError(t, svc.Cancel(context.Background(), "u1", "j1"))

	assert.Equal(t, []string{"j1"}, queue.removed)
	marked, err := cache.Exists(context.Background(), domain.CancelKey("j1"))
	require.NoError(t, err)
	assert.True(t, marked, "marker covers the dequeue race")

	job := jobs.get("j1")
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, CancelledMessage, job.ErrorMessage)
}

func TestCancel_ProcessingSetsMarker(t *testing.T) {
	svc, jobs, cache, queue := newJobService(processingJob("j1", "u1"))

	require.NoError(t, svc.Cancel(context.Background(), "u1", "j1"))

	assert.Empty(t, queue.removed, "in-flight jobs have no payload key to remove")
	marked, err := cache.Exists(context.Background(), domain.CancelKey("j1"))
	require.NoError(t, err)
	assert.True(t, marked)
	assert.Equal(t, domain.JobFailed, jobs.get("j1").Status)
}

func TestCancel_TerminalConflicts(t *testing.T) {
	done := processingJob("j1", "u1")
	done.Status = domain.JobCompleted
	svc, _, _, _ := newJobService(done)

	err := svc.Cancel(context.Background(), "u1", "j1")
	require.ErrorIs(t, err, domain.ErrConflict)
}

// raceyJobs reads as processing but reports the row terminal at write time,
// the shape of a completion landing between Cancel's read and its write.
type raceyJobs struct {
	*memJobs
	markFailedErr error
}

func (r *raceyJobs) MarkFailed(_ domain.Context, _ string, _ string) error {
	return r.markFailedErr
}

func TestCancel_CompletionRaceSurfacesConflict(t *testing.T) {
	jobs := &raceyJobs{
		memJobs:       newMemJobs(processingJob("j1", "u1")),
		markFailedErr: fmt.Errorf("op=jobs.mark_failed: job j1 is already terminal: %w", domain.ErrConflict),
	}
	cfg := config.Config{AppEnv: "test"}
	svc := NewJobService(cfg, jobs, &memCache{}, &memQueue{}, &memStore{})

	err := svc.Cancel(context.Background(), "u1", "j1")
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, domain.JobProcessing, jobs.get("j1").Status, "the racing writer owns the terminal state")
}

func TestCancel_InvalidatesStatusCache(t *testing.T) {
	svc, _, cache, _ := newJobService(processingJob("j1", "u1"))

	_, err := svc.Status(context.Background(), "u1", "j1")
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(context.Background(), "u1", "j1"))

	ok, err := cache.Exists(context.Background(), domain.JobStatusKey("j1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDownload_SignedURL(t *testing.T) {
	done := processingJob("j1", "u1")
	done.Status = domain.JobCompleted
	done.VideoURL = "http://store/video-outputs/j1/final_video.mp4"
	svc, _, _, _ := newJobService(done)

	link, err := svc.Download(context.Background(), "u1", "j1")
	require.NoError(t, err)
	assert.Equal(t, "https://signed.example/video-outputs/j1/final_video.mp4", link.DownloadURL)
	assert.Equal(t, 3600, link.ExpiresIn)
	assert.Equal(t, "music_video_j1.mp4", link.Filename)
}

func TestDownload_NotCompleted(t *testing.T) {
	svc, _, _, _ := newJobService(processingJob("j1", "u1"))

	_, err := svc.Download(context.Background(), "u1", "j1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDownload_ArtifactGone(t *testing.T) {
	done := processingJob("j1", "u1")
	done.Status = domain.JobCompleted
	done.VideoURL = ""
	svc, _, _, _ := newJobService(done)

	_, err := svc.Download(context.Background(), "u1", "j1")
	require.ErrorIs(t, err, domain.ErrGone)
}
