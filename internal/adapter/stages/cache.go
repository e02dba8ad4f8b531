package stages

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fairyhunter13/videogen/internal/domain"
)

// analysisTTL bounds both halves of the analysis cache.
const analysisTTL = 24 * time.Hour

// Cached wraps an executor and serves audio analysis by content hash: broker
// first, durable table second, compute last. Fresh results are written back
// to both halves best-effort; a cache outage never fails the stage.
type Cached struct {
	next  domain.PipelineExecutor
	cache domain.Cache
	repo  domain.AnalysisRepository
	ttl   time.Duration
	now   func() time.Time
}

func NewCached(next domain.PipelineExecutor, cache domain.Cache, repo domain.AnalysisRepository) *Cached {
	return &Cached{next: next, cache: cache, repo: repo, ttl: analysisTTL, now: time.Now}
}

func (c *Cached) AnalyzeAudio(ctx context.Context, jobID, audioURL, fileHash string) (domain.AudioAnalysis, error) {
	if fileHash == "" {
		return c.next.AnalyzeAudio(ctx, jobID, audioURL, fileHash)
	}

	if analysis, ok := c.lookup(ctx, fileHash); ok {
		slog.Info("analysis cache hit",
			slog.String("job_id", jobID),
			slog.String("file_hash", fileHash))
		return analysis, nil
	}

	analysis, err := c.next.AnalyzeAudio(ctx, jobID, audioURL, fileHash)
	if err != nil {
		return domain.AudioAnalysis{}, err
	}
	c.store(ctx, fileHash, analysis)
	return analysis, nil
}

func (c *Cached) lookup(ctx context.Context, fileHash string) (domain.AudioAnalysis, bool) {
	key := domain.AudioCacheKey(fileHash)
	raw, err := c.cache.Get(ctx, key)
	if err == nil {
		var analysis domain.AudioAnalysis
		if jsonErr := json.Unmarshal([]byte(raw), &analysis); jsonErr == nil {
			return analysis, true
		}
		slog.Warn("malformed cached analysis, recomputing", slog.String("file_hash", fileHash))
	} else if !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("analysis cache read failed", slog.String("file_hash", fileHash), slog.Any("error", err))
	}

	entry, err := c.repo.Get(ctx, fileHash)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("durable analysis lookup failed", slog.String("file_hash", fileHash), slog.Any("error", err))
		}
		return domain.AudioAnalysis{}, false
	}
	remaining := entry.ExpiresAt.Sub(c.now())
	if remaining <= 0 {
		return domain.AudioAnalysis{}, false
	}

	// Refill the broker half for the entry's remaining lifetime.
	if blob, jsonErr := json.Marshal(entry.Analysis); jsonErr == nil {
		if setErr := c.cache.Set(ctx, key, string(blob), remaining); setErr != nil {
			slog.Warn("analysis cache refill failed", slog.String("file_hash", fileHash), slog.Any("error", setErr))
		}
	}
	return entry.Analysis, true
}

func (c *Cached) store(ctx context.Context, fileHash string, analysis domain.AudioAnalysis) {
	blob, err := json.Marshal(analysis)
	if err != nil {
		slog.Warn("analysis not cacheable", slog.String("file_hash", fileHash), slog.Any("error", err))
		return
	}
	if err := c.cache.Set(ctx, domain.AudioCacheKey(fileHash), string(blob), c.ttl); err != nil {
		slog.Warn("analysis cache write failed", slog.String("file_hash", fileHash), slog.Any("error", err))
	}

	now := c.now().UTC()
	entry := domain.AnalysisCacheEntry{
		FileHash:  fileHash,
		Analysis:  analysis,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	if err := c.repo.Upsert(ctx, entry); err != nil {
		slog.Warn("durable analysis write failed", slog.String("file_hash", fileHash), slog.Any("error", err))
	}
}

func (c *Cached) PlanScenes(ctx context.Context, jobID string, analysis domain.AudioAnalysis, userPrompt string) (domain.ScenePlan, error) {
	return c.next.PlanScenes(ctx, jobID, analysis, userPrompt)
}

func (c *Cached) GenerateReferences(ctx context.Context, jobID string, plan domain.ScenePlan) (domain.References, error) {
	return c.next.GenerateReferences(ctx, jobID, plan)
}

func (c *Cached) GeneratePrompts(ctx context.Context, jobID string, plan domain.ScenePlan, refs *domain.References) (domain.ClipPrompts, error) {
	return c.next.GeneratePrompts(ctx, jobID, plan, refs)
}

func (c *Cached) GenerateClips(ctx context.Context, jobID string, prompts domain.ClipPrompts) (domain.Clips, error) {
	return c.next.GenerateClips(ctx, jobID, prompts)
}

func (c *Cached) Compose(ctx context.Context, jobID string, clips domain.Clips, audioURL string, transitions []domain.Transition, beats []float64) (domain.VideoOutput, error) {
	return c.next.Compose(ctx, jobID, clips, audioURL, transitions, beats)
}
