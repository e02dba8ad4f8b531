// Package real calls the external media-processing services over HTTP. One
// endpoint per stage, JSON in and out, with exponential backoff on transient
// failures and a circuit breaker per stage.
package real

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/videogen/internal/adapter/observability"
	"github.com/fairyhunter13/videogen/internal/adapter/stages"
	"github.com/fairyhunter13/videogen/internal/config"
	"github.com/fairyhunter13/videogen/internal/domain"
)

const (
	breakerMaxFailures = 5
	breakerCooldown    = 30 * time.Second
)

// Client implements domain.PipelineExecutor against the stage services at
// STAGE_BASE_URL. Every successful call reports its charge to the cost sink.
type Client struct {
	cfg     config.Config
	baseURL string
	hc      *http.Client
	sink    stages.CostSink
}

// New constructs a stage client. The HTTP timeout covers a single attempt;
// backoff retries are bounded separately by the configured elapsed time.
func New(cfg config.Config, sink stages.CostSink) *Client {
	return &Client{
		cfg:     cfg,
		baseURL: cfg.StageBaseURL,
		hc:      &http.Client{Timeout: cfg.StageTimeout},
		sink:    sink,
	}
}

// stageResponse is the common envelope every stage service returns. Result is
// decoded per stage; Cost and APIName feed the ledger.
type stageResponse struct {
	Result  json.RawMessage `json:"result"`
	Cost    float64         `json:"cost"`
	APIName string          `json:"api_name"`
}

func (c *Client) backoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetStageBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

// call runs one stage request through the breaker and retry loop, decodes the
// result into out, and charges the sink.
func (c *Client) call(ctx context.Context, jobID string, stage domain.StageName, req any, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("op=real.call: marshal %s: %w", stage, err)
	}

	url := fmt.Sprintf("%s/v1/stages/%s", c.baseURL, stage)
	breaker := observability.GetCircuitBreaker("stage."+string(stage), breakerMaxFailures, breakerCooldown)

	var resp stageResponse
	start := time.Now()
	operation := func() error {
		cbErr := breaker.Call(func() error {
			var attemptErr error
			resp, attemptErr = c.attempt(ctx, url, body)
			return attemptErr
		})
		if cbErr == nil {
			return nil
		}
		if errors.Is(cbErr, observability.ErrCircuitOpen) {
			// Let the worker requeue rather than hammering an open breaker.
			return backoff.Permanent(fmt.Errorf("op=real.call: %s: %w: %v", stage, domain.ErrRetryable, cbErr))
		}
		if errors.Is(cbErr, domain.ErrPipeline) {
			return backoff.Permanent(cbErr)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(fmt.Errorf("op=real.call: %s: %w: %v", stage, domain.ErrRetryable, ctx.Err()))
		}
		return cbErr
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffConfig(), ctx)); err != nil {
		observability.ObserveStageCall(string(stage), "error", time.Since(start).Seconds())
		if errors.Is(err, domain.ErrPipeline) || errors.Is(err, domain.ErrRetryable) {
			return err
		}
		// Retries exhausted on a transient failure.
		return fmt.Errorf("op=real.call: %s: %w: %v", stage, domain.ErrRetryable, err)
	}
	observability.ObserveStageCall(string(stage), "ok", time.Since(start).Seconds())

	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("op=real.call: decode %s result: %w: %v", stage, domain.ErrPipeline, err)
		}
	}

	if c.sink != nil && resp.Cost > 0 {
		if _, err := c.sink.TrackCost(ctx, jobID, stage, resp.APIName, resp.Cost); err != nil {
			return fmt.Errorf("op=real.call: %s: %w", stage, err)
		}
	}
	return nil
}

// attempt performs one HTTP round trip. 5xx and transport errors are
// retryable; any other non-2xx status is a pipeline failure.
func (c *Client) attempt(ctx context.Context, url string, body []byte) (stageResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return stageResponse{}, fmt.Errorf("op=real.attempt: %w: %v", domain.ErrPipeline, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.hc.Do(httpReq)
	if err != nil {
		return stageResponse{}, fmt.Errorf("op=real.attempt: %w: %v", domain.ErrRetryable, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode >= 500 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return stageResponse{}, fmt.Errorf("op=real.attempt: status %d: %s: %w", httpResp.StatusCode, snippet, domain.ErrRetryable)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return stageResponse{}, fmt.Errorf("op=real.attempt: status %d: %s: %w", httpResp.StatusCode, snippet, domain.ErrPipeline)
	}

	var resp stageResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return stageResponse{}, fmt.Errorf("op=real.attempt: decode: %w: %v", domain.ErrPipeline, err)
	}
	return resp, nil
}

// AnalyzeAudio invokes the audio feature-extraction service.
func (c *Client) AnalyzeAudio(ctx context.Context, jobID, audioURL, fileHash string) (domain.AudioAnalysis, error) {
	req := map[string]any{"job_id": jobID, "audio_url": audioURL, "file_hash": fileHash}
	var out domain.AudioAnalysis
	if err := c.call(ctx, jobID, domain.StageAudioParser, req, &out); err != nil {
		return domain.AudioAnalysis{}, err
	}
	return out, nil
}

// PlanScenes invokes the scene-planning service.
func (c *Client) PlanScenes(ctx context.Context, jobID string, analysis domain.AudioAnalysis, userPrompt string) (domain.ScenePlan, error) {
	req := map[string]any{"job_id": jobID, "analysis": analysis, "user_prompt": userPrompt}
	var out domain.ScenePlan
	if err := c.call(ctx, jobID, domain.StageScenePlanner, req, &out); err != nil {
		return domain.ScenePlan{}, err
	}
	return out, nil
}

// GenerateReferences invokes the reference-image synthesis service.
func (c *Client) GenerateReferences(ctx context.Context, jobID string, plan domain.ScenePlan) (domain.References, error) {
	req := map[string]any{"job_id": jobID, "plan": plan}
	var out domain.References
	if err := c.call(ctx, jobID, domain.StageReferenceGenerator, req, &out); err != nil {
		return domain.References{}, err
	}
	return out, nil
}

// GeneratePrompts invokes the prompt-construction service. refs is nil when
// reference synthesis degraded.
func (c *Client) GeneratePrompts(ctx context.Context, jobID string, plan domain.ScenePlan, refs *domain.References) (domain.ClipPrompts, error) {
	req := map[string]any{"job_id": jobID, "plan": plan}
	if refs != nil {
		req["references"] = refs
	}
	var out domain.ClipPrompts
	if err := c.call(ctx, jobID, domain.StagePromptGenerator, req, &out); err != nil {
		return domain.ClipPrompts{}, err
	}
	return out, nil
}

// GenerateClips invokes the clip-generation service.
func (c *Client) GenerateClips(ctx context.Context, jobID string, prompts domain.ClipPrompts) (domain.Clips, error) {
	req := map[string]any{"job_id": jobID, "prompts": prompts}
	var out domain.Clips
	if err := c.call(ctx, jobID, domain.StageVideoGenerator, req, &out); err != nil {
		return domain.Clips{}, err
	}
	return out, nil
}

// Compose invokes the final composition service.
func (c *Client) Compose(ctx context.Context, jobID string, clips domain.Clips, audioURL string, transitions []domain.Transition, beats []float64) (domain.VideoOutput, error) {
	req := map[string]any{
		"job_id":      jobID,
		"clips":       clips,
		"audio_url":   audioURL,
		"transitions": transitions,
		"beats":       beats,
	}
	var out domain.VideoOutput
	if err := c.call(ctx, jobID, domain.StageComposer, req, &out); err != nil {
		return domain.VideoOutput{}, err
	}
	slog.Info("composition finished",
		slog.String("job_id", jobID),
		slog.String("video_url", out.VideoURL),
		slog.Float64("duration", out.Duration))
	return out, nil
}
