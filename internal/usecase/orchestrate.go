package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	obsmetrics "github.com/fairyhunter13/videogen/internal/adapter/observability"
	"github.com/fairyhunter13/videogen/internal/config"
	"github.com/fairyhunter13/videogen/internal/domain"
)

// Ledger is the cost-ledger surface the orchestrator needs.
type Ledger interface {
	Total(ctx context.Context, jobID string) (float64, error)
	WouldExceed(ctx context.Context, jobID string, delta, limit float64) (bool, error)
	Enforce(ctx context.Context, jobID string, limit float64) error
	Forget(jobID string)
}

// Broadcaster delivers events to in-process stream subscribers. The SSE hub
// implements it; publication through it is redundant with the Event Bus by
// design, and subscribers tolerate duplicates.
type Broadcaster interface {
	Broadcast(jobID string, eventType domain.EventType, data any)
}

// Archiver mirrors terminal transitions to an external analytics sink.
// Best-effort; implementations never return errors to the pipeline.
type Archiver interface {
	ArchiveTerminal(ctx context.Context, job domain.Job)
}

// stageDescriptor is one row of the pipeline table. preEstimate is in
// production units and scaled per environment before the budget pre-check.
type stageDescriptor struct {
	name         domain.StageName
	progress     int
	degradable   bool
	preEstimate  float64
	enforceAfter bool
}

// pipeline is the fixed stage walk. Reordering stages or marking one
// degradable is a data change here, not a control-flow change.
var pipeline = []stageDescriptor{
	{name: domain.StageAudioParser, progress: 10},
	{name: domain.StageScenePlanner, progress: 20},
	{name: domain.StageReferenceGenerator, progress: 30, degradable: true, preEstimate: 50, enforceAfter: true},
	{name: domain.StagePromptGenerator, progress: 40},
	{name: domain.StageVideoGenerator, progress: 85, preEstimate: 100, enforceAfter: true},
	{name: domain.StageComposer, progress: 100},
}

// pipelineState carries stage outputs down the walk. refs stays nil when
// reference synthesis degraded.
type pipelineState struct {
	analysis domain.AudioAnalysis
	plan     domain.ScenePlan
	refs     *domain.References
	prompts  domain.ClipPrompts
	clips    domain.Clips
	output   domain.VideoOutput
}

// Orchestrator drives one job through the pipeline: cancellation checkpoints,
// budget gates, fallback for degradable stages, progress publication, and
// terminal transitions.
type Orchestrator struct {
	Cfg    config.Config
	Jobs   domain.JobRepository
	Stages domain.StageRepository
	Costs  Ledger
	Cache  domain.Cache
	Bus    domain.EventPublisher
	Hub    Broadcaster
	Exec   domain.PipelineExecutor
	// Archive may be nil when no analytics sink is configured.
	Archive Archiver
	// Drift, when set, accumulates actual-vs-estimated spend ratios across
	// completed jobs under the driftSeries label.
	Drift *obsmetrics.CostDriftMonitor
}

// driftSeries is the cost-drift label for whole-job spend; a ratio of 1.0
// means actuals match the admission estimate.
const driftSeries = "job_total"

// errJobCancelled marks a cancellation detected at a checkpoint.
var errJobCancelled = errors.New(CancelledMessage)

// Run executes the full pipeline for one payload. Transient gateway errors
// are returned wrapped in ErrRetryable for the worker to requeue; every other
// failure is written terminally before Run returns it.
func (o *Orchestrator) Run(ctx context.Context, p domain.QueuePayload) error {
	tracer := otel.Tracer("usecase.orchestrator")
	ctx, span := tracer.Start(ctx, "orchestrator.Run")
	span.SetAttributes(attribute.String("job_id", p.JobID))
	defer span.End()

	lg := slog.Default().With(slog.String("job_id", p.JobID))
	lg.Info("pipeline starting", slog.String("user_id", p.UserID), slog.Int("attempt", p.Attempt))

	if err := o.Jobs.MarkProcessing(ctx, p.JobID); err != nil {
		if errors.Is(err, domain.ErrRetryable) {
			return fmt.Errorf("op=orchestrator.Run: %w", err)
		}
		return o.fail(ctx, p.JobID, fmt.Errorf("op=orchestrator.Run: mark processing: %w: %v", domain.ErrPipeline, err))
	}
	o.invalidateStatus(ctx, p.JobID)

	st := &pipelineState{}
	for _, stage := range pipeline {
		if err := o.runStage(ctx, p, stage, st); err != nil {
			if errors.Is(err, domain.ErrRetryable) {
				lg.Warn("transient stage failure, surfacing for requeue",
					slog.String("stage", string(stage.name)), slog.Any("error", err))
				return err
			}
			return o.fail(ctx, p.JobID, err)
		}
	}

	return o.complete(ctx, p.JobID, st)
}

// runStage applies the per-stage protocol: cancellation pre-check, budget
// pre-check, started event, invocation, post-stage enforcement, progress
// publication, completed event.
func (o *Orchestrator) runStage(ctx context.Context, p domain.QueuePayload, stage stageDescriptor, st *pipelineState) error {
	if cancelled, err := o.Cache.Exists(ctx, domain.CancelKey(p.JobID)); err == nil && cancelled {
		return fmt.Errorf("op=orchestrator.runStage: %s: %w", stage.name, errJobCancelled)
	}

	limit := o.Cfg.BudgetLimit()
	if stage.preEstimate > 0 {
		estimate := stage.preEstimate * o.Cfg.StageEstimateScale()
		over, err := o.Costs.WouldExceed(ctx, p.JobID, estimate, limit)
		if err != nil {
			return fmt.Errorf("op=orchestrator.runStage: %s: %w", stage.name, err)
		}
		if over {
			return fmt.Errorf("op=orchestrator.runStage: %s estimated $%.2f would exceed budget $%.2f: %w",
				stage.name, estimate, limit, domain.ErrBudgetExceeded)
		}
	}

	o.publishStage(ctx, p.JobID, stage.name, domain.StageProcessing, nil)

	start := time.Now()
	err := o.invoke(ctx, p, stage.name, st)
	if err != nil {
		if stage.degradable {
			// Degraded, not dead: record the fallback and keep walking.
			// Requeueing here would redo every earlier stage for an output
			// later stages can live without.
			slog.Warn("degradable stage failed, continuing without its output",
				slog.String("job_id", p.JobID),
				slog.String("stage", string(stage.name)),
				slog.Any("error", err))
			obsmetrics.ObserveStageCall(string(stage.name), "fallback", time.Since(start).Seconds())
			o.publishStage(ctx, p.JobID, stage.name, domain.StageFailed, map[string]any{
				"fallback_mode":   true,
				"fallback_reason": err.Error(),
			})
			st.refs = nil
		} else {
			if errors.Is(err, domain.ErrRetryable) {
				return fmt.Errorf("op=orchestrator.runStage: %s: %w", stage.name, err)
			}
			if errors.Is(err, domain.ErrBudgetExceeded) || errors.Is(err, domain.ErrPipeline) {
				return fmt.Errorf("op=orchestrator.runStage: %s: %w", stage.name, err)
			}
			return fmt.Errorf("op=orchestrator.runStage: %s: %w: %v", stage.name, domain.ErrPipeline, err)
		}
	}

	if stage.enforceAfter {
		if err := o.Costs.Enforce(ctx, p.JobID, limit); err != nil {
			return fmt.Errorf("op=orchestrator.runStage: %s: %w", stage.name, err)
		}
		if total, terr := o.Costs.Total(ctx, p.JobID); terr == nil {
			o.Bus.Publish(ctx, p.JobID, domain.EventCostUpdate, domain.CostUpdateData(stage.name, 0, total))
		}
	}

	if err := o.updateProgress(ctx, p.JobID, stage.progress, stage.name); err != nil {
		return err
	}

	if err == nil {
		o.publishStage(ctx, p.JobID, stage.name, domain.StageCompleted, nil)
	}
	return nil
}

// invoke dispatches to the executor and validates stage outputs.
func (o *Orchestrator) invoke(ctx context.Context, p domain.QueuePayload, name domain.StageName, st *pipelineState) error {
	switch name {
	case domain.StageAudioParser:
		analysis, err := o.Exec.AnalyzeAudio(ctx, p.JobID, p.AudioURL, p.FileHash)
		if err != nil {
			return err
		}
		st.analysis = analysis
	case domain.StageScenePlanner:
		plan, err := o.Exec.PlanScenes(ctx, p.JobID, st.analysis, p.UserPrompt)
		if err != nil {
			return err
		}
		st.plan = plan
	case domain.StageReferenceGenerator:
		refs, err := o.Exec.GenerateReferences(ctx, p.JobID, st.plan)
		if err != nil {
			return err
		}
		st.refs = &refs
	case domain.StagePromptGenerator:
		prompts, err := o.Exec.GeneratePrompts(ctx, p.JobID, st.plan, st.refs)
		if err != nil {
			return err
		}
		st.prompts = prompts
	case domain.StageVideoGenerator:
		clips, err := o.Exec.GenerateClips(ctx, p.JobID, st.prompts)
		if err != nil {
			return err
		}
		if len(clips.Clips) < domain.MinClips {
			return fmt.Errorf("insufficient clips generated (minimum %d required), got %d: %w",
				domain.MinClips, len(clips.Clips), domain.ErrPipeline)
		}
		st.clips = clips
	case domain.StageComposer:
		output, err := o.Exec.Compose(ctx, p.JobID, st.clips, p.AudioURL, st.plan.Transitions, st.analysis.BeatTimestamps)
		if err != nil {
			return err
		}
		st.output = output
	default:
		return fmt.Errorf("unknown stage %q: %w", name, domain.ErrPipeline)
	}
	return nil
}

// updateProgress writes the job row, invalidates the status cache, and
// publishes the progress event on both fan-out paths.
func (o *Orchestrator) updateProgress(ctx context.Context, jobID string, progress int, stage domain.StageName) error {
	if err := o.Jobs.UpdateProgress(ctx, jobID, progress, stage); err != nil {
		if errors.Is(err, domain.ErrRetryable) {
			return fmt.Errorf("op=orchestrator.updateProgress: %w", err)
		}
		return fmt.Errorf("op=orchestrator.updateProgress: %w: %v", domain.ErrPipeline, err)
	}
	o.invalidateStatus(ctx, jobID)

	total, err := o.Costs.Total(ctx, jobID)
	if err != nil {
		total = 0
	}
	data := domain.ProgressData(progress, string(stage), domain.JobProcessing, total)
	o.Bus.Publish(ctx, jobID, domain.EventProgress, data)
	if o.Hub != nil {
		o.Hub.Broadcast(jobID, domain.EventProgress, data)
	}
	return nil
}

// publishStage upserts the stage record and emits a stage_update event.
// Both are best-effort except the fallback record, whose metadata later
// diagnostics rely on; even that never fails the run.
func (o *Orchestrator) publishStage(ctx context.Context, jobID string, name domain.StageName, status domain.StageStatus, metadata map[string]any) {
	rec := domain.JobStage{
		JobID:     jobID,
		StageName: name,
		Status:    status,
		Metadata:  metadata,
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.Stages.Upsert(ctx, rec); err != nil {
		slog.Warn("stage record upsert failed",
			slog.String("job_id", jobID),
			slog.String("stage", string(name)),
			slog.Any("error", err))
	}
	o.Bus.Publish(ctx, jobID, domain.EventStageUpdate, domain.StageUpdateData(name, status))
}

func (o *Orchestrator) invalidateStatus(ctx context.Context, jobID string) {
	if err := o.Cache.Delete(ctx, domain.JobStatusKey(jobID)); err != nil {
		slog.Warn("status cache invalidation failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
}

// complete writes the terminal success state and emits the completed event.
func (o *Orchestrator) complete(ctx context.Context, jobID string, st *pipelineState) error {
	total, err := o.Costs.Total(ctx, jobID)
	if err != nil {
		total = 0
	}

	if err := o.Jobs.MarkCompleted(ctx, jobID, st.output.VideoURL, total); err != nil {
		if errors.Is(err, domain.ErrRetryable) {
			return fmt.Errorf("op=orchestrator.complete: %w", err)
		}
		return o.fail(ctx, jobID, fmt.Errorf("op=orchestrator.complete: %w: %v", domain.ErrPipeline, err))
	}
	o.invalidateStatus(ctx, jobID)
	o.Costs.Forget(jobID)
	obsmetrics.ObserveJobCost(total)

	data := domain.CompletedData(st.output.VideoURL, total)
	o.Bus.Publish(ctx, jobID, domain.EventCompleted, data)
	if o.Hub != nil {
		o.Hub.Broadcast(jobID, domain.EventCompleted, data)
	}
	o.recordDrift(ctx, jobID, total)
	o.archive(ctx, jobID)

	slog.Info("pipeline completed",
		slog.String("job_id", jobID),
		slog.String("video_url", st.output.VideoURL),
		slog.Float64("total_cost", total))
	return nil
}

// fail writes the terminal failure state exactly once, emits the error event
// last, and returns the original error for the worker to absorb.
func (o *Orchestrator) fail(ctx context.Context, jobID string, cause error) error {
	msg, code := classify(cause)

	if err := o.Jobs.MarkFailed(ctx, jobID, msg); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Already terminal (double cancel, concurrent failure): the first
			// writer owns the error event.
			slog.Info("job already terminal, skipping failure write", slog.String("job_id", jobID))
			return cause
		}
		slog.Error("failed to write terminal failure state",
			slog.String("job_id", jobID), slog.Any("error", err))
	}
	o.invalidateStatus(ctx, jobID)
	o.Costs.Forget(jobID)

	data := domain.ErrorData(msg, code, false)
	o.Bus.Publish(ctx, jobID, domain.EventError, data)
	if o.Hub != nil {
		o.Hub.Broadcast(jobID, domain.EventError, data)
	}
	o.archive(ctx, jobID)

	slog.Error("pipeline failed",
		slog.String("job_id", jobID),
		slog.String("code", code),
		slog.String("error_message", msg))
	return cause
}

// recordDrift feeds the whole-job spend ratio to the drift monitor so that a
// provider price change shows up as sustained drift rather than a one-off
// budget surprise.
func (o *Orchestrator) recordDrift(ctx context.Context, jobID string, total float64) {
	if o.Drift == nil {
		return
	}
	job, err := o.Jobs.Get(ctx, jobID)
	if err != nil || job.EstimatedCost <= 0 {
		return
	}
	o.Drift.RecordCost(driftSeries, total/job.EstimatedCost)
}

func (o *Orchestrator) archive(ctx context.Context, jobID string) {
	if o.Archive == nil {
		return
	}
	job, err := o.Jobs.Get(ctx, jobID)
	if err != nil {
		slog.Warn("terminal archive skipped, job read failed", slog.String("job_id", jobID), slog.Any("error", err))
		return
	}
	o.Archive.ArchiveTerminal(ctx, job)
}

// classify maps a pipeline error to the user-visible message and event code.
func classify(err error) (msg, code string) {
	switch {
	case errors.Is(err, errJobCancelled):
		return CancelledMessage, "MODULE_FAILURE"
	case errors.Is(err, domain.ErrBudgetExceeded):
		return err.Error(), "BUDGET_EXCEEDED"
	default:
		return err.Error(), "MODULE_FAILURE"
	}
}
