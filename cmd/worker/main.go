// Command worker drains the job queue and drives each job through the
// six-stage generation pipeline. It exposes its own /metrics endpoint so the
// control plane and the workers can be scraped independently.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/videogen/internal/adapter/archive/redpanda"
	"github.com/fairyhunter13/videogen/internal/adapter/broker/redisbroker"
	"github.com/fairyhunter13/videogen/internal/adapter/observability"
	"github.com/fairyhunter13/videogen/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/videogen/internal/adapter/repo/supabase"
	"github.com/fairyhunter13/videogen/internal/adapter/stages"
	"github.com/fairyhunter13/videogen/internal/adapter/stages/real"
	"github.com/fairyhunter13/videogen/internal/adapter/stages/stub"
	"github.com/fairyhunter13/videogen/internal/app"
	"github.com/fairyhunter13/videogen/internal/config"
	"github.com/fairyhunter13/videogen/internal/domain"
	"github.com/fairyhunter13/videogen/internal/service/costs"
	"github.com/fairyhunter13/videogen/internal/service/events"
	"github.com/fairyhunter13/videogen/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		addr := fmt.Sprintf(":%d", cfg.WorkerMetricsPort)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker",
		slog.String("env", cfg.AppEnv),
		slog.Int("concurrency", cfg.WorkerConcurrency))

	broker, err := redisbroker.New(cfg.RedisURL, cfg.CacheNamespace)
	if err != nil {
		slog.Error("redis connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = broker.Close() }()

	supaClient, err := supabase.NewClient(cfg)
	if err != nil {
		slog.Error("supabase client init failed", slog.Any("error", err))
		os.Exit(1)
	}
	jobRepo := supabase.NewJobRepo(supaClient)
	stageRepo := supabase.NewStageRepo(supaClient)
	costRepo := supabase.NewCostRepo(supaClient)
	analysisRepo := supabase.NewAnalysisRepo(supaClient)

	ledger := costs.NewLedger(costRepo, jobRepo)

	var exec domain.PipelineExecutor
	if cfg.StageBaseURL == "" {
		stubExec, err := stub.New(ledger)
		if err != nil {
			slog.Error("stub executor init failed", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("using in-process stage executor")
		exec = stubExec
	} else {
		exec = real.New(cfg, ledger)
		slog.Info("using remote stage executor", slog.String("base_url", cfg.StageBaseURL))
	}
	exec = stages.NewCached(exec, broker, analysisRepo)

	var archiver *redpanda.Archiver
	if cfg.ArchiveEnabled() {
		archiver, err = redpanda.New(cfg.KafkaBrokers, cfg.KafkaArchiveTopic)
		if err != nil {
			slog.Error("archiver init failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	bus := events.NewBus(broker)

	drift := observability.NewCostDriftMonitor(20, 0.5)
	drift.UpdateBaseline("job_total", 1.0)

	orch := &usecase.Orchestrator{
		Cfg:    cfg,
		Jobs:   jobRepo,
		Stages: stageRepo,
		Costs:  ledger,
		Cache:  broker,
		Bus:    bus,
		Exec:   exec,
		Drift:  drift,
	}
	if archiver != nil {
		orch.Archive = archiver
	}

	queue := redisq.New(broker)
	consumer := redisq.NewConsumer(queue, orch, broker, jobRepo, bus,
		cfg.QueuePopTimeout, int64(cfg.WorkerConcurrency), cfg.GetRetryPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := app.NewStaleJobSweeper(jobRepo, broker, queue, bus, cfg.SweepMaxProcessingAge, cfg.SweepInterval)
	go sweeper.Run(ctx)

	cleanup := supabase.NewCleanupService(analysisRepo, cfg.AnalysisRetentionInterval)
	go cleanup.RunPeriodic(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- consumer.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("worker loop error", slog.Any("error", err))
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
		cancel()
		// Run drains in-flight executions before returning.
		if err := <-errCh; err != nil && ctx.Err() == nil {
			slog.Error("worker loop error", slog.Any("error", err))
		}
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer flushCancel()
	archiver.Close(flushCtx)

	slog.Info("worker stopped")
}
