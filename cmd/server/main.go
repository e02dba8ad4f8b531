// Command server starts the videogen HTTP control plane: upload admission,
// job queries, cancellation, SSE progress streaming, and signed downloads.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fairyhunter13/videogen/internal/adapter/broker/redisbroker"
	"github.com/fairyhunter13/videogen/internal/adapter/httpserver"
	"github.com/fairyhunter13/videogen/internal/adapter/observability"
	"github.com/fairyhunter13/videogen/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/videogen/internal/adapter/repo/supabase"
	"github.com/fairyhunter13/videogen/internal/app"
	"github.com/fairyhunter13/videogen/internal/config"
	"github.com/fairyhunter13/videogen/internal/service/events"
	"github.com/fairyhunter13/videogen/internal/service/ratelimiter"
	"github.com/fairyhunter13/videogen/internal/service/sse"
	"github.com/fairyhunter13/videogen/internal/service/tokenauth"
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

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting server", slog.String("env", cfg.AppEnv), slog.Int("port", cfg.Port))

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
	storage := supabase.NewStorage(supaClient)

	queue := redisq.New(broker)
	limiter := ratelimiter.New(broker, cfg.FailClosed())
	validator := tokenauth.New(broker, cfg.SupabaseJWTSecret)

	submitSvc := usecase.NewSubmitService(cfg, jobRepo, storage, queue, limiter)
	jobSvc := usecase.NewJobService(cfg, jobRepo, broker, queue, storage)
	healthSvc := usecase.HealthService{
		StoreCheck: func(ctx context.Context) error {
			return supabase.Ping(ctx, supaClient)
		},
		BrokerCheck: broker.Ping,
		Queue:       queue,
		Workers:     cfg.WorkerConcurrency,
	}

	// Background goroutines stop with this context on shutdown.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	hub := sse.NewHub(jobRepo)
	go hub.RunSweeper(bgCtx)

	bus := events.NewBus(broker)
	stream := &httpserver.StreamHandler{Hub: hub, Events: bus, Jobs: jobSvc}

	srv := httpserver.NewServer(cfg, submitSvc, jobSvc, healthSvc, stream)

	storeCheck, brokerCheck := app.BuildReadinessChecks(
		func(ctx context.Context) error { return supabase.Ping(ctx, supaClient) },
		broker.Ping,
	)
	ready := app.ReadyzHandler(map[string]app.Check{"store": storeCheck, "broker": brokerCheck})

	router := app.BuildRouter(cfg, srv, httpserver.RequireAuth(validator), ready)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		slog.Error("http server error", slog.Any("error", err))
		os.Exit(1)
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	bgCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("server stopped")
}
