package supabase

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CleanupService prunes expired audio analysis cache rows.
type CleanupService struct {
	Analysis *AnalysisRepo
	Interval time.Duration
}

// NewCleanupService creates a cleanup service. A non-positive interval
// defaults to hourly.
func NewCleanupService(analysis *AnalysisRepo, interval time.Duration) *CleanupService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupService{Analysis: analysis, Interval: interval}
}

// CleanupExpired removes analysis rows past their expiry.
func (s *CleanupService) CleanupExpired(ctx context.Context) error {
	deleted, err := s.Analysis.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=cleanup.expired: %w", err)
	}
	if deleted > 0 {
		slog.Info("pruned expired audio analyses", slog.Int64("deleted", deleted))
	}
	return nil
}

// RunPeriodic runs cleanup on a ticker until the context is cancelled.
func (s *CleanupService) RunPeriodic(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run initial cleanup
	if err := s.CleanupExpired(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupExpired(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
