// Package costs tracks per-job spend and enforces the environment budget.
package costs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/fairyhunter13/videogen/internal/domain"
)

// TotalStore is the slice of the job repository the ledger needs: the
// authoritative running total on the job row.
type TotalStore interface {
	GetTotalCost(ctx context.Context, jobID string) (float64, error)
	SetTotalCost(ctx context.Context, jobID string, total float64) error
}

// Ledger serializes "append entry, read total, write total" per job so the
// written total always includes the entry just appended. The per-job mutex
// map is guarded by a short-held map mutex; entries are dropped via Forget
// when a job reaches a terminal state.
type Ledger struct {
	costs domain.CostRepository
	jobs  TotalStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(costs domain.CostRepository, jobs TotalStore) *Ledger {
	return &Ledger{
		costs: costs,
		jobs:  jobs,
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(jobID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[jobID]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[jobID] = lk
	}
	return lk
}

// Forget drops the per-job mutex once the job is terminal.
func (l *Ledger) Forget(jobID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, jobID)
}

func roundCents(v float64) float64 { return math.Round(v*100) / 100 }

// TrackCost appends a charge and folds it into the job's running total,
// returning the new total.
func (l *Ledger) TrackCost(ctx context.Context, jobID string, stage domain.StageName, apiName string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("op=costs.TrackCost: cost cannot be negative: %.2f: %w", amount, domain.ErrValidation)
	}

	lk := l.lockFor(jobID)
	lk.Lock()
	defer lk.Unlock()

	entry := domain.CostEntry{
		JobID:     jobID,
		StageName: stage,
		APIName:   apiName,
		Cost:      roundCents(amount),
		CreatedAt: time.Now().UTC(),
	}
	if err := l.costs.Append(ctx, entry); err != nil {
		return 0, fmt.Errorf("op=costs.TrackCost: %w: %v", domain.ErrRetryable, err)
	}

	total, err := l.jobs.GetTotalCost(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("op=costs.TrackCost: %w: %v", domain.ErrRetryable, err)
	}
	newTotal := roundCents(total + amount)
	if err := l.jobs.SetTotalCost(ctx, jobID, newTotal); err != nil {
		return 0, fmt.Errorf("op=costs.TrackCost: %w: %v", domain.ErrRetryable, err)
	}

	slog.Info("tracked cost",
		slog.String("job_id", jobID),
		slog.String("stage", string(stage)),
		slog.String("api", apiName),
		slog.Float64("cost", entry.Cost),
		slog.Float64("total_cost", newTotal))
	return newTotal, nil
}

// Total returns the job's current running total.
func (l *Ledger) Total(ctx context.Context, jobID string) (float64, error) {
	total, err := l.jobs.GetTotalCost(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("op=costs.Total: %w: %v", domain.ErrRetryable, err)
	}
	return total, nil
}

// WouldExceed reports whether charging delta would push the job past limit.
func (l *Ledger) WouldExceed(ctx context.Context, jobID string, delta, limit float64) (bool, error) {
	total, err := l.jobs.GetTotalCost(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("op=costs.WouldExceed: %w: %v", domain.ErrRetryable, err)
	}
	return total+delta > limit, nil
}

// Enforce fails with ErrBudgetExceeded when the authoritative total is
// already past limit.
func (l *Ledger) Enforce(ctx context.Context, jobID string, limit float64) error {
	total, err := l.jobs.GetTotalCost(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=costs.Enforce: %w: %v", domain.ErrRetryable, err)
	}
	if total > limit {
		slog.Error("budget limit exceeded",
			slog.String("job_id", jobID),
			slog.Float64("total_cost", total),
			slog.Float64("limit", limit))
		return fmt.Errorf("op=costs.Enforce: budget limit of $%.2f exceeded for job %s, current total $%.2f: %w",
			limit, jobID, total, domain.ErrBudgetExceeded)
	}
	return nil
}
