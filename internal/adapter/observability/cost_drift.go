package observability

import (
	"log/slog"
	"sync"
)

// CostDriftMonitor watches per-stage generation cost against a baseline.
// Provider pricing changes silently; a drifting stage cost is the first
// symptom, so the monitor warns and exposes the drift as a metric.
type CostDriftMonitor struct {
	baseline       map[string]float64
	recent         map[string][]float64
	windowSize     int
	driftThreshold float64
	mu             sync.RWMutex
}

// NewCostDriftMonitor creates a monitor that flags a stage once the average
// of windowSize recent costs departs from baseline by more than threshold.
func NewCostDriftMonitor(windowSize int, threshold float64) *CostDriftMonitor {
	return &CostDriftMonitor{
		baseline:       make(map[string]float64),
		recent:         make(map[string][]float64),
		windowSize:     windowSize,
		driftThreshold: threshold,
	}
}

// UpdateBaseline sets the expected cost for a stage.
func (m *CostDriftMonitor) UpdateBaseline(stage string, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baseline[stage] = cost
	slog.Info("updated stage cost baseline",
		slog.String("stage", stage),
		slog.Float64("cost", cost))
}

// RecordCost records an observed stage cost and checks for drift.
func (m *CostDriftMonitor) RecordCost(stage string, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recent[stage] == nil {
		m.recent[stage] = make([]float64, 0, m.windowSize)
	}
	m.recent[stage] = append(m.recent[stage], cost)
	if len(m.recent[stage]) > m.windowSize {
		m.recent[stage] = m.recent[stage][1:]
	}

	if len(m.recent[stage]) >= m.windowSize {
		drift := m.drift(stage)
		RecordCostDrift(stage, drift)
		if drift > m.driftThreshold {
			slog.Warn("stage cost drift detected",
				slog.String("stage", stage),
				slog.Float64("drift", drift),
				slog.Float64("threshold", m.driftThreshold))
		}
	}
}

// drift is the absolute distance between the recent average and the baseline.
// Callers hold m.mu.
func (m *CostDriftMonitor) drift(stage string) float64 {
	baseline, ok := m.baseline[stage]
	if !ok {
		return 0
	}
	recent := m.recent[stage]
	if len(recent) == 0 {
		return 0
	}

	avg := 0.0
	for _, c := range recent {
		avg += c
	}
	avg /= float64(len(recent))

	d := avg - baseline
	if d < 0 {
		d = -d
	}
	return d
}

// Drift returns the current drift for a stage.
func (m *CostDriftMonitor) Drift(stage string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drift(stage)
}

// Baseline returns the baseline cost for a stage.
func (m *CostDriftMonitor) Baseline(stage string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cost, ok := m.baseline[stage]
	return cost, ok
}

// RecentCosts returns a copy of the recent cost window for a stage.
func (m *CostDriftMonitor) RecentCosts(stage string) []float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]float64, len(m.recent[stage]))
	copy(out, m.recent[stage])
	return out
}

// Reset clears baselines and windows.
func (m *CostDriftMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline = make(map[string]float64)
	m.recent = make(map[string][]float64)
}

// Default: ten samples per window, fifty cents of tolerated drift.
var defaultCostDrift = NewCostDriftMonitor(10, 0.50)

// RecordStageCost feeds the shared cost drift monitor.
func RecordStageCost(stage string, cost float64) {
	defaultCostDrift.RecordCost(stage, cost)
}

// UpdateStageCostBaseline seeds the shared monitor's expected stage cost.
func UpdateStageCostBaseline(stage string, cost float64) {
	defaultCostDrift.UpdateBaseline(stage, cost)
}

// StageCostDrift reports the shared monitor's current drift for a stage.
func StageCostDrift(stage string) float64 {
	return defaultCostDrift.Drift(stage)
}

// ResetCostDrift clears the shared monitor.
func ResetCostDrift() {
	defaultCostDrift.Reset()
}
