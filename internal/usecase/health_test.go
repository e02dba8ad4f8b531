package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck_AllProbesPass(t *testing.T) {
	queue := &memQueue{}
	h := HealthService{
		StoreCheck:  func(context.Context) error { return nil },
		BrokerCheck: func(context.Context) error { return nil },
		Queue:       queue,
		Workers:     3,
	}

	report := h.Check(context.Background())
	assert.True(t, report.Healthy())
	assert.Equal(t, 3, report.Queue["workers"])
	assert.EqualValues(t, 0, report.Queue["size"])
	assert.Empty(t, report.Issues)
}

func TestHealthCheck_CollectsIssues(t *testing.T) {
	h := HealthService{
		StoreCheck:  func(context.Context) error { return errors.New("connection refused") },
		BrokerCheck: func(context.Context) error { return errors.New("broker down") },
		Queue:       &memQueue{},
		Workers:     3,
	}

	report := h.Check(context.Background())
	assert.False(t, report.Healthy())
	require.Len(t, report.Issues, 2)
	assert.Contains(t, report.Issues[0], "store:")
	assert.Contains(t, report.Issues[1], "broker:")
}
