// Package config defines retry configuration.
package config

import (
	"github.com/fairyhunter13/videogen/internal/domain"
)

// GetRetryPolicy returns the worker requeue policy.
func (c Config) GetRetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts:  c.RetryMaxRetries,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
	}
}
