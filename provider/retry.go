package provider

import (
	"time"
)

const (
	defaultMaxRetries        = 6
	defaultInitialIntervalMS = 5000
	defaultBackoffMultiplier = 2.0
	defaultMaxIntervalMS     = 320000
)

// RetryPolicy bounds transient-failure retries with exponential backoff.
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	InitialIntervalMS int     `json:"initial_interval_ms,omitempty" yaml:"initial_interval_ms,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"`
	MaxIntervalMS     int     `json:"max_interval_ms,omitempty" yaml:"max_interval_ms,omitempty"`
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.InitialIntervalMS <= 0 {
		p.InitialIntervalMS = defaultInitialIntervalMS
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = defaultBackoffMultiplier
	}
	if p.MaxIntervalMS <= 0 {
		p.MaxIntervalMS = defaultMaxIntervalMS
	}
	return p
}

// Interval returns the wait before retry attempt (1-based): the initial
// interval grown by the multiplier per prior attempt, capped at the
// maximum.
func (p RetryPolicy) Interval(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	interval := float64(p.InitialIntervalMS)
	for i := 1; i < attempt; i++ {
		interval *= p.BackoffMultiplier
		if interval >= float64(p.MaxIntervalMS) {
			interval = float64(p.MaxIntervalMS)
			break
		}
	}
	if interval > float64(p.MaxIntervalMS) {
		interval = float64(p.MaxIntervalMS)
	}
	return time.Duration(interval) * time.Millisecond
}
