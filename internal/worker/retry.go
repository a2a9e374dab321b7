package worker

import (
	"math"
	"math/rand/v2"
	"time"

	"offlinesync/internal/config"
)

const (
	defaultRetryDelay    = time.Second
	defaultBackoffFactor = 2.0
)

// RetryPolicy controls two things: when a failing record is given up on
// (MaxRetries, zero keeps it forever) and how long the processor waits
// before re-running a pass that left failures behind.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter spreads each delay by up to ±Jitter of its value.
	Jitter float64
}

// RetryPolicyFromConfig maps the sync section onto a policy.
func RetryPolicyFromConfig(cfg config.SyncConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.Retry.InitialDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: cfg.Retry.BackoffFactor,
		Jitter:        cfg.Retry.Jitter,
	}
}

// Exhausted reports whether a record with retryCount failures should leave the queue.
func (r RetryPolicy) Exhausted(retryCount int) bool {
	return r.MaxRetries > 0 && retryCount >= r.MaxRetries
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.InitialDelay <= 0 {
		r.InitialDelay = defaultRetryDelay
	}
	if r.BackoffFactor < 1 {
		r.BackoffFactor = defaultBackoffFactor
	}
	if r.Jitter < 0 {
		r.Jitter = 0
	}
	if r.Jitter > 1 {
		r.Jitter = 1
	}
	return r
}

// NextDelay is the wait before retry pass number attempt (1-based). The
// exponential curve is capped by MaxDelay before jitter is applied.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	r = r.withDefaults()
	attempt = max(attempt, 1)

	base := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(attempt-1))
	if r.MaxDelay > 0 {
		base = math.Min(base, float64(r.MaxDelay))
	}
	if r.Jitter > 0 {
		base *= 1 + r.Jitter*(2*rand.Float64()-1)
	}

	d := time.Duration(base)
	if d <= 0 {
		return defaultRetryDelay
	}
	return d
}
