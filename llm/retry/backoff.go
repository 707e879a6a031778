package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy configures exponential backoff between retry attempts.
type Policy struct {
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay bounds any single delay.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the exponential growth factor.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter adds +/-25% random jitter to each delay.
	Jitter bool `yaml:"jitter" json:"jitter"`
}

// DefaultPolicy returns a policy suited to LLM API calls.
func DefaultPolicy() *Policy {
	return &Policy{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// DelayFor returns the delay to wait before the given attempt.
// Attempt numbering starts at 1; attempt 1 has no delay.
func (p *Policy) DelayFor(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-2))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	// Jitter spreads concurrent retries to avoid thundering herds.
	if p.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}

	return time.Duration(delay)
}

// Wait sleeps for the delay of the given attempt, returning early with the
// context error if ctx is cancelled.
func (p *Policy) Wait(ctx context.Context, attempt int) error {
	delay := p.DelayFor(attempt)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
