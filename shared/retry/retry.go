// Package retry computes exponential backoff delays and waits for them under a context
package retry

import (
	"context"
	"math"
	"time"
)

// Policy describes an exponential backoff strategy
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
}

// Attempts returns the number of tries, at least one
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before retry number attempt (1-based: the wait after the first failure is Delay(1))
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.InitialBackoff <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	return time.Duration(float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1)))
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
