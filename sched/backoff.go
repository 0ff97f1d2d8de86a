package sched

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: min(Base · Multiplier^(n−1), Cap),
// jittered by up to JitterFraction in both directions, clamped to Cap
// again after jitter and floored at Min. Cap is a hard upper bound.
// Stateless and safe for concurrent use.
type Backoff struct {
	Base           time.Duration
	Multiplier     float64
	Cap            time.Duration
	JitterFraction float64
	Min            time.Duration
}

// DefaultBackoff returns the engine default: 30s base doubling to a 30m
// cap with ±20% jitter, never below 5s.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:           30 * time.Second,
		Multiplier:     2.0,
		Cap:            30 * time.Minute,
		JitterFraction: 0.2,
		Min:            5 * time.Second,
	}
}

// Delay returns how long to wait before retry attempt n (1-indexed).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.Base) * math.Pow(b.Multiplier, float64(attempt-1))
	if b.Cap > 0 && d > float64(b.Cap) {
		d = float64(b.Cap)
	}

	if b.JitterFraction > 0 {
		// Uniform in [−JitterFraction, +JitterFraction].
		jitter := (rand.Float64()*2 - 1) * b.JitterFraction
		d *= 1 + jitter
		if b.Cap > 0 && d > float64(b.Cap) {
			d = float64(b.Cap)
		}
	}

	if d < float64(b.Min) {
		return b.Min
	}
	return time.Duration(d)
}
