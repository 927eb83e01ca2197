package local

import (
	"math"
	"math/rand"
	"time"
)

// Backoff spaces out liveness probes after consecutive probe errors.
type Backoff struct {
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

func DefaultBackoff() Backoff {
	return Backoff{
		Multiplier: 2.0,
		MaxDelay:   5 * time.Second,
		Jitter:     true,
	}
}

// nextProbeDelay returns the wait before the next probe after failures
// consecutive errors. Zero failures is the plain poll interval.
func nextProbeDelay(base time.Duration, b Backoff, failures int, rng *rand.Rand) time.Duration {
	if failures <= 0 || base <= 0 {
		return base
	}
	if b.Multiplier < 1.0 {
		b.Multiplier = 1.0
	}
	delay := float64(base) * math.Pow(b.Multiplier, float64(failures))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	if delay < float64(base) {
		return base
	}
	return time.Duration(delay)
}
