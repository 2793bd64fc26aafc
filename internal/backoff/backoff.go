// Package backoff computes retry delays for the stream connector and the
// polling tasks.
package backoff

import (
	"math/rand"
	"time"
)

// Defaults for reconnect delay computation.
const (
	DefaultBase        = 500 * time.Millisecond
	DefaultJitterRatio = 0.2
)

// Options configures Delay. The zero value picks the defaults.
type Options struct {
	// Base is the delay for attempt 0.
	Base time.Duration
	// JitterRatio bounds the random perturbation. 0.2 means the computed
	// delay is scaled by a factor in [0.8, 1.2].
	JitterRatio float64
	// Random returns a value in [0, 1). Injectable so tests can pin the
	// jitter; nil means rand.Float64.
	Random func() float64
}

// Delay returns a jittered exponential delay for the given attempt:
//
//	base * 2^attempt * (1 + jitterRatio*(2*random()-1))
//
// With random fixed at 0.5 the jitter term is exactly zero and the result
// is pure doubling (500ms, 1s, 2s, ... for attempts 0, 1, 2, ...).
func Delay(attempt int, opts Options) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := opts.Base
	if base <= 0 {
		base = DefaultBase
	}
	ratio := opts.JitterRatio
	if ratio == 0 {
		ratio = DefaultJitterRatio
	}
	random := opts.Random
	if random == nil {
		random = rand.Float64
	}

	d := float64(base) * float64(int64(1)<<uint(attempt))
	d *= 1 + ratio*(2*random()-1)
	return time.Duration(d)
}

// Double returns twice cur, capped at max. Used by polling tasks to grow
// their retry interval on transient errors.
func Double(cur, max time.Duration) time.Duration {
	next := cur * 2
	if max > 0 && next > max {
		return max
	}
	return next
}
