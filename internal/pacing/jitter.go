package pacing

import (
	"math/rand/v2"
	"time"
)

// Range is an inclusive duration interval for randomized delays.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Jitter picks a duration inside [min, max].
type Jitter func(min, max time.Duration) time.Duration

// Uniform draws uniformly from [min, max].
func Uniform(minD, maxD time.Duration) time.Duration {
	if maxD <= minD {
		return minD
	}
	return minD + rand.N(maxD-minD+1)
}

// Lower always returns the lower bound. Useful for deterministic tests.
func Lower(minD, _ time.Duration) time.Duration {
	return minD
}

// Pick draws a duration from r using j.
func (j Jitter) Pick(r Range) time.Duration {
	if j == nil {
		return Uniform(r.Min, r.Max)
	}
	return j(r.Min, r.Max)
}
