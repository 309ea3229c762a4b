// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"math/rand/v2"
	"time"
)

// Backoff defaults.
const (
	DefaultBackoffBase  = time.Second
	DefaultBackoffMax   = 30 * time.Second
	DefaultJitterFactor = 0.5
	minimumBackoffDelay = 100 * time.Millisecond

	// NoJitter as a JitterFactor makes every delay exactly the
	// exponential value.
	NoJitter = -1.0
	maxBackoffShift     = 62
)

// Backoff computes reconnect delays:
//
//	delay = min(Base * 2^attempt, Max) * (1 - f + 2*f*r)
//
// where f is JitterFactor and r is uniform in [0, 1). A zero
// JitterFactor means DefaultJitterFactor and a negative one (NoJitter)
// disables jitter. The result never drops below 100ms.
type Backoff struct {
	Base         time.Duration
	Max          time.Duration
	JitterFactor float64

	// Random returns r. Defaults to math/rand/v2.Float64.
	Random func() float64
}

func (b Backoff) withDefaults() Backoff {
	if b.Base <= 0 {
		b.Base = DefaultBackoffBase
	}
	if b.Max <= 0 {
		b.Max = DefaultBackoffMax
	}
	switch {
	case b.JitterFactor < 0:
		b.JitterFactor = 0
	case b.JitterFactor == 0 || b.JitterFactor > 1:
		b.JitterFactor = DefaultJitterFactor
	}
	if b.Random == nil {
		b.Random = rand.Float64
	}
	return b
}

// Delay returns the wait before reconnect attempt number attempt,
// counting from zero.
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	if attempt < 0 {
		attempt = 0
	}

	exponential := b.Max
	if attempt < maxBackoffShift {
		scaled := b.Base << attempt
		if scaled > 0 && scaled>>attempt == b.Base && scaled < b.Max {
			exponential = scaled
		}
	}

	multiplier := 1 - b.JitterFactor + 2*b.JitterFactor*b.Random()
	delay := time.Duration(float64(exponential) * multiplier)
	if delay < minimumBackoffDelay {
		delay = minimumBackoffDelay
	}
	return delay
}
