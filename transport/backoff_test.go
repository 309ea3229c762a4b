// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"
	"time"
)

func fixed(r float64) func() float64 { return func() float64 { return r } }

func TestBackoffJitter(t *testing.T) {
	tests := []struct {
		random float64
		want   time.Duration
	}{
		{0, 500 * time.Millisecond},
		{0.5, 1000 * time.Millisecond},
		{1, 1500 * time.Millisecond},
	}
	for _, test := range tests {
		backoff := Backoff{Base: time.Second, Max: 30 * time.Second, JitterFactor: 0.5, Random: fixed(test.random)}
		if got := backoff.Delay(0); got != test.want {
			t.Errorf("Delay(0) with r=%v = %v, want %v", test.random, got, test.want)
		}
	}
}

func TestBackoffDefaultsToCenteredJitter(t *testing.T) {
	tests := []struct {
		random float64
		want   time.Duration
	}{
		{0, 500 * time.Millisecond},
		{0.5, 1000 * time.Millisecond},
		{1, 1500 * time.Millisecond},
	}
	for _, test := range tests {
		if got := (Backoff{Random: fixed(test.random)}).Delay(0); got != test.want {
			t.Errorf("zero-value Backoff Delay(0) with r=%v = %v, want %v", test.random, got, test.want)
		}
	}
}

func TestBackoffNoJitter(t *testing.T) {
	for _, random := range []float64{0, 0.5, 1} {
		backoff := Backoff{JitterFactor: NoJitter, Random: fixed(random)}
		if got := backoff.Delay(1); got != 2*time.Second {
			t.Errorf("Delay(1) with r=%v = %v, want 2s", random, got)
		}
	}
}

func TestBackoffExponentialAndCap(t *testing.T) {
	backoff := Backoff{Random: fixed(0.5)}
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for attempt, expected := range want {
		if got := backoff.Delay(attempt); got != expected {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, expected)
		}
	}
	for _, attempt := range []int{40, 62, 63, 1000} {
		if got := backoff.Delay(attempt); got != 30*time.Second {
			t.Errorf("Delay(%d) = %v, want the 30s cap", attempt, got)
		}
	}
}

func TestBackoffFloor(t *testing.T) {
	backoff := Backoff{Base: 10 * time.Millisecond, Max: time.Second, JitterFactor: 0.5, Random: fixed(0)}
	if got := backoff.Delay(0); got != 100*time.Millisecond {
		t.Errorf("Delay(0) = %v, want the 100ms floor", got)
	}
}

func TestBackoffDefaultRandomStaysInRange(t *testing.T) {
	var backoff Backoff
	for range 1000 {
		got := backoff.Delay(0)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("Delay(0) = %v, outside [500ms, 1500ms]", got)
		}
	}
}
