// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock lets timer-driven code run against either the wall clock
// or a manually advanced fake.
//
// Everything in this module that waits (reconnect backoff, acknowledgment
// deadlines, the deduplicator's safety net, keep-alive tickers, key
// auto-rotation) holds a Clock instead of calling the time package. The
// daemon passes Real(); tests pass Fake(start) and drive time with
// Advance:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	client := transport.New(transport.Config{Clock: fake, ...})
//	fake.WaitForTimers(1)       // the reconnect loop has scheduled its delay
//	fake.Advance(time.Second)   // and now it fires
//
// WaitForTimers closes the race between a goroutine arming a timer and
// the test advancing past it.
package clock
