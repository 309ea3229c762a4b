// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// recorder captures Fatalf without stopping the goroutine, then panics
// to unwind like runtime.Goexit would.
type recorder struct {
	message string
}

type fatalSignal struct{}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.message = fmt.Sprintf(format, args...)
	panic(fatalSignal{})
}

func expectFatal(t *testing.T, want string, fn func(r *recorder)) {
	t.Helper()
	r := &recorder{}
	func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				if _, ok := recovered.(fatalSignal); !ok {
					panic(recovered)
				}
			}
		}()
		fn(r)
	}()
	if !strings.Contains(r.message, want) {
		t.Errorf("Fatalf message = %q, want substring %q", r.message, want)
	}
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second, "buffered value"); got != 7 {
		t.Errorf("RequireReceive = %d, want 7", got)
	}

	expectFatal(t, "timed out", func(r *recorder) {
		RequireReceive(r, make(chan int), time.Millisecond, "nothing sent")
	})

	closed := make(chan int)
	close(closed)
	expectFatal(t, "channel closed", func(r *recorder) {
		RequireReceive(r, closed, time.Second, "closed %s", "channel")
	})
}

func TestRequireNoReceive(t *testing.T) {
	RequireNoReceive(t, make(chan string), time.Millisecond, "silent channel")

	ch := make(chan string, 1)
	ch <- "surprise"
	expectFatal(t, "unexpected value surprise", func(r *recorder) {
		RequireNoReceive(r, ch, time.Second)
	})
}

func TestRequireSendAndClosed(t *testing.T) {
	ch := make(chan string, 1)
	RequireSend(t, ch, "hello", time.Second)
	if got := <-ch; got != "hello" {
		t.Errorf("received %q, want hello", got)
	}

	done := make(chan struct{})
	close(done)
	RequireClosed(t, done, time.Second, "already closed")

	expectFatal(t, "waiting for channel close", func(r *recorder) {
		RequireClosed(r, make(chan struct{}), time.Millisecond)
	})
}

func TestUniqueID(t *testing.T) {
	first := UniqueID("machine")
	second := UniqueID("machine")
	if first == second {
		t.Errorf("UniqueID returned %q twice", first)
	}
	if !strings.HasPrefix(first, "machine-") {
		t.Errorf("UniqueID = %q, want machine- prefix", first)
	}
}
