// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dedup coalesces concurrent requests for the same key into one
// in-flight operation.
//
// The first caller for a key starts the operation; callers that arrive
// while it is running attach to it and receive the same value or error.
// The slot is removed when the operation settles, or when a safety-net
// timeout expires so that a hung operation cannot block the key
// forever. Once a slot is gone, the next caller starts a fresh
// operation.
//
// Execution is delegated to golang.org/x/sync/singleflight. Each slot
// gets its own singleflight key, so a slot that expired or was cleared
// can never be joined again, while waiters already attached to it still
// receive its outcome.
package dedup

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/clock"
)

// DefaultTimeout is the safety-net lifetime of a slot.
const DefaultTimeout = 30 * time.Second

// Config configures a Deduplicator. The zero value is usable.
type Config struct {
	// Timeout bounds how long a slot may stay joinable. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// OnDeduplicated is called with the key each time a caller attaches
	// to an existing slot instead of starting a new operation.
	OnDeduplicated func(key string)
}

// Deduplicator coalesces operations returning T. It is safe for
// concurrent use.
type Deduplicator[T any] struct {
	timeout        time.Duration
	clock          clock.Clock
	logger         *slog.Logger
	onDeduplicated func(string)

	group singleflight.Group

	mu         sync.Mutex
	pending    map[string]*slot
	generation uint64
}

type slot struct {
	callKey   string
	createdAt time.Time
	timer     *clock.Timer
}

// New returns a Deduplicator.
func New[T any](config Config) *Deduplicator[T] {
	d := &Deduplicator[T]{
		timeout:        config.Timeout,
		clock:          config.Clock,
		logger:         config.Logger,
		onDeduplicated: config.OnDeduplicated,
		pending:        make(map[string]*slot),
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Do runs factory for key unless an operation for key is already in
// flight, in which case it waits for that operation's outcome.
//
// The factory runs on a context detached from ctx's cancellation, so a
// caller that gives up does not abort the work other callers share.
// Canceling ctx only stops this caller from waiting.
func (d *Deduplicator[T]) Do(ctx context.Context, key string, factory func(context.Context) (T, error)) (T, error) {
	detached := context.WithoutCancel(ctx)

	d.mu.Lock()
	current, joined := d.pending[key]
	if !joined {
		d.generation++
		current = &slot{
			callKey:   key + "\x00" + strconv.FormatUint(d.generation, 10),
			createdAt: d.clock.Now(),
		}
		d.pending[key] = current
		expiring := current
		current.timer = d.clock.AfterFunc(d.timeout, func() { d.expire(key, expiring) })
	}
	owner := current
	// DoChan only registers the call; the operation itself runs on a
	// separate goroutine and settles under mu, so holding mu here
	// guarantees a joinable slot's singleflight call is still live.
	results := d.group.DoChan(current.callKey, func() (any, error) {
		defer d.settle(key, owner)
		return factory(detached)
	})
	d.mu.Unlock()

	if joined {
		d.logger.Debug("request deduplicated", "key", key)
		if d.onDeduplicated != nil {
			d.onDeduplicated(key)
		}
	}

	select {
	case result := <-results:
		value, _ := result.Val.(T)
		return value, result.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (d *Deduplicator[T]) settle(key string, finished *slot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[key] == finished {
		delete(d.pending, key)
	}
	finished.timer.Stop()
}

func (d *Deduplicator[T]) expire(key string, expired *slot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[key] != expired {
		return
	}
	delete(d.pending, key)
	d.group.Forget(expired.callKey)
	d.logger.Warn("deduplication slot expired before settling",
		"key", key,
		"age", d.clock.Now().Sub(expired.createdAt),
	)
}

// Clear drops every slot. Operations already running continue and
// their current waiters still receive the outcome, but new callers
// start fresh operations.
func (d *Deduplicator[T]) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, pending := range d.pending {
		pending.timer.Stop()
		d.group.Forget(pending.callKey)
	}
	clear(d.pending)
}

// Pending returns the number of joinable slots.
func (d *Deduplicator[T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// InFlight reports whether key has a joinable slot.
func (d *Deduplicator[T]) InFlight(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}
