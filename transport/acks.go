// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/clock"
)

// DefaultAckTimeout bounds EmitWithAck when no timeout is configured.
const DefaultAckTimeout = 5 * time.Second

type ackResult struct {
	data json.RawMessage
	err  error
}

type pendingAck struct {
	event     string
	createdAt time.Time
	timeout   time.Duration
	timer     *clock.Timer
	result    chan ackResult // buffered, receives exactly once
}

// ackTracker owns in-flight acknowledgments keyed by frame id.
type ackTracker struct {
	clock clock.Clock

	mu      sync.Mutex
	pending map[string]*pendingAck
}

func newAckTracker(c clock.Clock) *ackTracker {
	return &ackTracker{clock: c, pending: make(map[string]*pendingAck)}
}

// register starts tracking id and arms its timeout, which must be
// positive.
func (t *ackTracker) register(id, event string, timeout time.Duration) *pendingAck {
	entry := &pendingAck{
		event:     event,
		createdAt: t.clock.Now(),
		timeout:   timeout,
		result:    make(chan ackResult, 1),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[id] = entry
	entry.timer = t.clock.AfterFunc(timeout, func() {
		t.finish(id, ackResult{err: &AckTimeoutError{Event: event, Timeout: timeout}})
	})
	return entry
}

// finish settles id if it is still pending. It reports whether it did.
func (t *ackTracker) finish(id string, result ackResult) bool {
	t.mu.Lock()
	entry, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.result <- result
	return true
}

// abandon drops id without delivering a result.
func (t *ackTracker) abandon(id string) {
	t.mu.Lock()
	entry, ok := t.pending[id]
	delete(t.pending, id)
	t.mu.Unlock()
	if ok && entry.timer != nil {
		entry.timer.Stop()
	}
}

// failAll settles every pending ack with err.
func (t *ackTracker) failAll(err error) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		t.finish(id, ackResult{err: err})
	}
}

// sweep settles every ack older than its timeout with a timeout error
// and returns how many it removed.
func (t *ackTracker) sweep() int {
	now := t.clock.Now()
	t.mu.Lock()
	var stale []string
	for id, entry := range t.pending {
		if now.Sub(entry.createdAt) >= entry.timeout {
			stale = append(stale, id)
		}
	}
	t.mu.Unlock()

	removed := 0
	for _, id := range stale {
		t.mu.Lock()
		entry := t.pending[id]
		t.mu.Unlock()
		if entry == nil {
			continue
		}
		if t.finish(id, ackResult{err: &AckTimeoutError{Event: entry.event, Timeout: entry.timeout}}) {
			removed++
		}
	}
	return removed
}

func (t *ackTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
