// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/clock"
)

// Notifier hears about connectivity changes.
type Notifier interface {
	// ConnectionLost is called once per outage.
	ConnectionLost(err error)

	// ConnectionRestored is called once per outage that was reported
	// through ConnectionLost.
	ConnectionRestored(outage time.Duration)
}

// LogNotifier reports connectivity through a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func (n LogNotifier) ConnectionLost(err error) {
	n.logger().Warn("lost connection to relay server, reconnecting", "error", err)
}

func (n LogNotifier) ConnectionRestored(outage time.Duration) {
	n.logger().Info("reconnected to relay server", "outage", outage)
}

// connectivity collapses a stream of connect/disconnect observations
// into at most one notification per outage. Failures before the first
// successful connection are not outages and stay silent.
type connectivity struct {
	notifier Notifier
	clock    clock.Clock

	mu              sync.Mutex
	connectedBefore bool
	warned          bool
	lostAt          time.Time
}

func (c *connectivity) connected() {
	c.mu.Lock()
	first := !c.connectedBefore
	c.connectedBefore = true
	if first || !c.warned {
		c.mu.Unlock()
		return
	}
	c.warned = false
	outage := c.clock.Now().Sub(c.lostAt)
	c.mu.Unlock()
	c.notifier.ConnectionRestored(outage)
}

func (c *connectivity) disconnected(err error) {
	c.mu.Lock()
	if !c.connectedBefore || c.warned {
		c.mu.Unlock()
		return
	}
	c.warned = true
	c.lostAt = c.clock.Now()
	c.mu.Unlock()
	c.notifier.ConnectionLost(err)
}
