// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// It is safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. A callback must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*alarm
	changed *sync.Cond
}

// alarm is one armed After, AfterFunc, or ticker registration.
type alarm struct {
	at       time.Time
	period   time.Duration // non-zero for tickers
	channel  chan time.Time
	callback func()
	done     bool // stopped, or a one-shot that already fired
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	fake := &FakeClock{now: start}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once the clock has advanced by d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	channel := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.armLocked(&alarm{at: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc schedules f to run inside the Advance call that crosses d.
// A non-positive d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}
	c.mu.Lock()
	entry := &alarm{at: c.now.Add(d), callback: f}
	c.armLocked(entry)
	c.mu.Unlock()
	return &Timer{stop: func() bool { return c.disarm(entry) }}
}

// NewTicker returns a ticker that fires once per period of advanced time.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: NewTicker requires a positive period")
	}
	channel := make(chan time.Time, 1)
	c.mu.Lock()
	entry := &alarm{at: c.now.Add(d), period: d, channel: channel}
	c.armLocked(entry)
	c.mu.Unlock()
	return &Ticker{C: channel, stop: func() { c.disarm(entry) }}
}

// Advance moves the clock forward by d, firing every alarm whose
// deadline is reached. Tickers fire once per elapsed period.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, entry := range due {
			if entry.callback != nil {
				entry.callback()
				continue
			}
			select {
			case entry.channel <- target:
			default:
			}
		}
	}
}

// WaitForTimers blocks until at least n alarms are armed.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.armedLocked() < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed alarms.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armedLocked()
}

func (c *FakeClock) armLocked(entry *alarm) {
	c.pending = append(c.pending, entry)
	c.changed.Broadcast()
}

func (c *FakeClock) disarm(entry *alarm) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry.done {
		return false
	}
	entry.done = true
	return true
}

func (c *FakeClock) armedLocked() int {
	count := 0
	for _, entry := range c.pending {
		if !entry.done {
			count++
		}
	}
	return count
}

// takeDue removes and returns the alarms due at or before target,
// sorted by deadline. Tickers are re-armed one period later.
func (c *FakeClock) takeDue(target time.Time) []*alarm {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, keep []*alarm
	for _, entry := range c.pending {
		switch {
		case entry.done:
		case entry.at.After(target):
			keep = append(keep, entry)
		default:
			due = append(due, entry)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, entry := range due {
		if entry.period > 0 {
			entry.at = entry.at.Add(entry.period)
			keep = append(keep, entry)
		} else {
			entry.done = true
		}
	}
	c.pending = keep
	return due
}
