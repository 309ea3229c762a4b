// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
)

// MaxHandlersPerEvent caps the handlers registered for one event name.
const MaxHandlersPerEvent = 100

// handlerWarnThreshold is 90% of MaxHandlersPerEvent.
const handlerWarnThreshold = MaxHandlersPerEvent * 9 / 10

// Event is one inbound event delivered to handlers.
type Event struct {
	Name string
	Data json.RawMessage

	reply func(data any) error
}

// WantsReply reports whether the sender asked for an ack.
func (e Event) WantsReply() bool { return e.reply != nil }

// Reply sends the ack for an event that asked for one. Only the first
// handler to reply is heard; the server discards later acks.
func (e Event) Reply(data any) error {
	if e.reply == nil {
		return nil
	}
	return e.reply(data)
}

// Handler wraps an event callback. Registration is keyed by the
// *Handler pointer, so keep the pointer to unregister.
type Handler struct {
	fn func(Event)
}

// NewHandler wraps fn.
func NewHandler(fn func(Event)) *Handler {
	return &Handler{fn: fn}
}

type registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]*Handler
}

func newRegistry(logger *slog.Logger) *registry {
	return &registry{logger: logger, handlers: make(map[string][]*Handler)}
}

// add registers handler for event. Re-adding a registered handler is a
// no-op that reports true. Adding past the cap reports false.
func (r *registry) add(event string, handler *Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.handlers[event]
	if slices.Contains(current, handler) {
		return true
	}
	if len(current) >= MaxHandlersPerEvent {
		r.logger.Warn("handler limit reached, registration refused",
			"event", event,
			"limit", MaxHandlersPerEvent,
		)
		return false
	}
	r.handlers[event] = append(current, handler)
	if len(current)+1 == handlerWarnThreshold {
		r.logger.Warn("handler count approaching limit, possible leak",
			"event", event,
			"count", handlerWarnThreshold,
			"limit", MaxHandlersPerEvent,
		)
	}
	return true
}

// remove unregisters handler. Removing an unknown handler is a no-op.
func (r *registry) remove(event string, handler *Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.handlers[event]
	index := slices.Index(current, handler)
	if index < 0 {
		return false
	}
	current = slices.Delete(current, index, index+1)
	if len(current) == 0 {
		delete(r.handlers, event)
	} else {
		r.handlers[event] = current
	}
	return true
}

// removeAll clears the named events, or everything when none are named.
func (r *registry) removeAll(events ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(events) == 0 {
		clear(r.handlers)
		return
	}
	for _, event := range events {
		delete(r.handlers, event)
	}
}

// snapshot returns the handlers for event in registration order.
func (r *registry) snapshot(event string) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.handlers[event])
}

func (r *registry) counts() (total, eventTypes int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, handlers := range r.handlers {
		total += len(handlers)
	}
	return total, len(r.handlers)
}

// dispatch runs every handler for event in order. A panicking handler
// is logged and does not stop the others.
func (r *registry) dispatch(event Event) int {
	handlers := r.snapshot(event.Name)
	for _, handler := range handlers {
		r.call(handler, event)
	}
	return len(handlers)
}

func (r *registry) call(handler *Handler, event Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("event handler panicked", "event", event.Name, "panic", recovered)
		}
	}()
	handler.fn(event)
}
