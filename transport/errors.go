// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned by sends while no socket is up.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAckTimeout is matched by every AckTimeoutError.
	ErrAckTimeout = errors.New("transport: acknowledgment timed out")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: client closed")
)

// AckTimeoutError reports an event whose ack did not arrive in time.
type AckTimeoutError struct {
	Event   string
	Timeout time.Duration
}

func (e *AckTimeoutError) Error() string {
	return fmt.Sprintf("transport: no acknowledgment for %q within %v", e.Event, e.Timeout)
}

// Is makes errors.Is(err, ErrAckTimeout) hold.
func (e *AckTimeoutError) Is(target error) bool {
	return target == ErrAckTimeout
}

// HandshakeError is a rejected socket handshake.
type HandshakeError struct {
	StatusCode int
	Body       string
}

func (e *HandshakeError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("transport: handshake rejected with HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("transport: handshake rejected with HTTP %d: %s", e.StatusCode, e.Body)
}
