// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net/http"
)

// Conn is one established duplex connection carrying whole messages.
// Implementations must allow one concurrent reader alongside any
// number of concurrent writers.
type Conn interface {
	// ReadMessage blocks until the next message arrives. It returns an
	// error once the connection is closed from either side.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one message, giving up when ctx is done.
	WriteMessage(ctx context.Context, data []byte) error

	// Close tears the connection down. Idempotent.
	Close() error
}

// Dialer opens connections to the relay server.
type Dialer interface {
	// DialContext performs the handshake against url with the given
	// request headers.
	DialContext(ctx context.Context, url string, header http.Header) (Conn, error)
}
