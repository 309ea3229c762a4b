// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds HTTP and connection helpers shared by the REST
// sync client and the socket transport.
//
// Response helpers bound every body read at [MaxResponseSize] so a
// misbehaving relay cannot exhaust memory. [ErrorBody] further trims
// bodies to [MaxErrorBodySize] for use in error messages.
// [IsExpectedCloseError] classifies errors seen during normal
// connection teardown.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds JSON API response reads. Session and machine
// payloads are small encrypted blobs; 16 MB leaves generous room.
const MaxResponseSize int64 = 16 << 20

// MaxErrorBodySize bounds the body text carried inside error values.
const MaxErrorBodySize = 1024

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body (up to MaxResponseSize bytes)
// and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// ErrorBody reads an error response body for diagnostics, truncated to
// MaxErrorBodySize. Read errors are ignored; a partial body is still
// useful in a message.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, MaxErrorBodySize+1))
	if len(data) > MaxErrorBodySize {
		return string(data[:MaxErrorBodySize]) + "...(truncated)"
	}
	return string(data)
}
