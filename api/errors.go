// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"errors"
	"fmt"
)

// ErrDisposed is returned by every operation after Dispose.
var ErrDisposed = errors.New("api: client disposed")

// APIError is a non-2xx response from the relay server.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	// Body is the start of the response body, for diagnostics.
	Body string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api: %s %s returned HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("api: %s %s returned HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// ReassociationError means the machine ID is registered to a different
// account. It is never retried: the local machine identity has to be
// reset before the daemon can register again.
type ReassociationError struct {
	MachineID  string
	StatusCode int
}

func (e *ReassociationError) Error() string {
	return fmt.Sprintf("api: machine %q is registered to another account (HTTP %d); "+
		"run 'happy doctor clean' to reset this machine's identity, then log in again",
		e.MachineID, e.StatusCode)
}

// IsStatus reports whether err is an *APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == status
	}
	return false
}
