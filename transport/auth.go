// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/secret"
)

// SocketPath is the relay's socket endpoint.
const SocketPath = "/v1/updates"

// ClientType scopes what the server routes to a connection.
type ClientType string

const (
	// SessionScoped connections receive updates for one session.
	SessionScoped ClientType = "session-scoped"
	// MachineScoped connections receive updates for one machine.
	MachineScoped ClientType = "machine-scoped"
	// UserScoped connections receive every update for the account.
	UserScoped ClientType = "user-scoped"
)

// Auth identifies the connection to the server.
type Auth struct {
	// Token is the bearer token. Borrowed; the caller keeps ownership.
	Token *secret.Buffer

	ClientType ClientType

	// SessionID is required for SessionScoped connections.
	SessionID string

	// MachineID is required for MachineScoped connections.
	MachineID string
}

// Validate checks that the scope has the identifiers it needs.
func (a Auth) Validate() error {
	if a.Token == nil || a.Token.Len() == 0 {
		return fmt.Errorf("transport: auth token is required")
	}
	switch a.ClientType {
	case SessionScoped:
		if a.SessionID == "" {
			return fmt.Errorf("transport: session-scoped connection requires a session ID")
		}
	case MachineScoped:
		if a.MachineID == "" {
			return fmt.Errorf("transport: machine-scoped connection requires a machine ID")
		}
	case UserScoped:
	default:
		return fmt.Errorf("transport: unknown client type %q", a.ClientType)
	}
	return nil
}

// Header returns the handshake headers.
func (a Auth) Header() http.Header {
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+a.Token.String())
	header.Set("X-Client-Type", string(a.ClientType))
	if a.SessionID != "" {
		header.Set("X-Session-Id", a.SessionID)
	}
	if a.MachineID != "" {
		header.Set("X-Machine-Id", a.MachineID)
	}
	return header
}

// SocketURL maps the server's base URL to its socket endpoint: https
// becomes wss and http becomes ws. Query strings and fragments are
// dropped so nothing sensitive can ride along in the URL.
func SocketURL(serverURL string) (string, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("transport: parsing server URL: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	case "wss", "ws":
	default:
		return "", fmt.Errorf("transport: unsupported server URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("transport: server URL %q has no host", serverURL)
	}
	parsed.Path = SocketPath
	parsed.RawPath = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil
	return parsed.String(), nil
}
