// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
	"github.com/Enflame-Media/Magic-Agent-sub008/transport"
)

// SessionClient keeps one session in sync over a session-scoped socket.
type SessionClient struct {
	client     *Client
	id         string
	cipher     encryption.Cipher
	socket     *transport.Client
	stopSocket func()
	logger     *slog.Logger

	metadata   *versionedField
	agentState *versionedField

	closeOnce sync.Once
	closeErr  error
}

// OpenSession connects a socket for session. The session's current
// values and versions seed the local copy.
func (c *Client) OpenSession(session *Session) (*SessionClient, error) {
	if err := c.checkDisposed(); err != nil {
		return nil, err
	}
	if session == nil || session.cipher == nil {
		return nil, fmt.Errorf("api: OpenSession requires a session returned by GetOrCreateSession")
	}

	socket, err := c.newSocket(transport.Auth{ClientType: transport.SessionScoped, SessionID: session.ID})
	if err != nil {
		return nil, err
	}
	sessionClient := &SessionClient{
		client: c,
		id:     session.ID,
		cipher: session.cipher,
		socket: socket,
		logger: c.logger.With("session_id", session.ID),
		metadata: &versionedField{
			event:      "update-metadata",
			idField:    "sid",
			id:         session.ID,
			valueField: "metadata",
			value:      session.Metadata,
			version:    session.MetadataVersion,
		},
		agentState: &versionedField{
			event:      "update-state",
			idField:    "sid",
			id:         session.ID,
			valueField: "agentState",
			value:      session.AgentState,
			version:    session.AgentStateVersion,
		},
	}
	socket.On("update", transport.NewHandler(sessionClient.handleUpdate))

	sessionClient.stopSocket, err = c.startSocket(socket, func() error { return c.track(sessionClient) })
	if err != nil {
		return nil, err
	}
	return sessionClient, nil
}

func (s *SessionClient) handleUpdate(event transport.Event) {
	var envelope updateEnvelope
	if err := json.Unmarshal(event.Data, &envelope); err != nil {
		s.logger.Warn("ignoring malformed update", "error", err)
		return
	}
	var kind updateBodyType
	if err := json.Unmarshal(envelope.Body, &kind); err != nil || kind.T != updateTypeSession {
		return
	}
	var body updateSessionBody
	if err := json.Unmarshal(envelope.Body, &body); err != nil {
		s.logger.Warn("ignoring malformed session update", "seq", envelope.Seq, "error", err)
		return
	}
	if body.ID != s.id {
		return
	}
	s.metadata.applyRemote(s.cipher, body.Metadata, s.logger)
	s.agentState.applyRemote(s.cipher, body.AgentState, s.logger)
}

// ID returns the session ID.
func (s *SessionClient) ID() string { return s.id }

// Transport returns the session's socket, for diagnostics.
func (s *SessionClient) Transport() *transport.Client { return s.socket }

// Metadata returns the local copy of the metadata and its version.
func (s *SessionClient) Metadata() (json.RawMessage, int64) { return s.metadata.snapshot() }

// AgentState returns the local copy of the agent state and its version.
func (s *SessionClient) AgentState() (json.RawMessage, int64) { return s.agentState.snapshot() }

// UpdateMetadata applies mutate to the metadata with optimistic
// concurrency. Updates from one SessionClient are serialized.
func (s *SessionClient) UpdateMetadata(ctx context.Context, mutate Mutator) (UpdateOutcome, error) {
	return s.metadata.update(ctx, s.socket, s.cipher, mutate, s.logger)
}

// UpdateAgentState applies mutate to the agent state.
func (s *SessionClient) UpdateAgentState(ctx context.Context, mutate Mutator) (UpdateOutcome, error) {
	return s.agentState.update(ctx, s.socket, s.cipher, mutate, s.logger)
}

// KeepAlive tells the server the session is alive and whether the agent
// is busy.
func (s *SessionClient) KeepAlive(ctx context.Context, thinking bool, mode string) error {
	return s.socket.Emit(ctx, "session-alive", map[string]any{
		"sid":      s.id,
		"time":     s.client.clock.Now().UnixMilli(),
		"thinking": thinking,
		"mode":     mode,
	})
}

// SendMessage encrypts content and posts it to the session.
func (s *SessionClient) SendMessage(ctx context.Context, content any) error {
	encoded, err := seal(s.cipher, content)
	if err != nil {
		return fmt.Errorf("api: encrypting message: %w", err)
	}
	return s.socket.Emit(ctx, "message", map[string]any{
		"sid":     s.id,
		"localId": uuid.NewString(),
		"message": encryptedEnvelope{T: "encrypted", C: encoded},
	})
}

// Close announces the end of the session and closes the socket. The
// announcement is best-effort: a socket that is down is not an error.
// Idempotent.
func (s *SessionClient) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		err := s.socket.Emit(ctx, "session-end", map[string]any{
			"sid":  s.id,
			"time": s.client.clock.Now().UnixMilli(),
		})
		if err != nil && !errors.Is(err, transport.ErrNotConnected) && !errors.Is(err, transport.ErrClosed) {
			s.closeErr = fmt.Errorf("api: announcing end of session %s: %w", s.id, err)
		}
		s.stopSocket()
		s.client.untrack(s)
		s.logger.Info("session closed")
	})
	return s.closeErr
}
