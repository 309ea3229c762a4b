// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/secret"
)

// GetOrCreateSession creates the session for request.Tag, or returns the
// existing one. dataKey accounts get a fresh data key per session.
func (c *Client) GetOrCreateSession(ctx context.Context, request SessionRequest) (*Session, error) {
	if err := c.checkDisposed(); err != nil {
		return nil, err
	}
	if request.Metadata == nil {
		return nil, fmt.Errorf("api: session metadata is required")
	}
	tag := request.Tag
	if tag == "" {
		tag = uuid.NewString()
	}

	dataKey, err := c.engine.RandomKey()
	if err != nil {
		return nil, err
	}
	defer secret.Zero(dataKey)
	cipher, dataEncryptionKey, err := c.objectCipher(dataKey)
	if err != nil {
		return nil, err
	}

	metadata, err := seal(cipher, request.Metadata)
	if err != nil {
		return nil, fmt.Errorf("api: encrypting session metadata: %w", err)
	}
	agentState, err := sealOptional(cipher, request.AgentState)
	if err != nil {
		return nil, fmt.Errorf("api: encrypting agent state: %w", err)
	}

	var response sessionResponse
	err = c.doRequest(ctx, http.MethodPost, "/v1/sessions", createSessionRequest{
		Tag:               tag,
		Metadata:          metadata,
		AgentState:        agentState,
		DataEncryptionKey: dataEncryptionKey,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("api: creating session: %w", err)
	}

	raw := response.Session
	if raw.ID == "" {
		return nil, fmt.Errorf("api: session response has no id")
	}
	session := &Session{
		ID:                raw.ID,
		Seq:               raw.Seq,
		Tag:               tag,
		Variant:           cipher.Variant(),
		Metadata:          openOptional(cipher, raw.Metadata, c.logger, "metadata"),
		MetadataVersion:   raw.MetadataVersion,
		AgentState:        openOptional(cipher, raw.AgentState, c.logger, "agentState"),
		AgentStateVersion: raw.AgentStateVersion,
		cipher:            cipher,
	}
	c.logger.Info("session ready",
		"session_id", session.ID,
		"tag", tag,
		"variant", session.Variant.String(),
		"metadata_version", session.MetadataVersion,
	)
	return session, nil
}
