// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
)

// Session is a session as last returned by the server, decrypted.
// Metadata and AgentState are plaintext JSON, nil when absent or when
// they could not be decrypted.
type Session struct {
	ID                string
	Seq               int64
	Tag               string
	Variant           encryption.Variant
	Metadata          json.RawMessage
	MetadataVersion   int64
	AgentState        json.RawMessage
	AgentStateVersion int64

	cipher encryption.Cipher
}

// Machine is a registered machine as returned by the server, decrypted.
type Machine struct {
	ID                 string
	Variant            encryption.Variant
	Metadata           json.RawMessage
	MetadataVersion    int64
	DaemonState        json.RawMessage
	DaemonStateVersion int64
	Active             bool

	cipher encryption.Cipher
}

// SessionRequest describes the session to create. Metadata and
// AgentState are encoded as JSON and encrypted before they are sent.
type SessionRequest struct {
	// Tag identifies the session across retries. Empty means a fresh
	// random tag.
	Tag        string
	Metadata   any
	AgentState any
}

// MachineRequest describes the machine to register.
type MachineRequest struct {
	ID          string
	Metadata    any
	DaemonState any
}

type createSessionRequest struct {
	Tag               string  `json:"tag"`
	Metadata          string  `json:"metadata"`
	AgentState        *string `json:"agentState"`
	DataEncryptionKey *string `json:"dataEncryptionKey"`
}

type sessionResponse struct {
	Session struct {
		ID                string  `json:"id"`
		Seq               int64   `json:"seq"`
		Metadata          *string `json:"metadata"`
		MetadataVersion   int64   `json:"metadataVersion"`
		AgentState        *string `json:"agentState"`
		AgentStateVersion int64   `json:"agentStateVersion"`
	} `json:"session"`
}

type createMachineRequest struct {
	ID                string  `json:"id"`
	Metadata          string  `json:"metadata"`
	DaemonState       *string `json:"daemonState,omitempty"`
	DataEncryptionKey *string `json:"dataEncryptionKey,omitempty"`
}

type machineResponse struct {
	Machine struct {
		ID                 string  `json:"id"`
		Metadata           *string `json:"metadata"`
		MetadataVersion    int64   `json:"metadataVersion"`
		DaemonState        *string `json:"daemonState"`
		DaemonStateVersion int64   `json:"daemonStateVersion"`
		Active             bool    `json:"active"`
	} `json:"machine"`
}

// versionedString is an encrypted value with its version, as carried in
// server update events.
type versionedString struct {
	Value   *string `json:"value"`
	Version int64   `json:"version"`
}

// updateEnvelope is the body of the server's "update" event.
type updateEnvelope struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Body      json.RawMessage `json:"body"`
	CreatedAt int64           `json:"createdAt"`
}

type updateBodyType struct {
	T string `json:"t"`
}

type updateSessionBody struct {
	ID         string           `json:"id"`
	Metadata   *versionedString `json:"metadata"`
	AgentState *versionedString `json:"agentState"`
}

type updateMachineBody struct {
	MachineID   string           `json:"machineId"`
	Metadata    *versionedString `json:"metadata"`
	DaemonState *versionedString `json:"daemonState"`
}

// Update body discriminators.
const (
	updateTypeSession = "update-session"
	updateTypeMachine = "update-machine"
	updateTypeKVBatch = "kv-batch-update"
)

// encryptedEnvelope wraps message ciphertext.
type encryptedEnvelope struct {
	T string `json:"t"`
	C string `json:"c"`
}
