// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
)

// MaxUpdateAttempts bounds how many times an update is recomputed after
// version mismatches before the mismatch is returned to the caller.
const MaxUpdateAttempts = 5

// UpdateResult classifies the server's answer to a versioned update.
type UpdateResult int

const (
	// UpdateSuccess means the new value was stored.
	UpdateSuccess UpdateResult = iota
	// UpdateVersionMismatch means another writer got there first and
	// retries ran out. The local copy holds the server's value.
	UpdateVersionMismatch
	// UpdateRejected means the server refused the update.
	UpdateRejected
)

func (r UpdateResult) String() string {
	switch r {
	case UpdateSuccess:
		return "success"
	case UpdateVersionMismatch:
		return "version-mismatch"
	case UpdateRejected:
		return "error"
	default:
		return fmt.Sprintf("UpdateResult(%d)", int(r))
	}
}

// UpdateOutcome reports how a versioned update ended.
type UpdateOutcome struct {
	Result UpdateResult

	// Version is the local version after the update.
	Version int64

	// Attempts is how many times the update was sent.
	Attempts int

	// Message is the server's explanation for UpdateRejected.
	Message string
}

// Mutator computes the next value from the current one, which is nil
// when no value is known. It may run several times if other writers
// race with this one.
type Mutator func(current json.RawMessage) (any, error)

// ackEmitter is the transport call a versioned update needs.
type ackEmitter interface {
	EmitWithAck(ctx context.Context, event string, data any) (json.RawMessage, error)
}

// versionedField is one encrypted value kept in sync with the server
// through optimistic concurrency.
type versionedField struct {
	event      string // socket event carrying updates
	idField    string // "sid" or "machineId"
	id         string
	valueField string // payload and ack field holding the value

	// updateMu serializes local updates. It is held across the ack
	// round trip, so it must never be taken on the socket's read path.
	updateMu sync.Mutex

	mu      sync.Mutex
	value   json.RawMessage
	version int64
}

func (f *versionedField) snapshot() (json.RawMessage, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.version
}

// store replaces the local copy if version is newer.
func (f *versionedField) store(value json.RawMessage, version int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if version <= f.version && f.value != nil {
		return false
	}
	f.value = value
	f.version = version
	return true
}

// applyRemote takes a value pushed by the server.
func (f *versionedField) applyRemote(cipher encryption.Cipher, update *versionedString, logger *slog.Logger) {
	if update == nil {
		return
	}
	value := openOptional(cipher, update.Value, logger, f.valueField)
	if f.store(value, update.Version) {
		logger.Debug("applied server update", "field", f.valueField, "version", update.Version)
	}
}

type versionedAck struct {
	Result  string `json:"result"`
	Version int64  `json:"version"`
	Message string `json:"message"`
}

// update runs mutate against the current value and sends the result,
// recomputing on version mismatch up to MaxUpdateAttempts times.
// Transport, encoding and cipher failures are errors; everything the
// server says is an outcome.
func (f *versionedField) update(ctx context.Context, emitter ackEmitter, cipher encryption.Cipher, mutate Mutator, logger *slog.Logger) (UpdateOutcome, error) {
	f.updateMu.Lock()
	defer f.updateMu.Unlock()

	outcome := UpdateOutcome{}
	for outcome.Attempts < MaxUpdateAttempts {
		current, version := f.snapshot()
		next, err := mutate(current)
		if err != nil {
			return outcome, err
		}
		plaintext, err := json.Marshal(next)
		if err != nil {
			return outcome, fmt.Errorf("api: encoding %s: %w", f.valueField, err)
		}
		encoded, err := seal(cipher, json.RawMessage(plaintext))
		if err != nil {
			return outcome, fmt.Errorf("api: encrypting %s: %w", f.valueField, err)
		}

		outcome.Attempts++
		raw, err := emitter.EmitWithAck(ctx, f.event, map[string]any{
			f.idField:         f.id,
			"expectedVersion": version,
			f.valueField:      encoded,
		})
		if err != nil {
			return outcome, fmt.Errorf("api: %s: %w", f.event, err)
		}

		var ack versionedAck
		if err := json.Unmarshal(raw, &ack); err != nil {
			return outcome, fmt.Errorf("api: %s: malformed ack: %w", f.event, err)
		}

		switch ack.Result {
		case "success":
			f.mu.Lock()
			f.value = plaintext
			f.version = ack.Version
			f.mu.Unlock()
			outcome.Result = UpdateSuccess
			outcome.Version = ack.Version
			return outcome, nil

		case "version-mismatch":
			var serverValue *string
			var fields map[string]json.RawMessage
			if json.Unmarshal(raw, &fields) == nil {
				var encodedValue string
				if json.Unmarshal(fields[f.valueField], &encodedValue) == nil {
					serverValue = &encodedValue
				}
			}
			f.mu.Lock()
			f.value = openOptional(cipher, serverValue, logger, f.valueField)
			f.version = ack.Version
			f.mu.Unlock()
			logger.Debug("version mismatch, recomputing update",
				"event", f.event,
				"expected", version,
				"server", ack.Version,
				"attempt", outcome.Attempts,
			)

		case "error":
			outcome.Result = UpdateRejected
			outcome.Message = ack.Message
			outcome.Version = version
			logger.Warn("server rejected update", "event", f.event, "message", ack.Message)
			return outcome, nil

		default:
			return outcome, fmt.Errorf("api: %s: unknown ack result %q", f.event, ack.Result)
		}
	}

	_, outcome.Version = f.snapshot()
	outcome.Result = UpdateVersionMismatch
	logger.Warn("update abandoned after repeated version mismatches",
		"event", f.event,
		"attempts", outcome.Attempts,
	)
	return outcome, nil
}
