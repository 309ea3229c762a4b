// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"fmt"
)

const (
	frameEvent = "event"
	frameAck   = "ack"
)

// frame is the JSON envelope of every socket message.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(kind, event, id string, data any) ([]byte, error) {
	var payload json.RawMessage
	switch value := data.(type) {
	case nil:
	case json.RawMessage:
		payload = value
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("transport: encoding %q payload: %w", event, err)
		}
		payload = encoded
	}
	return json.Marshal(frame{Type: kind, Event: event, ID: id, Data: payload})
}

func decodeFrame(message []byte) (frame, error) {
	var decoded frame
	if err := json.Unmarshal(message, &decoded); err != nil {
		return frame{}, fmt.Errorf("transport: malformed frame: %w", err)
	}
	switch decoded.Type {
	case frameEvent:
		if decoded.Event == "" {
			return frame{}, fmt.Errorf("transport: event frame without a name")
		}
	case frameAck:
		if decoded.ID == "" {
			return frame{}, fmt.Errorf("transport: ack frame without an id")
		}
	default:
		return frame{}, fmt.Errorf("transport: unknown frame type %q", decoded.Type)
	}
	return decoded, nil
}
