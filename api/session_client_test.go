// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/testutil"
	"github.com/Enflame-Media/Magic-Agent-sub008/transport"
)

// wireFrame mirrors the socket envelope as the relay sees it.
type wireFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func receiveFrame(t *testing.T, peer *transport.MemoryPeer) wireFrame {
	t.Helper()
	message := testutil.RequireReceive(t, peer.Received(), waitTimeout, "waiting for client frame")
	var decoded wireFrame
	if err := json.Unmarshal(message, &decoded); err != nil {
		t.Fatalf("client sent an invalid frame %s: %v", message, err)
	}
	return decoded
}

func sendFrame(t *testing.T, peer *transport.MemoryPeer, frame wireFrame) {
	t.Helper()
	message, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("encoding frame: %v", err)
	}
	if !peer.Send(message) {
		t.Fatal("peer connection closed")
	}
}

func sendAck(t *testing.T, peer *transport.MemoryPeer, id string, data any) {
	t.Helper()
	encoded, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("encoding ack: %v", err)
	}
	sendFrame(t, peer, wireFrame{Type: "ack", ID: id, Data: encoded})
}

func sendUpdate(t *testing.T, peer *transport.MemoryPeer, seq int64, body any) {
	t.Helper()
	encodedBody, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encoding update body: %v", err)
	}
	data, err := json.Marshal(updateEnvelope{ID: "upd", Seq: seq, Body: encodedBody, CreatedAt: testStart.UnixMilli()})
	if err != nil {
		t.Fatalf("encoding update: %v", err)
	}
	sendFrame(t, peer, wireFrame{Type: "event", Event: "update", Data: data})
}

func sealForTest(t *testing.T, cipher encryption.Cipher, value any) string {
	t.Helper()
	encoded, err := seal(cipher, value)
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}
	return encoded
}

func decodeData(t *testing.T, frame wireFrame) map[string]json.RawMessage {
	t.Helper()
	var data map[string]json.RawMessage
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		t.Fatalf("%s payload %s: %v", frame.Event, frame.Data, err)
	}
	return data
}

type sessionFixture struct {
	env    *testEnv
	client *SessionClient
	peer   *transport.MemoryPeer
	cipher encryption.Cipher
	// updates fires after the session has processed each "update" event.
	updates chan struct{}
}

func openTestSession(t *testing.T) *sessionFixture {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", echoSessions)
	env := newTestEnv(t, legacyCredentials(t), mux, nil)

	session, err := env.client.GetOrCreateSession(context.Background(), SessionRequest{
		Tag:      "tag-1",
		Metadata: map[string]string{"path": "/work"},
	})
	if err != nil {
		t.Fatalf("GetOrCreateSession() error: %v", err)
	}
	client, err := env.client.OpenSession(session)
	if err != nil {
		t.Fatalf("OpenSession() error: %v", err)
	}
	fixture := &sessionFixture{
		env:     env,
		client:  client,
		cipher:  legacyServerCipher(t),
		updates: make(chan struct{}, 8),
	}
	// Handlers run in registration order, so this one observes the
	// session's own handler having finished.
	client.Transport().On("update", transport.NewHandler(func(transport.Event) { fixture.updates <- struct{}{} }))

	fixture.peer = env.accept(t)
	testutil.RequireClosed(t, client.Transport().Ready(), waitTimeout, "session socket never connected")
	return fixture
}

type updateCall struct {
	outcome UpdateOutcome
	err     error
}

func (f *sessionFixture) updateMetadataAsync(mutate Mutator) chan updateCall {
	done := make(chan updateCall, 1)
	go func() {
		outcome, err := f.client.UpdateMetadata(context.Background(), mutate)
		done <- updateCall{outcome, err}
	}()
	return done
}

func setField(name, value string) Mutator {
	return func(current json.RawMessage) (any, error) {
		fields := map[string]any{}
		if current != nil {
			if err := json.Unmarshal(current, &fields); err != nil {
				return nil, err
			}
		}
		fields[name] = value
		return fields, nil
	}
}

func TestOpenSessionHandshake(t *testing.T) {
	fixture := openTestSession(t)
	if got := fixture.peer.Header.Get("X-Client-Type"); got != "session-scoped" {
		t.Errorf("X-Client-Type = %q", got)
	}
	if got := fixture.peer.Header.Get("X-Session-Id"); got != "sess-1" {
		t.Errorf("X-Session-Id = %q", got)
	}
	if got := fixture.peer.Header.Get("Authorization"); got != "Bearer tok-123" {
		t.Errorf("Authorization = %q", got)
	}
	value, version := fixture.client.Metadata()
	if string(value) != `{"path":"/work"}` || version != 1 {
		t.Errorf("Metadata() = %s v%d", value, version)
	}
	if _, err := fixture.env.client.OpenSession(&Session{ID: "made-up"}); err == nil {
		t.Error("OpenSession() accepted a session without a cipher")
	}
}

func TestUpdateMetadataRetriesOnVersionMismatch(t *testing.T) {
	fixture := openTestSession(t)
	done := fixture.updateMetadataAsync(setField("summary", "done"))

	first := receiveFrame(t, fixture.peer)
	if first.Event != "update-metadata" || first.ID == "" {
		t.Fatalf("first frame = %s id %q", first.Event, first.ID)
	}
	data := decodeData(t, first)
	if string(data["sid"]) != `"sess-1"` || string(data["expectedVersion"]) != "1" {
		t.Errorf("first update = %s", first.Data)
	}
	sendAck(t, fixture.peer, first.ID, map[string]any{
		"result":   "version-mismatch",
		"version":  4,
		"metadata": sealForTest(t, fixture.cipher, map[string]string{"path": "/other"}),
	})

	second := receiveFrame(t, fixture.peer)
	data = decodeData(t, second)
	if string(data["expectedVersion"]) != "4" {
		t.Errorf("retry expectedVersion = %s, want 4", data["expectedVersion"])
	}
	var encoded string
	json.Unmarshal(data["metadata"], &encoded)
	plaintext, err := open(fixture.cipher, encoded)
	if err != nil {
		t.Fatalf("retry metadata does not decrypt: %v", err)
	}
	if string(plaintext) != `{"path":"/other","summary":"done"}` {
		t.Errorf("retry was not recomputed from the server value: %s", plaintext)
	}
	sendAck(t, fixture.peer, second.ID, map[string]any{"result": "success", "version": 5})

	call := testutil.RequireReceive(t, done, waitTimeout, "update never finished")
	if call.err != nil {
		t.Fatalf("UpdateMetadata() error: %v", call.err)
	}
	if call.outcome.Result != UpdateSuccess || call.outcome.Version != 5 || call.outcome.Attempts != 2 {
		t.Errorf("outcome = %+v", call.outcome)
	}
	value, version := fixture.client.Metadata()
	if string(value) != `{"path":"/other","summary":"done"}` || version != 5 {
		t.Errorf("Metadata() = %s v%d", value, version)
	}
}

func TestUpdateMetadataGivesUpAfterMaxAttempts(t *testing.T) {
	fixture := openTestSession(t)
	done := fixture.updateMetadataAsync(setField("summary", "never"))

	for attempt := range MaxUpdateAttempts {
		frame := receiveFrame(t, fixture.peer)
		sendAck(t, fixture.peer, frame.ID, map[string]any{
			"result":   "version-mismatch",
			"version":  10 + attempt,
			"metadata": sealForTest(t, fixture.cipher, map[string]int{"attempt": attempt}),
		})
	}

	call := testutil.RequireReceive(t, done, waitTimeout, "update never finished")
	if call.err != nil {
		t.Fatalf("UpdateMetadata() error: %v", call.err)
	}
	want := UpdateOutcome{Result: UpdateVersionMismatch, Version: 10 + MaxUpdateAttempts - 1, Attempts: MaxUpdateAttempts}
	if call.outcome != want {
		t.Errorf("outcome = %+v, want %+v", call.outcome, want)
	}
	testutil.RequireNoReceive(t, fixture.peer.Received(), 50*time.Millisecond, "update sent after giving up")

	// The local copy holds the last server value.
	value, version := fixture.client.Metadata()
	if string(value) != `{"attempt":4}` || version != 14 {
		t.Errorf("Metadata() = %s v%d", value, version)
	}
}

func TestUpdateAgentStateRejected(t *testing.T) {
	fixture := openTestSession(t)
	done := make(chan updateCall, 1)
	go func() {
		outcome, err := fixture.client.UpdateAgentState(context.Background(), func(current json.RawMessage) (any, error) {
			if current != nil {
				t.Errorf("agent state starts as %s, want nil", current)
			}
			return map[string]bool{"controlledByUser": true}, nil
		})
		done <- updateCall{outcome, err}
	}()

	frame := receiveFrame(t, fixture.peer)
	if frame.Event != "update-state" {
		t.Errorf("event = %q, want update-state", frame.Event)
	}
	data := decodeData(t, frame)
	if _, ok := data["agentState"]; !ok {
		t.Errorf("payload %s has no agentState", frame.Data)
	}
	sendAck(t, fixture.peer, frame.ID, map[string]any{"result": "error", "message": "session archived"})

	call := testutil.RequireReceive(t, done, waitTimeout, "update never finished")
	if call.err != nil {
		t.Fatalf("UpdateAgentState() error: %v", call.err)
	}
	if call.outcome.Result != UpdateRejected || call.outcome.Message != "session archived" || call.outcome.Attempts != 1 {
		t.Errorf("outcome = %+v", call.outcome)
	}
	if value, version := fixture.client.AgentState(); value != nil || version != 0 {
		t.Errorf("rejected update changed local state to %s v%d", value, version)
	}
}

func TestUpdateMetadataUnknownResult(t *testing.T) {
	fixture := openTestSession(t)
	done := fixture.updateMetadataAsync(setField("a", "b"))
	frame := receiveFrame(t, fixture.peer)
	sendAck(t, fixture.peer, frame.ID, map[string]any{"result": "maybe"})

	call := testutil.RequireReceive(t, done, waitTimeout, "update never finished")
	if call.err == nil {
		t.Errorf("UpdateMetadata() outcome = %+v, want an error", call.outcome)
	}
}

func TestSessionAppliesRemoteUpdates(t *testing.T) {
	fixture := openTestSession(t)

	sendUpdate(t, fixture.peer, 10, map[string]any{
		"t":  "update-session",
		"id": "sess-1",
		"metadata": map[string]any{
			"value":   sealForTest(t, fixture.cipher, map[string]string{"path": "/remote"}),
			"version": 7,
		},
		"agentState": map[string]any{
			"value":   sealForTest(t, fixture.cipher, map[string]bool{"controlledByUser": true}),
			"version": 2,
		},
	})
	testutil.RequireReceive(t, fixture.updates, waitTimeout, "update not processed")

	value, version := fixture.client.Metadata()
	if string(value) != `{"path":"/remote"}` || version != 7 {
		t.Errorf("Metadata() = %s v%d", value, version)
	}
	state, stateVersion := fixture.client.AgentState()
	if string(state) != `{"controlledByUser":true}` || stateVersion != 2 {
		t.Errorf("AgentState() = %s v%d", state, stateVersion)
	}

	// Stale versions and other sessions' updates are ignored.
	sendUpdate(t, fixture.peer, 11, map[string]any{
		"t":        "update-session",
		"id":       "sess-1",
		"metadata": map[string]any{"value": sealForTest(t, fixture.cipher, "stale"), "version": 6},
	})
	sendUpdate(t, fixture.peer, 12, map[string]any{
		"t":        "update-session",
		"id":       "sess-2",
		"metadata": map[string]any{"value": sealForTest(t, fixture.cipher, "other"), "version": 99},
	})
	sendUpdate(t, fixture.peer, 13, map[string]any{"t": "new-message", "id": "sess-1"})
	for range 3 {
		testutil.RequireReceive(t, fixture.updates, waitTimeout, "update not processed")
	}
	value, version = fixture.client.Metadata()
	if string(value) != `{"path":"/remote"}` || version != 7 {
		t.Errorf("Metadata() after ignored updates = %s v%d", value, version)
	}
}

func TestSessionKeepAliveAndMessages(t *testing.T) {
	fixture := openTestSession(t)
	ctx := context.Background()

	if err := fixture.client.KeepAlive(ctx, true, "remote"); err != nil {
		t.Fatalf("KeepAlive() error: %v", err)
	}
	alive := receiveFrame(t, fixture.peer)
	if alive.Event != "session-alive" {
		t.Errorf("event = %q", alive.Event)
	}
	var keepAlive struct {
		SID      string `json:"sid"`
		Time     int64  `json:"time"`
		Thinking bool   `json:"thinking"`
		Mode     string `json:"mode"`
	}
	json.Unmarshal(alive.Data, &keepAlive)
	if keepAlive.SID != "sess-1" || keepAlive.Time != testStart.UnixMilli() || !keepAlive.Thinking || keepAlive.Mode != "remote" {
		t.Errorf("session-alive = %s", alive.Data)
	}

	if err := fixture.client.SendMessage(ctx, map[string]string{"role": "user", "text": "hi"}); err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	message := receiveFrame(t, fixture.peer)
	if message.Event != "message" {
		t.Errorf("event = %q", message.Event)
	}
	var payload struct {
		SID     string            `json:"sid"`
		LocalID string            `json:"localId"`
		Message encryptedEnvelope `json:"message"`
	}
	json.Unmarshal(message.Data, &payload)
	if payload.SID != "sess-1" || payload.Message.T != "encrypted" {
		t.Errorf("message = %s", message.Data)
	}
	if _, err := uuid.Parse(payload.LocalID); err != nil {
		t.Errorf("localId %q is not a UUID", payload.LocalID)
	}
	plaintext, err := open(fixture.cipher, payload.Message.C)
	if err != nil {
		t.Fatalf("message does not decrypt: %v", err)
	}
	if string(plaintext) != `{"role":"user","text":"hi"}` {
		t.Errorf("message plaintext = %s", plaintext)
	}
}

func TestSessionClose(t *testing.T) {
	fixture := openTestSession(t)
	ctx := context.Background()

	if err := fixture.client.Close(ctx); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	end := receiveFrame(t, fixture.peer)
	if end.Event != "session-end" || string(decodeData(t, end)["sid"]) != `"sess-1"` {
		t.Errorf("close sent %s %s", end.Event, end.Data)
	}
	testutil.RequireClosed(t, fixture.peer.Closed(), waitTimeout, "socket left open")

	if err := fixture.client.Close(ctx); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	testutil.RequireNoReceive(t, fixture.peer.Received(), 50*time.Millisecond, "second Close sent a frame")
	if err := fixture.client.KeepAlive(ctx, false, "local"); err == nil {
		t.Error("KeepAlive() after Close succeeded")
	}
}
