// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/testutil"
)

type handshake struct {
	header   http.Header
	rawQuery string
}

// newEchoServer accepts websocket upgrades on SocketPath and echoes
// every message back. Handshakes are reported on the returned channel.
func newEchoServer(t *testing.T, greeting string) (*httptest.Server, <-chan handshake) {
	t.Helper()
	handshakes := make(chan handshake, 4)
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc(SocketPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		handshakes <- handshake{header: r.Header.Clone(), rawQuery: r.URL.RawQuery}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if greeting != "" {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(greeting)); err != nil {
				return
			}
		}
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(kind, data); err != nil {
				return
			}
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, handshakes
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	server, handshakes := newEchoServer(t, "")
	socketURL, err := SocketURL(server.URL)
	if err != nil {
		t.Fatalf("SocketURL() error: %v", err)
	}
	auth := Auth{Token: newToken(t, "tok-123"), ClientType: SessionScoped, SessionID: "session-9"}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	conn, err := (&WebSocketDialer{}).DialContext(ctx, socketURL, auth.Header())
	if err != nil {
		t.Fatalf("DialContext() error: %v", err)
	}
	defer conn.Close()

	seen := testutil.RequireReceive(t, handshakes, waitTimeout, "server saw no handshake")
	if seen.header.Get("X-Session-Id") != "session-9" {
		t.Errorf("X-Session-Id = %q", seen.header.Get("X-Session-Id"))
	}
	if seen.rawQuery != "" {
		t.Errorf("handshake carried a query string %q", seen.rawQuery)
	}

	if err := conn.WriteMessage(ctx, []byte(`{"type":"event","event":"ping"}`)); err != nil {
		t.Fatalf("WriteMessage() error: %v", err)
	}
	echo, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error: %v", err)
	}
	if string(echo) != `{"type":"event","event":"ping"}` {
		t.Errorf("echo = %s", echo)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestWebSocketDialerRejectedHandshake(t *testing.T) {
	server, _ := newEchoServer(t, "")
	socketURL, _ := SocketURL(server.URL)
	auth := Auth{Token: newToken(t, "wrong"), ClientType: UserScoped}

	_, err := (&WebSocketDialer{HandshakeTimeout: time.Second}).DialContext(context.Background(), socketURL, auth.Header())
	var handshakeErr *HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("error = %v, want *HandshakeError", err)
	}
	if handshakeErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", handshakeErr.StatusCode)
	}
	if !strings.Contains(handshakeErr.Body, "invalid token") {
		t.Errorf("body = %q", handshakeErr.Body)
	}
}

func TestClientOverWebSocket(t *testing.T) {
	server, _ := newEchoServer(t, `{"type":"event","event":"update","data":{"hello":true}}`)
	client, err := NewClient(Config{
		ServerURL: server.URL,
		Auth:      Auth{Token: newToken(t, "tok-123"), ClientType: UserScoped},
		Notifier:  newRecordingNotifier(),
	})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	events := make(chan Event, 4)
	client.On("update", NewHandler(func(event Event) { events <- event }))
	client.On("echoed", NewHandler(func(event Event) { events <- event }))

	runDone := make(chan error, 1)
	go func() { runDone <- client.Run(context.Background()) }()
	t.Cleanup(func() { client.Close() })

	greeting := testutil.RequireReceive(t, events, waitTimeout, "no greeting event")
	if string(greeting.Data) != `{"hello":true}` {
		t.Errorf("greeting data = %s", greeting.Data)
	}

	if err := client.Emit(context.Background(), "echoed", []int{1, 2}); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	echoed := testutil.RequireReceive(t, events, waitTimeout, "no echo")
	if echoed.Name != "echoed" || string(echoed.Data) != "[1,2]" {
		t.Errorf("echo = %s %s", echoed.Name, echoed.Data)
	}

	client.Close()
	if err := testutil.RequireReceive(t, runDone, waitTimeout, "Run did not return"); err != nil {
		t.Errorf("Run() = %v", err)
	}
}
