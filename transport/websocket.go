// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/netutil"
)

// MaxMessageSize bounds one inbound socket message.
const MaxMessageSize = 8 << 20

// Compile-time interface checks.
var (
	_ Dialer = (*WebSocketDialer)(nil)
	_ Conn   = (*webSocketConn)(nil)
)

// WebSocketDialer opens gorilla/websocket connections.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the opening handshake. Zero means 15s.
	HandshakeTimeout time.Duration
}

// DialContext performs the websocket handshake. A non-101 response is
// reported as a *HandshakeError.
func (d *WebSocketDialer) DialContext(ctx context.Context, url string, header http.Header) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	conn, response, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && response != nil {
			body := netutil.ErrorBody(response.Body)
			response.Body.Close()
			return nil, &HandshakeError{StatusCode: response.StatusCode, Body: body}
		}
		return nil, fmt.Errorf("transport: dialing %s: %w", url, err)
	}
	conn.SetReadLimit(MaxMessageSize)
	return &webSocketConn{conn: conn}, nil
}

type webSocketConn struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *webSocketConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("%w: %v", net.ErrClosed, err)
			}
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *webSocketConn) WriteMessage(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *webSocketConn) Close() error {
	c.closeOnce.Do(func() {
		// WriteControl is safe alongside a concurrent WriteMessage.
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
