// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport is the daemon's authenticated duplex connection to
// the relay server.
//
// A [Client] holds one socket at a time, obtained from a [Dialer]. The
// production dialer, [WebSocketDialer], speaks gorilla/websocket;
// [MemoryDialer] hands out in-process pipes for tests. Credentials
// travel only in handshake headers (Authorization, X-Client-Type and
// the optional X-Session-Id / X-Machine-Id), never in the URL. The
// socket URL is derived from the server's http(s) URL by [SocketURL].
//
// Messages are JSON frames. An "event" frame carries a named payload
// and, when the sender wants a reply, an id; an "ack" frame carries the
// reply for that id. Server events are dispatched to handlers
// registered with [Client.On] in registration order, on the read
// goroutine. Each event name holds at most [MaxHandlersPerEvent]
// handlers; registering past the cap is refused and logged, and a
// warning is logged as the count reaches 90% of it.
//
// [Client.EmitWithAck] sends an event and waits for the server's ack
// for at most the configured timeout, returning an [AckTimeoutError]
// (matching [ErrAckTimeout]) when none arrives. The timer is released
// on every path. Pending acks are counted in [Stats] and can be swept
// with [Client.SweepStaleAcks]. Sending while disconnected fails
// immediately with [ErrNotConnected].
//
// When the socket drops, [Client.Run] reconnects with exponential
// backoff and symmetric jitter (see [Backoff]). Attempts are strictly
// sequential. A [Notifier] hears about connectivity changes: one
// ConnectionLost per outage and one ConnectionRestored per outage that
// was reported, with nothing on the first successful connect.
//
// [Collector] exposes handler, ack and connection state as Prometheus
// metrics.
package transport
