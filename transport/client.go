// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/clock"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/netutil"
)

// Local lifecycle events, dispatched through the handler registry.
const (
	// EventConnect fires after every successful handshake, before any
	// server event is read.
	EventConnect = "connect"

	// EventDisconnect fires after an established socket drops.
	EventDisconnect = "disconnect"
)

// Config configures a Client.
type Config struct {
	// ServerURL is the relay's http(s) base URL.
	ServerURL string

	Auth Auth

	// Dialer defaults to a WebSocketDialer.
	Dialer Dialer

	Backoff Backoff

	// AckTimeout defaults to DefaultAckTimeout.
	AckTimeout time.Duration

	// Notifier defaults to a LogNotifier on Logger.
	Notifier Notifier

	Clock  clock.Clock
	Logger *slog.Logger
}

// Stats is a point-in-time view of the client's bookkeeping.
type Stats struct {
	TotalHandlers int
	EventTypes    int
	PendingAcks   int
	Connected     bool
	Reconnects    uint64
}

// Client maintains the socket to the relay server. Create with
// NewClient, start with Run, stop with Close.
type Client struct {
	url        string
	auth       Auth
	dialer     Dialer
	backoff    Backoff
	ackTimeout time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	registry     *registry
	acks         *ackTracker
	connectivity *connectivity

	mu      sync.Mutex
	conn    Conn
	closed  bool
	running bool
	cancel  context.CancelFunc

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	reconnects atomic.Uint64
}

// NewClient validates config and returns an idle Client.
func NewClient(config Config) (*Client, error) {
	socketURL, err := SocketURL(config.ServerURL)
	if err != nil {
		return nil, err
	}
	if err := config.Auth.Validate(); err != nil {
		return nil, err
	}

	client := &Client{
		url:        socketURL,
		auth:       config.Auth,
		dialer:     config.Dialer,
		backoff:    config.Backoff,
		ackTimeout: config.AckTimeout,
		clock:      config.Clock,
		logger:     config.Logger,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	if client.clock == nil {
		client.clock = clock.Real()
	}
	if client.logger == nil {
		client.logger = slog.Default()
	}
	client.logger = client.logger.With("client_type", string(config.Auth.ClientType))
	if client.dialer == nil {
		client.dialer = &WebSocketDialer{}
	}
	if client.ackTimeout <= 0 {
		client.ackTimeout = DefaultAckTimeout
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: client.logger}
	}

	client.registry = newRegistry(client.logger)
	client.acks = newAckTracker(client.clock)
	client.connectivity = &connectivity{notifier: notifier, clock: client.clock}
	return client, nil
}

// Run connects and keeps the connection up until ctx is done or Close
// is called. It returns nil on shutdown and may be called only once.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return errors.New("transport: Run already called")
	}
	c.running = true
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	defer close(c.done)
	defer cancel()

	attempt := 0
	first := true
	for {
		if !first {
			delay := c.backoff.Delay(attempt)
			c.logger.Debug("waiting before reconnect", "attempt", attempt+1, "delay", delay)
			select {
			case <-c.clock.After(delay):
			case <-ctx.Done():
				return nil
			}
			attempt++
			c.reconnects.Add(1)
		}
		first = false

		conn, err := c.dialer.DialContext(ctx, c.url, c.auth.Header())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Debug("dial failed", "url", c.url, "error", err)
			c.connectivity.disconnected(err)
			continue
		}

		attempt = 0
		c.attach(conn)
		err = c.readLoop(ctx, conn)
		c.detach(conn)
		if ctx.Err() != nil {
			return nil
		}

		if netutil.IsExpectedCloseError(err) {
			c.logger.Debug("socket closed", "error", err)
		} else {
			c.logger.Warn("socket failed", "error", err)
		}
		c.connectivity.disconnected(err)
		c.registry.dispatch(Event{Name: EventDisconnect})
	}
}

func (c *Client) attach(conn Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("connected to relay server", "url", c.url)
	c.readyOnce.Do(func() { close(c.ready) })
	c.connectivity.connected()
	c.registry.dispatch(Event{Name: EventConnect})
}

func (c *Client) detach(conn Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(ctx, message)
	}
}

func (c *Client) handleMessage(ctx context.Context, message []byte) {
	decoded, err := decodeFrame(message)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	if decoded.Type == frameAck {
		if !c.acks.finish(decoded.ID, ackResult{data: decoded.Data}) {
			c.logger.Debug("ack for unknown or expired request", "id", decoded.ID)
		}
		return
	}

	event := Event{Name: decoded.Event, Data: decoded.Data}
	if decoded.ID != "" {
		id := decoded.ID
		var replied atomic.Bool
		event.reply = func(data any) error {
			if !replied.CompareAndSwap(false, true) {
				return nil
			}
			return c.write(ctx, frameAck, "", id, data)
		}
	}
	if c.registry.dispatch(event) == 0 {
		c.logger.Debug("no handlers for event", "event", decoded.Event)
	}
}

func (c *Client) currentConn() (Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

func (c *Client) write(ctx context.Context, kind, event, id string, data any) error {
	message, err := encodeFrame(kind, event, id, data)
	if err != nil {
		return err
	}
	conn, err := c.currentConn()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(ctx, message); err != nil {
		return fmt.Errorf("transport: sending %q: %w", event, err)
	}
	return nil
}

// Ready is closed once the first connection is established.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Connected reports whether a socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// On registers handler for event. It reports false when the event is
// already at MaxHandlersPerEvent; the handler is then not registered.
// Registering the same handler twice is a no-op.
func (c *Client) On(event string, handler *Handler) bool {
	return c.registry.add(event, handler)
}

// Off unregisters handler for event. Unknown handlers are ignored.
func (c *Client) Off(event string, handler *Handler) bool {
	return c.registry.remove(event, handler)
}

// RemoveAllListeners unregisters every handler for the named events, or
// for all events when none are named.
func (c *Client) RemoveAllListeners(events ...string) {
	c.registry.removeAll(events...)
}

// Emit sends an event without waiting for a reply.
func (c *Client) Emit(ctx context.Context, event string, data any) error {
	return c.write(ctx, frameEvent, event, "", data)
}

// EmitWithAck sends an event and waits for the server's ack for at most
// the configured ack timeout.
func (c *Client) EmitWithAck(ctx context.Context, event string, data any) (json.RawMessage, error) {
	return c.EmitWithAckTimeout(ctx, event, data, c.ackTimeout)
}

// EmitWithAckTimeout is EmitWithAck with an explicit timeout. A
// non-positive timeout means the configured one. Timing out abandons
// the request; the server may still act on it.
func (c *Client) EmitWithAckTimeout(ctx context.Context, event string, data any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.ackTimeout
	}
	id := uuid.NewString()
	message, err := encodeFrame(frameEvent, event, id, data)
	if err != nil {
		return nil, err
	}
	conn, err := c.currentConn()
	if err != nil {
		return nil, err
	}

	pending := c.acks.register(id, event, timeout)
	if err := conn.WriteMessage(ctx, message); err != nil {
		c.acks.abandon(id)
		return nil, fmt.Errorf("transport: sending %q: %w", event, err)
	}

	select {
	case result := <-pending.result:
		return result.data, result.err
	case <-ctx.Done():
		c.acks.abandon(id)
		return nil, ctx.Err()
	}
}

// SweepStaleAcks fails every pending ack older than its timeout and
// returns how many were removed.
func (c *Client) SweepStaleAcks() int {
	removed := c.acks.sweep()
	if removed > 0 {
		c.logger.Debug("swept stale acknowledgments", "count", removed)
	}
	return removed
}

// Stats returns current counters.
func (c *Client) Stats() Stats {
	total, eventTypes := c.registry.counts()
	return Stats{
		TotalHandlers: total,
		EventTypes:    eventTypes,
		PendingAcks:   c.acks.count(),
		Connected:     c.Connected(),
		Reconnects:    c.reconnects.Load(),
	}
}

// Close stops Run, drops the socket, fails pending acks with ErrClosed
// and removes every handler. Idempotent. Must not be called from an
// event handler.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	running := c.running
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if running {
		<-c.done
	}
	c.acks.failAll(ErrClosed)
	c.registry.removeAll()
	return nil
}
