// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Enflame-Media/Magic-Agent-sub008/lib/clock"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/credential"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/dedup"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/encryption"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/netutil"
	"github.com/Enflame-Media/Magic-Agent-sub008/lib/version"
	"github.com/Enflame-Media/Magic-Agent-sub008/transport"
)

// DefaultKeepAliveInterval is the machine-alive period when none is
// configured.
const DefaultKeepAliveInterval = 20 * time.Second

// Config holds configuration for creating a Client.
type Config struct {
	// ServerURL is the relay's http(s) base URL.
	ServerURL string

	// Credentials are borrowed; the caller closes them after Dispose.
	Credentials *credential.Credentials

	// HTTPClient is used for REST calls. If nil, http.DefaultClient is
	// used.
	HTTPClient *http.Client

	// Engine issues nonces and keys. If nil, a new Engine is created.
	Engine *encryption.Engine

	// Socket configures the transport of every session and machine
	// client opened through this Client.
	Socket SocketConfig

	// KeepAliveInterval is the machine-alive period. Zero means
	// DefaultKeepAliveInterval.
	KeepAliveInterval time.Duration

	// DedupTimeout bounds how long a registration stays joinable. Zero
	// means dedup.DefaultTimeout.
	DedupTimeout time.Duration

	// OnDeduplicated, if set, is called with the key whenever a
	// registration joins one already in flight.
	OnDeduplicated func(key string)

	Clock  clock.Clock
	Logger *slog.Logger
}

// SocketConfig is the per-connection part of transport.Config.
type SocketConfig struct {
	Dialer     transport.Dialer
	Backoff    transport.Backoff
	AckTimeout time.Duration
	Notifier   transport.Notifier
}

// Client talks to the relay server on behalf of one account.
type Client struct {
	baseURL           string
	credentials       *credential.Credentials
	httpClient        *http.Client
	engine            *encryption.Engine
	socket            SocketConfig
	keepAliveInterval time.Duration
	clock             clock.Clock
	logger            *slog.Logger

	machineRegistrations *dedup.Deduplicator[*Machine]
	vendorRegistrations  *dedup.Deduplicator[struct{}]

	mu       sync.Mutex
	disposed bool
	sessions map[*SessionClient]struct{}
	machines map[*MachineClient]struct{}
}

// NewClient creates a Client.
func NewClient(config Config) (*Client, error) {
	if config.ServerURL == "" {
		return nil, fmt.Errorf("api: ServerURL is required")
	}
	if _, err := url.Parse(config.ServerURL); err != nil {
		return nil, fmt.Errorf("api: invalid ServerURL %q: %w", config.ServerURL, err)
	}
	if config.Credentials == nil || config.Credentials.Token == nil {
		return nil, fmt.Errorf("api: credentials with a token are required")
	}

	client := &Client{
		baseURL:           strings.TrimRight(config.ServerURL, "/"),
		credentials:       config.Credentials,
		httpClient:        config.HTTPClient,
		engine:            config.Engine,
		socket:            config.Socket,
		keepAliveInterval: config.KeepAliveInterval,
		clock:             config.Clock,
		logger:            config.Logger,
		sessions:          make(map[*SessionClient]struct{}),
		machines:          make(map[*MachineClient]struct{}),
	}
	if client.httpClient == nil {
		client.httpClient = http.DefaultClient
	}
	if client.engine == nil {
		client.engine = encryption.NewEngine()
	}
	if client.keepAliveInterval <= 0 {
		client.keepAliveInterval = DefaultKeepAliveInterval
	}
	if client.clock == nil {
		client.clock = clock.Real()
	}
	if client.logger == nil {
		client.logger = slog.Default()
	}

	dedupConfig := dedup.Config{
		Timeout:        config.DedupTimeout,
		Clock:          client.clock,
		Logger:         client.logger,
		OnDeduplicated: config.OnDeduplicated,
	}
	client.machineRegistrations = dedup.New[*Machine](dedupConfig)
	client.vendorRegistrations = dedup.New[struct{}](dedupConfig)
	return client, nil
}

func (c *Client) checkDisposed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	return nil
}

// newSocket builds an idle transport client scoped by auth.
func (c *Client) newSocket(auth transport.Auth) (*transport.Client, error) {
	auth.Token = c.credentials.Token
	return transport.NewClient(transport.Config{
		ServerURL:  c.baseURL,
		Auth:       auth,
		Dialer:     c.socket.Dialer,
		Backoff:    c.socket.Backoff,
		AckTimeout: c.socket.AckTimeout,
		Notifier:   c.socket.Notifier,
		Clock:      c.clock,
		Logger:     c.logger,
	})
}

// startSocket registers the socket's owner with track and then runs
// the socket. A socket whose owner could not be tracked is closed.
func (c *Client) startSocket(socket *transport.Client, track func() error) (func(), error) {
	if err := track(); err != nil {
		socket.Close()
		return nil, err
	}
	return c.runSocket(socket), nil
}

// runSocket starts socket in the background. The returned function
// closes it and waits for Run to return.
func (c *Client) runSocket(socket *transport.Client) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := socket.Run(context.Background()); err != nil && !errors.Is(err, transport.ErrClosed) {
			c.logger.Error("socket stopped", "error", err)
		}
	}()
	return func() {
		socket.Close()
		<-done
	}
}

// Dispose closes every open session (concurrently, best-effort), shuts
// down every machine client and drops in-flight registrations. Later
// calls return nil without doing anything. Errors from closing sessions
// are returned joined.
func (c *Client) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil
	}
	c.disposed = true
	sessions := make([]*SessionClient, 0, len(c.sessions))
	for session := range c.sessions {
		sessions = append(sessions, session)
	}
	machines := make([]*MachineClient, 0, len(c.machines))
	for machine := range c.machines {
		machines = append(machines, machine)
	}
	c.mu.Unlock()

	var (
		group    errgroup.Group
		errorsMu sync.Mutex
		failures []error
	)
	for _, session := range sessions {
		group.Go(func() error {
			if err := session.Close(ctx); err != nil {
				c.logger.Warn("closing session during dispose", "session_id", session.ID(), "error", err)
				errorsMu.Lock()
				failures = append(failures, err)
				errorsMu.Unlock()
			}
			return nil
		})
	}
	group.Wait()

	for _, machine := range machines {
		machine.Shutdown()
	}

	c.machineRegistrations.Clear()
	c.vendorRegistrations.Clear()
	c.httpClient.CloseIdleConnections()

	c.logger.Info("api client disposed", "sessions", len(sessions), "machines", len(machines))
	return errors.Join(failures...)
}

func (c *Client) track(session *SessionClient) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	c.sessions[session] = struct{}{}
	return nil
}

func (c *Client) untrack(session *SessionClient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, session)
}

func (c *Client) trackMachine(machine *MachineClient) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	c.machines[machine] = struct{}{}
	return nil
}

func (c *Client) untrackMachine(machine *MachineClient) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.machines, machine)
}

// doRequest performs an authenticated JSON request and decodes a 2xx
// response into out, which may be nil. Other statuses become *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody, out any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("api: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("api: failed to create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+c.credentials.Token.String())
	request.Header.Set("User-Agent", version.UserAgent())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("api: request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &APIError{
			StatusCode: response.StatusCode,
			Method:     method,
			Path:       path,
			Body:       netutil.ErrorBody(response.Body),
		}
	}
	if out == nil {
		return nil
	}
	if err := netutil.DecodeResponse(response.Body, out); err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	return nil
}
