// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
)

// Compile-time interface checks.
var (
	_ Dialer = (*MemoryDialer)(nil)
	_ Conn   = (*memoryConn)(nil)
)

// MemoryDialer is an in-process Dialer for tests. Every successful dial
// creates a pipe whose server end is delivered on Accepted.
type MemoryDialer struct {
	accepted chan *MemoryPeer

	mu       sync.Mutex
	failures []error
	dials    int
}

// NewMemoryDialer returns a dialer that buffers up to 16 unaccepted
// peers.
func NewMemoryDialer() *MemoryDialer {
	return &MemoryDialer{accepted: make(chan *MemoryPeer, 16)}
}

// FailNext makes the next len(errs) dials fail with errs in order.
func (d *MemoryDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, errs...)
}

// Accepted delivers the server end of each new connection.
func (d *MemoryDialer) Accepted() <-chan *MemoryPeer { return d.accepted }

// Dials returns the number of dial attempts so far.
func (d *MemoryDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *MemoryDialer) DialContext(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.dials++
	if len(d.failures) > 0 {
		err := d.failures[0]
		d.failures = d.failures[1:]
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()

	peer := &MemoryPeer{
		URL:        url,
		Header:     header.Clone(),
		toClient:   make(chan []byte, 64),
		fromClient: make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
	select {
	case d.accepted <- peer:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memoryConn{peer: peer}, nil
}

// MemoryPeer is the server end of an in-process connection.
type MemoryPeer struct {
	URL    string
	Header http.Header

	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
}

// Send delivers a message to the client. It reports false once the
// connection is closed.
func (p *MemoryPeer) Send(message []byte) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	select {
	case p.toClient <- message:
		return true
	case <-p.closed:
		return false
	}
}

// Received delivers messages written by the client.
func (p *MemoryPeer) Received() <-chan []byte { return p.fromClient }

// Close drops the connection; the client's next read fails with EOF.
func (p *MemoryPeer) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// Closed is closed when either side closes the connection.
func (p *MemoryPeer) Closed() <-chan struct{} { return p.closed }

type memoryConn struct {
	peer *MemoryPeer
}

func (c *memoryConn) ReadMessage() ([]byte, error) {
	select {
	case message := <-c.peer.toClient:
		return message, nil
	case <-c.peer.closed:
		return nil, io.EOF
	}
}

func (c *memoryConn) WriteMessage(ctx context.Context, data []byte) error {
	select {
	case <-c.peer.closed:
		return net.ErrClosed
	default:
	}
	select {
	case c.peer.fromClient <- append([]byte(nil), data...):
		return nil
	case <-c.peer.closed:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memoryConn) Close() error {
	c.peer.Close()
	return nil
}
