// File: internal/conn/connection.go
// Package conn holds the per-peer state of a relay connection.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Connection owns its channel, its fixed-capacity read and write buffers and
// its lifecycle state. It is touched only by the goroutine running the event
// loop it is registered with.

package conn

import (
	"errors"
	"fmt"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/internal/codec"
)

// ErrPendingLimit is the cause reported when parked output would exceed the
// limit set with WithMaxPending.
var ErrPendingLimit = errors.New("pending write limit exceeded")

// Connection is a handle to a single peer.
type Connection struct {
	id       int
	ch       api.Channel
	readBuf  []byte
	writeBuf []byte
	state    api.ConnState
	policy   api.WritePolicy
	dec      codec.Decoder
	pending  *queue.Queue // of *chunk
	parked   int          // unwritten bytes across pending
	limit    int
	release  func(readBuf, writeBuf []byte)

	bytesIn  int64
	bytesOut int64
}

// chunk is an encoded payload remainder awaiting write readiness.
type chunk struct {
	data []byte
	off  int
}

// Option customizes a Connection.
type Option func(*Connection)

// WithWritePolicy sets the backpressure policy.
func WithWritePolicy(p api.WritePolicy) Option {
	return func(c *Connection) {
		c.policy = p
	}
}

// WithMaxPending bounds the bytes parked under api.QueueOnBackpressure. A
// Send that would exceed n fails with api.ErrPeerGone. Zero means no limit.
func WithMaxPending(n int) Option {
	return func(c *Connection) {
		c.limit = n
	}
}

// WithRelease registers a hook receiving both buffers once the connection closes.
func WithRelease(fn func(readBuf, writeBuf []byte)) Option {
	return func(c *Connection) {
		c.release = fn
	}
}

// New wraps ch. readBuf and writeBuf are used at full capacity and reused for
// every call; they must not be shared with another connection.
func New(id int, ch api.Channel, readBuf, writeBuf []byte, initial api.ConnState, opts ...Option) *Connection {
	c := &Connection{
		id:       id,
		ch:       ch,
		readBuf:  readBuf[:cap(readBuf)],
		writeBuf: writeBuf[:cap(writeBuf)],
		state:    initial,
		pending:  queue.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the stable connection identifier.
func (c *Connection) ID() int { return c.id }

// FD returns the descriptor of the underlying channel.
func (c *Connection) FD() int { return c.ch.FD() }

// State returns the lifecycle state.
func (c *Connection) State() api.ConnState { return c.state }

// Live reports whether the connection still takes part in the relay.
func (c *Connection) Live() bool { return c.state == api.StateConnected }

// Advance moves the connection to a later lifecycle state.
func (c *Connection) Advance(to api.ConnState) error {
	if to <= c.state || to > api.StateClosed {
		return fmt.Errorf("conn %d %s -> %s: %w", c.id, c.state, to, api.ErrInvalidState)
	}
	c.state = to
	return nil
}

// Pending reports the number of bytes waiting for write readiness.
func (c *Connection) Pending() int { return c.parked }

// Traffic returns the byte counters of the connection.
func (c *Connection) Traffic() (in, out int64) {
	return c.bytesIn, c.bytesOut
}

// Close releases the channel and the buffers. It is idempotent.
func (c *Connection) Close() error {
	if c.state == api.StateClosed {
		return nil
	}
	c.state = api.StateClosed
	err := c.ch.Close()
	for c.pending.Length() > 0 {
		c.pending.Remove()
	}
	c.parked = 0
	if c.release != nil {
		c.release(c.readBuf, c.writeBuf)
		c.release = nil
	}
	c.readBuf, c.writeBuf = nil, nil
	return err
}
