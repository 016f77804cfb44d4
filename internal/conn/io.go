// File: internal/conn/io.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reader and Writer halves of a Connection. Neither ever closes the
// connection: failures surface as api.ErrPeerGone and the owner tears down.

package conn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/internal/codec"
)

func (c *Connection) peerGone(op string, cause error) error {
	return api.NewError(api.ErrCodePeerGone, op).
		WithContext("conn", c.id).
		WithCause(cause)
}

// Receive drains the channel until it would block and returns the decoded
// text. On end-of-stream or a read error it returns the text gathered before
// the failure together with an error matching api.ErrPeerGone.
func (c *Connection) Receive() (string, error) {
	if c.state != api.StateConnected {
		return "", c.peerGone("read", api.ErrInvalidState)
	}
	var sb strings.Builder
	for {
		n, err := c.ch.Read(c.readBuf)
		if n > 0 {
			c.bytesIn += int64(n)
			sb.WriteString(c.dec.Decode(c.readBuf[:n]))
		}
		switch {
		case err == nil && n > 0:
			continue
		case err == nil, errors.Is(err, api.ErrWouldBlock):
			return sb.String(), nil
		default:
			sb.WriteString(c.dec.Flush())
			return sb.String(), c.peerGone("read", err)
		}
	}
}

// Send encodes text through the write buffer and writes it out. Payloads
// larger than the buffer go out in buffer-sized pieces.
//
// A channel that accepts fewer bytes than offered is driven until the payload
// is gone. When the channel would block, api.SpinOnBackpressure keeps
// retrying; api.QueueOnBackpressure parks the remainder and reports blocked,
// after which the owner must wait for write readiness and call Flush.
func (c *Connection) Send(text string) (blocked bool, err error) {
	if c.state != api.StateConnected {
		return false, c.peerGone("write", api.ErrInvalidState)
	}
	payload := codec.Encode(text)
	if c.pending.Length() > 0 {
		// keep ordering behind what is already parked
		if err := c.park(payload); err != nil {
			return false, err
		}
		return true, nil
	}
	for len(payload) > 0 {
		n := copy(c.writeBuf, payload)
		payload = payload[n:]
		rest, err := c.drain(c.writeBuf[:n])
		if err != nil {
			return false, err
		}
		if rest > 0 {
			parked := make([]byte, 0, rest+len(payload))
			parked = append(parked, c.writeBuf[n-rest:n]...)
			parked = append(parked, payload...)
			if err := c.park(parked); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	return false, nil
}

// Flush writes parked data. drained is true once nothing is left.
func (c *Connection) Flush() (drained bool, err error) {
	if c.state != api.StateConnected {
		return false, c.peerGone("write", api.ErrInvalidState)
	}
	for c.pending.Length() > 0 {
		ch := c.pending.Peek().(*chunk)
		left := len(ch.data) - ch.off
		rest, err := c.drain(ch.data[ch.off:])
		c.parked -= left - rest
		if err != nil {
			return false, err
		}
		if rest > 0 {
			ch.off = len(ch.data) - rest
			return false, nil
		}
		c.pending.Remove()
	}
	return true, nil
}

// park queues data behind earlier remainders, enforcing the pending limit.
func (c *Connection) park(data []byte) error {
	if c.limit > 0 && c.parked+len(data) > c.limit {
		return c.peerGone("write", fmt.Errorf("%w: %d bytes over a limit of %d",
			ErrPendingLimit, c.parked+len(data)-c.limit, c.limit))
	}
	c.pending.Add(&chunk{data: data})
	c.parked += len(data)
	return nil
}

// drain writes b until it is empty, the channel would block under the queue
// policy, or an error occurs. It returns the count of unwritten bytes.
func (c *Connection) drain(b []byte) (int, error) {
	for len(b) > 0 {
		n, err := c.ch.Write(b)
		if n > 0 {
			b = b[n:]
			c.bytesOut += int64(n)
		}
		switch {
		case err == nil && n > 0:
		case err == nil, errors.Is(err, api.ErrWouldBlock):
			if c.policy != api.SpinOnBackpressure {
				return len(b), nil
			}
		default:
			return len(b), c.peerGone("write", err)
		}
	}
	return 0, nil
}
