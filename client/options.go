// File: client/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"log"

	"github.com/momentics/hioload-relay/api"
)

// ClientOption customizes client initialization.
type ClientOption func(*Client)

// WithLogger routes connection events to l.
func WithLogger(l *log.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithWritePolicy overrides the backpressure policy of the connection.
func WithWritePolicy(p api.WritePolicy) ClientOption {
	return func(c *Client) {
		c.cfg.WritePolicy = p
	}
}

// WithBufferSize sets the capacity of the read and write buffers.
func WithBufferSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.cfg.BufferSize = n
		}
	}
}
