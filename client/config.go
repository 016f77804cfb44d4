// File: client/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/internal/relay"
)

// Config holds the client parameters.
type Config struct {
	ServerAddr  string          // relay server host:port
	BufferSize  int             // capacity of the read and write buffers
	WritePolicy api.WritePolicy // reaction to a full send buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServerAddr:  "127.0.0.1:8888",
		BufferSize:  relay.DefaultBufferSize,
		WritePolicy: api.QueueOnBackpressure,
	}
}

func (c *Config) toMap() map[string]any {
	return map[string]any{
		"server_addr":  c.ServerAddr,
		"buffer_size":  c.BufferSize,
		"write_policy": c.WritePolicy.String(),
		"backend":      "reactor",
	}
}
