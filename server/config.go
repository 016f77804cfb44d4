// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/internal/relay"
)

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr  string          // TCP bind address
	BufferSize  int             // capacity of each connection read/write buffer
	MaxEvents   int             // readiness events handled per loop cycle
	WritePolicy api.WritePolicy // reaction to a full send buffer
	LoopCPU     int             // CPU the loop thread is pinned to; -1 = no pinning
	MaxPending  int             // bytes parked per slow peer before it is dropped; 0 = no limit
}

// DefaultMaxPending bounds the output parked for one peer that stopped reading.
const DefaultMaxPending = 16 << 20

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:  "127.0.0.1:8888",
		BufferSize:  relay.DefaultBufferSize,
		MaxEvents:   128,
		WritePolicy: api.QueueOnBackpressure,
		LoopCPU:     -1,
		MaxPending:  DefaultMaxPending,
	}
}

func (c *Config) toMap() map[string]any {
	return map[string]any{
		"listen_addr":  c.ListenAddr,
		"buffer_size":  c.BufferSize,
		"max_events":   c.MaxEvents,
		"write_policy": c.WritePolicy.String(),
		"loop_cpu":     c.LoopCPU,
		"max_pending":  c.MaxPending,
		"backend":      "reactor",
	}
}
