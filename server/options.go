// File: server/options.go
// Package server defines functional options for the relay Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log"

	"github.com/momentics/hioload-relay/api"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger routes connection events to l.
func WithLogger(l *log.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWritePolicy overrides the backpressure policy of every connection.
func WithWritePolicy(p api.WritePolicy) ServerOption {
	return func(s *Server) {
		s.cfg.WritePolicy = p
	}
}

// WithBufferSize sets the capacity of each connection scratch buffer.
func WithBufferSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.cfg.BufferSize = n
		}
	}
}

// WithMaxEvents caps the readiness events handled per loop cycle.
func WithMaxEvents(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.cfg.MaxEvents = n
		}
	}
}

// WithLoopCPU pins the event loop thread to cpu for the duration of Run.
func WithLoopCPU(cpu int) ServerOption {
	return func(s *Server) {
		s.cfg.LoopCPU = cpu
	}
}

// WithMaxPending bounds the bytes parked for one slow peer; a peer over the
// limit is disconnected. Zero disables the limit.
func WithMaxPending(n int) ServerOption {
	return func(s *Server) {
		if n >= 0 {
			s.cfg.MaxPending = n
		}
	}
}
