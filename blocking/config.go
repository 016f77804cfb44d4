// File: blocking/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package blocking

import (
	"log"
	"runtime"
)

// DefaultQueueSize is the number of accepted connections that may wait for a
// free worker.
const DefaultQueueSize = 1000

// Config holds the blocking server parameters.
type Config struct {
	ListenAddr string // TCP bind address
	Workers    int    // connections served concurrently
	QueueSize  int    // accepted connections waiting for a worker
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8888",
		Workers:    2 * runtime.NumCPU(),
		QueueSize:  DefaultQueueSize,
	}
}

func (c *Config) toMap() map[string]any {
	return map[string]any{
		"listen_addr": c.ListenAddr,
		"workers":     c.Workers,
		"queue_size":  c.QueueSize,
		"backend":     "blocking",
	}
}

// ClientConfig holds the blocking client parameters.
type ClientConfig struct {
	ServerAddr string // relay server host:port
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{ServerAddr: "127.0.0.1:8888"}
}

// settings are shared by server and client.
type settings struct {
	logger *log.Logger
}

// Option customizes a blocking Server or Client.
type Option func(*settings)

// WithLogger routes connection events to l.
func WithLogger(l *log.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{logger: log.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
