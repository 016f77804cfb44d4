//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-relay/api"
)

// New returns an error for unsupported platforms.
func New() (Poller, error) {
	return nil, fmt.Errorf("reactor: %w", api.ErrNotSupported)
}
