//go:build !linux
// +build !linux

// internal/transport/socket_stub.go
// Author: momentics <momentics@gmail.com>
//
// Non-blocking sockets are only implemented on Linux.

package transport

import (
	"fmt"
	"net"

	"github.com/momentics/hioload-relay/api"
)

// Listener is unavailable on this platform.
type Listener struct{}

// Listen always fails on this platform.
func Listen(addr string) (*Listener, error) {
	return nil, api.NewError(api.ErrCodeBindFailure, "listen").
		WithContext("addr", addr).
		WithCause(api.ErrNotSupported)
}

func (l *Listener) FD() int { return -1 }
func (l *Listener) Addr() net.Addr { return nil }
func (l *Listener) Accept() (*Socket, error) { return nil, api.ErrNotSupported }
func (l *Listener) Close() error { return nil }

// Socket is unavailable on this platform.
type Socket struct{}

// Dial always fails on this platform.
func Dial(addr string) (*Socket, error) {
	return nil, api.NewError(api.ErrCodeConnectFailed, "connect").
		WithContext("addr", addr).
		WithCause(fmt.Errorf("dial: %w", api.ErrNotSupported))
}

func (s *Socket) Pending() bool { return false }
func (s *Socket) FinishConnect() error { return api.ErrNotSupported }
func (s *Socket) FD() int { return -1 }
func (s *Socket) RemoteAddr() *net.TCPAddr { return nil }
func (s *Socket) LocalAddr() *net.TCPAddr { return nil }
func (s *Socket) Read(p []byte) (int, error) { return 0, api.ErrNotSupported }
func (s *Socket) Write(p []byte) (int, error) { return 0, api.ErrNotSupported }
func (s *Socket) Close() error { return nil }
