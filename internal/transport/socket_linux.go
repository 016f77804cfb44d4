//go:build linux
// +build linux

// internal/transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux non-blocking TCP sockets on golang.org/x/sys/unix.

package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/momentics/hioload-relay/api"
	"golang.org/x/sys/unix"
)

// Listener is a non-blocking listening socket.
type Listener struct {
	fd     int
	closed bool
}

// Listen binds and listens on addr ("host:port"). Failures match api.ErrBindFailure.
func Listen(addr string) (*Listener, error) {
	bindErr := func(err error) error {
		return api.NewError(api.ErrCodeBindFailure, "listen").
			WithContext("addr", addr).
			WithCause(err)
	}
	family, sa, err := resolve(addr)
	if err != nil {
		return nil, bindErr(err)
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, bindErr(fmt.Errorf("socket create: %w", err))
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, bindErr(fmt.Errorf("setsockopt: %w", err))
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, bindErr(fmt.Errorf("bind: %w", err))
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, bindErr(fmt.Errorf("listen: %w", err))
	}
	return &Listener{fd: fd}, nil
}

// FD returns the listening descriptor.
func (l *Listener) FD() int { return l.fd }

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return nil
	}
	return toTCPAddr(sa)
}

// Accept takes exactly one pending connection. It returns api.ErrWouldBlock
// when the backlog is empty.
func (l *Listener) Accept() (*Socket, error) {
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			if errors.Is(err, unix.EAGAIN) {
				return nil, api.ErrWouldBlock
			}
			return nil, fmt.Errorf("accept: %w", err)
		}
		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return &Socket{fd: nfd, peer: toTCPAddr(sa)}, nil
	}
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return unix.Close(l.fd)
}

// Socket is a connected (or connecting) non-blocking stream socket.
// It implements api.Channel.
type Socket struct {
	fd      int
	peer    *net.TCPAddr
	pending bool
	closed  bool
}

var _ api.Channel = (*Socket)(nil)

// Dial starts a non-blocking connect to addr. When Pending reports true the
// caller must wait for connect readiness and call FinishConnect.
func Dial(addr string) (*Socket, error) {
	connErr := func(err error) error {
		return api.NewError(api.ErrCodeConnectFailed, "connect").
			WithContext("addr", addr).
			WithCause(err)
	}
	family, sa, err := resolve(addr)
	if err != nil {
		return nil, connErr(err)
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, connErr(fmt.Errorf("socket create: %w", err))
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	s := &Socket{fd: fd, peer: toTCPAddr(sa)}
	switch err := unix.Connect(fd, sa); {
	case err == nil:
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR):
		s.pending = true
	default:
		unix.Close(fd)
		return nil, connErr(err)
	}
	return s, nil
}

// Pending reports whether a connect is still in flight.
func (s *Socket) Pending() bool { return s.pending }

// FinishConnect completes a pending connect after connect readiness fired.
// Failures match api.ErrConnectFailed.
func (s *Socket) FinishConnect() error {
	if !s.pending {
		return nil
	}
	soerr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soerr != 0 {
		err = syscall.Errno(soerr)
	}
	if err != nil {
		return api.NewError(api.ErrCodeConnectFailed, "connect").
			WithContext("addr", s.peer.String()).
			WithCause(err)
	}
	s.pending = false
	return nil
}

// FD returns the socket descriptor.
func (s *Socket) FD() int { return s.fd }

// RemoteAddr returns the peer address.
func (s *Socket) RemoteAddr() *net.TCPAddr { return s.peer }

// LocalAddr returns the local address.
func (s *Socket) LocalAddr() *net.TCPAddr {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return nil
	}
	return toTCPAddr(sa)
}

// Read reads whatever is available.
func (s *Socket) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == nil && n > 0:
			return n, nil
		case err == nil:
			return 0, io.EOF
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, api.ErrWouldBlock
		default:
			return 0, fmt.Errorf("read: %w", err)
		}
	}
}

// Write writes as much of p as the send buffer takes.
func (s *Socket) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, api.ErrWouldBlock
		default:
			return 0, fmt.Errorf("write: %w", err)
		}
	}
}

// Close closes the socket once.
func (s *Socket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return unix.Close(s.fd)
}

func resolve(addr string) (int, unix.Sockaddr, error) {
	ta, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return 0, nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	if ta.IP == nil || ta.IP.To4() != nil {
		sa := &unix.SockaddrInet4{Port: ta.Port}
		if ta.IP != nil {
			copy(sa.Addr[:], ta.IP.To4())
		}
		return unix.AF_INET, sa, nil
	}
	sa := &unix.SockaddrInet6{Port: ta.Port}
	copy(sa.Addr[:], ta.IP.To16())
	return unix.AF_INET6, sa, nil
}

func toTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), a.Addr[:]...)), Port: a.Port}
	default:
		return &net.TCPAddr{}
	}
}
