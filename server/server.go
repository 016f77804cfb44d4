// File: server/server.go
// Package server provides the readiness-based chat relay server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A single goroutine owns the poller, the connection registry and every
// connection buffer. Other goroutines talk to the loop only through the inbox,
// which the loop drains once per cycle.

package server

import (
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-relay/adapters"
	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/conn"
	"github.com/momentics/hioload-relay/internal/registry"
	"github.com/momentics/hioload-relay/internal/transport"
	"github.com/momentics/hioload-relay/pool"
	"github.com/momentics/hioload-relay/reactor"
)

var ErrAlreadyRunning = errors.New("server already running")

// Server is the reactor relay: listener, poller, registry and control.
type Server struct {
	cfg      *Config
	logger   *log.Logger
	control  *adapters.ControlAdapter
	metrics  *control.MetricsRegistry
	buffers  *pool.BytePool
	poller   reactor.Poller
	listener *transport.Listener
	addr     net.Addr

	// loop-owned
	conns  *registry.Registry[*conn.Connection]
	byFD   map[int]*conn.Connection
	events []reactor.Event

	inboxMu sync.Mutex
	inbox   *queue.Queue // of request

	size    atomic.Int64
	running atomic.Bool
	done    chan struct{}
}

var _ api.Relay = (*Server)(nil)

type requestKind int

const (
	reqSubmit requestKind = iota
	reqBroadcast
	reqStop
	reqReconfigure
	reqResumeAccept
)

// request is a cross-goroutine call waiting for the loop.
type request struct {
	kind requestKind
	id   int
	text string
	cfg  map[string]any
}

// NewServer binds the listening socket and prepares the poller. Bind errors
// match api.ErrBindFailure.
func NewServer(cfg *Config, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	s := &Server{
		cfg:     &c,
		logger:  log.Default(),
		control: adapters.NewControlAdapter(),
		conns:   registry.New[*conn.Connection](),
		byFD:    make(map[int]*conn.Connection),
		inbox:   queue.New(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	def := DefaultConfig()
	if s.cfg.BufferSize <= 0 {
		s.cfg.BufferSize = def.BufferSize
	}
	if s.cfg.MaxEvents <= 0 {
		s.cfg.MaxEvents = def.MaxEvents
	}
	s.metrics = s.control.Metrics()
	s.buffers = pool.NewBytePool(s.cfg.BufferSize)
	s.events = make([]reactor.Event, s.cfg.MaxEvents)

	ln, err := transport.Listen(s.cfg.ListenAddr)
	if err != nil {
		s.logger.Printf("[server] bind %s failed: %v", s.cfg.ListenAddr, err)
		return nil, err
	}
	p, err := reactor.New()
	if err != nil {
		ln.Close()
		return nil, err
	}
	if err := p.Add(ln.FD(), api.InterestAccept); err != nil {
		p.Close()
		ln.Close()
		return nil, err
	}
	s.listener = ln
	s.poller = p
	s.addr = ln.Addr()

	s.control.SetConfig(s.cfg.toMap())
	s.control.OnConfigChange(func(cfg map[string]any) {
		s.post(request{kind: reqReconfigure, cfg: cfg})
	})
	s.control.RegisterDebugProbe("registry.size", func() any { return s.Len() })
	s.control.RegisterDebugProbe("buffers.in_use", func() any { return s.buffers.InUse() })
	return s, nil
}

// Addr returns the bound listening address.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Control exposes config, metrics and debug probes.
func (s *Server) Control() api.Control {
	return s.control
}

// Len returns the number of registered connections. Safe from any goroutine.
func (s *Server) Len() int {
	return int(s.size.Load())
}

// Done is closed once Run has returned and all resources are released.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// SubmitLine hands text to the loop as if connection id had sent it. Lines
// for unknown ids are dropped.
func (s *Server) SubmitLine(id int, text string) {
	s.post(request{kind: reqSubmit, id: id, text: text})
}

// Broadcast asks the loop to send text to every connection except origin.
func (s *Server) Broadcast(origin int, text string) {
	s.post(request{kind: reqBroadcast, id: origin, text: text})
}

// Shutdown asks the loop to close the poller; Run then returns nil.
func (s *Server) Shutdown() {
	s.post(request{kind: reqStop})
}

func (s *Server) post(r request) {
	s.inboxMu.Lock()
	s.inbox.Add(r)
	s.inboxMu.Unlock()
	// a closed poller means the loop is gone and nobody will drain the inbox
	_ = s.poller.Wakeup()
}

// takeInbox empties the inbox under the lock.
func (s *Server) takeInbox() []request {
	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()
	if s.inbox.Length() == 0 {
		return nil
	}
	out := make([]request, 0, s.inbox.Length())
	for s.inbox.Length() > 0 {
		out = append(out, s.inbox.Remove().(request))
	}
	return out
}
