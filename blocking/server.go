// File: blocking/server.go
// Package blocking provides the thread-per-connection chat relay backend.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Every accepted connection is served by one Executor worker that reads
// newline-terminated lines and forwards "<id>: <line>\n" to every other peer.
// Peers are tracked in a locked registry shared by all workers.

package blocking

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-relay/adapters"
	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/concurrency"
	"github.com/momentics/hioload-relay/internal/registry"
	"github.com/momentics/hioload-relay/internal/relay"
)

// Server is the blocking relay.
type Server struct {
	cfg     *Config
	logger  *log.Logger
	control *adapters.ControlAdapter
	metrics *control.MetricsRegistry
	ln      net.Listener
	exec    *concurrency.Executor
	peers   *registry.Synced[*peer]
	closed  atomic.Bool
}

var _ api.Relay = (*Server)(nil)

// peer is one connected client; writes from different workers are serialized.
type peer struct {
	conn net.Conn
	mu   sync.Mutex
	w    *bufio.Writer
}

func (p *peer) send(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.WriteString(line); err != nil {
		return err
	}
	return p.w.Flush()
}

// NewServer binds the listening socket and starts the worker pool. Bind
// errors match api.ErrBindFailure.
func NewServer(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	st := newSettings(opts)
	ln, err := net.Listen("tcp", c.ListenAddr)
	if err != nil {
		st.logger.Printf("[server] bind %s failed: %v", c.ListenAddr, err)
		return nil, api.NewError(api.ErrCodeBindFailure, "listen").
			WithContext("addr", c.ListenAddr).
			WithCause(err)
	}
	s := &Server{
		cfg:     &c,
		logger:  st.logger,
		control: adapters.NewControlAdapter(),
		ln:      ln,
		peers:   registry.NewSynced[*peer](),
	}
	s.exec = concurrency.NewExecutor(c.Workers, c.QueueSize,
		concurrency.WithPanicHandler(func(r any) {
			s.logger.Printf("[server] handler panic: %v", r)
		}))
	s.metrics = s.control.Metrics()
	s.control.SetConfig(c.toMap())
	s.control.OnConfigChange(s.refuseConfig)
	s.control.RegisterDebugProbe("registry.size", func() any { return s.Len() })
	s.control.RegisterDebugProbe("executor", func() any { return s.exec.Stats() })
	return s, nil
}

// refuseConfig logs runtime changes to settings fixed at start and publishes
// the running values again.
func (s *Server) refuseConfig(cfg map[string]any) {
	current := s.cfg.toMap()
	stale := false
	for k, v := range cfg {
		if cur, ok := current[k]; ok && fmt.Sprint(cur) != fmt.Sprint(v) {
			s.logger.Printf("[server] config %s=%v ignored while running", k, v)
			stale = true
		}
	}
	if stale {
		s.control.SetConfig(current)
	}
}

// Addr returns the bound listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Control exposes config, metrics and debug probes.
func (s *Server) Control() api.Control {
	return s.control
}

// Len returns the number of connected peers.
func (s *Server) Len() int {
	return s.peers.Len()
}

// Serve accepts connections until Close. It returns nil after Close and the
// accept error otherwise.
func (s *Server) Serve() error {
	s.logger.Printf("[server] listening on %s", s.ln.Addr())
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if err := s.exec.Submit(func() { s.handle(nc) }); err != nil {
			s.logger.Printf("[acceptor] rejecting %s: %v", nc.RemoteAddr(), err)
			nc.Close()
		}
	}
}

// Close stops accepting, disconnects every peer and waits for the workers.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.ln.Close()
	for _, e := range s.peers.Snapshot() {
		e.Value.conn.Close()
	}
	s.exec.Close()
	s.logger.Printf("[server] closed")
	return err
}

// SubmitLine relays text as if peer id had sent it; a quit disconnects it.
func (s *Server) SubmitLine(id int, text string) {
	p, ok := s.peers.Get(id)
	if !ok {
		return
	}
	s.forward(id, text)
	if relay.IsQuit(text) {
		p.conn.Close()
	}
}

// Broadcast sends text to every peer except origin.
func (s *Server) Broadcast(origin int, text string) {
	s.forward(origin, text)
}

// handle serves one connection until quit, end-of-stream or a read error.
func (s *Server) handle(nc net.Conn) {
	port := 0
	if ta, ok := nc.RemoteAddr().(*net.TCPAddr); ok {
		port = ta.Port
	}
	p := &peer{conn: nc, w: bufio.NewWriter(nc)}
	id := s.peers.AddWithFreeID(port, relay.SyntheticIDFloor, p)
	s.metrics.Add(control.MetricConnectionsAccepted, 1)
	s.metrics.Set(control.MetricConnectionsActive, int64(s.peers.Len()))
	s.logger.Printf("[acceptor] client[%d] connected", id)
	if s.closed.Load() {
		// Close may have taken its snapshot before this peer registered
		nc.Close()
	}
	defer func() {
		s.peers.Remove(id)
		nc.Close()
		s.metrics.Add(control.MetricConnectionsClosed, 1)
		s.metrics.Set(control.MetricConnectionsActive, int64(s.peers.Len()))
		s.logger.Printf("[server] client[%d] disconnected", id)
	}()

	sc := bufio.NewScanner(nc)
	for sc.Scan() {
		line := sc.Text()
		s.metrics.Add(control.MetricMessagesReceived, 1)
		s.metrics.Add(control.MetricBytesIn, int64(len(line)+1))
		s.logger.Printf("[server] client[%d]: %s", id, line)
		s.forward(id, line)
		if relay.IsQuit(line) {
			return
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Printf("[server] client[%d] read: %v", id, err)
	}
}

// forward writes the labelled line to every peer except origin. A peer whose
// write fails is closed; its own worker then removes it.
func (s *Server) forward(origin int, text string) {
	line := relay.Label(origin, text) + "\n"
	for _, e := range s.peers.Snapshot() {
		if e.ID == origin {
			continue
		}
		if err := e.Value.send(line); err != nil {
			s.logger.Printf("[server] client[%d] write: %v", e.ID, err)
			e.Value.conn.Close()
			continue
		}
		s.metrics.Add(control.MetricMessagesRelayed, 1)
		s.metrics.Add(control.MetricBytesOut, int64(len(line)))
	}
}
