// File: client/run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connect handshake, reader and outbound writer of the relay client.

package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/conn"
	"github.com/momentics/hioload-relay/internal/relay"
	"github.com/momentics/hioload-relay/internal/transport"
	"github.com/momentics/hioload-relay/reactor"
)

// session is the loop-owned state of one Run.
type session struct {
	*Client
	sock    *transport.Socket
	conn    *conn.Connection
	poller  reactor.Poller
	events  []reactor.Event
	metrics *control.MetricsRegistry

	writing  bool // WRITE interest registered
	quitting bool // quit sentinel handed to the writer
	done     bool
	err      error // returned once the poller reports cancellation
}

// Run connects to the server and drives the loop until the quit sentinel has
// been sent, ctx is done, or the connection fails. Connect failures match
// api.ErrConnectFailed and a lost server matches api.ErrPeerGone; a quit or a
// cancelled ctx returns nil.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	sock, err := transport.Dial(c.cfg.ServerAddr)
	if err != nil {
		c.state.Store(int32(api.StateClosed))
		c.logger.Printf("[client] connect %s failed: %v", c.cfg.ServerAddr, err)
		return err
	}
	p, err := reactor.New()
	if err != nil {
		sock.Close()
		c.state.Store(int32(api.StateClosed))
		return err
	}
	id := 0
	if la := sock.LocalAddr(); la != nil {
		id = la.Port
	}
	s := &session{
		Client: c,
		sock:   sock,
		conn: conn.New(id, sock, make([]byte, c.cfg.BufferSize), make([]byte, c.cfg.BufferSize),
			api.StateConnecting, conn.WithWritePolicy(c.cfg.WritePolicy)),
		poller:  p,
		events:  make([]reactor.Event, 4),
		metrics: c.control.Metrics(),
	}
	defer s.release()

	c.mu.Lock()
	c.poller = p
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, c.stop)
	defer stop()

	if err := p.Add(sock.FD(), api.InterestConnect); err != nil {
		return err
	}
	return s.loop()
}

func (s *session) loop() error {
	for {
		n, err := s.poller.Wait(s.events)
		if err != nil {
			if errors.Is(err, api.ErrLoopCancelled) {
				return s.err
			}
			return fmt.Errorf("client loop: %w", err)
		}
		if s.stopReq.Load() {
			s.finish(nil)
			continue
		}
		for _, ev := range s.events[:n] {
			if s.done || ev.FD != s.conn.FD() {
				continue
			}
			if s.conn.State() == api.StateConnecting {
				s.connect()
				continue
			}
			if ev.Hup {
				s.logger.Printf("[client] server hang-up")
			}
			if ev.Ready.Has(api.InterestWrite) {
				s.flush()
			}
			if ev.Ready.Has(api.InterestRead) && s.conn.Live() {
				s.read()
			}
		}
		if !s.done && s.conn.Live() && !s.quitting {
			s.send()
		}
	}
}

// connect completes the handshake once connect readiness fired.
func (s *session) connect() {
	if err := s.sock.FinishConnect(); err != nil {
		s.logger.Printf("[client] connect %s failed: %v", s.cfg.ServerAddr, err)
		s.conn.Close()
		s.finish(err)
		return
	}
	s.conn.Advance(api.StateConnected)
	s.state.Store(int32(api.StateConnected))
	if err := s.poller.Modify(s.conn.FD(), api.InterestRead); err != nil {
		s.finish(err)
		return
	}
	s.logger.Printf("[client] connected to %s as %d", s.cfg.ServerAddr, s.conn.ID())
	if s.input != nil {
		go s.feed()
	}
}

// read prints whatever the server relayed. Losing the server ends the loop.
func (s *session) read() {
	var (
		text string
		err  error
	)
	s.account(func() { text, err = s.conn.Receive() })
	if text != "" {
		s.metrics.Add(control.MetricMessagesReceived, 1)
		if s.output != nil {
			s.output.PrintLine(text)
		}
	}
	if err != nil {
		s.logger.Printf("[client] server closed the connection")
		s.finish(err)
	}
}

// send writes queued console lines. Lines after quit are dropped.
func (s *session) send() {
	for _, line := range s.takeInbox() {
		var (
			blocked bool
			err     error
		)
		s.account(func() { blocked, err = s.conn.Send(line) })
		if err != nil {
			s.finish(err)
			return
		}
		s.metrics.Add(control.MetricMessagesSent, 1)
		if blocked && !s.writing {
			if err := s.poller.Modify(s.conn.FD(), api.InterestRead|api.InterestWrite); err != nil {
				s.finish(err)
				return
			}
			s.writing = true
		}
		if relay.IsQuit(line) {
			s.quitting = true
			break
		}
	}
	if s.quitting && s.conn.Pending() == 0 {
		s.finish(nil)
	}
}

// flush resumes a parked write; a fully sent quit ends the loop.
func (s *session) flush() {
	var (
		drained bool
		err     error
	)
	s.account(func() { drained, err = s.conn.Flush() })
	if err != nil {
		s.finish(err)
		return
	}
	if !drained {
		return
	}
	if s.quitting {
		s.finish(nil)
		return
	}
	if err := s.poller.Modify(s.conn.FD(), api.InterestRead); err != nil {
		s.finish(err)
		return
	}
	s.writing = false
}

// finish records the loop result and closes the poller; the next Wait
// reports the cancellation. Only the first call has any effect.
func (s *session) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	if st := s.conn.State(); st < api.StateClosing {
		s.conn.Advance(api.StateClosing)
	}
	s.state.Store(int32(s.conn.State()))
	s.poller.Close()
}

func (s *session) account(op func()) {
	in0, out0 := s.conn.Traffic()
	op()
	in1, out1 := s.conn.Traffic()
	s.metrics.Add(control.MetricBytesIn, in1-in0)
	s.metrics.Add(control.MetricBytesOut, out1-out0)
}

// release closes the connection and the poller.
func (s *session) release() {
	s.conn.Close()
	s.state.Store(int32(api.StateClosed))
	s.poller.Close()
	s.mu.Lock()
	s.Client.poller = nil
	s.mu.Unlock()
	s.logger.Printf("[client] disconnected")
}
