// File: server/run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event loop, acceptor, reader, dispatcher and teardown of the relay server.
// Everything in this file runs on the goroutine that called Run.

package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/momentics/hioload-relay/affinity"
	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
	"github.com/momentics/hioload-relay/internal/conn"
	"github.com/momentics/hioload-relay/internal/relay"
)

// Run drives the event loop until Shutdown is called or ctx is done. A
// cancelled loop is a normal exit and returns nil.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)
	defer s.release()

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	if s.cfg.LoopCPU >= 0 {
		unpin, err := affinity.PinLoop(s.cfg.LoopCPU)
		defer unpin()
		if err != nil {
			s.logger.Printf("[server] loop not pinned: %v", err)
		} else {
			s.logger.Printf("[server] loop pinned to cpu %d", s.cfg.LoopCPU)
		}
	}

	s.logger.Printf("[server] listening on %s", s.addr)
	for {
		n, err := s.poller.Wait(s.events)
		if err != nil {
			if errors.Is(err, api.ErrLoopCancelled) {
				s.logger.Printf("[server] loop stopped")
				return nil
			}
			return fmt.Errorf("server loop: %w", err)
		}
		if s.serveInbox() {
			// the next Wait reports the cancellation
			s.poller.Close()
			continue
		}
		for _, ev := range s.events[:n] {
			if ev.FD == s.listener.FD() {
				if ev.Ready.Has(api.InterestAccept) {
					s.accept()
				}
				continue
			}
			c, ok := s.byFD[ev.FD]
			if !ok {
				// torn down earlier in this cycle
				continue
			}
			if ev.Hup {
				s.logger.Printf("[server] client[%d] hang-up", c.ID())
			}
			if ev.Ready.Has(api.InterestWrite) {
				s.flush(c)
			}
			if ev.Ready.Has(api.InterestRead) && c.Live() {
				s.read(c)
			}
		}
	}
}

// serveInbox runs queued cross-goroutine requests and reports whether a stop
// was requested.
func (s *Server) serveInbox() (stop bool) {
	for _, r := range s.takeInbox() {
		switch r.kind {
		case reqStop:
			stop = true
		case reqBroadcast:
			s.broadcast(r.id, r.text)
		case reqSubmit:
			if c, ok := s.conns.Get(r.id); ok && c.Live() {
				s.metrics.Add(control.MetricMessagesReceived, 1)
				s.relayFrom(c, r.text)
			}
		case reqReconfigure:
			s.reconfigure(r.cfg)
		case reqResumeAccept:
			s.resumeAccept()
		}
	}
	return stop
}

// accept takes one pending connection; level-triggered readiness fires again
// while more are queued.
func (s *Server) accept() {
	sock, err := s.listener.Accept()
	if err != nil {
		if !errors.Is(err, api.ErrWouldBlock) {
			s.pauseAccept(err)
		}
		return
	}
	id := s.conns.NextFreeID(sock.RemoteAddr().Port, relay.SyntheticIDFloor)
	c := conn.New(id, sock, s.buffers.GetBuffer(), s.buffers.GetBuffer(), api.StateConnected,
		conn.WithWritePolicy(s.cfg.WritePolicy),
		conn.WithMaxPending(s.cfg.MaxPending),
		conn.WithRelease(func(r, w []byte) {
			s.buffers.PutBuffer(r)
			s.buffers.PutBuffer(w)
		}),
	)
	if err := s.poller.Add(sock.FD(), api.InterestRead); err != nil {
		s.logger.Printf("[acceptor] register client[%d]: %v", id, err)
		c.Close()
		return
	}
	s.conns.Add(id, c)
	s.byFD[sock.FD()] = c
	s.size.Store(int64(s.conns.Len()))
	s.metrics.Add(control.MetricConnectionsAccepted, 1)
	s.metrics.Set(control.MetricConnectionsActive, int64(s.conns.Len()))
	s.logger.Printf("[acceptor] client[%d] connected", id)
}

// acceptBackoff is how long the listener stays unwatched after a hard accept
// failure.
var acceptBackoff = 100 * time.Millisecond

// pauseAccept stops watching the listener after an accept failure other than
// would-block, such as EMFILE. The pending connection keeps the listener
// readable, so it is re-armed from the inbox once acceptBackoff has passed.
func (s *Server) pauseAccept(cause error) {
	s.metrics.Add(control.MetricAcceptErrors, 1)
	if cur, _ := s.poller.Interest(s.listener.FD()); cur == 0 {
		return
	}
	if err := s.poller.Modify(s.listener.FD(), 0); err != nil {
		s.logger.Printf("[acceptor] %v (pause failed: %v)", cause, err)
		return
	}
	s.logger.Printf("[acceptor] %v; pausing accept for %v", cause, acceptBackoff)
	time.AfterFunc(acceptBackoff, func() {
		s.post(request{kind: reqResumeAccept})
	})
}

func (s *Server) resumeAccept() {
	if cur, ok := s.poller.Interest(s.listener.FD()); !ok || cur.Has(api.InterestAccept) {
		return
	}
	if err := s.poller.Modify(s.listener.FD(), api.InterestAccept); err != nil {
		s.logger.Printf("[acceptor] resume: %v", err)
		return
	}
	s.logger.Printf("[acceptor] accepting again")
}

// reconfigure applies a runtime config change. Only max_pending takes effect,
// for connections accepted afterwards; other changed keys are logged and the
// running values are published again.
func (s *Server) reconfigure(cfg map[string]any) {
	current := s.cfg.toMap()
	stale := false
	for k, v := range cfg {
		cur, known := current[k]
		if !known || fmt.Sprint(cur) == fmt.Sprint(v) {
			continue
		}
		if k == "max_pending" {
			if n, ok := v.(int); ok && n >= 0 {
				s.cfg.MaxPending = n
				s.logger.Printf("[server] max_pending set to %d", n)
				continue
			}
		}
		s.logger.Printf("[server] config %s=%v ignored while running", k, v)
		stale = true
	}
	if stale {
		s.control.SetConfig(s.cfg.toMap())
	}
}

// read drains c and relays what arrived. Text received before end-of-stream
// is still relayed.
func (s *Server) read(c *conn.Connection) {
	var (
		text string
		err  error
	)
	s.account(c, func() { text, err = c.Receive() })
	if text != "" {
		s.metrics.Add(control.MetricMessagesReceived, 1)
		s.logger.Printf("[server] client[%d]: %s", c.ID(), text)
		s.relayFrom(c, text)
	}
	if err != nil {
		s.teardown(c, err)
	}
}

// relayFrom fans text out and disconnects the sender if it was the quit
// sentinel.
func (s *Server) relayFrom(c *conn.Connection, text string) {
	s.broadcast(c.ID(), text)
	if relay.IsQuit(text) {
		s.logger.Printf("[server] client[%d] quit", c.ID())
		s.teardown(c, nil)
	}
}

// broadcast writes the labelled text to every live connection but origin.
// Membership is fixed when the call starts; failed peers are torn down after
// the fan-out completes.
func (s *Server) broadcast(origin int, text string) {
	payload := relay.Label(origin, text)
	var gone []*conn.Connection
	var causes []error
	for _, e := range s.conns.Snapshot() {
		c := e.Value
		if e.ID == origin || !c.Live() {
			continue
		}
		var (
			blocked bool
			err     error
		)
		s.account(c, func() { blocked, err = c.Send(payload) })
		if err != nil {
			gone = append(gone, c)
			causes = append(causes, err)
			continue
		}
		s.metrics.Add(control.MetricMessagesRelayed, 1)
		if cur, _ := s.poller.Interest(c.FD()); blocked && !cur.Has(api.InterestWrite) {
			if err := s.poller.Modify(c.FD(), api.InterestRead|api.InterestWrite); err != nil {
				gone = append(gone, c)
				causes = append(causes, err)
			}
		}
	}
	for i, c := range gone {
		s.teardown(c, causes[i])
	}
}

// flush resumes a parked write once the channel is writable again.
func (s *Server) flush(c *conn.Connection) {
	var (
		drained bool
		err     error
	)
	s.account(c, func() { drained, err = c.Flush() })
	if err != nil {
		s.teardown(c, err)
		return
	}
	if drained {
		if err := s.poller.Modify(c.FD(), api.InterestRead); err != nil {
			s.teardown(c, err)
		}
	}
}

// teardown removes c from the poller and the registry and closes it. Only the
// first call for a connection has any effect.
func (s *Server) teardown(c *conn.Connection, cause error) {
	if c.State() >= api.StateClosing {
		return
	}
	c.Advance(api.StateClosing)
	fd := c.FD()
	if err := s.poller.Remove(fd); err != nil {
		s.logger.Printf("[server] client[%d] deregister: %v", c.ID(), err)
	}
	s.conns.Remove(c.ID())
	delete(s.byFD, fd)
	c.Close()

	s.size.Store(int64(s.conns.Len()))
	s.metrics.Add(control.MetricConnectionsClosed, 1)
	s.metrics.Set(control.MetricConnectionsActive, int64(s.conns.Len()))
	if errors.Is(cause, conn.ErrPendingLimit) {
		s.metrics.Add(control.MetricSlowPeersDropped, 1)
	}
	if cause != nil && (!errors.Is(cause, api.ErrPeerGone) || errors.Is(cause, conn.ErrPendingLimit)) {
		s.logger.Printf("[server] client[%d] dropped: %v", c.ID(), cause)
		return
	}
	s.logger.Printf("[server] client[%d] disconnected", c.ID())
}

// account records the bytes moved by op on c.
func (s *Server) account(c *conn.Connection, op func()) {
	in0, out0 := c.Traffic()
	op()
	in1, out1 := c.Traffic()
	if d := in1 - in0; d > 0 {
		s.metrics.Add(control.MetricBytesIn, d)
	}
	if d := out1 - out0; d > 0 {
		s.metrics.Add(control.MetricBytesOut, d)
	}
}

// release closes every connection, the listener and the poller.
func (s *Server) release() {
	for _, e := range s.conns.Snapshot() {
		s.teardown(e.Value, nil)
	}
	s.listener.Close()
	s.poller.Close()
}
