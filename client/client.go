// File: client/client.go
// Package client provides the readiness-based chat relay client.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The client owns one non-blocking connection and one poller, both driven by
// the goroutine that calls Run. Console input arrives from a separate
// goroutine through SubmitLine and is handed to the loop via the inbox.

package client

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-relay/adapters"
	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/internal/relay"
	"github.com/momentics/hioload-relay/reactor"
)

var ErrAlreadyRunning = errors.New("client already running")

// Client is the reactor relay client.
type Client struct {
	cfg     *Config
	logger  *log.Logger
	control *adapters.ControlAdapter
	input   api.LineSource
	output  api.LineSink

	state   atomic.Int32 // api.ConnState mirror for State
	running atomic.Bool
	stopReq atomic.Bool

	mu     sync.Mutex
	poller reactor.Poller
	inbox  *queue.Queue // of string
}

// NewClient prepares a client that reads outbound lines from input and prints
// relayed text to output. Nothing is dialled until Run.
func NewClient(cfg *Config, input api.LineSource, output api.LineSink, opts ...ClientOption) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	cl := &Client{
		cfg:     &c,
		logger:  log.Default(),
		control: adapters.NewControlAdapter(),
		input:   input,
		output:  output,
		inbox:   queue.New(),
	}
	for _, opt := range opts {
		opt(cl)
	}
	if cl.cfg.BufferSize <= 0 {
		cl.cfg.BufferSize = DefaultConfig().BufferSize
	}
	cl.state.Store(int32(api.StateConnecting))
	cl.control.SetConfig(cl.cfg.toMap())
	cl.control.RegisterDebugProbe("state", func() any { return cl.State().String() })
	return cl
}

// State returns the lifecycle state of the connection. Safe from any goroutine.
func (c *Client) State() api.ConnState {
	return api.ConnState(c.state.Load())
}

// Control exposes config, metrics and debug probes.
func (c *Client) Control() api.Control {
	return c.control
}

// SubmitLine queues text for sending. Empty lines are ignored. Lines
// submitted before the connection is established wait for it.
func (c *Client) SubmitLine(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	c.inbox.Add(text)
	p := c.poller
	c.mu.Unlock()
	if p != nil {
		_ = p.Wakeup()
	}
}

// stop asks a running loop to close its poller.
func (c *Client) stop() {
	c.stopReq.Store(true)
	c.mu.Lock()
	p := c.poller
	c.mu.Unlock()
	if p != nil {
		_ = p.Wakeup()
	}
}

// takeInbox empties the inbox under the lock.
func (c *Client) takeInbox() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, c.inbox.Length())
	for c.inbox.Length() > 0 {
		out = append(out, c.inbox.Remove().(string))
	}
	return out
}

// feed pumps console lines into the inbox until end of input or quit. It runs
// detached; Run never waits for it. Oversized lines are reported and skipped.
func (c *Client) feed() {
	for {
		line, err := c.input.NextUserInputLine()
		if errors.Is(err, api.ErrLineTooLong) {
			c.logger.Printf("[client] input: %v", err)
			continue
		}
		if err != nil {
			c.SubmitLine(relay.Quit)
			return
		}
		c.SubmitLine(line)
		if relay.IsQuit(line) {
			return
		}
	}
}
