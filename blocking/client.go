// File: blocking/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package blocking

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"sync/atomic"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/internal/relay"
)

// Client is the blocking relay client: one goroutine sends console lines, the
// caller of Run prints what the server forwards.
type Client struct {
	cfg    *ClientConfig
	logger *log.Logger
	input  api.LineSource
	output api.LineSink
	quit   atomic.Bool
}

// NewClient prepares a client; nothing is dialled until Run.
func NewClient(cfg *ClientConfig, input api.LineSource, output api.LineSink, opts ...Option) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	c := *cfg
	return &Client{
		cfg:    &c,
		logger: newSettings(opts).logger,
		input:  input,
		output: output,
	}
}

// Run connects and prints forwarded lines until the server closes the
// connection or ctx is done. It returns nil once the quit sentinel was sent or
// ctx was cancelled, an error matching api.ErrConnectFailed when the server is
// unreachable and one matching api.ErrPeerGone when the server went away.
func (c *Client) Run(ctx context.Context) error {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", c.cfg.ServerAddr)
	if err != nil {
		c.logger.Printf("[client] connect %s failed: %v", c.cfg.ServerAddr, err)
		return api.NewError(api.ErrCodeConnectFailed, "connect").
			WithContext("addr", c.cfg.ServerAddr).
			WithCause(err)
	}
	defer nc.Close()
	c.logger.Printf("[client] connected to %s", c.cfg.ServerAddr)

	stop := context.AfterFunc(ctx, func() { nc.Close() })
	defer stop()

	if c.input != nil {
		go c.feed(nc)
	}

	sc := bufio.NewScanner(nc)
	for sc.Scan() {
		if c.output != nil {
			c.output.PrintLine(sc.Text())
		}
	}
	c.logger.Printf("[client] disconnected")
	switch err := sc.Err(); {
	case ctx.Err() != nil, c.quit.Load():
		return nil
	case err != nil && !errors.Is(err, net.ErrClosed):
		return api.NewError(api.ErrCodePeerGone, "read").WithCause(err)
	default:
		return api.NewError(api.ErrCodePeerGone, "read").WithCause(errors.New("server closed the connection"))
	}
}

// feed sends console lines until quit or end of input, which sends quit. The
// server closes the connection after a quit, which ends Run. Oversized lines
// are reported and skipped.
func (c *Client) feed(nc net.Conn) {
	w := bufio.NewWriter(nc)
	send := func(line string) bool {
		if relay.IsQuit(line) {
			c.quit.Store(true)
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			return false
		}
		return w.Flush() == nil
	}
	for {
		line, err := c.input.NextUserInputLine()
		if errors.Is(err, api.ErrLineTooLong) {
			c.logger.Printf("[client] input: %v", err)
			continue
		}
		if err != nil {
			send(relay.Quit)
			return
		}
		if !send(line) || relay.IsQuit(line) {
			return
		}
	}
}
