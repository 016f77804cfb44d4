package blocking_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/blocking"
)

const waitFor = 3 * time.Second

var quiet = blocking.WithLogger(log.New(io.Discard, "", 0))

func startServer(t *testing.T, cfg *blocking.Config) *blocking.Server {
	t.Helper()
	if cfg == nil {
		cfg = blocking.DefaultConfig()
	}
	cfg.ListenAddr = "127.0.0.1:0"
	s, err := blocking.NewServer(cfg, quiet)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()
	t.Cleanup(func() {
		s.Close()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Serve = %v", err)
			}
		case <-time.After(waitFor):
			t.Error("Serve did not return")
		}
	})
	return s
}

// relayConfig sizes the pool for the tests that hold several peers at once;
// the default of 2*NumCPU workers serves only two peers on a one-CPU host.
func relayConfig() *blocking.Config {
	cfg := blocking.DefaultConfig()
	cfg.Workers = 8
	return cfg
}

func waitLen(t *testing.T, s *blocking.Server, want int) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for s.Len() != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Len() != want {
		t.Fatalf("Len = %d, want %d", s.Len(), want)
	}
}

type peer struct {
	net.Conn
	port int
	r    *bufio.Reader
}

func dial(t *testing.T, s *blocking.Server) *peer {
	t.Helper()
	c, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return &peer{Conn: c, port: c.LocalAddr().(*net.TCPAddr).Port, r: bufio.NewReader(c)}
}

func (p *peer) line(t *testing.T) string {
	t.Helper()
	p.SetReadDeadline(time.Now().Add(waitFor))
	l, err := p.r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	return l
}

func TestBlockingRelay(t *testing.T) {
	s := startServer(t, relayConfig())
	a, b, c := dial(t, s), dial(t, s), dial(t, s)
	waitLen(t, s, 3)

	io.WriteString(a, "hello\n")
	want := strconv.Itoa(a.port) + ": hello\n"
	if got := b.line(t); got != want {
		t.Errorf("b got %q, want %q", got, want)
	}
	if got := c.line(t); got != want {
		t.Errorf("c got %q, want %q", got, want)
	}

	io.WriteString(b, "QUIT\n")
	waitLen(t, s, 2)
	if got := a.line(t); got != strconv.Itoa(b.port)+": QUIT\n" {
		t.Errorf("a got %q", got)
	}
	b.SetReadDeadline(time.Now().Add(waitFor))
	if rest, _ := io.ReadAll(b.r); len(rest) != 0 {
		t.Errorf("quit peer still received %q", rest)
	}

	a.Close()
	waitLen(t, s, 1)
	if got := s.Control().Stats()["connections.closed"]; got != int64(2) {
		t.Errorf("connections.closed = %v", got)
	}
}

func TestBlockingSubmitAndBroadcast(t *testing.T) {
	s := startServer(t, relayConfig())
	a, b := dial(t, s), dial(t, s)
	waitLen(t, s, 2)

	s.Broadcast(0, "notice")
	if got := a.line(t); got != "0: notice\n" {
		t.Errorf("a got %q", got)
	}
	if got := b.line(t); got != "0: notice\n" {
		t.Errorf("b got %q", got)
	}
	s.SubmitLine(a.port, "quit")
	if got := b.line(t); got != strconv.Itoa(a.port)+": quit\n" {
		t.Errorf("b got %q", got)
	}
	waitLen(t, s, 1)
}

func TestBlockingQueueFullRejects(t *testing.T) {
	s := startServer(t, &blocking.Config{Workers: 1, QueueSize: 1})
	dial(t, s)
	waitLen(t, s, 1)
	dial(t, s) // waits in the queue

	extra := dial(t, s)
	extra.SetReadDeadline(time.Now().Add(waitFor))
	if _, err := extra.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("rejected connection should be closed, got %v", err)
	}
}

func TestBlockingWorkerStarvation(t *testing.T) {
	s := startServer(t, &blocking.Config{Workers: 1, QueueSize: 4})
	first := dial(t, s)
	waitLen(t, s, 1)

	// accepted by the kernel but parked in the executor queue
	second := dial(t, s)
	time.Sleep(100 * time.Millisecond)
	if got := s.Len(); got != 1 {
		t.Fatalf("Len = %d while the only worker is busy, want 1", got)
	}
	if got := s.Control().Stats()["connections.accepted"]; got != int64(1) {
		t.Errorf("connections.accepted = %v before the worker frees up", got)
	}

	// the queued peer's line is read once its handler runs
	io.WriteString(second, "waiting\n")
	first.Close()
	deadline := time.Now().Add(waitFor)
	for s.Control().Stats()["connections.accepted"] != int64(2) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.Control().Stats()["connections.accepted"]; got != int64(2) {
		t.Fatalf("connections.accepted = %v after the first peer left", got)
	}
	waitLen(t, s, 1)

	s.Broadcast(0, "served")
	if got := second.line(t); got != "0: served\n" {
		t.Errorf("second peer got %q", got)
	}
}

func TestBlockingRefusesRuntimeConfig(t *testing.T) {
	s := startServer(t, relayConfig())
	ctrl := s.Control()
	if err := ctrl.SetConfig(map[string]any{"workers": 99, "note": "kept"}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	got := ctrl.GetConfig()
	if got["workers"] != 8 {
		t.Errorf("workers = %v, want the running value 8", got["workers"])
	}
	if got["note"] != "kept" {
		t.Errorf("unrelated key dropped: %v", got)
	}
}

func TestBlockingBindFailure(t *testing.T) {
	s := startServer(t, nil)
	cfg := blocking.DefaultConfig()
	cfg.ListenAddr = s.Addr().String()
	if _, err := blocking.NewServer(cfg, quiet); !errors.Is(err, api.ErrBindFailure) {
		t.Errorf("expected ErrBindFailure, got %v", err)
	}
}

type chanInput chan string

func (in chanInput) NextUserInputLine() (string, error) {
	line, ok := <-in
	if !ok {
		return "", io.EOF
	}
	return line, nil
}

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) PrintLine(text string) {
	r.mu.Lock()
	r.lines = append(r.lines, text)
	r.mu.Unlock()
}

func (r *recorder) waitFor(t *testing.T, suffix string) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, l := range r.lines {
			if strings.HasSuffix(l, suffix) {
				r.mu.Unlock()
				return
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no printed line ends with %q", suffix)
}

func TestBlockingClients(t *testing.T) {
	s := startServer(t, relayConfig())
	cfg := &blocking.ClientConfig{ServerAddr: s.Addr().String()}

	inA, inB := make(chan string, 2), make(chan string, 2)
	outA, outB := &recorder{}, &recorder{}
	errA, errB := make(chan error, 1), make(chan error, 1)
	go func() { errA <- blocking.NewClient(cfg, chanInput(inA), outA, quiet).Run(context.Background()) }()
	go func() { errB <- blocking.NewClient(cfg, chanInput(inB), outB, quiet).Run(context.Background()) }()
	waitLen(t, s, 2)

	inA <- "hi there"
	outB.waitFor(t, ": hi there")

	close(inB)
	outA.waitFor(t, ": quit")
	select {
	case err := <-errB:
		if err != nil {
			t.Errorf("client B Run = %v", err)
		}
	case <-time.After(waitFor):
		t.Fatal("client B did not stop")
	}

	s.Close()
	select {
	case err := <-errA:
		if !errors.Is(err, api.ErrPeerGone) {
			t.Errorf("client A after server close = %v", err)
		}
	case <-time.After(waitFor):
		t.Fatal("client A did not stop")
	}
}

// scriptedInput replays fixed results, then reports end of input.
type scriptedInput struct {
	mu    sync.Mutex
	steps []func() (string, error)
}

func (in *scriptedInput) NextUserInputLine() (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.steps) == 0 {
		return "", io.EOF
	}
	step := in.steps[0]
	in.steps = in.steps[1:]
	return step()
}

func TestBlockingClientSkipsOversizedLine(t *testing.T) {
	s := startServer(t, relayConfig())
	watcher := dial(t, s)
	waitLen(t, s, 1)

	in := &scriptedInput{steps: []func() (string, error){
		func() (string, error) { return "", fmt.Errorf("console: %w", api.ErrLineTooLong) },
		func() (string, error) { return "kept going", nil },
	}}
	c := blocking.NewClient(&blocking.ClientConfig{ServerAddr: s.Addr().String()}, in, &recorder{}, quiet)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()

	if got := watcher.line(t); !strings.HasSuffix(got, ": kept going\n") {
		t.Errorf("watcher got %q, want the line after the oversized one", got)
	}
	if got := watcher.line(t); !strings.HasSuffix(got, ": quit\n") {
		t.Errorf("watcher got %q, want quit at end of input", got)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(waitFor):
		t.Fatal("client did not stop")
	}
}

func TestBlockingClientConnectFailed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	c := blocking.NewClient(&blocking.ClientConfig{ServerAddr: addr}, nil, nil, quiet)
	if err := c.Run(context.Background()); !errors.Is(err, api.ErrConnectFailed) {
		t.Errorf("expected ErrConnectFailed, got %v", err)
	}
}
