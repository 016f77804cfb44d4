package conn

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/internal/codec"
)

type readResult struct {
	data []byte
	err  error
}

// fakeChannel scripts reads and throttles writes.
type fakeChannel struct {
	reads     []readResult
	written   []byte
	maxWrite  int // bytes accepted per Write, 0 = unlimited
	blockNext int // Writes that report ErrWouldBlock before accepting again
	writeErr  error
	writes    int
	closed    int
}

func (f *fakeChannel) Read(p []byte) (int, error) {
	if len(f.reads) == 0 {
		return 0, api.ErrWouldBlock
	}
	r := f.reads[0]
	n := copy(p, r.data)
	if n < len(r.data) {
		f.reads[0].data = r.data[n:]
		return n, nil
	}
	f.reads = f.reads[1:]
	if n > 0 && r.err != nil {
		// deliver the data now, the error on the next call
		f.reads = append([]readResult{{err: r.err}}, f.reads...)
		return n, nil
	}
	return n, r.err
}

func (f *fakeChannel) Write(p []byte) (int, error) {
	f.writes++
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.blockNext > 0 {
		f.blockNext--
		return 0, api.ErrWouldBlock
	}
	n := len(p)
	if f.maxWrite > 0 && n > f.maxWrite {
		n = f.maxWrite
	}
	f.written = append(f.written, p[:n]...)
	return n, nil
}

func (f *fakeChannel) Close() error {
	f.closed++
	return nil
}

func (f *fakeChannel) FD() int { return 42 }

func newTestConn(ch *fakeChannel, bufSize int, opts ...Option) *Connection {
	return New(7, ch, make([]byte, bufSize), make([]byte, bufSize), api.StateConnected, opts...)
}

func TestReceiveDrainsUntilWouldBlock(t *testing.T) {
	ch := &fakeChannel{reads: []readResult{
		{data: []byte("hello ")},
		{data: []byte("world")},
	}}
	c := newTestConn(ch, 4)
	text, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if in, _ := c.Traffic(); in != int64(len("hello world")) {
		t.Errorf("bytes in = %d", in)
	}
}

func TestReceiveEmptyIsNotEndOfStream(t *testing.T) {
	c := newTestConn(&fakeChannel{}, 16)
	text, err := c.Receive()
	if err != nil || text != "" {
		t.Errorf("Receive on idle channel = (%q, %v), want empty and nil", text, err)
	}
}

func TestReceiveEndOfStream(t *testing.T) {
	ch := &fakeChannel{reads: []readResult{{data: []byte("last words"), err: io.EOF}}}
	c := newTestConn(ch, 64)
	text, err := c.Receive()
	if !errors.Is(err, api.ErrPeerGone) {
		t.Fatalf("expected ErrPeerGone, got %v", err)
	}
	if !errors.Is(err, io.EOF) {
		t.Errorf("cause should be io.EOF, got %v", err)
	}
	if text != "last words" {
		t.Errorf("text before EOF = %q", text)
	}
	if ch.closed != 0 {
		t.Error("Receive must not close the channel")
	}
}

func TestReceiveSplitMultibyte(t *testing.T) {
	b := codec.Encode("用户[1]: 你好")
	ch := &fakeChannel{reads: []readResult{{data: b[:2]}, {data: b[2:7]}, {data: b[7:]}}}
	c := newTestConn(ch, 3)
	text, err := c.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if text != "用户[1]: 你好" {
		t.Errorf("text = %q", text)
	}
}

func TestSendPartialWrites(t *testing.T) {
	for _, policy := range []api.WritePolicy{api.QueueOnBackpressure, api.SpinOnBackpressure} {
		t.Run(policy.String(), func(t *testing.T) {
			ch := &fakeChannel{maxWrite: 3}
			c := newTestConn(ch, 8, WithWritePolicy(policy))
			payload := strings.Repeat("abcdefghij", 5)
			blocked, err := c.Send(payload)
			if err != nil || blocked {
				t.Fatalf("Send = (%v, %v)", blocked, err)
			}
			if string(ch.written) != payload {
				t.Errorf("written = %q", ch.written)
			}
			if _, out := c.Traffic(); out != int64(len(payload)) {
				t.Errorf("bytes out = %d", out)
			}
		})
	}
}

func TestSendSpinsThroughWouldBlock(t *testing.T) {
	ch := &fakeChannel{maxWrite: 2, blockNext: 5}
	c := newTestConn(ch, 16, WithWritePolicy(api.SpinOnBackpressure))
	blocked, err := c.Send("spin until done")
	if err != nil || blocked {
		t.Fatalf("Send = (%v, %v)", blocked, err)
	}
	if string(ch.written) != "spin until done" {
		t.Errorf("written = %q", ch.written)
	}
}

func TestSendQueuesOnWouldBlock(t *testing.T) {
	ch := &fakeChannel{blockNext: 1}
	c := newTestConn(ch, 4)
	blocked, err := c.Send("queued payload")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !blocked {
		t.Fatal("expected Send to report backpressure")
	}
	if c.Pending() != len("queued payload") {
		t.Errorf("pending = %d", c.Pending())
	}

	// later sends line up behind the parked data
	if blocked, _ := c.Send("+next"); !blocked {
		t.Error("second Send should queue behind pending data")
	}

	ch.maxWrite = 5
	drained, err := c.Flush()
	if err != nil || !drained {
		t.Fatalf("Flush = (%v, %v)", drained, err)
	}
	if string(ch.written) != "queued payload+next" {
		t.Errorf("written = %q", ch.written)
	}
	if c.Pending() != 0 {
		t.Errorf("pending after flush = %d", c.Pending())
	}
}

func TestPendingLimitTearsDown(t *testing.T) {
	ch := &fakeChannel{blockNext: 100}
	c := newTestConn(ch, 8, WithMaxPending(10))
	if blocked, err := c.Send("123456"); err != nil || !blocked {
		t.Fatalf("Send = (%v, %v), want parked", blocked, err)
	}
	if blocked, err := c.Send("abcd"); err != nil || !blocked {
		t.Fatalf("Send at the limit = (%v, %v)", blocked, err)
	}
	if c.Pending() != 10 {
		t.Fatalf("pending = %d, want 10", c.Pending())
	}

	_, err := c.Send("!")
	if !errors.Is(err, api.ErrPeerGone) || !errors.Is(err, ErrPendingLimit) {
		t.Fatalf("expected ErrPeerGone caused by ErrPendingLimit, got %v", err)
	}
	if c.Pending() != 10 {
		t.Errorf("rejected payload was parked: pending = %d", c.Pending())
	}
}

func TestPendingLimitCountsFlushedBytes(t *testing.T) {
	ch := &fakeChannel{blockNext: 1}
	c := newTestConn(ch, 16, WithMaxPending(8))
	if blocked, _ := c.Send("12345678"); !blocked {
		t.Fatal("expected Send to park")
	}
	ch.blockNext = 0
	ch.maxWrite = 3
	wrapped := &throttle{fakeChannel: ch, after: func() { ch.blockNext = 1 }}
	c.ch = wrapped
	if drained, err := c.Flush(); err != nil || drained {
		t.Fatalf("Flush = (%v, %v), want partial", drained, err)
	}
	if c.Pending() != 5 {
		t.Fatalf("pending = %d, want 5", c.Pending())
	}
	// room freed by the partial flush is usable again
	if _, err := c.Send("abc"); err != nil {
		t.Fatalf("Send after partial flush: %v", err)
	}
	if c.Pending() != 8 {
		t.Errorf("pending = %d, want 8", c.Pending())
	}
}

func TestFlushResumesMidChunk(t *testing.T) {
	ch := &fakeChannel{blockNext: 1}
	c := newTestConn(ch, 32)
	if blocked, _ := c.Send("0123456789"); !blocked {
		t.Fatal("expected backpressure")
	}
	ch.maxWrite = 4
	// accept one write, then block again
	first := true
	wrapped := &throttle{fakeChannel: ch, after: func() {
		if first {
			first = false
			ch.blockNext = 1
		}
	}}
	c.ch = wrapped
	drained, err := c.Flush()
	if err != nil || drained {
		t.Fatalf("Flush = (%v, %v), want partial", drained, err)
	}
	if c.Pending() != 6 {
		t.Errorf("pending = %d, want 6", c.Pending())
	}
	drained, err = c.Flush()
	if err != nil || !drained {
		t.Fatalf("second Flush = (%v, %v)", drained, err)
	}
	if string(ch.written) != "0123456789" {
		t.Errorf("written = %q", ch.written)
	}
}

type throttle struct {
	*fakeChannel
	after func()
}

func (t *throttle) Write(p []byte) (int, error) {
	n, err := t.fakeChannel.Write(p)
	if n > 0 {
		t.after()
	}
	return n, err
}

func TestSendWriteErrorIsPeerGone(t *testing.T) {
	ch := &fakeChannel{writeErr: errors.New("connection reset by peer")}
	c := newTestConn(ch, 8)
	_, err := c.Send("x")
	if !errors.Is(err, api.ErrPeerGone) {
		t.Errorf("expected ErrPeerGone, got %v", err)
	}
}

func TestLifecycleAdvancesForwardOnly(t *testing.T) {
	c := New(1, &fakeChannel{}, make([]byte, 4), make([]byte, 4), api.StateConnecting)
	if err := c.Advance(api.StateConnected); err != nil {
		t.Fatalf("connecting -> connected: %v", err)
	}
	if err := c.Advance(api.StateConnected); !errors.Is(err, api.ErrInvalidState) {
		t.Errorf("repeat transition should fail, got %v", err)
	}
	if err := c.Advance(api.StateClosing); err != nil {
		t.Fatalf("connected -> closing: %v", err)
	}
	if err := c.Advance(api.StateConnecting); !errors.Is(err, api.ErrInvalidState) {
		t.Errorf("backward transition should fail, got %v", err)
	}
	if _, err := c.Send("x"); !errors.Is(err, api.ErrPeerGone) {
		t.Errorf("Send while closing should fail, got %v", err)
	}
}

func TestCloseIsIdempotentAndReleasesBuffers(t *testing.T) {
	ch := &fakeChannel{blockNext: 1}
	released := 0
	c := newTestConn(ch, 8, WithRelease(func(r, w []byte) {
		released++
		if cap(r) != 8 || cap(w) != 8 {
			t.Errorf("released buffers of cap %d/%d", cap(r), cap(w))
		}
	}))
	c.Send("parked")
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if ch.closed != 1 || released != 1 {
		t.Errorf("closed=%d released=%d, want 1/1", ch.closed, released)
	}
	if c.State() != api.StateClosed || c.Pending() != 0 {
		t.Errorf("state=%s pending=%d", c.State(), c.Pending())
	}
}
