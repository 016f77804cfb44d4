package client

import (
	"testing"

	"github.com/momentics/hioload-relay/api"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServerAddr != "127.0.0.1:8888" || cfg.BufferSize != 1024 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.WritePolicy != api.QueueOnBackpressure {
		t.Errorf("WritePolicy = %v", cfg.WritePolicy)
	}
}

func TestNewClientAppliesOptions(t *testing.T) {
	c := NewClient(&Config{ServerAddr: "127.0.0.1:1"}, nil, nil,
		WithBufferSize(16), WithWritePolicy(api.SpinOnBackpressure))
	if c.cfg.BufferSize != 16 || c.cfg.WritePolicy != api.SpinOnBackpressure {
		t.Errorf("options not applied: %+v", c.cfg)
	}
	if got := c.Control().GetConfig()["write_policy"]; got != "spin" {
		t.Errorf("published write_policy = %v", got)
	}
	if got := c.Control().Stats()["debug.state"]; got != "connecting" {
		t.Errorf("debug.state = %v", got)
	}
	c.SubmitLine("")
	if n := len(c.takeInbox()); n != 0 {
		t.Errorf("empty line queued")
	}
}
