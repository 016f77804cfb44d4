//go:build linux
// +build linux

package affinity

import (
	"errors"
	"runtime"
	"testing"

	"github.com/momentics/hioload-relay/api"
	"golang.org/x/sys/unix"
)

func TestPinLoop(t *testing.T) {
	allowed, err := current()
	if err != nil || len(allowed) == 0 {
		t.Skipf("cannot read affinity: %v", err)
	}
	cpu := allowed[len(allowed)-1]

	done := make(chan struct{})
	go func() {
		defer close(done)
		unpin, err := PinLoop(cpu)
		defer unpin()
		if err != nil {
			t.Errorf("PinLoop(%d): %v", cpu, err)
			return
		}
		got, err := current()
		if err != nil || len(got) != 1 || got[0] != cpu {
			t.Errorf("affinity after pin = %v, %v", got, err)
		}
	}()
	<-done

	restored := make(chan []int, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		unpin, err := PinLoop(cpu)
		if err != nil {
			restored <- nil
			return
		}
		unpin()
		// still on the same thread through the outer lock
		got, _ := current()
		restored <- got
	}()
	if got := <-restored; len(got) != len(allowed) {
		t.Errorf("affinity after unpin = %v, want %v", got, allowed)
	}
}

func TestSetAffinityRejectsBadCPU(t *testing.T) {
	if err := SetAffinity(-1); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if err := SetAffinity(maxCPU); !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

// current returns the CPUs the calling thread may run on.
func current() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}
	var cpus []int
	for i := 0; i < 1024 && len(cpus) < set.Count(); i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}
