// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import (
	"fmt"
	"runtime"

	"github.com/momentics/hioload-relay/api"
)

// maxCPU bounds the CPU ids accepted by SetAffinity.
const maxCPU = 1024

// SetAffinity pins the current OS thread to a logical CPU. The caller must
// hold the thread with runtime.LockOSThread for the pin to mean anything.
func SetAffinity(cpuID int) error {
	if cpuID < 0 || cpuID >= maxCPU {
		return fmt.Errorf("affinity: cpu %d: %w", cpuID, api.ErrInvalidArgument)
	}
	return setAffinityPlatform(cpuID)
}

// PinLoop locks the calling goroutine to its OS thread and pins that thread to
// cpuID. unpin restores the previous CPU set and releases the thread; it is
// safe to call even when pinning failed.
func PinLoop(cpuID int) (unpin func(), err error) {
	runtime.LockOSThread()
	restore, err := saveAffinity()
	if err == nil {
		err = SetAffinity(cpuID)
	}
	if err != nil {
		runtime.UnlockOSThread()
		return func() {}, err
	}
	return func() {
		if restore() != nil {
			// leave the thread locked so the runtime discards it with the goroutine
			return
		}
		runtime.UnlockOSThread()
	}, nil
}
