// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness multiplexer interface.

package reactor

import "github.com/momentics/hioload-relay/api"

// Event is a single readiness notification returned by Wait.
type Event struct {
	FD    int          // file descriptor that became ready
	Ready api.Interest // subset of the registered interest that is actionable
	Hup   bool         // peer hang-up or socket error was reported alongside
}

// Poller multiplexes readiness over many non-blocking descriptors.
//
// Add, Modify, Remove, Wait and Close must be called from the goroutine that
// owns the loop. Wakeup is the only method safe to call from other goroutines.
type Poller interface {
	// Add registers fd with the given interest set.
	Add(fd int, interest api.Interest) error

	// Modify replaces the interest set of a registered fd.
	Modify(fd int, interest api.Interest) error

	// Remove cancels the registration of fd. Unknown fds are ignored.
	Remove(fd int) error

	// Interest returns the current registration of fd.
	Interest(fd int) (api.Interest, bool)

	// Wait blocks until at least one registered interest is ready or until
	// Wakeup is called, then fills events and returns their count.
	// After Close it fails with api.ErrLoopCancelled.
	Wait(events []Event) (int, error)

	// Wakeup interrupts a blocked Wait.
	Wakeup() error

	// Close releases the multiplexer.
	Close() error
}
