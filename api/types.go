// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// ConnState enumerates the lifecycle of a relay connection.
// States only ever advance forward.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Interest is the set of readiness kinds a channel is registered for.
type Interest uint8

const (
	InterestAccept Interest = 1 << iota
	InterestConnect
	InterestRead
	InterestWrite
)

// Has reports whether all bits of o are set in i.
func (i Interest) Has(o Interest) bool {
	return i&o == o && o != 0
}

func (i Interest) String() string {
	if i == 0 {
		return "none"
	}
	out := ""
	for _, p := range []struct {
		bit  Interest
		name string
	}{
		{InterestAccept, "accept"},
		{InterestConnect, "connect"},
		{InterestRead, "read"},
		{InterestWrite, "write"},
	} {
		if i&p.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += p.name
		}
	}
	return out
}

// WritePolicy selects how a connection reacts when its channel reports a
// full send buffer.
type WritePolicy int

const (
	// QueueOnBackpressure parks the unsent remainder on the connection and
	// resumes once the loop reports the channel writable.
	QueueOnBackpressure WritePolicy = iota
	// SpinOnBackpressure retries the write until everything is sent.
	SpinOnBackpressure
)

func (p WritePolicy) String() string {
	if p == SpinOnBackpressure {
		return "spin"
	}
	return "queue"
}
