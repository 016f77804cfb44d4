// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package api

// Channel is an exclusively owned non-blocking byte stream.
//
// Read returns (0, ErrWouldBlock) when nothing is available right now and
// (0, io.EOF) once the peer has closed its side. Write may transfer fewer
// bytes than requested; (0, ErrWouldBlock) means the send buffer is full.
type Channel interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	FD() int
}

// LineSource is the console-reading collaborator consumed by clients.
// NextUserInputLine blocks; it returns io.EOF at end of input.
type LineSource interface {
	NextUserInputLine() (string, error)
}

// LineSink receives decoded text destined for the console.
type LineSink interface {
	PrintLine(text string)
}

// Relay is the contract shared by every relay backend.
type Relay interface {
	// SubmitLine hands text to the relay as if connection id had sent it.
	SubmitLine(id int, text string)
	// Broadcast fans text out to every connection except origin.
	Broadcast(origin int, text string)
	// Len reports the number of registered connections.
	Len() int
}
