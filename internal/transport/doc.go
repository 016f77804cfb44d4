// Package transport
// Author: momentics <momentics@gmail.com>
//
// Non-blocking TCP sockets handed to the reactor by raw descriptor. Listener
// and Socket report "try again later" as api.ErrWouldBlock and a closed peer
// as io.EOF, never as an empty result.
package transport
