// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, effective configuration and debug introspection for the
// relay servers. All types are safe for concurrent use so that a monitoring
// goroutine can read while the event loop updates.
package control
