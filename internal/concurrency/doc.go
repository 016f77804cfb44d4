// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded worker pool used by the thread-per-connection relay backend. Each
// submitted task holds a worker for its whole lifetime, so the worker count
// caps concurrently served connections and the queue holds the rest.
package concurrency
