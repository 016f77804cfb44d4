// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness multiplexer that drives the relay
// event loops. The Linux implementation is built on epoll; other platforms
// report ErrNotSupported.
package reactor
