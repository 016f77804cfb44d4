// Package relay holds the rules every relay backend shares.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package relay

import (
	"strconv"
	"strings"
)

// Quit is the sentinel a peer sends to leave.
const Quit = "quit"

// DefaultBufferSize is the capacity of each connection scratch buffer.
const DefaultBufferSize = 1024

// SyntheticIDFloor is where ids are allocated from when a peer port is
// already taken.
const SyntheticIDFloor = 1 << 16

// IsQuit reports whether text is the quit sentinel, ignoring surrounding
// whitespace and case.
func IsQuit(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), Quit)
}

// Label prefixes text with the id of the connection it came from.
func Label(origin int, text string) string {
	return strconv.Itoa(origin) + ": " + text
}
