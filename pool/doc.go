// Package pool
// Author: momentics <momentics@gmail.com>
//
// Reusable memory for relay connections. Each connection takes a fixed-size
// read buffer and write buffer at accept or connect time and returns both
// when it is torn down.
package pool
