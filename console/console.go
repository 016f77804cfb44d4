// File: console/console.go
// Package console provides the line-oriented terminal collaborators of the
// relay clients.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package console

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/momentics/hioload-relay/api"
)

// maxLine bounds a single input line.
const maxLine = 64 * 1024

// LineReader yields one line of user input per call.
type LineReader struct {
	r *bufio.Reader
}

var _ api.LineSource = (*LineReader)(nil)

// NewLineReader reads lines from r, typically os.Stdin.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, 4096)}
}

// NextUserInputLine blocks until a full line is available and returns it
// without the line terminator. It returns io.EOF once input ends. A line
// longer than 64 KiB is consumed and reported as api.ErrLineTooLong; the
// next call continues with the following line.
func (lr *LineReader) NextUserInputLine() (string, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := lr.r.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(bytes.TrimSuffix(line, []byte("\n"))) > maxLine {
				tooLong, line = true, nil
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil && (err != io.EOF || (len(line) == 0 && !tooLong)) {
			return "", err
		}
		break
	}
	if tooLong {
		return "", fmt.Errorf("console: line over %d bytes skipped: %w", maxLine, api.ErrLineTooLong)
	}
	text := strings.TrimSuffix(string(line), "\n")
	return strings.TrimSuffix(text, "\r"), nil
}

// Printer writes relayed text to an output stream, one entry per line.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

var _ api.LineSink = (*Printer)(nil)

// NewPrinter prints to w, typically os.Stdout.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintLine writes text, adding a newline unless it already ends with one.
// Safe from any goroutine.
func (p *Printer) PrintLine(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.w, text)
	if !strings.HasSuffix(text, "\n") {
		io.WriteString(p.w, "\n")
	}
}
