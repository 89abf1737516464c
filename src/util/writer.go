package util

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// Writer buffers disassembly output from a compiling goroutine in a
// strings.Builder. When Close is called the buffer is flushed to the
// designated output over the Writer's channel, so concurrent clause
// compilations (cg.CompileAll with Threads > 1) never interleave partial
// lines in the combined dump.
type Writer struct {
	sb strings.Builder
	c  chan string
}

// ---------------------
// ----- Constants -----
// ---------------------

var wc chan string
var cc chan error
var wg *sync.WaitGroup

// ---------------------
// ----- functions -----
// ---------------------

// Write writes a format string to the Writer's buffer.
func (w *Writer) Write(format string, args ...interface{}) {
	w.sb.WriteString(fmt.Sprintf(format, args...))
}

// WriteString writes a plain string to the Writer's buffer.
func (w *Writer) WriteString(s string) {
	w.sb.WriteString(s)
}

// Flush sends the buffer's contents to the designated output and resets it.
func (w *Writer) Flush() {
	w.c <- w.sb.String()
	w.sb = strings.Builder{}
}

// Close flushes the Writer's buffer and signals the dump is complete.
func (w *Writer) Close() {
	w.Flush()
	w.c = nil
	wg.Done()
}

// NewWriter returns a new Writer for a single clause's disassembly dump.
// Must not be called before ListenDump.
func NewWriter() Writer {
	wg.Add(1)
	return Writer{c: wc}
}

// ListenDump starts the background listener that serializes writes from
// concurrently compiling goroutines into f (or stdout if f is nil).
func ListenDump(threads int, f *os.File, wgg *sync.WaitGroup) {
	wg = wgg
	if threads > 1 {
		wc = make(chan string, threads+1)
	} else {
		wc = make(chan string, 1)
	}
	cc = make(chan error, 1)

	var w *bufio.Writer
	if f != nil {
		w = bufio.NewWriter(f)
	} else {
		w = bufio.NewWriter(os.Stdout)
	}

	go func(wc chan string, cc chan error) {
		defer close(wc)
		defer close(cc)
		for {
			select {
			case s := <-wc:
				_, _ = w.WriteString(s)
				_ = w.Flush()
			case <-cc:
				return
			}
		}
	}(wc, cc)
}

// CloseDump sends the termination signal to the dump listener.
func CloseDump() {
	cc <- nil
}
