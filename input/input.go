// Package input abstracts where sensor byte streams come from and drives
// them through a parser chain.
//
// A Source owns an append buffer and a parser chain and bridges them to a
// concrete byte origin: a file on disk, an arbitrary descriptor-like reader,
// or bytes pushed in by the application. Run is the pipeline loop: it waits
// on the source, drains newly arrived bytes into the buffer, and hands the
// buffer to the parser chain until the stream ends, fails, or is stopped.
//
// Wait, Read, Reopen and Run belong to one driving goroutine. StopWait is
// the only cross-goroutine call: it may be invoked from anywhere, at any
// time, and is sticky, so a stop requested before Wait even starts is still
// honored. Close may be called once the driving goroutine is done.
package input

import (
	"errors"

	"github.com/pulseio/pulseio/appendbuf"
	"github.com/pulseio/pulseio/parser"
)

// ErrReopenUnsupported is returned by Reopen on sources that have no way to
// restart, such as pushed byte streams or plain readers.
var ErrReopenUnsupported = errors.New("input: reopen unsupported")

// ErrSinkClosed is returned by Run when the sample sink at the end of the
// parser chain is gone and buffered samples can no longer be delivered.
var ErrSinkClosed = errors.New("input: sample sink closed")

// WaitStatus is the outcome of one Source.Wait call.
type WaitStatus int

const (
	// WaitNew: new bytes, end of stream, or a read failure are ready to be
	// collected with Read.
	WaitNew WaitStatus = iota

	// WaitStopped: StopWait was called; the source will not produce again.
	WaitStopped

	// WaitFailed: the source failed; the next Read reports the failure.
	WaitFailed
)

// String returns the status name for logs and test output.
func (s WaitStatus) String() string {
	switch s {
	case WaitNew:
		return "new"
	case WaitStopped:
		return "stopped"
	case WaitFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Source is a byte-stream origin bound to an append buffer and a parser
// chain.
//
// Wait blocks until bytes are available, the stream ends or fails, or
// StopWait is called. Read moves available bytes into the buffer and
// returns how many arrived: 0 with a nil error means no bytes without
// blocking, 0 with io.EOF means the stream ended, and any other error is a
// read failure. Reopen restarts a restartable source from scratch,
// resetting the buffer and the parser chain with it.
type Source interface {
	Wait() WaitStatus
	Read() (int, error)
	StopWait()
	Reopen() error
	Buffer() *appendbuf.Buffer
	Parser() parser.Parser
	Close() error
}
