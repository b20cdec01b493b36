// Package parser implements the composable decode stages that turn buffered
// source bytes into fixed-rate samples.
//
// A stage consumes bytes from an appendbuf.Buffer, decodes as many complete
// units as the buffered data allows, and leaves the remainder untouched for
// the next call. Stages compose into a chain: a non-terminal stage (such as
// the gzip stage) exclusively owns a child stage and forwards its own
// decoded output, never its raw input, downstream. The terminal stage (the
// text stage) produces float64 samples on the 4 ms grid and pushes them to a
// Sink.
//
// The shipped chain layers GzipParser over TextParser, which makes both
// gzip-compressed and plain recordings decode transparently: non-gzip input
// switches the gzip stage into permanent passthrough.
package parser

import "github.com/pulseio/pulseio/appendbuf"

// Result reports the outcome of a Parse call that did not fail.
type Result int

const (
	// Continue means the stage consumed what it could and is ready for
	// more input.
	Continue Result = iota

	// QueueFull means the downstream sink refused a sample. The caller
	// must call WaitQueue before retrying Parse with the same arguments;
	// no decoded data is lost in between.
	QueueFull
)

// Parser is one decode stage of a chain.
//
// Parse consumes complete units from buf and reports backpressure through
// Result or an unrecoverable decode failure through a non-nil error; an
// erroring stream is abandoned, there is no mid-stream resync. final signals
// that no further bytes will arrive: the stage must flush everything it
// holds. Terminal stages flush with blocking pushes so that a final Parse
// does not report QueueFull; callers that drive foreign stages may still
// retry a final Parse after WaitQueue, and stages must treat the repeated
// final flag as idempotent.
//
// WaitQueue blocks until the chain can make progress again after QueueFull;
// a false return means the sink is gone and the stream should be abandoned.
// Reset restores construction-time state without leaking prior decode
// context. WaitQueue, Reset and Close all propagate down the chain; Close is
// idempotent and releases the child after the stage's own resources.
//
// A Parser is confined to the single goroutine driving its input.
type Parser interface {
	Parse(buf *appendbuf.Buffer, final bool) (Result, error)
	WaitQueue() bool
	Reset() error
	Close() error
}

// Sink receives decoded samples from a terminal stage. TryPush must not
// block; Push blocks until space is available and fails only when the sink
// is closed. *queue.Queue[float64] satisfies Sink.
type Sink interface {
	TryPush(v float64) bool
	Push(v float64) error
}
