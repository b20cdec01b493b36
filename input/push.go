package input

import (
	"sync"

	"github.com/pulseio/pulseio/appendbuf"
	"github.com/pulseio/pulseio/internal/pool"
	"github.com/pulseio/pulseio/parser"
)

// PushSource is a Source fed by the application instead of an underlying
// descriptor: any goroutine hands bytes in with Push and Wait wakes the
// driving goroutine to consume them.
//
// Pushed bytes land in a staging buffer under the source's lock, so pushers
// never contend with parsing. StopWait doubles as the graceful end of a
// pushed stream: buffered bytes are still delivered first, then Wait
// reports stopped and the pipeline flushes. Push returns false once the
// source is stopped.
type PushSource struct {
	mu      sync.Mutex
	cond    sync.Cond
	stopped bool
	closed  bool
	hasNew  bool

	staging appendbuf.Buffer

	buf   appendbuf.Buffer
	chain parser.Parser
}

// NewPush creates a push source bound to chain.
func NewPush(chain parser.Parser) *PushSource {
	s := &PushSource{chain: chain}
	s.cond.L = &s.mu

	return s
}

// Push appends data for the driving goroutine to consume. It never blocks
// and is safe from any goroutine. Returns false when the source is stopped
// or closed and the bytes were not accepted.
func (s *PushSource) Push(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.closed {
		return false
	}

	s.staging.Append(data)
	s.hasNew = true
	s.cond.Signal()

	return true
}

// Wait implements Source, blocking until bytes are pushed or the source is
// stopped. Pending bytes win over a stop so nothing pushed before the stop
// is lost.
func (s *PushSource) Wait() WaitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.stopped && !s.hasNew {
		s.cond.Wait()
	}
	if s.hasNew {
		return WaitNew
	}

	return WaitStopped
}

// Read implements Source, moving staged bytes into the parse buffer.
func (s *PushSource) Read() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hasNew = false
	n := s.staging.Len()
	if n == 0 {
		return 0, nil
	}

	if s.buf.Len() == 0 {
		s.staging.MoveTo(&s.buf)
		return n, nil
	}

	// The parse buffer still holds an unconsumed tail; append behind it.
	chunk := pool.GetChunk()
	for s.staging.Len() > 0 {
		c := s.staging.Copy(0, chunk)
		s.staging.MoveHead(c)
		s.buf.Append(chunk[:c])
	}
	pool.PutChunk(chunk)

	return n, nil
}

// StopWait implements Source. For pushed streams this is also the normal
// end-of-stream signal; bytes pushed before the stop still reach the
// parser.
func (s *PushSource) StopWait() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.cond.Broadcast()
}

// Reopen implements Source. Pushed streams cannot restart themselves.
func (s *PushSource) Reopen() error {
	return ErrReopenUnsupported
}

// Buffer implements Source.
func (s *PushSource) Buffer() *appendbuf.Buffer {
	return &s.buf
}

// Parser implements Source.
func (s *PushSource) Parser() parser.Parser {
	return s.chain
}

// Close implements Source. Idempotent.
func (s *PushSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.stopped = true
	s.cond.Broadcast()

	s.staging.Reset()
	s.buf.Reset()

	return s.chain.Close()
}
