package input

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/muesli/cancelreader"

	"github.com/pulseio/pulseio/appendbuf"
	"github.com/pulseio/pulseio/parser"
)

const fileReadSize = 4096

// FileSource streams bytes from a file or an arbitrary reader.
//
// The reader is wrapped in a cancelable reader so StopWait can interrupt a
// Wait blocked mid-read from another goroutine; origins that cannot be
// interrupted (regular files, plain readers) still observe the cancellation
// on their next read, which is prompt because such reads do not stall.
//
// Wait performs the actual read and stages the outcome; Read commits staged
// bytes into the buffer. Path-backed sources support Reopen, reader-backed
// ones do not.
type FileSource struct {
	mu      sync.Mutex
	stopped bool
	closed  bool

	path string
	f    *os.File
	cr   cancelreader.CancelReader

	stage     []byte
	stagedN   int
	stagedErr error

	buf   appendbuf.Buffer
	chain parser.Parser
}

// NewFile opens path and binds it to chain.
func NewFile(path string, chain parser.Parser) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return &FileSource{
		path:  path,
		f:     f,
		cr:    wrapCancelable(f),
		stage: make([]byte, fileReadSize),
		chain: chain,
	}, nil
}

// NewReaderSource binds an arbitrary reader to chain. The source does not
// take ownership of r beyond reading; Reopen is unsupported.
func NewReaderSource(r io.Reader, chain parser.Parser) *FileSource {
	return &FileSource{
		cr:    wrapCancelable(r),
		stage: make([]byte, fileReadSize),
		chain: chain,
	}
}

// wrapCancelable wraps r for interruptible reads, falling back to a plain
// wrapper for origins the platform poller refuses, such as regular files.
// Fallback reads cannot be interrupted mid-call, but those origins return
// promptly, and the cancellation still lands on the next read.
func wrapCancelable(r io.Reader) cancelreader.CancelReader {
	cr, err := cancelreader.NewReader(r)
	if err != nil {
		return &plainReader{r: r}
	}

	return cr
}

// plainReader is the non-interruptible fallback. It honors Cancel on the
// following read and reports it with the same sentinel as the real one.
type plainReader struct {
	mu       sync.Mutex
	canceled bool
	r        io.Reader
}

func (p *plainReader) Read(b []byte) (int, error) {
	p.mu.Lock()
	canceled := p.canceled
	p.mu.Unlock()
	if canceled {
		return 0, cancelreader.ErrCanceled
	}

	return p.r.Read(b)
}

func (p *plainReader) Cancel() bool {
	p.mu.Lock()
	p.canceled = true
	p.mu.Unlock()

	return false
}

func (p *plainReader) Close() error {
	return nil
}

// Wait implements Source. It blocks in one read against the origin and
// stages whatever comes back for the next Read call.
func (s *FileSource) Wait() WaitStatus {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return WaitStopped
	}
	if s.stagedN > 0 || s.stagedErr != nil {
		s.mu.Unlock()
		return WaitNew
	}
	cr := s.cr
	s.mu.Unlock()

	// Blocking read outside the lock so StopWait can get in.
	n, err := cr.Read(s.stage)

	s.mu.Lock()
	defer s.mu.Unlock()

	if errors.Is(err, cancelreader.ErrCanceled) {
		s.stopped = true
		return WaitStopped
	}
	if s.stopped {
		return WaitStopped
	}

	s.stagedN = n
	s.stagedErr = err
	if err != nil && !errors.Is(err, io.EOF) {
		return WaitFailed
	}

	return WaitNew
}

// Read implements Source, committing bytes staged by Wait into the buffer.
// An end of stream or read failure staged together with bytes is held back
// until the bytes have been delivered.
func (s *FileSource) Read() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stagedN > 0 {
		n := s.stagedN
		s.buf.Append(s.stage[:n])
		s.stagedN = 0

		return n, nil
	}

	if s.stagedErr != nil {
		err := s.stagedErr
		s.stagedErr = nil
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}

		return 0, fmt.Errorf("read failed: %w", err)
	}

	return 0, nil
}

// StopWait implements Source: it is sticky and interrupts a Wait blocked in
// a read when the origin supports cancellation.
func (s *FileSource) StopWait() {
	s.mu.Lock()
	s.stopped = true
	cr := s.cr
	s.mu.Unlock()

	if cr != nil {
		cr.Cancel()
	}
}

// Reopen implements Source: path-backed sources reopen the file from the
// start and reset the buffer and parser chain with it.
func (s *FileSource) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return ErrReopenUnsupported
	}

	s.cr.Close()
	s.f.Close()
	s.f = nil
	s.cr = nil

	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.path, err)
	}

	s.f = f
	s.cr = wrapCancelable(f)
	s.stagedN = 0
	s.stagedErr = nil
	s.buf.Reset()

	return s.chain.Reset()
}

// Buffer implements Source.
func (s *FileSource) Buffer() *appendbuf.Buffer {
	return &s.buf
}

// Parser implements Source.
func (s *FileSource) Parser() parser.Parser {
	return s.chain
}

// Close implements Source. Idempotent.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.buf.Reset()
	err := s.chain.Close()

	if s.cr != nil {
		s.cr.Close()
		s.cr = nil
	}
	if s.f != nil {
		if cerr := s.f.Close(); err == nil {
			err = cerr
		}
		s.f = nil
	}

	return err
}
