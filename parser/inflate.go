package parser

import (
	"errors"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/pulseio/pulseio/appendbuf"
)

// inflateStatus reports what one decode step achieved.
type inflateStatus int

const (
	// inflateOutput: bytes were written into the destination.
	inflateOutput inflateStatus = iota

	// inflateNeedInput: no progress is possible until more compressed
	// bytes arrive. The destination stays checked out by the decompressor
	// and the same slice must be passed to the next decode call.
	inflateNeedInput

	// inflateEOS: the compressed stream ended cleanly. Final bytes may
	// accompany the status.
	inflateEOS
)

type inflateResult struct {
	n   int
	err error
}

var errInflaterClosed = errors.New("inflater closed")

// inflater drives a pull-based flate reader in push mode. The reader runs on
// its own goroutine; the owning stage feeds bounded compressed chunks and
// output destinations through lockstep channels, so the stage never blocks
// on missing input and the goroutine never races the stage's buffers.
//
// Protocol per decode call: hand the destination to the goroutine (once,
// it stays checked out across needInput returns), then answer its hunger
// signals with chunks drained from the source buffer until it either
// produces output, signals end of stream, or fails. At most one chunk is in
// flight, and the goroutine consumes it fully before asking again, so the
// caller may reuse a single scratch chunk for every feed.
type inflater struct {
	feedCh chan []byte        // compressed chunk; nil slice signals end of input
	moreCh chan struct{}      // goroutine ran out of compressed bytes
	dstCh  chan []byte        // next output destination
	outCh  chan inflateResult // result of one read into the destination
	quitCh chan struct{}
	doneCh chan struct{}

	dstPending bool // destination checked out by the goroutine
	hungry     bool // a hunger signal was consumed without feeding
	eofSent    bool
	finished   bool
	closed     bool
}

func newInflater() *inflater {
	inf := &inflater{
		feedCh: make(chan []byte),
		moreCh: make(chan struct{}),
		dstCh:  make(chan []byte),
		outCh:  make(chan inflateResult),
		quitCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go inf.run()

	return inf
}

func (inf *inflater) run() {
	defer close(inf.doneCh)

	fr := flate.NewReader(&feedReader{inf: inf})
	defer fr.Close()

	for {
		var dst []byte
		select {
		case dst = <-inf.dstCh:
		case <-inf.quitCh:
			return
		}

		n, err := fr.Read(dst)
		if errors.Is(err, errInflaterClosed) {
			return
		}

		select {
		case inf.outCh <- inflateResult{n: n, err: err}:
		case <-inf.quitCh:
			return
		}
		if err != nil {
			return
		}
	}
}

// feedReader adapts the lockstep channels to the io.Reader the flate
// decompressor pulls from.
type feedReader struct {
	inf *inflater
	cur []byte
	eof bool
}

func (r *feedReader) Read(p []byte) (int, error) {
	if r.eof {
		return 0, io.EOF
	}

	for len(r.cur) == 0 {
		select {
		case r.inf.moreCh <- struct{}{}:
		case <-r.inf.quitCh:
			return 0, errInflaterClosed
		}

		select {
		case chunk := <-r.inf.feedCh:
			if chunk == nil {
				r.eof = true
				return 0, io.EOF
			}
			r.cur = chunk
		case <-r.inf.quitCh:
			return 0, errInflaterClosed
		}
	}

	n := copy(p, r.cur)
	r.cur = r.cur[n:]

	return n, nil
}

// decode runs the decompressor until it produces output into dst, needs
// more compressed input than src holds, reaches end of stream, or fails.
// Compressed bytes are drained from src through chunk, at most len(chunk)
// per feed. While decode keeps returning inflateNeedInput the same dst must
// be passed back and the destination's backing memory must stay untouched.
func (inf *inflater) decode(dst []byte, src *appendbuf.Buffer, chunk []byte, final bool) (int, inflateStatus, error) {
	if inf.finished {
		return 0, inflateEOS, nil
	}

	if !inf.dstPending {
		select {
		case inf.dstCh <- dst:
			inf.dstPending = true
		case <-inf.quitCh:
			return 0, inflateNeedInput, errInflaterClosed
		}
	}

	if inf.hungry && !inf.feed(src, chunk, final) {
		return 0, inflateNeedInput, nil
	}

	for {
		select {
		case res := <-inf.outCh:
			inf.dstPending = false
			switch {
			case res.err == nil:
				if res.n == 0 {
					// Spurious empty read; hand the destination back.
					select {
					case inf.dstCh <- dst:
						inf.dstPending = true
					case <-inf.quitCh:
						return 0, inflateNeedInput, errInflaterClosed
					}
					continue
				}
				return res.n, inflateOutput, nil
			case errors.Is(res.err, io.EOF):
				inf.finished = true
				return res.n, inflateEOS, nil
			default:
				inf.finished = true
				return 0, inflateNeedInput, res.err
			}
		case <-inf.moreCh:
			if !inf.feed(src, chunk, final) {
				inf.hungry = true
				return 0, inflateNeedInput, nil
			}
		}
	}
}

// feed sends one compressed chunk drained from src, or the end-of-input
// marker when src is empty and final is set. Returns false when there is
// nothing to send.
func (inf *inflater) feed(src *appendbuf.Buffer, chunk []byte, final bool) bool {
	if src.Len() > 0 {
		n := src.Copy(0, chunk)
		src.MoveHead(n)
		select {
		case inf.feedCh <- chunk[:n]:
		case <-inf.quitCh:
			return false
		}
		inf.hungry = false

		return true
	}

	if final && !inf.eofSent {
		select {
		case inf.feedCh <- nil:
		case <-inf.quitCh:
			return false
		}
		inf.eofSent = true
		inf.hungry = false

		return true
	}

	return false
}

// close stops the goroutine and waits for it to exit. Idempotent.
func (inf *inflater) close() {
	if inf.closed {
		return
	}
	inf.closed = true

	close(inf.quitCh)
	<-inf.doneCh
}
