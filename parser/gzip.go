package parser

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pulseio/pulseio/appendbuf"
	"github.com/pulseio/pulseio/internal/pool"
)

// ErrTruncated is returned when a stream that began like gzip ends in the
// middle of the member header.
var ErrTruncated = errors.New("gzip: truncated header")

// gzip member layout, RFC 1952.
const (
	gzipID1      = 0x1f
	gzipID2      = 0x8b
	gzipDeflate  = 0x08
	gzipHdrLen   = 10
	gzipMagicLen = 3

	gzipFlagHeaderCRC = 1 << 1 // FHCRC
	gzipFlagExtra     = 1 << 2 // FEXTRA
	gzipFlagName      = 1 << 3 // FNAME
	gzipFlagComment   = 1 << 4 // FCOMMENT
)

type gzipState int

const (
	gzStateMagic gzipState = iota
	gzStateHeader
	gzStateExtra
	gzStateName
	gzStateComment
	gzStateHeaderCRC
	gzStateInitInflate
	gzStateInflate
	gzStateDone
	gzStatePassthrough
)

// GzipParser is a non-terminal decode stage that transparently decompresses
// a gzip member in front of its child stage.
//
// Input that does not start with the gzip magic switches the stage into
// permanent passthrough: raw bytes, the final flag, backpressure and errors
// all flow to the child unchanged, so compressed and uncompressed sources
// are handled by one chain. For gzip input the stage skips the optional
// header fields (resuming across arbitrarily small fills), streams the
// deflate body through an inflater goroutine into a private buffer the
// child consumes from, and forces final downstream once the compressed
// stream ends, regardless of the outer flag. Bytes trailing the member,
// including the CRC32/ISIZE trailer, are discarded unvalidated.
type GzipParser struct {
	child Parser
	state gzipState

	flags     byte
	skip      int
	skipArmed bool

	inf   *inflater
	chunk []byte
	out   appendbuf.Buffer
	wb    []byte // checked-out write buffer while the inflater holds it

	childFinal bool // end of member reached, final delivery still owed
	closed     bool
}

// NewGzip creates a gzip stage owning child. The child is closed, reset and
// waited on through this stage.
func NewGzip(child Parser) *GzipParser {
	return &GzipParser{child: child}
}

// Parse implements Parser.
func (p *GzipParser) Parse(buf *appendbuf.Buffer, final bool) (Result, error) {
	for {
		switch p.state {
		case gzStatePassthrough:
			return p.child.Parse(buf, final)

		case gzStateMagic:
			if buf.Len() < gzipMagicLen {
				if !final {
					return Continue, nil
				}
				// Too short to be gzip; hand the tail through.
				p.state = gzStatePassthrough
				continue
			}
			var magic [gzipMagicLen]byte
			buf.Copy(0, magic[:])
			if magic[0] != gzipID1 || magic[1] != gzipID2 || magic[2] != gzipDeflate {
				p.state = gzStatePassthrough
				continue
			}
			p.state = gzStateHeader

		case gzStateHeader:
			if buf.Len() < gzipHdrLen {
				return p.stall(final)
			}
			var hdr [gzipHdrLen]byte
			buf.Copy(0, hdr[:])
			buf.MoveHead(gzipHdrLen)
			p.flags = hdr[3]
			p.state = gzStateExtra

		case gzStateExtra:
			if p.flags&gzipFlagExtra == 0 {
				p.state = gzStateName
				continue
			}
			if !p.skipArmed {
				if buf.Len() < 2 {
					return p.stall(final)
				}
				var xlen [2]byte
				buf.Copy(0, xlen[:])
				buf.MoveHead(2)
				p.skip = int(binary.LittleEndian.Uint16(xlen[:]))
				p.skipArmed = true
			}
			n := min(p.skip, buf.Len())
			buf.MoveHead(n)
			p.skip -= n
			if p.skip > 0 {
				return p.stall(final)
			}
			p.skipArmed = false
			p.state = gzStateName

		case gzStateName:
			if p.flags&gzipFlagName == 0 {
				p.state = gzStateComment
				continue
			}
			if !p.skipTerminated(buf) {
				return p.stall(final)
			}
			p.state = gzStateComment

		case gzStateComment:
			if p.flags&gzipFlagComment == 0 {
				p.state = gzStateHeaderCRC
				continue
			}
			if !p.skipTerminated(buf) {
				return p.stall(final)
			}
			p.state = gzStateHeaderCRC

		case gzStateHeaderCRC:
			if p.flags&gzipFlagHeaderCRC == 0 {
				p.state = gzStateInitInflate
				continue
			}
			if buf.Len() < 2 {
				return p.stall(final)
			}
			buf.MoveHead(2)
			p.state = gzStateInitInflate

		case gzStateInitInflate:
			p.inf = newInflater()
			p.chunk = pool.GetChunk()
			p.state = gzStateInflate

		case gzStateInflate:
			return p.runInflate(buf, final)

		case gzStateDone:
			buf.MoveHead(buf.Len())
			if p.childFinal {
				return p.finishChild()
			}
			return Continue, nil
		}
	}
}

// skipTerminated consumes bytes up to and including a null terminator.
// Scanned bytes are consumed immediately so the scan resumes where it left
// off on the next fill. Returns false while the terminator is still out.
func (p *GzipParser) skipTerminated(buf *appendbuf.Buffer) bool {
	i := buf.IndexByte(0, 0)
	if i < 0 {
		buf.MoveHead(buf.Len())
		return false
	}
	buf.MoveHead(i + 1)

	return true
}

// stall reports a header state that ran out of bytes: more input may still
// arrive unless the stream already ended mid-header.
func (p *GzipParser) stall(final bool) (Result, error) {
	if final {
		return Continue, ErrTruncated
	}

	return Continue, nil
}

// runInflate streams the deflate body: drain compressed bytes from buf into
// the inflater, land decompressed bytes in the private buffer through the
// write-buffer path, and forward them to the child after every produce.
func (p *GzipParser) runInflate(buf *appendbuf.Buffer, final bool) (Result, error) {
	// Forward decoded bytes an earlier call could not deliver. Skipped
	// while a write buffer is checked out: the inflater may still write
	// into its backing piece, so the private buffer must not be mutated.
	if p.wb == nil && p.out.Len() > 0 {
		res, err := p.child.Parse(&p.out, false)
		if err != nil || res == QueueFull {
			return res, err
		}
	}

	for {
		if p.wb == nil {
			p.wb = p.out.WriteBuffer()
		}

		n, st, err := p.inf.decode(p.wb, buf, p.chunk, final)
		if err != nil {
			return Continue, fmt.Errorf("inflate failed: %w", err)
		}

		switch st {
		case inflateOutput:
			p.out.FinishWriteBuffer(n)
			p.wb = nil
			res, err := p.child.Parse(&p.out, false)
			if err != nil || res == QueueFull {
				return res, err
			}

		case inflateNeedInput:
			return Continue, nil

		case inflateEOS:
			p.out.FinishWriteBuffer(n)
			p.wb = nil
			p.state = gzStateDone
			p.childFinal = true
			buf.MoveHead(buf.Len())
			return p.finishChild()
		}
	}
}

// finishChild delivers the final downstream flush. Left armed when the
// child reports a full sink so a retried Parse delivers it again.
func (p *GzipParser) finishChild() (Result, error) {
	res, err := p.child.Parse(&p.out, true)
	if err == nil && res == Continue {
		p.childFinal = false
	}

	return res, err
}

// WaitQueue implements Parser by delegating to the child.
func (p *GzipParser) WaitQueue() bool {
	return p.child.WaitQueue()
}

// Reset aborts any in-flight decompression, returns the stage to magic
// detection, and resets the child.
func (p *GzipParser) Reset() error {
	p.releaseInflater()
	p.out.Reset()
	p.wb = nil
	p.state = gzStateMagic
	p.flags = 0
	p.skip = 0
	p.skipArmed = false
	p.childFinal = false

	return p.child.Reset()
}

// Close releases the stage's resources and closes the child. Idempotent.
func (p *GzipParser) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	p.releaseInflater()
	p.out.Reset()
	p.wb = nil

	return p.child.Close()
}

func (p *GzipParser) releaseInflater() {
	if p.inf != nil {
		p.inf.close()
		p.inf = nil
	}
	if p.chunk != nil {
		pool.PutChunk(p.chunk)
		p.chunk = nil
	}
}
