// Package appendbuf provides an appendable scatter/gather byte buffer.
//
// A Buffer accumulates bytes in fixed-capacity pieces so that appending new
// data and consuming decoded data from the head are both O(1) and never move
// already-buffered bytes. Decode stages can hold back an unparsed tail
// indefinitely without copy storms: consumed pieces are recycled through a
// pool, unconsumed ones stay in place.
//
// The zero value is an empty buffer ready for use. A Buffer is not safe for
// concurrent use; callers that share one across goroutines must provide
// their own synchronization.
package appendbuf

import (
	"bytes"
	"sync"
)

// PieceSize is the data capacity of a single buffer piece. Pieces are the
// unit of Buffer growth: appends allocate a new piece only when the trailing
// capacity of the last piece is exhausted.
const PieceSize = 256

// Piece is one fixed-capacity chunk of buffer storage. Pieces are obtained
// from NewPiece, filled through Data, and handed to a Buffer with
// AppendPiece, or returned unused with FreePiece.
type Piece struct {
	next *Piece
	used int
	data [PieceSize]byte
}

// Data returns the full backing array of the piece for callers that read
// directly into buffer-owned memory. The number of bytes actually filled is
// reported to AppendPiece.
func (p *Piece) Data() []byte {
	return p.data[:]
}

var piecePool = sync.Pool{
	New: func() any { return new(Piece) },
}

// NewPiece returns a detached, empty piece from the pool.
func NewPiece() *Piece {
	p := piecePool.Get().(*Piece)
	p.next = nil
	p.used = 0

	return p
}

// FreePiece returns a detached piece to the pool. The caller must not touch
// the piece afterwards.
func FreePiece(p *Piece) {
	p.next = nil
	piecePool.Put(p)
}

// Buffer is an appendable scatter/gather byte buffer.
//
// Logically it is a byte queue: Append and the write-buffer operations add
// bytes at the tail, MoveHead consumes bytes from the head, and Copy and the
// iteration helpers read without consuming. The head of the first piece may
// hold already-consumed bytes; they are skipped by every read path and freed
// once the whole piece is consumed.
type Buffer struct {
	head     *Piece
	tail     *Piece
	length   int
	firstOff int
	scratch  *Piece // detached piece checked out by WriteBuffer
}

// Len returns the number of unconsumed bytes in the buffer.
func (b *Buffer) Len() int {
	return b.length
}

// Reset releases every piece back to the pool and restores the buffer to its
// empty state. Any outstanding write buffer or cursor is invalidated.
func (b *Buffer) Reset() {
	for p := b.head; p != nil; {
		next := p.next
		FreePiece(p)
		p = next
	}
	if b.scratch != nil {
		FreePiece(b.scratch)
		b.scratch = nil
	}

	b.head = nil
	b.tail = nil
	b.length = 0
	b.firstOff = 0
}

// Append copies p at the end of buffered data, allocating new pieces only
// when the trailing capacity of the last piece is exhausted.
//
// Returns the number of bytes copied. Bytes copied before a failure stay
// committed; with Go's allocator the return value always equals len(p).
func (b *Buffer) Append(p []byte) int {
	total := len(p)
	if total == 0 {
		return 0
	}

	// Fill trailing capacity of the last piece first.
	if b.tail != nil && b.tail.used < PieceSize {
		n := copy(b.tail.data[b.tail.used:], p)
		b.tail.used += n
		b.length += n
		p = p[n:]
	}

	for len(p) > 0 {
		pc := NewPiece()
		n := copy(pc.data[:], p)
		pc.used = n
		b.appendPiece(pc)
		b.length += n
		p = p[n:]
	}

	return total
}

func (b *Buffer) appendPiece(pc *Piece) {
	if b.tail == nil {
		b.head = pc
		b.tail = pc
		return
	}

	b.tail.next = pc
	b.tail = pc
}

// Copy reads up to len(dst) bytes starting at logical offset without
// consuming them.
//
// Returns the number of bytes copied, which is less than len(dst) only when
// the read would pass the end of buffered data.
func (b *Buffer) Copy(offset int, dst []byte) int {
	if offset < 0 || offset >= b.length || len(dst) == 0 {
		return 0
	}

	skip := b.firstOff + offset
	copied := 0
	for p := b.head; p != nil && copied < len(dst); p = p.next {
		if skip >= p.used {
			skip -= p.used
			continue
		}
		copied += copy(dst[copied:], p.data[skip:p.used])
		skip = 0
	}

	return copied
}

// MoveHead consumes n bytes from the front of the buffer, freeing pieces
// that become fully consumed.
//
// n == Len() empties the buffer and returns true. n > Len() also empties the
// buffer but returns false so callers can detect the overshoot; the clearing
// side effect is kept because consumers rely on it.
func (b *Buffer) MoveHead(n int) bool {
	if n == b.length {
		b.Reset()
		return true
	}
	if n > b.length {
		b.Reset()
		return false
	}
	if n <= 0 {
		return true
	}

	rem := b.firstOff + n
	for p := b.head; p != nil; {
		if rem < p.used {
			b.head = p
			b.firstOff = rem
			break
		}

		rem -= p.used
		next := p.next
		FreePiece(p)
		p = next
		b.head = p
		b.firstOff = 0
	}
	if b.head == nil {
		b.tail = nil
	}
	b.length -= n

	return true
}

// EndFree returns the unused trailing capacity of the last piece for
// in-place writes, or nil when the buffer is empty or the last piece is
// full. Bytes written there become part of the buffer only after MoveEnd.
func (b *Buffer) EndFree() []byte {
	if b.tail == nil || b.tail.used == PieceSize {
		return nil
	}

	return b.tail.data[b.tail.used:]
}

// MoveEnd marks n trailing bytes as in use, committing bytes the caller
// wrote into the slice returned by EndFree. n must not exceed the length of
// the last EndFree result; otherwise nothing is committed and MoveEnd
// returns false.
func (b *Buffer) MoveEnd(n int) bool {
	if b.tail == nil || n > PieceSize-b.tail.used {
		return false
	}

	b.tail.used += n
	b.length += n

	return true
}

// WriteBuffer returns a scratch slice the caller can fill directly with
// appended bytes, pairing EndFree with a transparent fallback to a fresh
// detached piece when no trailing capacity remains. The write is committed
// by FinishWriteBuffer; no other mutating call may happen in between.
func (b *Buffer) WriteBuffer() []byte {
	if b.scratch != nil {
		return b.scratch.data[:]
	}
	if wb := b.EndFree(); wb != nil {
		return wb
	}

	b.scratch = NewPiece()

	return b.scratch.data[:]
}

// FinishWriteBuffer commits the first n bytes of the slice handed out by
// WriteBuffer. n == 0 is valid and discards the scratch piece when one was
// allocated. Returns false when n exceeds the handed-out capacity.
func (b *Buffer) FinishWriteBuffer(n int) bool {
	if b.scratch == nil {
		if n == 0 {
			return true
		}
		return b.MoveEnd(n)
	}

	pc := b.scratch
	b.scratch = nil
	if n == 0 {
		FreePiece(pc)
		return true
	}
	if n > PieceSize {
		FreePiece(pc)
		return false
	}

	pc.used = n
	b.appendPiece(pc)
	b.length += n

	return true
}

// AppendPiece appends a detached piece filled with n bytes at the end of the
// buffer. n must be between 1 and PieceSize and the buffer must not have
// trailing unused capacity (check with EndFree); otherwise AppendPiece
// returns false and the piece stays with the caller.
func (b *Buffer) AppendPiece(pc *Piece, n int) bool {
	if n <= 0 || n > PieceSize {
		return false
	}
	if b.tail != nil && b.tail.used < PieceSize {
		return false
	}

	pc.used = n
	b.appendPiece(pc)
	b.length += n

	return true
}

// Clone returns an independent deep copy of the buffer. Mutating the clone
// never changes the original and vice versa.
func (b *Buffer) Clone() *Buffer {
	nb := &Buffer{
		length:   b.length,
		firstOff: b.firstOff,
	}
	for p := b.head; p != nil; p = p.next {
		pc := NewPiece()
		copy(pc.data[:p.used], p.data[:p.used])
		pc.used = p.used
		nb.appendPiece(pc)
	}

	return nb
}

// MoveTo transfers ownership of all buffered bytes to dst and leaves the
// receiver empty. Previous contents of dst are released.
func (b *Buffer) MoveTo(dst *Buffer) {
	if dst == b {
		return
	}

	dst.Reset()
	dst.head = b.head
	dst.tail = b.tail
	dst.length = b.length
	dst.firstOff = b.firstOff
	dst.scratch = b.scratch

	b.head = nil
	b.tail = nil
	b.length = 0
	b.firstOff = 0
	b.scratch = nil
}

// IndexByte returns the logical offset of the first occurrence of c at or
// after offset from, or -1 when c is not present. The buffer is not
// consumed.
func (b *Buffer) IndexByte(from int, c byte) int {
	if from < 0 {
		from = 0
	}
	if from >= b.length {
		return -1
	}

	skip := b.firstOff + from
	pos := from
	for p := b.head; p != nil; p = p.next {
		if skip >= p.used {
			skip -= p.used
			continue
		}
		if i := bytes.IndexByte(p.data[skip:p.used], c); i >= 0 {
			return pos + i
		}
		pos += p.used - skip
		skip = 0
	}

	return -1
}
