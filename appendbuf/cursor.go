package appendbuf

import "iter"

// Cursor is a restartable, forward-only, non-mutating view over the logical
// bytes of a Buffer, oldest to newest. Crossing a piece boundary is O(1)
// amortized.
//
// A cursor is invalidated by any mutating Buffer call (Append, MoveHead,
// MoveEnd, write-buffer commits, Reset, MoveTo); using it afterwards yields
// undefined bytes. Obtain a fresh cursor instead.
type Cursor struct {
	p   *Piece
	off int
	pos int
}

// Cursor returns a cursor positioned at the first unconsumed byte.
func (b *Buffer) Cursor() Cursor {
	c := Cursor{pos: 0}
	if b.length == 0 {
		return c
	}

	c.p = b.head
	c.off = b.firstOff

	return c
}

// Valid reports whether the cursor still points at a byte.
func (c *Cursor) Valid() bool {
	return c.p != nil
}

// Pos returns the logical position of the cursor, counted from the first
// unconsumed byte of the buffer.
func (c *Cursor) Pos() int {
	return c.pos
}

// Byte returns the byte under the cursor. The cursor must be valid.
func (c *Cursor) Byte() byte {
	return c.p.data[c.off]
}

// Next returns the byte under the cursor and advances by one. ok is false
// once the cursor has passed the last byte.
func (c *Cursor) Next() (b byte, ok bool) {
	if c.p == nil {
		return 0, false
	}

	b = c.p.data[c.off]
	c.Forward(1)

	return b, true
}

// Forward advances the cursor by n bytes. Advancing past the last byte
// leaves the cursor invalid.
func (c *Cursor) Forward(n int) {
	if c.p == nil || n <= 0 {
		return
	}

	// Fast path: stay within the current piece.
	if c.off+n < c.p.used {
		c.off += n
		c.pos += n
		return
	}

	for n > 0 {
		left := c.p.used - c.off
		if n < left {
			c.off += n
			c.pos += n
			return
		}

		c.pos += left
		n -= left
		c.p = c.p.next
		c.off = 0
		if c.p == nil {
			return
		}
	}
}

// All returns an iterator over (logical offset, byte) pairs of the buffered
// data, oldest to newest. The buffer must not be mutated during iteration.
func (b *Buffer) All() iter.Seq2[int, byte] {
	return func(yield func(int, byte) bool) {
		pos := 0
		skip := b.firstOff
		for p := b.head; p != nil; p = p.next {
			for i := skip; i < p.used; i++ {
				if !yield(pos, p.data[i]) {
					return
				}
				pos++
			}
			skip = 0
		}
	}
}
