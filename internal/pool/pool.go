// Package pool provides pooled scratch byte storage for the copy and
// formatting hot paths of the module.
package pool

import "sync"

// ChunkSize is the granularity used when staging bytes between buffers,
// matching the piece capacity of the append buffer.
const ChunkSize = 256

var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, ChunkSize)
		return &b
	},
}

// GetChunk returns a ChunkSize-byte scratch slice from the pool.
func GetChunk() []byte {
	return *chunkPool.Get().(*[]byte)
}

// PutChunk returns a slice obtained from GetChunk to the pool. Slices of the
// wrong capacity are discarded.
func PutChunk(b []byte) {
	if cap(b) != ChunkSize {
		return
	}

	b = b[:ChunkSize]
	chunkPool.Put(&b)
}

// lineBufferMaxThreshold caps the capacity of buffers retained by the line
// pool so one oversized formatting run does not pin memory.
const lineBufferMaxThreshold = 4096

// ByteBuffer is a reusable, growable byte slice for building small pieces of
// output, typically one formatted text line at a time.
type ByteBuffer struct {
	// B is the underlying byte slice, manipulated directly by callers.
	B []byte
}

// Reset empties the buffer while keeping its allocation.
func (bb *ByteBuffer) Reset() {
	bb.B = bb.B[:0]
}

// Len returns the number of bytes currently in the buffer.
func (bb *ByteBuffer) Len() int {
	return len(bb.B)
}

// Cap returns the capacity of the underlying slice.
func (bb *ByteBuffer) Cap() int {
	return cap(bb.B)
}

var lineBufferPool = sync.Pool{
	New: func() any {
		return &ByteBuffer{B: make([]byte, 0, 64)}
	},
}

// GetLineBuffer returns an empty ByteBuffer from the pool.
func GetLineBuffer() *ByteBuffer {
	return lineBufferPool.Get().(*ByteBuffer)
}

// PutLineBuffer returns a ByteBuffer to the pool, discarding buffers that
// grew past the retention threshold.
func PutLineBuffer(bb *ByteBuffer) {
	if bb == nil || cap(bb.B) > lineBufferMaxThreshold {
		return
	}

	bb.Reset()
	lineBufferPool.Put(bb)
}
