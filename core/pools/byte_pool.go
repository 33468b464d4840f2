package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool is a multi-tiered idle list of request read buffers. A connection
// takes one buffer sized for the request head and grows into a larger tier
// once the body length is known.
type BytePool struct {
	pools []*sync.Pool
	sizes []int

	gets      atomic.Uint64
	puts      atomic.Uint64
	oversized atomic.Uint64
}

// Size classes for request heads and form bodies
var defaultSizes = []int{
	4 << 10,   // request line + a few headers
	16 << 10,  // typical browser head
	64 << 10,  // default max head size
	256 << 10, // urlencoded bodies
	1 << 20,   // default max post size
}

// NewBytePool creates a new byte pool with standard size tiers
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom size tiers
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, 0, sz)
				return &buf
			},
		}
	}

	return bp
}

// Get returns an empty slice with capacity of at least size.
func (bp *BytePool) Get(size int) []byte {
	bp.gets.Add(1)
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			buf := *bp.pools[i].Get().(*[]byte)
			return buf[:0]
		}
	}

	bp.oversized.Add(1)
	return make([]byte, 0, size)
}

// Grow returns a slice holding buf's contents with capacity for at least
// size bytes. buf is recycled when a new slice is taken.
func (bp *BytePool) Grow(buf []byte, size int) []byte {
	if cap(buf) >= size {
		return buf
	}
	next := bp.Get(size)
	next = append(next, buf...)
	bp.Put(buf)
	return next
}

// Put returns a byte slice to the pool. Slices that do not match a tier
// are left to the GC.
func (bp *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}
	capacity := cap(buf)
	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:0]
			bp.pools[i].Put(&buf)
			bp.puts.Add(1)
			return
		}
	}
}

// Stats returns pool statistics
func (bp *BytePool) Stats() BytePoolStats {
	return BytePoolStats{
		Gets:      bp.gets.Load(),
		Puts:      bp.puts.Load(),
		Oversized: bp.oversized.Load(),
	}
}

// BytePoolStats contains byte pool statistics
type BytePoolStats struct {
	Gets      uint64
	Puts      uint64
	Oversized uint64
}

// Global byte pool instance
var globalBytePool = NewBytePool()

// Bytes returns the process-wide byte pool.
func Bytes() *BytePool {
	return globalBytePool
}

// GetBytes is a convenience function using the global pool
func GetBytes(size int) []byte {
	return globalBytePool.Get(size)
}

// PutBytes returns bytes to the global pool
func PutBytes(buf []byte) {
	globalBytePool.Put(buf)
}

// Grow is BytePool.Grow on the global pool
func Grow(buf []byte, size int) []byte {
	return globalBytePool.Grow(buf, size)
}
