package pools

import (
	"sync"
	"sync/atomic"
)

// Buffer pool sizes
const (
	HeaderBufferSize  = 1 << 10  // response status line + headers
	StagingBufferSize = 32 << 10 // file chunk staging window
	PageBufferSize    = 4 << 10  // generated bodies (error pages, AJAX)
)

// BufferPool recycles the fixed-size buffers used on the write path: the
// response header buffer, generated bodies and file staging windows.
type BufferPool struct {
	header  sync.Pool
	page    sync.Pool
	staging sync.Pool

	headerGets  atomic.Uint64
	pageGets    atomic.Uint64
	stagingGets atomic.Uint64
	puts        atomic.Uint64
}

func newTier(size int) sync.Pool {
	return sync.Pool{
		New: func() any {
			buf := make([]byte, 0, size)
			return &buf
		},
	}
}

// NewBufferPool creates a new buffer pool
func NewBufferPool() *BufferPool {
	return &BufferPool{
		header:  newTier(HeaderBufferSize),
		page:    newTier(PageBufferSize),
		staging: newTier(StagingBufferSize),
	}
}

// Header acquires an empty header buffer.
func (bp *BufferPool) Header() *[]byte {
	bp.headerGets.Add(1)
	return bp.header.Get().(*[]byte)
}

// Page acquires an empty body buffer.
func (bp *BufferPool) Page() *[]byte {
	bp.pageGets.Add(1)
	return bp.page.Get().(*[]byte)
}

// Staging acquires a staging window with len == cap.
func (bp *BufferPool) Staging() *[]byte {
	bp.stagingGets.Add(1)
	buf := bp.staging.Get().(*[]byte)
	*buf = (*buf)[:cap(*buf)]
	return buf
}

// Put returns a buffer to the tier matching its capacity. Buffers that grew
// past their tier are dropped.
func (bp *BufferPool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	*buf = (*buf)[:0]

	switch cap(*buf) {
	case HeaderBufferSize:
		bp.header.Put(buf)
	case PageBufferSize:
		bp.page.Put(buf)
	case StagingBufferSize:
		bp.staging.Put(buf)
	default:
		return
	}
	bp.puts.Add(1)
}

// Stats returns buffer pool statistics
func (bp *BufferPool) Stats() BufferStats {
	return BufferStats{
		HeaderGets:  bp.headerGets.Load(),
		PageGets:    bp.pageGets.Load(),
		StagingGets: bp.stagingGets.Load(),
		Puts:        bp.puts.Load(),
	}
}

// BufferStats contains buffer pool statistics
type BufferStats struct {
	HeaderGets  uint64
	PageGets    uint64
	StagingGets uint64
	Puts        uint64
}

// Global buffer pool
var globalBufferPool = NewBufferPool()

// Buffers returns the process-wide buffer pool.
func Buffers() *BufferPool {
	return globalBufferPool
}
