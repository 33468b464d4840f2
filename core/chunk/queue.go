package chunk

import (
	"io"
	"os"
	"unsafe"

	"github.com/searchktools/xg-server/core/pools"
	"github.com/searchktools/xg-server/core/socket"
)

// Queue is an ordered list of chunks with a single read cursor.
//
// The cursor is the current chunk plus the number of its bytes already
// committed. File chunks are streamed through a staging window taken from
// the buffer idle list; stagePos..stageLen is the part of the window not yet
// committed.
type Queue struct {
	chunks  []Chunk
	cur     int
	written int64
	size    int64

	stage    *[]byte
	stagePos int
	stageLen int
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{chunks: make([]Chunk, 0, 4)}
}

// Add appends a chunk.
func (q *Queue) Add(c Chunk) {
	q.chunks = append(q.chunks, c)
	q.size += c.Len()
}

// AddFirst puts c in front of every other chunk. Used for the response head,
// which is only complete once the body is known.
func (q *Queue) AddFirst(c Chunk) {
	q.chunks = append(q.chunks, nil)
	copy(q.chunks[1:], q.chunks)
	q.chunks[0] = c
	q.size += c.Len()
}

// AddFile appends a window of f. A zero length means up to the end of f.
func (q *Queue) AddFile(f *os.File, offset, length int64, owned bool) error {
	c, err := NewFile(f, offset, length, owned)
	if err != nil {
		return err
	}
	q.Add(c)
	return nil
}

// AddBuffer appends a borrowed window of b.
func (q *Queue) AddBuffer(b []byte, offset, length int) error {
	c, err := NewBuffer(b, offset, length)
	if err != nil {
		return err
	}
	q.Add(c)
	return nil
}

// AddString appends a borrowed window of s.
func (q *Queue) AddString(s string, offset, length int) error {
	c, err := NewString(s, offset, length)
	if err != nil {
		return err
	}
	q.Add(c)
	return nil
}

// AddHeap appends b and takes ownership of it. b should come from
// pools.GetBytes; it is handed back on Free.
func (q *Queue) AddHeap(b []byte) {
	if len(b) == 0 {
		pools.PutBytes(b)
		return
	}
	q.Add(&Heap{b: b})
}

// Len is the total number of bytes queued.
func (q *Queue) Len() int64 {
	return q.size
}

// Count is the number of chunks.
func (q *Queue) Count() int {
	return len(q.chunks)
}

// Remaining is the number of bytes not yet committed.
func (q *Queue) Remaining() int64 {
	var n int64
	for i := q.cur; i < len(q.chunks); i++ {
		n += q.chunks[i].Len()
	}
	return n - q.written
}

// Read returns the next window to transmit. It returns socket.OK with a
// non-empty window, socket.EOF when every chunk was committed, and
// socket.Error when a file chunk cannot be read. The window stays valid
// until the next Commit, Reset or Free.
func (q *Queue) Read() ([]byte, socket.Result, error) {
	for q.cur < len(q.chunks) {
		c := q.chunks[q.cur]
		if q.written >= c.Len() {
			q.next()
			continue
		}

		switch c := c.(type) {
		case *Buffer:
			start := c.offset + int(q.written)
			return c.b[start : c.offset+c.length], socket.OK, nil

		case *String:
			start := c.offset + int(q.written)
			s := c.s[start : c.offset+c.length]
			return unsafe.Slice(unsafe.StringData(s), len(s)), socket.OK, nil

		case *Heap:
			return c.b[q.written:], socket.OK, nil

		case filer:
			return q.readFile(c.file())
		}

		// Unknown chunk kinds carry nothing
		q.next()
	}
	return nil, socket.EOF, nil
}

// readFile serves the uncommitted part of the staging window, refilling it
// from the file when it is used up. The file is positioned once, on the
// first read of the chunk, and then read sequentially.
func (q *Queue) readFile(s *fileSpan) ([]byte, socket.Result, error) {
	if q.stage == nil {
		q.stage = pools.Buffers().Staging()
		q.stagePos, q.stageLen = 0, 0
	}
	if q.stagePos < q.stageLen {
		return (*q.stage)[q.stagePos:q.stageLen], socket.OK, nil
	}

	if !s.seeked {
		if _, err := s.f.Seek(s.offset+q.written, io.SeekStart); err != nil {
			return nil, socket.Error, err
		}
		s.seeked = true
	}

	want := int64(len(*q.stage))
	if rest := s.length - q.written; rest < want {
		want = rest
	}

	n, err := io.ReadFull(s.f, (*q.stage)[:want])
	if n == 0 {
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			err = ErrShortFile
		}
		return nil, socket.Error, err
	}

	q.stagePos, q.stageLen = 0, n
	return (*q.stage)[:n], socket.OK, nil
}

// Commit records that n bytes of the last window reached the peer.
func (q *Queue) Commit(n int) {
	if n <= 0 || q.cur >= len(q.chunks) {
		return
	}
	q.written += int64(n)
	if q.chunks[q.cur].Kind() == KindFile {
		q.stagePos += n
	}
	if q.written >= q.chunks[q.cur].Len() {
		q.next()
	}
}

func (q *Queue) next() {
	q.cur++
	q.written = 0
	q.stagePos, q.stageLen = 0, 0
}

// Reset rewinds the cursor to the first chunk. File chunks are positioned
// again on their next read.
func (q *Queue) Reset() {
	q.cur = 0
	q.written = 0
	q.stagePos, q.stageLen = 0, 0
	for _, c := range q.chunks {
		if f, ok := c.(filer); ok {
			f.file().seeked = false
		}
	}
}

// Free releases every chunk, closing owned files and returning heap memory
// and the staging window to their idle lists. The queue can be reused.
func (q *Queue) Free() {
	for i, c := range q.chunks {
		c.release()
		q.chunks[i] = nil
	}
	q.chunks = q.chunks[:0]
	q.cur = 0
	q.written = 0
	q.size = 0
	if q.stage != nil {
		pools.Buffers().Put(q.stage)
		q.stage = nil
	}
	q.stagePos, q.stageLen = 0, 0
}
