// Package chunk implements the output queue a response is streamed from.
//
// A queue holds spans of files, caller buffers, strings and heap memory in
// order. The write path pulls successive windows with Read and reports how
// much of each window reached the socket with Commit, so nothing is copied
// into one contiguous body.
package chunk

import (
	"errors"
	"os"

	"github.com/searchktools/xg-server/core/pools"
)

// Kind identifies the storage behind a chunk.
type Kind uint8

const (
	KindNone Kind = iota
	KindFile
	KindBuffer
	KindString
	KindHeap
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindBuffer:
		return "buffer"
	case KindString:
		return "string"
	case KindHeap:
		return "heap"
	}
	return "none"
}

// Error definitions
var (
	ErrOutOfRange = errors.New("chunk: window out of range")
	ErrShortFile  = errors.New("chunk: file ended before its window")
)

// Chunk is one span of output. The owned variants (OwnedFile, Heap) release
// their storage when the queue is freed; the borrowed ones never do.
type Chunk interface {
	Kind() Kind
	Len() int64
	release()
}

// fileSpan is the window shared by both file variants.
type fileSpan struct {
	f      *os.File
	offset int64
	length int64
	seeked bool
}

func (s *fileSpan) Kind() Kind      { return KindFile }
func (s *fileSpan) Len() int64      { return s.length }
func (s *fileSpan) file() *fileSpan { return s }

// OwnedFile is a file window whose descriptor is closed when the queue is freed.
type OwnedFile struct{ fileSpan }

func (c *OwnedFile) release() {
	if c.f != nil {
		c.f.Close()
		c.f = nil
	}
}

// SharedFile is a file window over a descriptor someone else closes.
type SharedFile struct{ fileSpan }

func (c *SharedFile) release() { c.f = nil }

// Buffer is a borrowed window over a caller-owned byte slice.
type Buffer struct {
	b      []byte
	offset int
	length int
}

func (c *Buffer) Kind() Kind { return KindBuffer }
func (c *Buffer) Len() int64 { return int64(c.length) }
func (c *Buffer) release()   { c.b = nil }

// String is a borrowed window over a string.
type String struct {
	s      string
	offset int
	length int
}

func (c *String) Kind() Kind { return KindString }
func (c *String) Len() int64 { return int64(c.length) }
func (c *String) release()   { c.s = "" }

// Heap is owned memory handed to the queue; it goes back to the byte idle
// list on release.
type Heap struct {
	b []byte
}

func (c *Heap) Kind() Kind { return KindHeap }
func (c *Heap) Len() int64 { return int64(len(c.b)) }
func (c *Heap) release() {
	pools.PutBytes(c.b)
	c.b = nil
}

type filer interface {
	file() *fileSpan
}

func fileWindow(f *os.File, offset, length int64) (fileSpan, error) {
	st, err := f.Stat()
	if err != nil {
		return fileSpan{}, err
	}
	size := st.Size()
	if offset < 0 || length < 0 || offset >= size {
		return fileSpan{}, ErrOutOfRange
	}
	if length == 0 {
		length = size - offset
	}
	if offset+length > size {
		return fileSpan{}, ErrOutOfRange
	}
	return fileSpan{f: f, offset: offset, length: length}, nil
}

// NewFile builds a file chunk covering [offset, offset+length) of f. A zero
// length means up to the end of the file. When owned is true the queue
// closes f.
func NewFile(f *os.File, offset, length int64, owned bool) (Chunk, error) {
	span, err := fileWindow(f, offset, length)
	if err != nil {
		return nil, err
	}
	if owned {
		return &OwnedFile{span}, nil
	}
	return &SharedFile{span}, nil
}

// NewBuffer builds a borrowed chunk over b[offset:offset+length]. A zero
// length means up to the end of b.
func NewBuffer(b []byte, offset, length int) (*Buffer, error) {
	if offset < 0 || length < 0 || offset > len(b) {
		return nil, ErrOutOfRange
	}
	if length == 0 {
		length = len(b) - offset
	}
	if offset+length > len(b) {
		return nil, ErrOutOfRange
	}
	return &Buffer{b: b, offset: offset, length: length}, nil
}

// NewString builds a borrowed chunk over s[offset:offset+length].
func NewString(s string, offset, length int) (*String, error) {
	if offset < 0 || length < 0 || offset > len(s) {
		return nil, ErrOutOfRange
	}
	if length == 0 {
		length = len(s) - offset
	}
	if offset+length > len(s) {
		return nil, ErrOutOfRange
	}
	return &String{s: s, offset: offset, length: length}, nil
}
