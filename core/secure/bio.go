package secure

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

// wouldBlock is returned by memConn.Read in non-blocking mode. crypto/tls
// keeps partially read records when the error is temporary.
type wouldBlock struct{}

func (wouldBlock) Error() string   { return "secure: read would block" }
func (wouldBlock) Timeout() bool   { return true }
func (wouldBlock) Temporary() bool { return true }

var errWouldBlock net.Error = wouldBlock{}

type memAddr struct{}

func (memAddr) Network() string { return "tcp" }
func (memAddr) String() string  { return "memory" }

// memConn is the transport crypto/tls runs over. Ciphertext read from the
// socket is fed in, ciphertext produced by the TLS stack collects in out and
// is flushed to the socket by the owner.
//
// While blocking is set (during the handshake goroutine) Read waits for
// input. Afterwards Read returns errWouldBlock when no input is buffered.
type memConn struct {
	mu       sync.Mutex
	cond     *sync.Cond
	in       bytes.Buffer
	out      bytes.Buffer
	blocking bool
	eof      bool
	closed   bool

	session *Session
	onWrite func()
}

func newMemConn(s *Session, onWrite func()) *memConn {
	c := &memConn{blocking: true, session: s, onWrite: onWrite}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *memConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.in.Len() == 0 {
		if c.closed || c.eof {
			return 0, io.EOF
		}
		if !c.blocking {
			return 0, errWouldBlock
		}
		c.cond.Wait()
	}
	return c.in.Read(p)
}

func (c *memConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, net.ErrClosed
	}
	c.out.Write(p)
	notify := c.blocking && c.onWrite != nil
	c.mu.Unlock()

	if notify {
		c.onWrite()
	}
	return len(p), nil
}

// feed appends ciphertext received from the socket.
func (c *memConn) feed(p []byte) {
	c.mu.Lock()
	c.in.Write(p)
	c.cond.Signal()
	c.mu.Unlock()
}

// setEOF marks the socket side as finished.
func (c *memConn) setEOF() {
	c.mu.Lock()
	c.eof = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *memConn) setBlocking(v bool) {
	c.mu.Lock()
	c.blocking = v
	c.cond.Broadcast()
	c.mu.Unlock()
}

// drainOut hands pending ciphertext to write, which returns how many bytes
// it consumed.
func (c *memConn) drainOut(write func([]byte) int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out.Len() == 0 {
		return 0
	}
	n := write(c.out.Bytes())
	c.out.Next(n)
	return c.out.Len()
}

func (c *memConn) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Len()
}

func (c *memConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

func (c *memConn) LocalAddr() net.Addr                { return memAddr{} }
func (c *memConn) RemoteAddr() net.Addr               { return memAddr{} }
func (c *memConn) SetDeadline(t time.Time) error      { return nil }
func (c *memConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *memConn) SetWriteDeadline(t time.Time) error { return nil }
