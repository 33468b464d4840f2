package secure

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"sync/atomic"

	"github.com/searchktools/xg-server/core/pools"
	"github.com/searchktools/xg-server/core/socket"
)

const (
	pumpBufferSize = 16 << 10
	maxRecordWrite = 16 << 10
	maxPump        = 256 << 10
)

// Session is the TLS state of one connection.
//
// Handshake is stepped by the I/O goroutine; Read, Write and Flush are called
// by whichever goroutine currently owns the connection. None of them block.
type Session struct {
	fd     int
	mem    *memConn
	conn   *tls.Conn
	ctx    context.Context
	cancel context.CancelFunc

	started bool
	done    atomic.Bool
	hsErr   error

	renegotiations atomic.Int32
}

// NewSession binds a session to the socket fd. onProgress is called from the
// handshake goroutine whenever it produces output or finishes, so the owner
// can step the handshake again without waiting for socket readiness.
func (c *Context) NewSession(fd int, onProgress func()) (*Session, error) {
	if c == nil || c.config == nil {
		return nil, ErrNotInitialized
	}
	if fd < 0 {
		return nil, ErrBadDescriptor
	}

	s := &Session{fd: fd}
	s.mem = newMemConn(s, onProgress)
	s.conn = tls.Server(s.mem, c.config)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *Session) runHandshake(onDone func()) {
	err := s.conn.HandshakeContext(s.ctx)
	s.hsErr = err
	s.done.Store(true)
	if onDone != nil {
		onDone()
	}
}

// Handshake advances the handshake. It returns socket.OK once the handshake
// has finished, socket.Again while it waits for the peer and socket.Error
// when it failed or the peer went away.
func (s *Session) Handshake() socket.Result {
	if !s.started {
		s.started = true
		go s.runHandshake(s.mem.onWrite)
	}

	switch s.pump() {
	case socket.EOF, socket.ConReset, socket.Error:
		s.mem.setEOF()
		return socket.Error
	}

	if r := s.Flush(); r == socket.ConReset || r == socket.Error {
		return socket.Error
	}

	if !s.done.Load() {
		return socket.Again
	}
	if s.hsErr != nil {
		return socket.Error
	}
	s.mem.setBlocking(false)
	return socket.OK
}

// HandshakeDone reports whether the handshake completed successfully.
func (s *Session) HandshakeDone() bool {
	return s.done.Load() && s.hsErr == nil
}

// HandshakeErr is the handshake failure, if any.
func (s *Session) HandshakeErr() error {
	if !s.done.Load() {
		return nil
	}
	return s.hsErr
}

// pump moves whatever ciphertext the socket has into the TLS transport.
func (s *Session) pump() socket.Result {
	buf := pools.GetBytes(pumpBufferSize)
	buf = buf[:cap(buf)]
	defer pools.PutBytes(buf)

	total := 0
	for total < maxPump {
		n, res, _ := socket.Read(s.fd, buf)
		switch res {
		case socket.OK:
			s.mem.feed(buf[:n])
			total += n
			continue
		case socket.Again:
			return socket.OK
		}
		return res
	}
	return socket.OK
}

// Flush writes pending ciphertext to the socket. It returns socket.OK when
// nothing is left, socket.Again when the socket is full.
func (s *Session) Flush() socket.Result {
	res := socket.OK
	left := s.mem.drainOut(func(p []byte) int {
		written := 0
		for written < len(p) {
			n, r, _ := socket.Write(s.fd, p[written:])
			written += n
			if r != socket.OK {
				res = r
				break
			}
		}
		return written
	})
	if res == socket.OK && left > 0 {
		res = socket.Again
	}
	return res
}

// Pending is the number of ciphertext bytes not yet written to the socket.
func (s *Session) Pending() int {
	return s.mem.pending()
}

// WantWrite reports whether the session needs write readiness to progress.
func (s *Session) WantWrite() bool {
	return s.Pending() > 0
}

// Read decrypts application data into p.
func (s *Session) Read(p []byte) (int, socket.Result) {
	s.Flush()
	pr := s.pump()

	n, err := s.conn.Read(p)
	if n > 0 {
		return n, socket.OK
	}

	var ne interface{ Temporary() bool }
	switch {
	case err == nil:
		return 0, socket.Again
	case errors.As(err, &ne) && ne.Temporary():
		if pr != socket.OK {
			s.mem.setEOF()
			return 0, pr
		}
		return 0, socket.Again
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return 0, socket.EOF
	}
	return 0, socket.Error
}

// Write encrypts up to one record of p. The bytes count as transmitted once
// encrypted; the ciphertext is flushed now or before the next Write.
func (s *Session) Write(p []byte) (int, socket.Result) {
	if r := s.Flush(); r != socket.OK {
		return 0, r
	}
	if len(p) > maxRecordWrite {
		p = p[:maxRecordWrite]
	}

	n, err := s.conn.Write(p)
	if err != nil {
		return n, socket.Error
	}
	switch r := s.Flush(); r {
	case socket.ConReset, socket.Error:
		return n, r
	}
	return n, socket.OK
}

// Renegotiations counts the client hellos seen on this session.
func (s *Session) Renegotiations() int {
	return int(s.renegotiations.Load())
}

// Shutdown sends close_notify when the handshake finished and flushes it
// best-effort.
func (s *Session) Shutdown() socket.Result {
	if !s.HandshakeDone() {
		return socket.OK
	}
	if err := s.conn.CloseWrite(); err != nil {
		return socket.Error
	}
	return s.Flush()
}

// Free stops a running handshake and detaches the session from its socket.
func (s *Session) Free() {
	s.cancel()
	s.mem.Close()
	s.fd = -1
}
