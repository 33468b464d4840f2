//go:build linux

package core

import (
	"errors"
	"log"
	"time"

	"github.com/searchktools/xg-server/core/http"
	"github.com/searchktools/xg-server/core/poller"
	"github.com/searchktools/xg-server/core/pools"
	"github.com/searchktools/xg-server/core/socket"
)

// onAccept takes up to AcceptsPerEvent connections off the listener.
func (e *Engine) onAccept(int, any, poller.Event) {
	now := e.now()
	for i := 0; i < AcceptsPerEvent; i++ {
		fd, remote, err := socket.Accept(e.lfd)
		if err != nil {
			if !errors.Is(err, socket.ErrAgain) {
				e.pauseAccept(err)
			}
			return
		}

		c, id := e.slots.acquire()
		if c == nil {
			socket.Close(fd)
			e.stats.rejected.Add(1)
			if e.opts.Debug {
				log.Printf("connection from %s rejected: all %d slots in use", remote, e.slots.capacity())
			}
			continue
		}

		c.open(fd, remote, id, now)
		if err := e.poller.Add(fd, e.onEvent, c); err != nil {
			log.Printf("⚠️  Poller add fd %d: %v", fd, err)
			socket.Close(fd)
			e.slots.release(c)
			continue
		}
		c.registered = true
		e.stats.accepted.Add(1)
		if e.opts.Debug {
			log.Printf("conn %d accepted from %s (fd %d)", id, remote, fd)
		}
		e.advance(c)
	}
}

// pauseAccept stops watching the listener after a hard accept error such as
// EMFILE. The listener stays readable, so the loop would spin on it; the
// once-a-second tick arms it again.
func (e *Engine) pauseAccept(err error) {
	log.Printf("⚠️  Accept error: %v (listener paused)", err)
	if err := e.poller.DeleteEvents(e.lfd); err != nil {
		return
	}
	e.acceptPaused = true
}

func (e *Engine) resumeAccept() {
	if err := e.poller.SetEvents(e.lfd, poller.EventRead); err != nil {
		log.Printf("⚠️  Poller rearm listener: %v", err)
		return
	}
	e.acceptPaused = false
}

// onEvent is the poller handler of client sockets.
func (e *Engine) onEvent(fd int, data any, ev poller.Event) {
	c, ok := data.(*Connection)
	if !ok || c.fd != fd || c.JobStage() != JobNone {
		return
	}

	io := ev & (poller.EventRead | poller.EventWrite)
	switch {
	case ev.Has(poller.EventErr):
		c.fail(StageSocketError, ConnErrFdeventSocket)
	case io == 0 && ev.Has(poller.EventHup):
		c.fail(StageClose, ConnErrDisconnect)
	case io == 0:
		c.fail(StageError, ConnErrFdeventUndefined)
	}
	e.advance(c)
}

// advance runs the state machine until the stage stops changing, the
// connection is handed to a worker, or the slot is released.
func (e *Engine) advance(c *Connection) {
	for {
		before := c.Stage()
		e.step(c, before)

		if c.JobStage() != JobNone {
			return
		}
		after := c.Stage()
		if after == before || after == StageNone {
			return
		}
		c.readIdle = e.now()
	}
}

func (e *Engine) step(c *Connection, st Stage) {
	switch st {
	case StageAccepting:
		e.stepAccepting(c)

	case StageHandshake:
		e.stepHandshake(c)

	case StageConnected:
		c.req.ReadBuf()
		c.raise(StageReading)

	case StageReading, StageWorking:
		e.handOff(c)

	case StageBeforeWrite:
		if err := c.resp.PrependHead(); err != nil {
			log.Printf("⚠️  conn %d: %v", c.id, err)
			c.fail(StageError, ConnErrWriteSocket)
			return
		}
		c.raise(StageWrite)
		e.arm(c, poller.EventWrite)

	case StageWrite:
		// Large transfers go to an idle worker; with none idle the I/O
		// goroutine writes until the socket is full.
		if e.workers.Idle() > 0 {
			e.handOff(c)
			return
		}
		e.writeResponse(c)
		if ev := c.awaitIO; ev != 0 {
			c.awaitIO = 0
			e.arm(c, ev)
		}

	case StageComplete:
		e.stats.completed.Add(1)
		e.disarm(c)
		c.raise(StageClose)

	case StageError, StageSocketError:
		e.startClose(c)

	case StageClose:
		e.stepClose(c)

	case StageClosed, StageDestroying:
		e.release(c)

	default:
		c.fail(StageClose, ConnErrUndefinedStage)
	}
}

func (e *Engine) stepAccepting(c *Connection) {
	var b [1]byte
	n, res, _ := socket.Peek(c.fd, b[:])
	switch res {
	case socket.OK:
		hello := n > 0 && socket.IsTLSClientHello(b[0])
		switch {
		case hello && e.tls != nil:
			c.raise(StageHandshake)
		case hello:
			c.fail(StageSocketError, ConnErrAcceptRequest)
		default:
			c.raise(StageConnected)
		}
	case socket.Again:
		if e.now().Sub(c.start) > e.acceptTimeout {
			c.fail(StageClose, ConnErrAcceptTimeout)
			return
		}
		e.arm(c, poller.EventRead)
	case socket.EOF, socket.ConReset:
		c.fail(StageClose, ConnErrDisconnect)
	default:
		c.fail(StageSocketError, ConnErrAcceptSocket)
	}
}

func (e *Engine) stepHandshake(c *Connection) {
	if c.tls == nil {
		gen := c.gen.Load()
		s, err := e.tls.NewSession(c.fd, func() { e.notifyTLS(c, gen) })
		if err != nil {
			log.Printf("⚠️  conn %d: TLS session: %v", c.id, err)
			c.fail(StageSocketError, ConnErrHandshakeSSLCreate)
			return
		}
		c.tls = s
	}

	switch c.tls.Handshake() {
	case socket.OK:
		c.raise(StageConnected)
	case socket.Again:
		if e.now().Sub(c.start) > e.handshakeTimeout {
			c.fail(StageClose, ConnErrHandshakeTimeout)
			return
		}
		ev := poller.EventRead
		if c.tls.WantWrite() {
			ev |= poller.EventWrite
		}
		e.arm(c, ev)
	default:
		if e.opts.Debug {
			log.Printf("conn %d handshake failed: %v", c.id, c.tls.HandshakeErr())
		}
		c.fail(StageSocketError, ConnErrHandshakeSocket)
	}
}

// notifyTLS is called from the handshake goroutine of a session.
func (e *Engine) notifyTLS(c *Connection, gen uint64) {
	select {
	case e.tlsWake <- tlsWake{c: c, gen: gen}:
		e.wake()
	default:
	}
}

func (e *Engine) drainTLS() {
	for {
		select {
		case w := <-e.tlsWake:
			c := w.c
			if c.gen.Load() == w.gen && c.JobStage() == JobNone && c.Stage() == StageHandshake {
				e.advance(c)
			}
		default:
			return
		}
	}
}

// handOff queues c for a worker. The job stage guards against queueing a
// connection twice.
func (e *Engine) handOff(c *Connection) {
	if !c.casJob(JobNone, JobWaiting) {
		return
	}
	e.disarm(c)

	j := e.jobs.Get(c, c.gen.Load())
	c.job = j
	if !e.workers.Submit(j) {
		c.job = nil
		e.jobs.Put(j)
		c.jobStage.Store(int32(JobNone))
		c.raise(StageClose)
	}
}

// drainMain takes back the connections workers are done with.
func (e *Engine) drainMain() {
	for {
		select {
		case j := <-e.toMain:
			c, _ := j.Target.(*Connection)
			gen := j.Gen
			e.jobs.Put(j)
			if c == nil || c.gen.Load() != gen {
				continue
			}
			c.job = nil
			if !c.casJob(JobWaitMain, JobNone) {
				continue
			}
			if ev := c.awaitIO; ev != 0 {
				c.awaitIO = 0
				e.arm(c, ev)
				continue
			}
			e.advance(c)
		default:
			return
		}
	}
}

// startClose handles ERROR and SOCKET_ERROR: say goodbye on TLS, half-close
// and linger until the peer closes or the deadline passes.
func (e *Engine) startClose(c *Connection) {
	e.stats.failed.Add(1)
	if e.opts.Debug {
		log.Printf("conn %d closing after %s: %s", c.id, c.Stage(), c.err)
	}
	if c.tls != nil {
		c.tls.Shutdown()
	}
	c.raise(StageClose)
	if err := socket.ShutdownWrite(c.fd); err != nil {
		e.closeConn(c)
		return
	}
	c.closeDeadline = e.now().Add(Linger)
	e.arm(c, poller.EventRead)
}

func (e *Engine) stepClose(c *Connection) {
	if !c.closeDeadline.IsZero() && e.now().Before(c.closeDeadline) && !e.lingerDone(c) {
		return
	}
	e.closeConn(c)
}

// lingerDone discards what the peer still sends and reports whether it has
// closed its side.
func (e *Engine) lingerDone(c *Connection) bool {
	buf := pools.GetBytes(4096)
	buf = buf[:cap(buf)]
	defer pools.PutBytes(buf)
	for {
		_, res, _ := socket.Read(c.fd, buf)
		switch res {
		case socket.OK:
			continue
		case socket.Again:
			return false
		}
		return true
	}
}

// closeConn tears the socket down and releases the slot.
func (e *Engine) closeConn(c *Connection) {
	c.raise(StageClosed)
	if c.tls != nil {
		c.tls.Free()
		c.tls = nil
	}
	if c.registered {
		e.poller.Remove(c.fd)
		c.registered = false
		c.armed = 0
	}
	if c.fd >= 0 {
		socket.Close(c.fd)
		c.fd = -1
	}
	if e.opts.Debug {
		log.Printf("conn %d closed (%s)", c.id, c.err)
	}
	e.release(c)
}

// release returns the slot. A connection a worker still holds is released
// when it comes back.
func (e *Engine) release(c *Connection) {
	if c.JobStage() != JobNone {
		return
	}
	if c.fd >= 0 {
		e.closeConn(c)
		return
	}
	e.slots.release(c)
}

func (e *Engine) arm(c *Connection, ev poller.Event) {
	if !c.registered || c.armed == ev {
		return
	}
	if err := e.poller.SetEvents(c.fd, ev); err != nil {
		log.Printf("⚠️  conn %d: arm %s: %v", c.id, ev, err)
		return
	}
	c.armed = ev
}

func (e *Engine) disarm(c *Connection) {
	if !c.registered || c.armed == 0 {
		return
	}
	e.poller.DeleteEvents(c.fd)
	c.armed = 0
}

// sweep enforces the timeouts, last slot first so releases do not skip
// anything. Connections a worker holds are left alone.
func (e *Engine) sweep(now time.Time) {
	for i := e.slots.len() - 1; i >= 0; i-- {
		c := e.slots.at(i)
		if c == nil || c.JobStage() != JobNone {
			continue
		}

		st := c.Stage()
		switch {
		case c.fd < 0 || st >= StageClosed:
			e.release(c)

		case st == StageClose:
			if !c.closeDeadline.IsZero() && !now.Before(c.closeDeadline) {
				e.closeConn(c)
			}

		case st == StageReading && now.Sub(c.readIdle) > e.opts.MaxReadIdle,
			st >= StageAccepting && st <= StageReading && now.Sub(c.start) > e.opts.MaxRequestTime:
			e.stats.timeouts.Add(1)
			c.req.Fail(http.StatusRequestTimeout)
			c.err = ConnErrTimeout
			if c.req.Buffered() > 0 {
				c.raise(StageWorking)
			} else {
				c.raise(StageClose)
			}
			e.advance(c)

		case st == StageAccepting && now.Sub(c.start) > e.acceptTimeout,
			st == StageHandshake && now.Sub(c.start) > e.handshakeTimeout:
			e.advance(c)
		}
	}
}
