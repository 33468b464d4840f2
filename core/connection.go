package core

import (
	"sync/atomic"
	"time"

	"github.com/searchktools/xg-server/core/http"
	"github.com/searchktools/xg-server/core/poller"
	"github.com/searchktools/xg-server/core/pools"
	"github.com/searchktools/xg-server/core/secure"
)

// Connection is one pre-allocated connection slot. Slots are reused: a
// released slot is reset to StageNone and handed out again on accept.
//
// Fields without synchronisation belong to whichever goroutine holds the
// connection according to its job stage: the I/O goroutine while it is
// JobNone, a worker while it is JobWorking. The channel hand-offs between
// them order the accesses.
type Connection struct {
	index int
	gen   atomic.Uint64

	id     uint64
	fd     int
	remote string
	tls    *secure.Session

	stage    atomic.Int32
	jobStage atomic.Int32
	job      *pools.Job

	// awaitIO is the readiness a worker stopped on. The I/O goroutine arms
	// it when the connection comes back.
	awaitIO    poller.Event
	armed      poller.Event
	registered bool

	req  *http.Request
	resp *http.Response

	start         time.Time
	readIdle      time.Time
	closeDeadline time.Time
	err           ConnError
}

func newConnection(index int) *Connection {
	return &Connection{index: index, fd: -1}
}

// ID is unique for the lifetime of the process.
func (c *Connection) ID() uint64 { return c.id }

// Fd is the socket descriptor, -1 when the slot is free or closed.
func (c *Connection) Fd() int { return c.fd }

// RemoteAddr is the peer address as host:port.
func (c *Connection) RemoteAddr() string { return c.remote }

// Err is the last connection error recorded.
func (c *Connection) Err() ConnError { return c.err }

// Stage returns the current lifecycle stage.
func (c *Connection) Stage() Stage {
	return Stage(c.stage.Load())
}

// JobStage returns the current job stage.
func (c *Connection) JobStage() JobStage {
	return JobStage(c.jobStage.Load())
}

// raise moves the connection forward to stage to. It does nothing when the
// connection is already at or past to, and reports whether it moved.
func (c *Connection) raise(to Stage) bool {
	for {
		cur := c.stage.Load()
		if Stage(cur) >= to {
			return false
		}
		if c.stage.CompareAndSwap(cur, int32(to)) {
			return true
		}
	}
}

// fail records err and raises the stage.
func (c *Connection) fail(to Stage, err ConnError) {
	if c.raise(to) {
		c.err = err
	}
}

func (c *Connection) casJob(from, to JobStage) bool {
	return c.jobStage.CompareAndSwap(int32(from), int32(to))
}

// open binds a freshly acquired slot to an accepted socket.
func (c *Connection) open(fd int, remote string, id uint64, now time.Time) {
	c.fd = fd
	c.remote = remote
	c.id = id
	c.start = now
	c.readIdle = now
	c.req = http.AcquireRequest()
	c.resp = http.AcquireResponse()
	c.stage.Store(int32(StageAccepting))
}

// reset returns the slot to its pristine state. The socket must already be
// closed and deregistered.
func (c *Connection) reset() {
	if c.tls != nil {
		c.tls.Free()
		c.tls = nil
	}
	if c.req != nil {
		http.ReleaseRequest(c.req)
		c.req = nil
	}
	if c.resp != nil {
		http.ReleaseResponse(c.resp)
		c.resp = nil
	}
	c.fd = -1
	c.remote = ""
	c.job = nil
	c.awaitIO = 0
	c.armed = 0
	c.registered = false
	c.start = time.Time{}
	c.readIdle = time.Time{}
	c.closeDeadline = time.Time{}
	c.err = ConnErrNone
	c.jobStage.Store(int32(JobNone))
	c.stage.Store(int32(StageNone))
}
