//go:build linux

package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"

	"github.com/searchktools/xg-server/core/http"
	"github.com/searchktools/xg-server/core/poller"
	"github.com/searchktools/xg-server/core/pools"
	"github.com/searchktools/xg-server/core/router"
	"github.com/searchktools/xg-server/core/socket"
	"github.com/searchktools/xg-server/core/static"
)

const (
	noCacheExpires = "Mon, 26 Jul 1997 05:00:00 GMT"
	noCacheControl = "no-store, no-cache, must-revalidate"
)

// runJob is the worker side of a hand-off. The job goes back to the I/O
// goroutine, which returns it to the idle list.
func (e *Engine) runJob(ctx context.Context, j *pools.Job) {
	c, _ := j.Target.(*Connection)
	if c == nil || c.gen.Load() != j.Gen || !c.casJob(JobWaiting, JobWorking) {
		e.jobs.Put(j)
		return
	}

	if c.Stage() <= StageComplete {
		e.process(ctx, c)
	}

	c.casJob(JobWorking, JobWaitMain)
	e.toMain <- j
	e.wake()
}

// process runs the worker stages until the connection blocks on the socket
// or reaches a stage the I/O goroutine handles.
func (e *Engine) process(ctx context.Context, c *Connection) {
	for {
		if ctx.Err() != nil {
			c.fail(StageClose, ConnErrTimeout)
			return
		}

		st := c.Stage()
		switch st {
		case StageReading:
			e.readRequest(c)
		case StageWorking:
			e.work(c)
		case StageWrite:
			e.writeResponse(c)
		default:
			return
		}

		if c.awaitIO != 0 || c.Stage() == st {
			return
		}
	}
}

// readRequest reads until the request is complete or the socket is drained.
func (e *Engine) readRequest(c *Connection) {
	lim := &e.opts.Limits
	for {
		buf := c.req.ReadBuf()

		var (
			n   int
			res socket.Result
		)
		if c.tls != nil {
			n, res = c.tls.Read(buf)
		} else {
			n, res, _ = socket.Read(c.fd, buf)
		}

		switch res {
		case socket.OK:
			if c.req.Advance(n, lim) {
				c.raise(StageWorking)
				return
			}
		case socket.Again:
			c.readIdle = e.now()
			c.awaitIO = poller.EventRead
			if c.tls != nil && c.tls.WantWrite() {
				c.awaitIO |= poller.EventWrite
			}
			return
		case socket.EOF, socket.ConReset:
			c.fail(StageClose, ConnErrDisconnect)
			return
		default:
			c.fail(StageSocketError, ConnErrReadSocket)
			return
		}
	}
}

// writeResponse sends queued chunks until the queue is empty or the socket
// is full.
func (e *Engine) writeResponse(c *Connection) {
	q := c.resp.Body
	for {
		p, res, err := q.Read()
		switch res {
		case socket.EOF:
			if c.tls != nil {
				if c.tls.Flush() == socket.Again {
					c.awaitIO = poller.EventWrite
					return
				}
			}
			c.raise(StageComplete)
			return
		case socket.Error:
			log.Printf("⚠️  conn %d: response body: %v", c.id, err)
			c.fail(StageSocketError, ConnErrWriteSocket)
			return
		}

		var n int
		if c.tls != nil {
			n, res = c.tls.Write(p)
		} else {
			n, res, _ = socket.Write(c.fd, p)
		}
		if n > 0 {
			q.Commit(n)
		}

		switch res {
		case socket.OK:
		case socket.Again:
			c.awaitIO = poller.EventWrite
			return
		case socket.EOF, socket.ConReset:
			c.fail(StageClose, ConnErrDisconnect)
			return
		default:
			c.fail(StageSocketError, ConnErrWriteSocket)
			return
		}
	}
}

// work turns a parsed request into a response: a route handler, a static
// file or an error page.
func (e *Engine) work(c *Connection) {
	req, resp := c.req, c.resp
	resp.Version = req.Version

	if req.Status == http.StatusOK {
		req.Status = req.ParseForms(e.opts.Limits.MaxUploadSize)
	}

	switch {
	case req.Status != http.StatusOK:
		if req.Location != "" && (req.Status == http.StatusMovedPermanently || req.Status == http.StatusFound) {
			resp.SetHeader("Location", req.Location)
		}
		resp.ErrorPage(req.Status, req.AJAX)

	default:
		if h, params := e.router.Find(req.Method.String(), req.Path); h != nil {
			e.callRoute(c, h, params)
		} else {
			e.serveFile(c)
		}
	}

	resp.Build(e.opts.ServerName, e.now())
	c.raise(StageBeforeWrite)
}

func (e *Engine) callRoute(c *Connection, h http.HandlerFunc, params router.Params) {
	req, resp := c.req, c.resp

	resp.SetHeader("Pragma", "no-cache")
	resp.SetHeader("Expires", noCacheExpires)
	if req.AJAX {
		resp.SetHeader("Cache-Control", noCacheControl+", post-check=0, pre-check=0")
	} else {
		resp.SetHeader("Cache-Control", noCacheControl)
	}

	ctx := http.AcquireContext(req, resp, c.remote, c.id, e.now())
	defer http.ReleaseContext(ctx)
	for _, p := range params {
		ctx.SetParam(p.Key, p.Value)
	}

	if err := callHandler(h, ctx); err != nil {
		if e.opts.Debug {
			log.Printf("conn %d: %s %s: %v", c.id, req.Method, req.Path, err)
		}
		resp.ErrorPage(http.StatusInternalServerError, req.AJAX)
		return
	}

	if req.AJAX {
		body, err := ctx.Ajax().Marshal()
		if err != nil {
			log.Printf("⚠️  conn %d: ajax envelope: %v", c.id, err)
			resp.ErrorPage(http.StatusInternalServerError, true)
			return
		}
		resp.Body.Free()
		resp.SetHeader("Content-Type", "application/json")
		resp.Body.AddHeap(body)
	}
}

// callHandler runs h, turning a panic into an error.
func callHandler(h http.HandlerFunc, ctx http.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("⚠️  Handler panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx)
}

func (e *Engine) serveFile(c *Connection) {
	req, resp := c.req, c.resp
	if req.AJAX || e.files == nil {
		status := http.StatusNotFound
		if req.AJAX {
			status = http.StatusBadRequest
		}
		resp.ErrorPage(status, req.AJAX)
		return
	}

	f, err := e.files.Open(req.Path)
	if err != nil {
		if !errors.Is(err, static.ErrNotFound) && !errors.Is(err, static.ErrOutsideRoot) {
			log.Printf("⚠️  conn %d: open %s: %v", c.id, req.Path, err)
		}
		resp.ErrorPage(http.StatusNotFound, false)
		return
	}

	if req.IfNoneMatch != "" && req.IfNoneMatch == f.ETag {
		f.Close()
		resp.ErrorPage(http.StatusNotModified, false)
		resp.SetHeader("ETag", f.ETag)
		return
	}

	if err := static.Respond(resp, f, req.Ranges); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, http.ErrRangeNotSatisfiable) {
			status = http.StatusRangeNotSatisfiable
		}
		resp.ErrorPage(status, false)
	}
}
