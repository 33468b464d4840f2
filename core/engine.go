//go:build linux

package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchktools/xg-server/core/http"
	"github.com/searchktools/xg-server/core/middleware"
	"github.com/searchktools/xg-server/core/observability"
	"github.com/searchktools/xg-server/core/poller"
	"github.com/searchktools/xg-server/core/pools"
	"github.com/searchktools/xg-server/core/router"
	"github.com/searchktools/xg-server/core/secure"
	"github.com/searchktools/xg-server/core/socket"
	"github.com/searchktools/xg-server/core/static"
)

const (
	statusIdle int32 = iota
	statusRunning
	statusStopped
)

type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

// tlsWake asks the I/O goroutine to step a handshake again.
type tlsWake struct {
	c   *Connection
	gen uint64
}

// Hook is a lifecycle listener.
type Hook func(e *Engine)

// Engine is the connection engine: one I/O goroutine running the poller
// and the connection state machine, plus a fixed worker pool doing the
// parsing, routing and response building.
type Engine struct {
	opts Options

	routes   []route
	router   *router.RadixRouter
	pipeline *middleware.Pipeline
	files    *static.Resolver
	monitor  *observability.PerformanceMonitor
	tls      *secure.Context

	slots   *slotTable
	poller  poller.Poller
	lfd     int
	port    int
	workers *pools.WorkerPool
	jobs    *pools.JobPool
	toMain  chan *pools.Job
	tlsWake chan tlsWake

	acceptTimeout    time.Duration
	handshakeTimeout time.Duration

	acceptPaused bool

	status     atomic.Int32
	pollerOpen atomic.Bool
	tick       atomic.Int64
	lastSecond int64
	lastStats  time.Time
	ready      chan struct{}
	done       chan struct{}

	hookMu    sync.Mutex
	onInit    []Hook
	onStart   []Hook
	onStop    []Hook
	periodic  []*periodicJob
	jobCtx    context.Context
	jobCancel context.CancelFunc
	jobsGroup sync.WaitGroup

	stats struct {
		accepted  atomic.Uint64
		rejected  atomic.Uint64
		completed atomic.Uint64
		timeouts  atomic.Uint64
		failed    atomic.Uint64
	}
}

// NewEngine creates a new engine instance
func NewEngine(opts Options) (*Engine, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	e := &Engine{
		opts:             opts,
		router:           router.NewRadixRouter(),
		pipeline:         middleware.NewPipeline(),
		monitor:          observability.NewPerformanceMonitor(32),
		slots:            newSlotTable(opts.MaxConnections),
		lfd:              -1,
		jobs:             pools.NewJobPool(min(opts.MaxConnections, 256)),
		toMain:           make(chan *pools.Job, opts.MaxConnections+pools.MaxWorkers),
		tlsWake:          make(chan tlsWake, opts.MaxConnections),
		acceptTimeout:    AcceptTimeout,
		handshakeTimeout: HandshakeTimeout,
		ready:            make(chan struct{}),
		done:             make(chan struct{}),
	}

	if opts.PublicHTML != "" {
		files, err := static.NewResolver(opts.PublicHTML, opts.MimeTypes, opts.DefaultMIME)
		if err != nil {
			return nil, err
		}
		e.files = files
	}

	e.Every("bottlenecks", JobInterval, func(context.Context) {
		for _, b := range e.monitor.Analyze() {
			log.Printf("⚠️  [%s] %s: %s", b.Type, b.Location, b.Details)
		}
	})

	return e, nil
}

// Options returns the engine settings.
func (e *Engine) Options() Options {
	return e.opts
}

// Monitor returns the per-route metrics.
func (e *Engine) Monitor() *observability.PerformanceMonitor {
	return e.monitor
}

// GET registers a GET route
func (e *Engine) GET(path string, handler http.HandlerFunc) {
	e.Handle(router.GET, path, handler)
}

// POST registers a POST route
func (e *Engine) POST(path string, handler http.HandlerFunc) {
	e.Handle(router.POST, path, handler)
}

// ANY registers a route answering GET and POST
func (e *Engine) ANY(path string, handler http.HandlerFunc) {
	e.Handle(router.ANY, path, handler)
}

// Handle registers a route. Routes must be registered before Run.
func (e *Engine) Handle(method, path string, handler http.HandlerFunc) {
	if e.status.Load() != statusIdle {
		panic("core: route " + path + " registered after Run")
	}
	e.routes = append(e.routes, route{method: method, path: path, handler: handler})
}

// Use appends middleware wrapping every route handler.
func (e *Engine) Use(m ...middleware.Middleware) {
	if e.status.Load() != statusIdle {
		panic("core: middleware added after Run")
	}
	for _, mw := range m {
		e.pipeline.Use(mw)
	}
}

// OnInit registers a listener called when Run starts, before the listener
// socket is opened.
func (e *Engine) OnInit(h Hook) { e.addHook(&e.onInit, h) }

// OnStart registers a listener called once the engine accepts connections.
func (e *Engine) OnStart(h Hook) { e.addHook(&e.onStart, h) }

// OnStop registers a listener called when the main loop exits, before the
// workers are stopped.
func (e *Engine) OnStop(h Hook) { e.addHook(&e.onStop, h) }

func (e *Engine) addHook(list *[]Hook, h Hook) {
	e.hookMu.Lock()
	*list = append(*list, h)
	e.hookMu.Unlock()
}

func (e *Engine) fire(list *[]Hook) {
	e.hookMu.Lock()
	hooks := append([]Hook(nil), *list...)
	e.hookMu.Unlock()
	for _, h := range hooks {
		h(e)
	}
}

// Ready is closed once the engine accepts connections.
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Port is the bound port, valid after Ready.
func (e *Engine) Port() int {
	return e.port
}

// Run starts the server and blocks until Stop is called or ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if !e.status.CompareAndSwap(statusIdle, statusRunning) {
		if e.status.Load() == statusStopped {
			return ErrStopped
		}
		return ErrAlreadyRunning
	}
	defer close(e.done)

	e.fire(&e.onInit)

	if err := e.setup(); err != nil {
		e.status.Store(statusStopped)
		e.teardown()
		return err
	}
	defer e.teardown()

	stop := context.AfterFunc(ctx, e.Stop)
	defer stop()

	e.fire(&e.onStart)
	log.Printf("🚀 %s listening on %s:%d (%s, %d workers, %d slots, tls=%v)",
		e.opts.ServerName, e.opts.Host, e.port, e.poller.Backend(), e.workers.Size(),
		e.slots.capacity(), e.tls != nil)
	close(e.ready)

	e.loop()
	e.shutdown()
	return nil
}

// Stop asks the main loop to exit. It is safe to call from any goroutine
// and more than once.
func (e *Engine) Stop() {
	if e.status.CompareAndSwap(statusIdle, statusStopped) {
		return
	}
	if e.status.CompareAndSwap(statusRunning, statusStopped) {
		e.wake()
	}
}

func (e *Engine) running() bool {
	return e.status.Load() == statusRunning
}

func (e *Engine) setup() error {
	if e.opts.TLS != nil {
		ctx, err := secure.Init(*e.opts.TLS)
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		e.tls = ctx
	}

	for _, r := range e.routes {
		name := r.method + " " + r.path
		e.router.Add(r.method, r.path, e.instrument(name, e.pipeline.Then(r.handler)))
	}
	e.router.Freeze()
	e.jobCtx, e.jobCancel = context.WithCancel(context.Background())

	lfd, err := socket.Listen(e.opts.Host, e.opts.Port)
	if err != nil {
		return fmt.Errorf("listen %s:%d: %w", e.opts.Host, e.opts.Port, err)
	}
	e.lfd = lfd
	if e.port, err = socket.LocalPort(lfd); err != nil {
		return err
	}

	p, err := poller.New(e.opts.Poller, e.opts.MaxConnections+2)
	if err != nil {
		return err
	}
	e.poller = p
	e.pollerOpen.Store(true)
	if err := p.Add(lfd, e.onAccept, nil); err != nil {
		return err
	}
	if err := p.SetEvents(lfd, poller.EventRead); err != nil {
		return err
	}

	pools.ApplyGCConfig(e.opts.GC)
	e.workers = pools.NewWorkerPool(e.opts.WorkerThreads, e.opts.MaxConnections, e.jobs, e.runJob)
	now := time.Now()
	e.tick.Store(now.UnixNano())
	e.lastSecond = now.Unix()
	e.lastStats = now
	return nil
}

// instrument records per-route metrics around h.
func (e *Engine) instrument(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(ctx http.Context) error {
		start := e.monitor.StartTrace()
		err := h(ctx)
		e.monitor.EndTrace(name, start, err != nil || ctx.Response().Status >= 500)
		return err
	}
}

func (e *Engine) loop() {
	for e.running() {
		e.updateTick()
		e.drainMain()
		e.drainTLS()

		n, err := e.poller.Wait(pollTimeout)
		if err != nil {
			log.Printf("⚠️  Poller wait error: %v", err)
		}
		if n > 0 {
			e.poller.Dispatch()
		}
		e.drainMain()

		now := e.updateTick()
		if sec := now.Unix(); sec != e.lastSecond {
			e.lastSecond = sec
			if e.acceptPaused {
				e.resumeAccept()
			}
			e.sweep(now)
			e.runPeriodic(now)
		}
		if e.opts.StatsInterval > 0 && now.Sub(e.lastStats) >= e.opts.StatsInterval {
			e.lastStats = now
			e.logStats()
		}
	}
}

func (e *Engine) shutdown() {
	e.drainMain()
	e.drainTLS()
	e.fire(&e.onStop)

	// Queued jobs are dropped by the workers; running ones finish.
	for i := e.slots.len() - 1; i >= 0; i-- {
		if c := e.slots.at(i); c != nil && c.job != nil && c.JobStage() == JobWaiting {
			c.job.Ignore()
		}
	}
	stragglers := e.workers.Close(WorkerStopTimeout)
	e.drainMain()

	for i := e.slots.len() - 1; i >= 0; i-- {
		c := e.slots.at(i)
		if c == nil {
			continue
		}
		switch c.JobStage() {
		case JobWorking:
			// Abandoned with its worker
			continue
		case JobWaiting:
			c.jobStage.Store(int32(JobNone))
		}
		e.closeConn(c)
	}

	e.jobCancel()
	e.jobsGroup.Wait()
	log.Printf("🛑 %s stopped (%d accepted, %d completed, %d abandoned worker(s))",
		e.opts.ServerName, e.stats.accepted.Load(), e.stats.completed.Load(), stragglers)
}

// teardown releases the poller, the listener and the TLS context.
func (e *Engine) teardown() {
	if e.jobCancel != nil {
		e.jobCancel()
	}
	if e.poller != nil {
		e.pollerOpen.Store(false)
		if e.lfd >= 0 {
			e.poller.Remove(e.lfd)
		}
		e.poller.Close()
	}
	if e.lfd >= 0 {
		socket.Close(e.lfd)
		e.lfd = -1
	}
	if e.tls != nil {
		secure.Cleanup()
	}
}

// wake interrupts the poller from any goroutine.
func (e *Engine) wake() {
	if e.pollerOpen.Load() {
		e.poller.Wake()
	}
}

func (e *Engine) updateTick() time.Time {
	now := time.Now()
	e.tick.Store(now.UnixNano())
	return now
}

// now is the tick of the current loop iteration.
func (e *Engine) now() time.Time {
	return time.Unix(0, e.tick.Load())
}
