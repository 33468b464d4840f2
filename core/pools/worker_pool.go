package pools

import (
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// MaxWorkers caps the size of a worker pool.
const MaxWorkers = 32

// RunFunc performs the work for one job. It owns j from then on: it either
// returns j to the idle list or passes it to whoever will.
type RunFunc func(ctx context.Context, j *Job)

// WorkerPool is a fixed set of long-lived worker goroutines fed from one
// bounded queue.
type WorkerPool struct {
	numWorkers int
	tasks      chan *Job
	jobs       *JobPool
	run        RunFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	idle    atomic.Int32
	running atomic.Int32

	// Statistics
	stats struct {
		submitted atomic.Uint64
		completed atomic.Uint64
		skipped   atomic.Uint64
		rejected  atomic.Uint64
	}
}

// NewWorkerPool starts numWorkers workers (0 means NumCPU, capped at
// MaxWorkers) reading from a queue that holds up to capacity jobs.
func NewWorkerPool(numWorkers, capacity int, jobs *JobPool, run RunFunc) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > MaxWorkers {
		numWorkers = MaxWorkers
	}
	if capacity < numWorkers {
		capacity = numWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		numWorkers: numWorkers,
		tasks:      make(chan *Job, capacity),
		jobs:       jobs,
		run:        run,
		ctx:        ctx,
		cancel:     cancel,
	}

	pool.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go pool.worker(i)
	}

	return pool
}

// Submit queues j without blocking. It returns false when the pool is
// closed or the queue is full.
func (p *WorkerPool) Submit(j *Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.stats.rejected.Add(1)
		return false
	}

	select {
	case p.tasks <- j:
		p.stats.submitted.Add(1)
		return true
	default:
		p.stats.rejected.Add(1)
		return false
	}
}

// worker is the main loop of a worker goroutine
func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		p.idle.Add(1)
		j, ok := <-p.tasks
		p.idle.Add(-1)
		if !ok {
			return // Shutdown signal
		}

		if j.Ignored() {
			p.stats.skipped.Add(1)
			p.jobs.Put(j)
			continue
		}

		p.running.Add(1)
		p.run(p.ctx, j)
		p.running.Add(-1)
		p.stats.completed.Add(1)
	}
}

// Idle is the number of workers blocked waiting for a job.
func (p *WorkerPool) Idle() int {
	return int(p.idle.Load())
}

// Size is the number of workers.
func (p *WorkerPool) Size() int {
	return p.numWorkers
}

// Close stops accepting jobs and wakes every worker. Workers still busy after
// timeout have their context cancelled and are abandoned; their count is
// returned.
func (p *WorkerPool) Close(timeout time.Duration) int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return 0
	case <-time.After(timeout):
	}

	stragglers := int(p.running.Load())
	p.cancel()
	if stragglers > 0 {
		log.Printf("⚠️  %d worker(s) still busy after %v, abandoning", stragglers, timeout)
	}
	return stragglers
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		NumWorkers: p.numWorkers,
		Idle:       p.Idle(),
		Queued:     len(p.tasks),
		Submitted:  p.stats.submitted.Load(),
		Completed:  p.stats.completed.Load(),
		Skipped:    p.stats.skipped.Load(),
		Rejected:   p.stats.rejected.Load(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers int
	Idle       int
	Queued     int
	Submitted  uint64
	Completed  uint64
	Skipped    uint64
	Rejected   uint64
}
