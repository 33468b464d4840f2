//go:build linux

package core

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

type periodicJob struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	next     time.Time
	running  atomic.Bool
}

// Every registers fn to run every interval (JobInterval when zero) while
// the engine runs. Each run gets its own goroutine and a context cancelled
// at shutdown; a run still in progress is not started again.
func (e *Engine) Every(name string, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		interval = JobInterval
	}
	e.hookMu.Lock()
	e.periodic = append(e.periodic, &periodicJob{name: name, interval: interval, fn: fn})
	e.hookMu.Unlock()
}

// runPeriodic starts the jobs that are due. Called once per second from the
// main loop.
func (e *Engine) runPeriodic(now time.Time) {
	e.hookMu.Lock()
	jobs := e.periodic
	e.hookMu.Unlock()

	for _, j := range jobs {
		if j.next.IsZero() {
			j.next = now.Add(j.interval)
			continue
		}
		if now.Before(j.next) {
			continue
		}
		j.next = now.Add(j.interval)
		if !j.running.CompareAndSwap(false, true) {
			log.Printf("⚠️  Periodic job %q still running, skipped", j.name)
			continue
		}

		e.jobsGroup.Add(1)
		go func() {
			defer e.jobsGroup.Done()
			defer j.running.Store(false)
			defer func() {
				if r := recover(); r != nil {
					log.Printf("⚠️  Periodic job %q panicked: %v", j.name, r)
				}
			}()
			j.fn(e.jobCtx)
		}()
	}
}
