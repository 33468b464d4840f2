package pools

import (
	"sync"
	"sync/atomic"
)

// Job is a reusable hand-off node referencing one connection. Gen is the
// owner's slot generation at enqueue time so a node that outlives its slot
// is recognisable. The owner cancels a queued node with Ignore instead of
// unlinking it; consumers drop ignored nodes.
type Job struct {
	Target any
	Gen    uint64

	ignore atomic.Bool
}

// Ignore flags the job as cancelled.
func (j *Job) Ignore() {
	j.ignore.Store(true)
}

// Ignored reports whether the job was cancelled.
func (j *Job) Ignored() bool {
	return j.ignore.Load()
}

// JobPool is the idle list of job nodes.
type JobPool struct {
	pool sync.Pool

	gets atomic.Uint64
	puts atomic.Uint64
}

// NewJobPool creates an idle list pre-filled with warmup nodes.
func NewJobPool(warmup int) *JobPool {
	jp := &JobPool{
		pool: sync.Pool{
			New: func() any { return &Job{} },
		},
	}
	for i := 0; i < warmup; i++ {
		jp.pool.Put(&Job{})
	}
	return jp
}

// Get takes a node from the idle list and binds it to target.
func (jp *JobPool) Get(target any, gen uint64) *Job {
	jp.gets.Add(1)
	j := jp.pool.Get().(*Job)
	j.Target = target
	j.Gen = gen
	j.ignore.Store(false)
	return j
}

// Put returns a node to the idle list.
func (jp *JobPool) Put(j *Job) {
	if j == nil {
		return
	}
	j.Target = nil
	j.Gen = 0
	jp.puts.Add(1)
	jp.pool.Put(j)
}

// InFlight is the number of nodes taken and not yet returned.
func (jp *JobPool) InFlight() int64 {
	return int64(jp.gets.Load()) - int64(jp.puts.Load())
}
