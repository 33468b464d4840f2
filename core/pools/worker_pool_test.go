package pools

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_Basic(t *testing.T) {
	jobs := NewJobPool(16)
	done := make(chan bool)
	var counter atomic.Int64

	pool := NewWorkerPool(4, 128, jobs, func(ctx context.Context, j *Job) {
		counter.Add(int64(j.Target.(int)))
		jobs.Put(j)
	})
	defer pool.Close(time.Second)

	// Submit 100 jobs
	for i := 0; i < 100; i++ {
		if !pool.Submit(jobs.Get(1, uint64(i))) {
			t.Fatalf("submit %d rejected", i)
		}
	}

	// Wait for completion
	go func() {
		for {
			if pool.Stats().Completed >= 100 {
				done <- true
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	select {
	case <-done:
		if counter.Load() != 100 {
			t.Errorf("Expected 100 jobs completed, got %d", counter.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Test timeout")
	}

	if jobs.InFlight() != 0 {
		t.Errorf("job nodes leaked: %d in flight", jobs.InFlight())
	}
}

func TestWorkerPool_IgnoredJobsSkipped(t *testing.T) {
	jobs := NewJobPool(0)
	var ran atomic.Int32
	release := make(chan struct{})

	pool := NewWorkerPool(1, 8, jobs, func(ctx context.Context, j *Job) {
		<-release
		ran.Add(1)
		jobs.Put(j)
	})
	defer pool.Close(time.Second)

	first := jobs.Get("busy", 1)
	pool.Submit(first)

	cancelled := jobs.Get("cancelled", 2)
	pool.Submit(cancelled)
	cancelled.Ignore()

	close(release)

	deadline := time.After(2 * time.Second)
	for pool.Stats().Skipped != 1 {
		select {
		case <-deadline:
			t.Fatalf("stats = %+v", pool.Stats())
		case <-time.After(5 * time.Millisecond):
		}
	}
	if ran.Load() != 1 {
		t.Errorf("ran %d jobs, want 1", ran.Load())
	}
}

func TestWorkerPool_IdleCount(t *testing.T) {
	jobs := NewJobPool(0)
	block := make(chan struct{})
	pool := NewWorkerPool(3, 8, jobs, func(ctx context.Context, j *Job) {
		<-block
		jobs.Put(j)
	})
	defer pool.Close(time.Second)

	waitIdle := func(want int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if pool.Idle() == want {
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
		t.Fatalf("idle = %d, want %d", pool.Idle(), want)
	}

	waitIdle(3)
	pool.Submit(jobs.Get(nil, 0))
	pool.Submit(jobs.Get(nil, 0))
	waitIdle(1)
	close(block)
	waitIdle(3)
}

func TestWorkerPool_CloseAbandonsStragglers(t *testing.T) {
	jobs := NewJobPool(0)
	cancelled := make(chan struct{})
	pool := NewWorkerPool(2, 4, jobs, func(ctx context.Context, j *Job) {
		<-ctx.Done()
		close(cancelled)
	})

	pool.Submit(jobs.Get(nil, 0))
	for pool.Stats().Idle != 1 {
		time.Sleep(time.Millisecond)
	}

	start := time.Now()
	if n := pool.Close(50 * time.Millisecond); n != 1 {
		t.Fatalf("stragglers = %d, want 1", n)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Close did not honour its timeout")
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("straggler context not cancelled")
	}

	if pool.Submit(jobs.Get(nil, 0)) {
		t.Error("submit after close accepted")
	}
	if pool.Close(time.Second) != 0 {
		t.Error("second Close reported stragglers")
	}
}

func TestWorkerPool_Cap(t *testing.T) {
	pool := NewWorkerPool(1000, 0, NewJobPool(0), func(context.Context, *Job) {})
	defer pool.Close(time.Second)
	if pool.Size() != MaxWorkers {
		t.Errorf("size = %d, want %d", pool.Size(), MaxWorkers)
	}
}

func TestBytePool_Grow(t *testing.T) {
	bp := NewBytePool()
	buf := bp.Get(100)
	if cap(buf) != 4<<10 || len(buf) != 0 {
		t.Fatalf("Get(100): len=%d cap=%d", len(buf), cap(buf))
	}
	buf = append(buf, "GET / HTTP/1.1\r\n"...)
	grown := bp.Grow(buf, 20<<10)
	if cap(grown) != 64<<10 {
		t.Fatalf("Grow cap = %d", cap(grown))
	}
	if string(grown) != "GET / HTTP/1.1\r\n" {
		t.Fatalf("Grow lost data: %q", grown)
	}
	if big := bp.Get(4 << 20); cap(big) != 4<<20 || bp.Stats().Oversized != 1 {
		t.Fatalf("oversized get: cap=%d stats=%+v", cap(big), bp.Stats())
	}
}

func TestBufferPool_Tiers(t *testing.T) {
	bp := NewBufferPool()
	s := bp.Staging()
	if len(*s) != StagingBufferSize {
		t.Fatalf("staging len = %d", len(*s))
	}
	bp.Put(s)
	h := bp.Header()
	if len(*h) != 0 || cap(*h) != HeaderBufferSize {
		t.Fatalf("header len=%d cap=%d", len(*h), cap(*h))
	}
	*h = append(*h, make([]byte, 2*HeaderBufferSize)...)
	bp.Put(h) // grown past its tier, dropped
	if st := bp.Stats(); st.Puts != 1 {
		t.Fatalf("puts = %d, want 1", st.Puts)
	}
}

func BenchmarkWorkerPool_Submit(b *testing.B) {
	jobs := NewJobPool(1024)
	pool := NewWorkerPool(8, 4096, jobs, func(ctx context.Context, j *Job) {
		jobs.Put(j)
	})
	defer pool.Close(time.Second)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for !pool.Submit(jobs.Get(nil, 0)) {
		}
	}
}
