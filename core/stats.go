//go:build linux

package core

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/searchktools/xg-server/core/pools"
)

// Stats is a point-in-time view of the engine counters.
type Stats struct {
	Active    int    `json:"active"`
	Capacity  int    `json:"capacity"`
	Accepted  uint64 `json:"accepted"`
	Rejected  uint64 `json:"rejected"`
	Completed uint64 `json:"completed"`
	Timeouts  uint64 `json:"timeouts"`
	Failed    uint64 `json:"failed"`

	JobsInFlight int64                 `json:"jobs_in_flight"`
	Workers      pools.WorkerPoolStats `json:"workers"`
	Buffers      pools.BufferStats     `json:"buffers"`
	Bytes        pools.BytePoolStats   `json:"bytes"`
	GC           pools.GCStats         `json:"gc"`

	Requests    uint64        `json:"requests"`
	Errors      uint64        `json:"errors"`
	AvgDuration time.Duration `json:"avg_duration_ns"`
}

// Stats collects the engine counters. Worker figures are zero before Run.
func (e *Engine) Stats() Stats {
	s := Stats{
		Active:       e.slots.len(),
		Capacity:     e.slots.capacity(),
		Accepted:     e.stats.accepted.Load(),
		Rejected:     e.stats.rejected.Load(),
		Completed:    e.stats.completed.Load(),
		Timeouts:     e.stats.timeouts.Load(),
		Failed:       e.stats.failed.Load(),
		JobsInFlight: e.jobs.InFlight(),
		Buffers:      pools.Buffers().Stats(),
		Bytes:        pools.Bytes().Stats(),
		GC:           pools.GetGCStats(),
	}
	if e.workers != nil {
		s.Workers = e.workers.Stats()
	}
	s.Requests, s.Errors, s.AvgDuration = e.monitor.Totals()
	return s
}

// StatsJSON returns the counters as indented JSON.
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}

// StatsText returns the counters as human-readable text.
func (e *Engine) StatsText() string {
	s := e.Stats()
	return fmt.Sprintf(`Engine Statistics
=================

Connections:
  Active:    %d / %d
  Accepted:  %d
  Rejected:  %d
  Completed: %d
  Timeouts:  %d
  Failed:    %d

Workers:
  Size:      %d (idle %d, queued %d)
  Jobs:      %d submitted, %d completed, %d skipped, %d in flight

Requests:
  Handled:   %d (%d errors)
  Average:   %v

Buffers:
  Header:    %d gets
  Page:      %d gets
  Staging:   %d gets
  Bytes:     %d gets, %d oversized

Runtime:
  GC cycles:  %d (last pause %v)
  Heap:       %d bytes of %d
  Goroutines: %d
`,
		s.Active, s.Capacity, s.Accepted, s.Rejected, s.Completed, s.Timeouts, s.Failed,
		s.Workers.NumWorkers, s.Workers.Idle, s.Workers.Queued,
		s.Workers.Submitted, s.Workers.Completed, s.Workers.Skipped, s.JobsInFlight,
		s.Requests, s.Errors, s.AvgDuration,
		s.Buffers.HeaderGets, s.Buffers.PageGets, s.Buffers.StagingGets,
		s.Bytes.Gets, s.Bytes.Oversized,
		s.GC.NumGC, s.GC.LastPause, s.GC.AllocBytes, s.GC.Sys, s.GC.NumGoroutine,
	)
}

func (e *Engine) logStats() {
	s := e.Stats()
	log.Printf("📊 %d/%d conns, %d accepted, %d rejected, %d completed, %d timeouts, %d failed, %d requests (avg %v)",
		s.Active, s.Capacity, s.Accepted, s.Rejected, s.Completed, s.Timeouts, s.Failed,
		s.Requests, s.AvgDuration)
}
