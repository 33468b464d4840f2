// Package observability keeps per-route request metrics.
package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// BucketBounds are the upper bounds of the latency buckets. The last bucket
// collects everything slower.
var BucketBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

const numBuckets = len(BucketBounds) + 1

// PerformanceMonitor records counts, errors and latency per route.
type PerformanceMonitor struct {
	enabled atomic.Bool
	routes  *xsync.MapOf[string, *RouteMetrics]
	global  struct {
		totalRequests atomic.Uint64
		totalErrors   atomic.Uint64
		totalDuration atomic.Uint64
	}
	bottlenecks  []Bottleneck
	bottleneckMu sync.RWMutex
}

// RouteMetrics stores per-route metrics
type RouteMetrics struct {
	Name           string
	Count          atomic.Uint64
	Errors         atomic.Uint64
	TotalDuration  atomic.Uint64
	MinDuration    atomic.Uint64
	MaxDuration    atomic.Uint64
	latencyBuckets [numBuckets]atomic.Uint64
}

// RouteSnapshot is a point-in-time copy of one route's metrics.
type RouteSnapshot struct {
	Name    string
	Count   uint64
	Errors  uint64
	Avg     time.Duration
	Min     time.Duration
	Max     time.Duration
	Buckets [numBuckets]uint64
}

// Bottleneck represents a performance issue
type Bottleneck struct {
	Type       string
	Location   string
	Severity   int
	Impact     float64
	DetectedAt time.Time
	Details    string
}

// NewPerformanceMonitor creates a monitor sized for about routes entries.
func NewPerformanceMonitor(routes int) *PerformanceMonitor {
	pm := &PerformanceMonitor{
		routes: xsync.NewMapOf[string, *RouteMetrics](xsync.WithPresize(max(routes, 16))),
	}
	pm.enabled.Store(true)
	return pm
}

// SetEnabled turns recording on or off.
func (pm *PerformanceMonitor) SetEnabled(on bool) {
	pm.enabled.Store(on)
}

// RecordRequest records a request
func (pm *PerformanceMonitor) RecordRequest(route string, duration time.Duration, isError bool) {
	if !pm.enabled.Load() {
		return
	}

	metrics, _ := pm.routes.LoadOrCompute(route, func() *RouteMetrics {
		return &RouteMetrics{Name: route}
	})

	metrics.Count.Add(1)
	if isError {
		metrics.Errors.Add(1)
		pm.global.totalErrors.Add(1)
	}

	d := uint64(max(duration, 0))
	metrics.TotalDuration.Add(d)
	updateMinMax(metrics, d)
	metrics.latencyBuckets[bucketIndex(duration)].Add(1)

	pm.global.totalRequests.Add(1)
	pm.global.totalDuration.Add(d)
}

// StartTrace starts timing
func (pm *PerformanceMonitor) StartTrace() int64 {
	if !pm.enabled.Load() {
		return 0
	}
	return time.Now().UnixNano()
}

// EndTrace ends timing and records
func (pm *PerformanceMonitor) EndTrace(route string, startTime int64, isError bool) {
	if startTime == 0 {
		return
	}
	pm.RecordRequest(route, time.Duration(time.Now().UnixNano()-startTime), isError)
}

// Totals returns the request count, error count and mean latency over all
// routes.
func (pm *PerformanceMonitor) Totals() (requests, errors uint64, avg time.Duration) {
	requests = pm.global.totalRequests.Load()
	errors = pm.global.totalErrors.Load()
	if requests > 0 {
		avg = time.Duration(pm.global.totalDuration.Load() / requests)
	}
	return requests, errors, avg
}

// Snapshot copies the metrics of every route, sorted by name.
func (pm *PerformanceMonitor) Snapshot() []RouteSnapshot {
	out := make([]RouteSnapshot, 0, pm.routes.Size())
	pm.routes.Range(func(name string, m *RouteMetrics) bool {
		s := RouteSnapshot{
			Name:   name,
			Count:  m.Count.Load(),
			Errors: m.Errors.Load(),
			Min:    time.Duration(m.MinDuration.Load()),
			Max:    time.Duration(m.MaxDuration.Load()),
		}
		if s.Count > 0 {
			s.Avg = time.Duration(m.TotalDuration.Load() / s.Count)
		}
		for i := range m.latencyBuckets {
			s.Buckets[i] = m.latencyBuckets[i].Load()
		}
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Analyze scans the routes for slow or failing ones and keeps the result
// for GetBottlenecks.
func (pm *PerformanceMonitor) Analyze() []Bottleneck {
	bottlenecks := pm.detectBottlenecks(time.Now())
	pm.bottleneckMu.Lock()
	pm.bottlenecks = bottlenecks
	pm.bottleneckMu.Unlock()
	return bottlenecks
}

// GetBottlenecks returns the bottlenecks found by the last Analyze.
func (pm *PerformanceMonitor) GetBottlenecks() []Bottleneck {
	pm.bottleneckMu.RLock()
	defer pm.bottleneckMu.RUnlock()
	return append([]Bottleneck{}, pm.bottlenecks...)
}

func (pm *PerformanceMonitor) detectBottlenecks(now time.Time) []Bottleneck {
	var bottlenecks []Bottleneck

	pm.routes.Range(func(name string, m *RouteMetrics) bool {
		count := m.Count.Load()
		if count == 0 {
			return true
		}

		avgDuration := time.Duration(m.TotalDuration.Load() / count)
		if avgDuration > 100*time.Millisecond {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:       "latency",
				Location:   name,
				Severity:   8,
				Impact:     100.0,
				DetectedAt: now,
				Details:    fmt.Sprintf("High latency (%v avg)", avgDuration),
			})
		}

		errors := m.Errors.Load()
		if rate := float64(errors) / float64(count); errors > 0 && rate > 0.05 {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:       "errors",
				Location:   name,
				Severity:   10,
				Impact:     rate * 100,
				DetectedAt: now,
				Details:    fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
		return true
	})

	sort.Slice(bottlenecks, func(i, j int) bool {
		if bottlenecks[i].Severity != bottlenecks[j].Severity {
			return bottlenecks[i].Severity > bottlenecks[j].Severity
		}
		return bottlenecks[i].Location < bottlenecks[j].Location
	})
	return bottlenecks
}

func updateMinMax(m *RouteMetrics, d uint64) {
	for {
		cur := m.MinDuration.Load()
		if cur != 0 && d >= cur {
			break
		}
		if m.MinDuration.CompareAndSwap(cur, d) {
			break
		}
	}
	for {
		cur := m.MaxDuration.Load()
		if d <= cur {
			break
		}
		if m.MaxDuration.CompareAndSwap(cur, d) {
			break
		}
	}
}

func bucketIndex(d time.Duration) int {
	for i, bound := range BucketBounds {
		if d < bound {
			return i
		}
	}
	return numBuckets - 1
}
