package pools

import (
	"runtime"
	"runtime/debug"
	"time"
)

// GCConfig holds GC tuning parameters
type GCConfig struct {
	// GOGC sets the garbage collection target percentage. 0 keeps the
	// runtime default.
	GOGC int

	// MemoryLimit sets a soft memory limit in bytes. 0 means no limit.
	MemoryLimit int64
}

// DefaultGCConfig returns the settings used when the configuration leaves
// GC tuning alone. Connection slots and idle lists are long lived, so a
// less eager collector pays off.
func DefaultGCConfig() GCConfig {
	return GCConfig{
		GOGC: 200,
	}
}

// ApplyGCConfig applies GC tuning and returns the previous GOGC value.
func ApplyGCConfig(cfg GCConfig) int {
	prev := -1
	if cfg.GOGC > 0 {
		prev = debug.SetGCPercent(cfg.GOGC)
	}
	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}
	return prev
}

// GCStats holds garbage collection statistics
type GCStats struct {
	NumGC        uint32
	LastPause    time.Duration
	AllocBytes   uint64
	Sys          uint64
	NumGoroutine int
}

// GetGCStats returns current GC statistics
func GetGCStats() GCStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := GCStats{
		NumGC:        ms.NumGC,
		AllocBytes:   ms.Alloc,
		Sys:          ms.Sys,
		NumGoroutine: runtime.NumGoroutine(),
	}
	if ms.NumGC > 0 {
		stats.LastPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256])
	}
	return stats
}
