package pools

import (
	"math"
	"runtime"
	"runtime/debug"
	"time"
)

// GCConfig overrides the runtime's garbage collector settings. Zero fields
// leave the current setting alone.
type GCConfig struct {
	// Percent is the GOGC target percentage
	Percent int

	// MemoryLimit is the soft heap limit in bytes
	MemoryLimit int64
}

// Enabled reports whether the config changes anything.
func (c GCConfig) Enabled() bool {
	return c.Percent > 0 || c.MemoryLimit > 0
}

// ApplyGCConfig applies cfg and returns a function restoring the settings
// that were in effect before.
func ApplyGCConfig(cfg GCConfig) (restore func()) {
	prevPercent, prevLimit := -1, int64(-1)
	if cfg.Percent > 0 {
		prevPercent = debug.SetGCPercent(cfg.Percent)
	}
	if cfg.MemoryLimit > 0 {
		prevLimit = debug.SetMemoryLimit(cfg.MemoryLimit)
	}
	return func() {
		if prevPercent != -1 {
			debug.SetGCPercent(prevPercent)
		}
		if prevLimit != -1 {
			debug.SetMemoryLimit(prevLimit)
		}
	}
}

// CurrentGCConfig reads the collector settings in effect. A disabled memory
// limit is reported as 0.
func CurrentGCConfig() GCConfig {
	percent := debug.SetGCPercent(-1)
	debug.SetGCPercent(percent)

	limit := debug.SetMemoryLimit(-1)
	if limit == math.MaxInt64 {
		limit = 0
	}
	return GCConfig{Percent: percent, MemoryLimit: limit}
}

// GCStats is a snapshot of collector and heap figures reported in server stats.
type GCStats struct {
	NumGC        int64         `json:"num_gc"`
	PauseTotal   time.Duration `json:"pause_total"`
	LastPause    time.Duration `json:"last_pause"`
	AvgPause     time.Duration `json:"avg_pause"`
	AllocBytes   uint64        `json:"alloc_bytes"`
	TotalAlloc   uint64        `json:"total_alloc"`
	Sys          uint64        `json:"sys"`
	NumGoroutine int           `json:"num_goroutine"`
}

// GetGCStats collects GCStats from the runtime.
func GetGCStats() GCStats {
	var gc debug.GCStats
	debug.ReadGCStats(&gc)
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := GCStats{
		NumGC:        gc.NumGC,
		PauseTotal:   gc.PauseTotal,
		AllocBytes:   ms.Alloc,
		TotalAlloc:   ms.TotalAlloc,
		Sys:          ms.Sys,
		NumGoroutine: runtime.NumGoroutine(),
	}
	if gc.NumGC > 0 {
		stats.AvgPause = gc.PauseTotal / time.Duration(gc.NumGC)
	}
	if len(gc.Pause) > 0 {
		stats.LastPause = gc.Pause[0]
	}
	return stats
}
