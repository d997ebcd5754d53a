package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/samber/lo"
	"github.com/searchktools/h1/core/observability"
	"github.com/searchktools/h1/core/pools"
	"github.com/searchktools/h1/core/router"
)

type counters struct {
	accepted  atomic.Uint64
	active    atomic.Int64
	completed atomic.Uint64
	notFound  atomic.Uint64
	errors    [numKinds]atomic.Uint64
}

// ConnStats counts connections by outcome.
type ConnStats struct {
	Accepted  uint64            `json:"accepted"`
	Active    int64             `json:"active"`
	Completed uint64            `json:"completed"`
	NotFound  uint64            `json:"not_found"`
	Errors    map[string]uint64 `json:"errors"`
}

// Stats is a snapshot of the server's runtime statistics
type Stats struct {
	Connections ConnStats                     `json:"connections"`
	Buffers     pools.BufferStats             `json:"buffers"`
	Routes      []string                      `json:"routes"`
	Latency     []observability.RouteSnapshot `json:"latency,omitempty"`
	Bottlenecks []observability.Bottleneck    `json:"bottlenecks,omitempty"`
	GC          pools.GCStats                 `json:"gc"`
}

// Stats returns a snapshot of the server's statistics.
func (s *Server) Stats() Stats {
	errs := make(map[string]uint64, numKinds)
	for k := ErrorKind(0); k < numKinds; k++ {
		errs[k.String()] = s.counters.errors[k].Load()
	}

	stats := Stats{
		Connections: ConnStats{
			Accepted:  s.counters.accepted.Load(),
			Active:    s.counters.active.Load(),
			Completed: s.counters.completed.Load(),
			NotFound:  s.counters.notFound.Load(),
			Errors:    errs,
		},
		Buffers: s.pool.Stats(),
		Routes:  lo.Map(s.routes.Routes(), func(r router.Route, _ int) string { return r.String() }),
		GC:      pools.GetGCStats(),
	}
	if s.monitor != nil {
		stats.Latency = s.monitor.Snapshot()
		stats.Bottlenecks = s.monitor.Bottlenecks()
	}
	return stats
}

// StatsJSON returns the statistics as indented JSON.
func (s *Server) StatsJSON() ([]byte, error) {
	return json.MarshalIndent(s.Stats(), "", "  ")
}

// StatsText returns the statistics as human-readable text
func (s *Server) StatsText() string {
	stats := s.Stats()
	c := stats.Connections

	var b strings.Builder
	fmt.Fprintf(&b, `Server Statistics
=================

Connections:
  Accepted:  %d
  Active:    %d
  Completed: %d
  Not Found: %d
  Errors:    io=%d parse=%d middleware=%d handler=%d

Buffer Pool:
  Checkouts: %d
  Allocs:    %d
  Idle:      %d
  Hit Rate:  %.2f%%

GC:
  Collections: %d
  Avg Pause:   %v
  Goroutines:  %d
`,
		c.Accepted, c.Active, c.Completed, c.NotFound,
		c.Errors[KindIO.String()], c.Errors[KindParse.String()],
		c.Errors[KindMiddleware.String()], c.Errors[KindHandler.String()],
		stats.Buffers.Checkouts, stats.Buffers.Allocs, stats.Buffers.Idle, stats.Buffers.HitRate*100,
		stats.GC.NumGC, stats.GC.AvgPause, stats.GC.NumGoroutine)

	if len(stats.Latency) > 0 {
		b.WriteString("\nRoutes:\n")
		for _, r := range stats.Latency {
			fmt.Fprintf(&b, "  %-32s count=%d errors=%d avg=%v max=%v\n", r.Route, r.Count, r.Errors, r.Avg, r.Max)
		}
	}
	return b.String()
}
