package observability

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
)

// Thresholds used by Bottlenecks
const (
	SlowRouteThreshold = 100 * time.Millisecond
	ErrorRateThreshold = 0.05
)

// latencyBounds are the upper bounds of the latency buckets; the last
// bucket collects everything slower.
var latencyBounds = [...]time.Duration{
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

// Monitor records request latency and errors per route. It is safe for
// concurrent use and never blocks the request path on a lock.
type Monitor struct {
	enabled atomic.Bool
	routes  sync.Map // string -> *routeMetrics
	global  struct {
		totalRequests atomic.Uint64
		totalErrors   atomic.Uint64
		totalDuration atomic.Uint64
	}
}

type routeMetrics struct {
	name           string
	count          atomic.Uint64
	errors         atomic.Uint64
	totalDuration  atomic.Uint64
	minDuration    atomic.Uint64 // stored as d+1 so zero means unset
	maxDuration    atomic.Uint64
	latencyBuckets [len(latencyBounds) + 1]atomic.Uint64
}

// RouteSnapshot is a point-in-time copy of a route's metrics.
type RouteSnapshot struct {
	Route   string                         `json:"route"`
	Count   uint64                         `json:"count"`
	Errors  uint64                         `json:"errors"`
	Avg     time.Duration                  `json:"avg"`
	Min     time.Duration                  `json:"min"`
	Max     time.Duration                  `json:"max"`
	Buckets [len(latencyBounds) + 1]uint64 `json:"buckets"`
}

// Bottleneck represents a performance issue
type Bottleneck struct {
	Type     string  `json:"type"`
	Location string  `json:"location"`
	Severity int     `json:"severity"`
	Impact   float64 `json:"impact"`
	Details  string  `json:"details"`
}

// NewMonitor creates an enabled monitor.
func NewMonitor() *Monitor {
	m := &Monitor{}
	m.enabled.Store(true)
	return m
}

// Enable turns recording on.
func (m *Monitor) Enable() { m.enabled.Store(true) }

// Disable turns recording off; existing metrics are kept.
func (m *Monitor) Disable() { m.enabled.Store(false) }

// RecordRequest records one request served by route.
func (m *Monitor) RecordRequest(route string, duration time.Duration, isError bool) {
	if m == nil || !m.enabled.Load() {
		return
	}

	val, ok := m.routes.Load(route)
	if !ok {
		val, _ = m.routes.LoadOrStore(route, &routeMetrics{name: route})
	}
	metrics := val.(*routeMetrics)

	metrics.count.Add(1)
	if isError {
		metrics.errors.Add(1)
		m.global.totalErrors.Add(1)
	}

	d := uint64(max(duration, 0))
	metrics.totalDuration.Add(d)
	metrics.updateMinMax(d)
	metrics.latencyBuckets[bucketFor(duration)].Add(1)

	m.global.totalRequests.Add(1)
	m.global.totalDuration.Add(d)
}

func (rm *routeMetrics) updateMinMax(d uint64) {
	for {
		cur := rm.minDuration.Load()
		if cur != 0 && d+1 >= cur {
			break
		}
		if rm.minDuration.CompareAndSwap(cur, d+1) {
			break
		}
	}
	for {
		cur := rm.maxDuration.Load()
		if d <= cur {
			break
		}
		if rm.maxDuration.CompareAndSwap(cur, d) {
			break
		}
	}
}

func bucketFor(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d < bound {
			return i
		}
	}
	return len(latencyBounds)
}

// Totals returns the request count, error count and cumulative duration over
// all routes.
func (m *Monitor) Totals() (requests, errors uint64, duration time.Duration) {
	return m.global.totalRequests.Load(), m.global.totalErrors.Load(), time.Duration(m.global.totalDuration.Load())
}

// Snapshot returns the metrics of every route, sorted by route.
func (m *Monitor) Snapshot() []RouteSnapshot {
	var snaps []RouteSnapshot
	m.routes.Range(func(_, value any) bool {
		snaps = append(snaps, value.(*routeMetrics).snapshot())
		return true
	})
	slices.SortFunc(snaps, func(a, b RouteSnapshot) int { return strings.Compare(a.Route, b.Route) })
	return snaps
}

func (rm *routeMetrics) snapshot() RouteSnapshot {
	s := RouteSnapshot{
		Route:  rm.name,
		Count:  rm.count.Load(),
		Errors: rm.errors.Load(),
		Max:    time.Duration(rm.maxDuration.Load()),
	}
	if v := rm.minDuration.Load(); v > 0 {
		s.Min = time.Duration(v - 1)
	}
	if s.Count > 0 {
		s.Avg = time.Duration(rm.totalDuration.Load() / s.Count)
	}
	for i := range rm.latencyBuckets {
		s.Buckets[i] = rm.latencyBuckets[i].Load()
	}
	return s
}

// Bottlenecks reports routes that are slow on average or fail too often.
func (m *Monitor) Bottlenecks() []Bottleneck {
	return lo.FlatMap(m.Snapshot(), func(s RouteSnapshot, _ int) []Bottleneck {
		if s.Count == 0 {
			return nil
		}
		var found []Bottleneck

		// High latency
		if s.Avg > SlowRouteThreshold {
			found = append(found, Bottleneck{
				Type:     "latency",
				Location: s.Route,
				Severity: 8,
				Impact:   100.0,
				Details:  fmt.Sprintf("High latency (%v avg)", s.Avg),
			})
		}

		// High error rate
		if rate := float64(s.Errors) / float64(s.Count); rate > ErrorRateThreshold {
			found = append(found, Bottleneck{
				Type:     "errors",
				Location: s.Route,
				Severity: 10,
				Impact:   rate * 100,
				Details:  fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
		return found
	})
}
