package pools

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the capacity of a freshly allocated connection buffer.
const DefaultBufferSize = 4 * 1024

// Buffer is a growable byte region owned by exactly one connection between
// Checkout and Release.
type Buffer struct {
	B []byte
}

// Len returns the number of bytes written into the buffer.
func (b *Buffer) Len() int { return len(b.B) }

// Cap returns the current capacity of the buffer.
func (b *Buffer) Cap() int { return cap(b.B) }

// Reset truncates the buffer, keeping its capacity.
func (b *Buffer) Reset() { b.B = b.B[:0] }

// BufferPoolConfig configures a BufferPool
type BufferPoolConfig struct {
	// InitialSize is the capacity of buffers allocated on a miss
	InitialSize int

	// MaxIdle caps the free list; 0 keeps every released buffer
	MaxIdle int
}

// BufferPool is a free list of connection buffers. Released buffers keep
// their capacity, so a buffer that grew for a large request stays large.
type BufferPool struct {
	cfg BufferPoolConfig

	mu   sync.Mutex
	free []*Buffer

	// Statistics
	checkouts atomic.Uint64
	allocs    atomic.Uint64
	releases  atomic.Uint64
	drops     atomic.Uint64
}

// NewBufferPool creates a new buffer pool
func NewBufferPool(cfg BufferPoolConfig) *BufferPool {
	if cfg.InitialSize <= 0 {
		cfg.InitialSize = DefaultBufferSize
	}
	if cfg.MaxIdle < 0 {
		cfg.MaxIdle = 0
	}
	return &BufferPool{cfg: cfg}
}

// Checkout returns an empty buffer, reusing a released one when available.
func (bp *BufferPool) Checkout() *Buffer {
	bp.checkouts.Add(1)

	bp.mu.Lock()
	if n := len(bp.free); n > 0 {
		buf := bp.free[n-1]
		bp.free[n-1] = nil
		bp.free = bp.free[:n-1]
		bp.mu.Unlock()
		return buf
	}
	bp.mu.Unlock()

	bp.allocs.Add(1)
	return &Buffer{B: make([]byte, 0, bp.cfg.InitialSize)}
}

// Release clears the buffer and returns it to the free list
func (bp *BufferPool) Release(buf *Buffer) {
	if buf == nil {
		return
	}

	// Reset length but keep capacity
	buf.Reset()
	bp.releases.Add(1)

	bp.mu.Lock()
	if bp.cfg.MaxIdle > 0 && len(bp.free) >= bp.cfg.MaxIdle {
		bp.mu.Unlock()
		bp.drops.Add(1)
		return
	}
	bp.free = append(bp.free, buf)
	bp.mu.Unlock()
}

// Idle returns the number of buffers waiting on the free list.
func (bp *BufferPool) Idle() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.free)
}

// Stats returns buffer pool statistics
func (bp *BufferPool) Stats() BufferStats {
	checkouts := bp.checkouts.Load()
	allocs := bp.allocs.Load()
	hitRate := 0.0
	if checkouts > 0 {
		hitRate = float64(checkouts-allocs) / float64(checkouts)
	}
	return BufferStats{
		Checkouts: checkouts,
		Allocs:    allocs,
		Releases:  bp.releases.Load(),
		Drops:     bp.drops.Load(),
		Idle:      bp.Idle(),
		HitRate:   hitRate,
	}
}

// BufferStats contains buffer pool statistics
type BufferStats struct {
	Checkouts uint64  `json:"checkouts"`
	Allocs    uint64  `json:"allocs"`
	Releases  uint64  `json:"releases"`
	Drops     uint64  `json:"drops"`
	Idle      int     `json:"idle"`
	HitRate   float64 `json:"hit_rate"`
}
