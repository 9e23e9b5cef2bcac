// Package gate decides which camera frames are forwarded for upload.
package gate

import (
	"sync"
	"time"
)

// IntervalFunc returns the minimum spacing between accepted frames.
// It is called on every decision so configuration changes apply to the
// next frame.
type IntervalFunc func() time.Duration

// Stats holds gate decision counters.
type Stats struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

// Gate throttles frames to at most one per interval.
//
// A frame is accepted only when strictly more than the interval has elapsed
// since the last accepted frame. A frame landing exactly on the boundary is
// rejected, and so is one whose timestamp precedes the last accepted frame.
type Gate struct {
	interval IntervalFunc

	mu           sync.Mutex
	lastAccepted time.Time
	hasAccepted  bool
	stats        Stats
}

// New creates a gate reading its interval from fn.
func New(fn IntervalFunc) *Gate {
	return &Gate{interval: fn}
}

// Fixed returns an IntervalFunc with a constant value.
func Fixed(d time.Duration) IntervalFunc {
	return func() time.Duration { return d }
}

// ShouldAccept reports whether a frame arriving at now should be uploaded,
// and records now as the last accepted instant when it should.
func (g *Gate) ShouldAccept(now time.Time) bool {
	interval := g.interval()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.hasAccepted {
		elapsed := now.Sub(g.lastAccepted)
		if elapsed < 0 || elapsed <= interval {
			g.stats.Rejected++
			return false
		}
	}

	g.lastAccepted = now
	g.hasAccepted = true
	g.stats.Accepted++
	return true
}

// LastAccepted returns the last accepted instant, if any.
func (g *Gate) LastAccepted() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastAccepted, g.hasAccepted
}

// Reset forgets the last accepted frame so the next one is accepted.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastAccepted = time.Time{}
	g.hasAccepted = false
}

// Stats returns a copy of the decision counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}
