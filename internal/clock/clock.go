// Package clock is the single timestamp authority on the hot path.
package clock

import (
	"sync/atomic"
	"time"
)

const nanosPerSecond = int64(time.Second)

// Source returns monotonically non-decreasing nanosecond timestamps.
// The counter is backed by the platform monotonic clock and can be
// disciplined by an external offset and drift estimate (e.g. 1PPS).
// Now never moves backwards even while the discipline shifts.
type Source struct {
	start    time.Time
	wallBase int64
	offset   atomic.Int64
	driftPPB atomic.Int64
	last     atomic.Int64
}

// New creates a source anchored at the current instant.
func New() *Source {
	now := time.Now()
	return &Source{start: now, wallBase: now.UnixNano()}
}

// Now returns the disciplined monotonic timestamp in nanoseconds.
func (s *Source) Now() int64 {
	elapsed := int64(time.Since(s.start))
	drift := s.driftPPB.Load()
	ts := elapsed + s.offset.Load()
	if drift != 0 {
		ts += elapsed / nanosPerSecond * drift
	}
	for {
		last := s.last.Load()
		if ts <= last {
			return last
		}
		if s.last.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

// Discipline installs an external offset and drift estimate.
// Not called on the hot path.
func (s *Source) Discipline(offsetNs, driftPPB int64) {
	s.offset.Store(offsetNs)
	s.driftPPB.Store(driftPPB)
}

// Wall converts an engine timestamp to wall-clock time. Not hot path.
func (s *Source) Wall(ts int64) time.Time {
	return time.Unix(0, s.wallBase+ts)
}
