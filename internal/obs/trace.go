// Package obs provides hot-path trace points, percentile aggregation, and
// alert thresholds. Recording is wait-free; aggregation runs off-path.
package obs

import "sync/atomic"

// PointID identifies a hot-path trace point.
type PointID uint16

const (
	PointFeedDecode PointID = iota
	PointBookApply
	PointStrategyEvent
	PointAlgoSlice
	PointRiskCheck
	PointRouterDispatch
	PointExecApply
	PointEndToEnd
	PointCount
)

var pointNames = [PointCount]string{
	PointFeedDecode:     "feed_decode",
	PointBookApply:      "book_apply",
	PointStrategyEvent:  "strategy_event",
	PointAlgoSlice:      "algo_slice",
	PointRiskCheck:      "risk_check",
	PointRouterDispatch: "router_dispatch",
	PointExecApply:      "exec_apply",
	PointEndToEnd:       "end_to_end",
}

// Name returns the stable trace point name.
func (p PointID) Name() string {
	if p < PointCount {
		return pointNames[p]
	}
	return "unknown"
}

const sampleRingSize = 4096 // per-point samples retained between aggregations

type sampleRing struct {
	cursor  atomic.Uint64
	samples [sampleRingSize]atomic.Int64
}

func (r *sampleRing) record(ns int64) {
	idx := r.cursor.Add(1) - 1
	r.samples[idx%sampleRingSize].Store(ns)
}

// Tracer collects begin/end deltas per point. Points are compiled in and
// toggled at runtime through an atomic bitset; a disabled point records
// nothing.
type Tracer struct {
	enabled atomic.Uint64
	rings   [PointCount]sampleRing
}

// NewTracer returns a tracer with every point enabled.
func NewTracer() *Tracer {
	t := &Tracer{}
	t.enabled.Store((1 << PointCount) - 1)
	return t
}

// Enabled reports whether the point currently records samples.
func (t *Tracer) Enabled(id PointID) bool {
	return t.enabled.Load()&(1<<id) != 0
}

// SetEnabled toggles one point at runtime.
func (t *Tracer) SetEnabled(id PointID, on bool) {
	for {
		cur := t.enabled.Load()
		next := cur | 1<<id
		if !on {
			next = cur &^ (1 << id)
		}
		if t.enabled.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Record stores one end-begin delta in nanoseconds.
func (t *Tracer) Record(id PointID, ns int64) {
	if t == nil || id >= PointCount || ns < 0 {
		return
	}
	if !t.Enabled(id) {
		return
	}
	t.rings[id].record(ns)
}

// drain copies up to sampleRingSize recorded samples for aggregation and
// returns how many were taken since the previous drain cursor.
func (t *Tracer) drain(id PointID, prev uint64, buf []int64) (taken []int64, cursor uint64) {
	r := &t.rings[id]
	cur := r.cursor.Load()
	n := cur - prev
	if n == 0 {
		return buf[:0], cur
	}
	if n > sampleRingSize {
		n = sampleRingSize
	}
	buf = buf[:0]
	start := cur - n
	for i := start; i < cur; i++ {
		buf = append(buf, r.samples[i%sampleRingSize].Load())
	}
	return buf, cur
}
