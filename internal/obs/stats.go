package obs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Stats are per-point latency aggregates over one aggregation interval,
// in nanoseconds.
type Stats struct {
	Count uint64
	Min   int64
	Avg   int64
	P50   int64
	P95   int64
	P99   int64
	Max   int64
}

// Threshold defines alert limits for one point. Zero fields are unchecked.
type Threshold struct {
	P99 int64
	Max int64
}

// Alert describes a threshold breach.
type Alert struct {
	Point PointID
	Stats Stats
	Limit Threshold
}

// AlertFunc receives threshold breaches. Called from the aggregator
// goroutine; must not block.
type AlertFunc func(Alert)

// Aggregator periodically drains the tracer rings, computes percentiles,
// and fires alerts. Runs on its own low-priority goroutine.
type Aggregator struct {
	tracer     *Tracer
	interval   time.Duration
	thresholds [PointCount]Threshold
	alert      AlertFunc

	mu      sync.RWMutex
	latest  [PointCount]Stats
	cursors [PointCount]uint64
	scratch []int64
}

// NewAggregator creates an aggregator over the tracer. A zero interval
// defaults to one second.
func NewAggregator(tracer *Tracer, interval time.Duration, alert AlertFunc) *Aggregator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Aggregator{
		tracer:   tracer,
		interval: interval,
		alert:    alert,
		scratch:  make([]int64, 0, sampleRingSize),
	}
}

// SetThreshold installs alert limits for one point.
func (a *Aggregator) SetThreshold(id PointID, th Threshold) {
	if id < PointCount {
		a.thresholds[id] = th
	}
}

// Run aggregates until the context is done.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick()
		}
	}
}

// Tick performs one aggregation pass.
func (a *Aggregator) Tick() {
	for id := PointID(0); id < PointCount; id++ {
		samples, cursor := a.tracer.drain(id, a.cursors[id], a.scratch)
		a.cursors[id] = cursor
		a.scratch = samples[:0]
		st := computeStats(samples)

		a.mu.Lock()
		a.latest[id] = st
		a.mu.Unlock()

		if a.alert == nil || st.Count == 0 {
			continue
		}
		th := a.thresholds[id]
		if (th.P99 > 0 && st.P99 > th.P99) || (th.Max > 0 && st.Max > th.Max) {
			a.alert(Alert{Point: id, Stats: st, Limit: th})
		}
	}
}

// Latest returns the most recent aggregate for a point.
func (a *Aggregator) Latest(id PointID) Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if id < PointCount {
		return a.latest[id]
	}
	return Stats{}
}

func computeStats(samples []int64) Stats {
	if len(samples) == 0 {
		return Stats{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	var sum int64
	for _, v := range samples {
		sum += v
	}
	n := len(samples)
	return Stats{
		Count: uint64(n),
		Min:   samples[0],
		Avg:   sum / int64(n),
		P50:   samples[percentileIndex(n, 50)],
		P95:   samples[percentileIndex(n, 95)],
		P99:   samples[percentileIndex(n, 99)],
		Max:   samples[n-1],
	}
}

func percentileIndex(n, pct int) int {
	idx := n*pct/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}
