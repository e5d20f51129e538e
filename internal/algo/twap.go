package algo

import (
	"main/internal/schema"
	"main/internal/strategy"
)

// twapState slices a parent evenly over its active window. Unfilled slice
// remainder rolls forward because every slice re-divides what is left.
type twapState struct {
	start       int64
	sliceNs     int64
	totalSlices int
	fired       int
	nextAt      int64
}

func (e *Executor) twapInit(ctx *strategy.Context, p *parent, now int64) {
	a := p.intent.Algo
	sliceNs := int64(a.SliceIntervalMs) * 1_000_000
	total := 0
	if a.SliceIntervalMs > 0 {
		total = int(a.TotalDurationMs / a.SliceIntervalMs)
	}
	if total <= 0 {
		total = 1
		sliceNs = int64(a.TotalDurationMs) * 1_000_000
	}
	p.twap = &twapState{
		start:       now,
		sliceNs:     sliceNs,
		totalSlices: total,
		nextAt:      e.jitterDeadline(now+sliceNs, sliceNs, a.RandomizePct),
	}
}

// twapOnTimer fires due slices and returns the next deadline, or zero when
// the schedule is exhausted.
func (e *Executor) twapOnTimer(ctx *strategy.Context, p *parent, now int64) int64 {
	st := p.twap
	for st.fired < st.totalSlices && now >= st.nextAt {
		st.fired++
		e.twapSlice(ctx, p)
		nominal := st.start + int64(st.fired+1)*st.sliceNs
		st.nextAt = e.jitterDeadline(nominal, st.sliceNs, p.intent.Algo.RandomizePct)
	}
	if st.fired >= st.totalSlices {
		if !p.childLive && p.remaining() > 0 {
			// Schedule exhausted with quantity left: the window expired.
			e.finish(ctx, p, schema.OrderStatusExpired, schema.ExecReasonExpired)
		}
		return 0
	}
	return st.nextAt
}

// twapSlice emits one IOC child sized remaining/remaining_slices.
func (e *Executor) twapSlice(ctx *strategy.Context, p *parent) {
	st := p.twap
	remaining := p.remaining()
	if remaining <= 0 {
		return
	}
	left := schema.Quantity(st.totalSlices - st.fired + 1)
	base := remaining / left
	if st.fired == st.totalSlices {
		base = remaining // final slice takes everything left
	}
	qty := e.jitterQty(base, p.intent.Algo.RandomizePct, 0, remaining, p.inst.LotSize)
	if qty <= 0 {
		return
	}
	px := e.childPrice(p)
	if px <= 0 {
		return
	}
	e.placeChild(ctx, p, p.intent.Side, px, qty, schema.TimeInForceIOC)
}

// jitterDeadline shifts a nominal deadline by up to ±pct of the interval.
func (e *Executor) jitterDeadline(nominal, interval int64, pct uint16) int64 {
	if pct == 0 || interval <= 0 {
		return nominal
	}
	span := interval * int64(pct) / 100
	if span <= 0 {
		return nominal
	}
	return nominal + e.rng.Int63n(2*span+1) - span
}
