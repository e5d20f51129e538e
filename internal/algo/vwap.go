package algo

import (
	"main/internal/schema"
	"main/internal/strategy"
)

// vwapState tracks a parent against a cumulative volume curve. Each slice
// targets total*V(t)/V(T) and is clamped by the participation cap against
// volume observed since the previous slice.
type vwapState struct {
	start      int64
	sliceNs    int64
	curve      []schema.Quantity // cumulative, len == slice count
	curveTotal schema.Quantity
	fired      int
	nextAt     int64
	volAnchor  schema.Quantity // trade volume counter at last slice
}

func (e *Executor) vwapInit(ctx *strategy.Context, p *parent, now int64) {
	a := p.intent.Algo
	sliceNs := int64(a.SliceIntervalMs) * 1_000_000
	slices := 0
	if a.SliceIntervalMs > 0 {
		slices = int(a.TotalDurationMs / a.SliceIntervalMs)
	}
	if slices <= 0 {
		slices = 1
		sliceNs = int64(a.TotalDurationMs) * 1_000_000
	}

	// Normalize the configured curve to cumulative form over the slice
	// count. An empty curve degrades to a flat (TWAP-like) profile.
	curve := make([]schema.Quantity, slices)
	var cum schema.Quantity
	for i := 0; i < slices; i++ {
		if i < len(a.VolumeCurve) {
			cum += a.VolumeCurve[i]
		} else {
			cum++
		}
		curve[i] = cum
	}

	p.vwap = &vwapState{
		start:      now,
		sliceNs:    sliceNs,
		curve:      curve,
		curveTotal: cum,
		nextAt:     now + sliceNs,
		volAnchor:  e.tradeVol[p.intent.Instrument],
	}
}

func (e *Executor) vwapOnTimer(ctx *strategy.Context, p *parent, now int64) int64 {
	st := p.vwap
	for st.fired < len(st.curve) && now >= st.nextAt {
		st.fired++
		e.vwapSlice(ctx, p)
		st.nextAt = st.start + int64(st.fired+1)*st.sliceNs
	}
	if st.fired >= len(st.curve) {
		if !p.childLive && p.remaining() > 0 {
			e.finish(ctx, p, schema.OrderStatusExpired, schema.ExecReasonExpired)
		}
		return 0
	}
	return st.nextAt
}

func (e *Executor) vwapSlice(ctx *strategy.Context, p *parent) {
	st := p.vwap
	if p.remaining() <= 0 {
		return
	}

	// Target cumulative fill at the end of this slice.
	target := schema.Quantity(int64(p.intent.Qty) * int64(st.curve[st.fired-1]) / int64(st.curveTotal))
	gap := target - p.filled
	if gap <= 0 {
		return
	}

	// Participation cap against volume printed since the last slice.
	observed := e.tradeVol[p.intent.Instrument]
	interval := observed - st.volAnchor
	st.volAnchor = observed
	if pct := p.intent.Algo.ParticipationPct; pct > 0 {
		allowed := schema.Quantity(int64(interval) * int64(pct) / 100)
		if gap > allowed {
			gap = allowed
		}
	}

	qty := roundLot(gap, p.inst.LotSize)
	if qty > p.remaining() {
		qty = roundLot(p.remaining(), p.inst.LotSize)
	}
	if qty <= 0 {
		return
	}
	px := e.childPrice(p)
	if px <= 0 {
		return
	}
	e.placeChild(ctx, p, p.intent.Side, px, qty, schema.TimeInForceIOC)
}
