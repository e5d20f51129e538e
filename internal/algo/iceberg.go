package algo

import (
	"main/internal/book"
	"main/internal/schema"
	"main/internal/strategy"
)

// icebergState tracks the single visible child of an iceberg parent. The
// visible child rests as a day limit; each fill draws the next slice from
// the hidden remainder.
type icebergState struct {
	childPx schema.Price
}

func (e *Executor) icebergInit(ctx *strategy.Context, p *parent) {
	p.iceberg = &icebergState{}
	e.icebergEmit(ctx, p)
}

// icebergEmit places the next visible slice at the parent limit, jittered
// uniformly within the configured band.
func (e *Executor) icebergEmit(ctx *strategy.Context, p *parent) {
	if p.done || p.childLive || p.remaining() <= 0 {
		return
	}
	a := p.intent.Algo
	qty := e.jitterQty(a.Visible, a.JitterPct, a.MinSlice, p.remaining(), p.inst.LotSize)
	if qty <= 0 {
		return
	}
	px := e.icebergPrice(p)
	if px <= 0 {
		return
	}
	p.iceberg.childPx = px
	e.placeChild(ctx, p, p.intent.Side, px, qty, schema.TimeInForceDay)
}

// icebergPrice rests the visible child at its own touch, capped by the
// parent limit.
func (e *Executor) icebergPrice(p *parent) schema.Price {
	top, ok := e.tops[p.intent.Instrument]
	if !ok {
		return p.intent.Price
	}
	if p.intent.Side == schema.OrderSideBuy {
		px := top.BestBid.Price
		if px == 0 || (p.intent.Price > 0 && px > p.intent.Price) {
			px = p.intent.Price
		}
		return px
	}
	px := top.BestAsk.Price
	if px == 0 || (p.intent.Price > 0 && px < p.intent.Price) {
		px = p.intent.Price
	}
	return px
}

// icebergOnBook cancels and re-emits the visible child when the market has
// moved adversely past the reprice threshold.
func (e *Executor) icebergOnBook(ctx *strategy.Context, p *parent, u book.Update) {
	if p.done || !p.childLive {
		return
	}
	target := e.icebergPrice(p)
	if target <= 0 || target == p.iceberg.childPx {
		return
	}
	tick := int64(p.inst.TickSize)
	adverse := int64(target) - int64(p.iceberg.childPx)
	if p.intent.Side == schema.OrderSideSell {
		adverse = -adverse
	}
	if adverse < e.cfg.RepriceTicks*tick {
		return
	}
	ctx.Cancel(p.childTag)
	// The next slice is emitted when the cancel's terminal report arrives.
}
