package strategy

import (
	"main/internal/book"
	"main/internal/schema"
)

// MarketMakerConfig parameterizes one quoting instrument.
type MarketMakerConfig struct {
	Instrument schema.InstrumentID
	// Tick is the instrument's price increment; quotes are rounded onto
	// the grid toward the passive side.
	Tick schema.Price
	// HalfSpread is the quote distance from mid, in price units.
	HalfSpread schema.Price
	// SkewPerLot shifts both quotes against inventory, per lot held.
	SkewPerLot schema.Price
	// QuoteQty is the size of each side's quote.
	QuoteQty schema.Quantity
	// MaxPosition stops quoting the side that would grow inventory past it.
	MaxPosition schema.Quantity
	// RequoteNs is the minimum interval between quote refreshes.
	RequoteNs int64
	// ImbalanceGate suppresses the weak side when |imbalance| (bps) exceeds
	// it. Zero disables the gate.
	ImbalanceGate int64
}

// MarketMaker keeps a two-sided quote around the mid, skewed against
// inventory. It re-quotes on top-of-book moves, rate-limited by a timer.
type MarketMaker struct {
	cfg MarketMakerConfig

	bidTag, askTag uint64
	bidLive        bool
	askLive        bool
	lastQuote      int64
	pendingTimer   bool
	halted         bool
	lastUpdate     book.Update
}

// NewMarketMaker builds a quoting strategy for one instrument.
func NewMarketMaker(cfg MarketMakerConfig) *MarketMaker {
	return &MarketMaker{cfg: cfg}
}

func (m *MarketMaker) OnBookDelta(ctx *Context, u book.Update) {
	m.lastUpdate = u
	if u.Status != schema.InstrumentStatusOpen {
		m.halted = true
		m.pullQuotes(ctx)
		return
	}
	m.halted = false
	m.maybeQuote(ctx, u)
}

func (m *MarketMaker) OnTrade(ctx *Context, u book.Update) {}

func (m *MarketMaker) OnExecReport(ctx *Context, ev schema.ExecutionEvent) {
	if !ev.Status.Terminal() {
		return
	}
	switch ev.ClientTag {
	case m.bidTag:
		m.bidLive = false
	case m.askTag:
		m.askLive = false
	}
}

func (m *MarketMaker) OnTimer(ctx *Context, id uint64, now int64) {
	m.pendingTimer = false
	if !m.halted {
		m.maybeQuote(ctx, m.lastUpdate)
	}
}

func (m *MarketMaker) maybeQuote(ctx *Context, u book.Update) {
	if u.BestBid.Qty == 0 || u.BestAsk.Qty == 0 {
		return
	}
	now := ctx.Now()
	if now-m.lastQuote < m.cfg.RequoteNs {
		if !m.pendingTimer {
			m.pendingTimer = true
			ctx.TimerAt(m.lastQuote + m.cfg.RequoteNs)
		}
		return
	}
	m.lastQuote = now

	pos := ctx.Position(m.cfg.Instrument)
	mid := schema.Price((int64(u.BestBid.Price) + int64(u.BestAsk.Price)) / 2)
	skew := schema.Price(int64(pos) * int64(m.cfg.SkewPerLot))
	bidPx := tickDown(mid-m.cfg.HalfSpread-skew, m.cfg.Tick)
	askPx := tickUp(mid+m.cfg.HalfSpread-skew, m.cfg.Tick)

	wantBid := pos+m.cfg.QuoteQty <= m.cfg.MaxPosition
	wantAsk := pos-m.cfg.QuoteQty >= -m.cfg.MaxPosition
	if m.cfg.ImbalanceGate > 0 {
		// Heavy one-sided pressure: stop quoting into the flow.
		if u.Imbalance > m.cfg.ImbalanceGate {
			wantAsk = false
		}
		if u.Imbalance < -m.cfg.ImbalanceGate {
			wantBid = false
		}
	}

	m.requote(ctx, &m.bidTag, &m.bidLive, wantBid, schema.OrderSideBuy, bidPx)
	m.requote(ctx, &m.askTag, &m.askLive, wantAsk, schema.OrderSideSell, askPx)
}

func (m *MarketMaker) requote(ctx *Context, tag *uint64, live *bool, want bool, side schema.OrderSide, px schema.Price) {
	if !want {
		if *live {
			ctx.Cancel(*tag)
			*live = false
		}
		return
	}
	if *live {
		ctx.Modify(*tag, 0, px)
		return
	}
	*tag = ctx.Place(schema.OrderIntent{
		Instrument:  m.cfg.Instrument,
		Side:        side,
		Type:        schema.OrderTypeLimit,
		TimeInForce: schema.TimeInForceDay,
		Price:       px,
		Qty:         m.cfg.QuoteQty,
	})
	*live = true
}

func (m *MarketMaker) pullQuotes(ctx *Context) {
	if m.bidLive {
		ctx.Cancel(m.bidTag)
		m.bidLive = false
	}
	if m.askLive {
		ctx.Cancel(m.askTag)
		m.askLive = false
	}
}

func tickDown(px, tick schema.Price) schema.Price {
	if tick <= 1 || px <= 0 {
		return px
	}
	return px - px%tick
}

func tickUp(px, tick schema.Price) schema.Price {
	if tick <= 1 || px <= 0 {
		return px
	}
	if r := px % tick; r != 0 {
		return px + tick - r
	}
	return px
}
