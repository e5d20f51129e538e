package algo

import (
	"math/rand"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/strategy"
)

// ReportFunc publishes a parent-level execution event back onto the
// execution stream so the originating strategy observes parent progress.
type ReportFunc func(ev schema.ExecutionEvent)

// ExecutorConfig controls the parent-order executor.
type ExecutorConfig struct {
	// StrategyID is the executor's identity at the risk gate; every child
	// it emits is checked and rate-limited under this id.
	StrategyID uint32
	// InboxCapacity sizes the parent hand-off ring from the risk gate.
	InboxCapacity int
	// PollNs bounds how long a parent can sit in the inbox before the
	// housekeeping timer picks it up.
	PollNs int64
	// OffsetTicks prices IOC children relative to the opposite touch.
	// Positive crosses deeper, negative rests short of the touch.
	OffsetTicks int64
	// RepriceTicks is the adverse move, in ticks, that makes an iceberg
	// cancel and re-emit its visible child.
	RepriceTicks int64
	// Seed fixes the jitter source. Zero seeds from the clock.
	Seed int64
}

func (c ExecutorConfig) withDefaults() ExecutorConfig {
	if c.InboxCapacity <= 0 {
		c.InboxCapacity = 1 << 10
	}
	if c.PollNs <= 0 {
		c.PollNs = int64(1_000_000) // 1ms
	}
	if c.RepriceTicks <= 0 {
		c.RepriceTicks = 2
	}
	return c
}

type parent struct {
	id     uint64
	tag    uint64 // originating strategy's client tag
	origin uint32
	intent schema.OrderIntent
	inst   schema.Instrument

	filled    schema.Quantity
	childTag  uint64
	childLive bool
	childQty  schema.Quantity
	done      bool

	iceberg *icebergState
	twap    *twapState
	vwap    *vwapState
}

func (p *parent) remaining() schema.Quantity {
	return p.intent.Qty - p.filled
}

// Executor hosts parent orders and slices them into children. It is
// registered as a strategy on a runtime shard, so every child passes the
// same risk gate and exec-report path as any other order.
type Executor struct {
	cfg      ExecutorConfig
	reg      *schema.Registry
	counters *obs.Counters
	tracer   *obs.Tracer
	report   ReportFunc
	inbox    *bus.Ring[schema.OrderIntent]
	rng      *rand.Rand

	parents    map[uint64]*parent // by parent client tag
	byChildTag map[uint64]*parent
	tops       map[schema.InstrumentID]book.Update
	tradeVol   map[schema.InstrumentID]schema.Quantity // since last slice tick
	parentSeq  uint64
	timerSet   bool
}

// NewExecutor builds an executor. Wire the result with Register on a
// runtime shard and Bind with the returned context.
func NewExecutor(cfg ExecutorConfig, reg *schema.Registry, tracer *obs.Tracer, counters *obs.Counters, report ReportFunc) *Executor {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Executor{
		cfg:        cfg,
		reg:        reg,
		tracer:     tracer,
		counters:   counters,
		report:     report,
		inbox:      bus.NewRing[schema.OrderIntent](cfg.InboxCapacity),
		rng:        rand.New(rand.NewSource(seed)),
		parents:    make(map[uint64]*parent),
		byChildTag: make(map[uint64]*parent),
		tops:       make(map[schema.InstrumentID]book.Update),
		tradeVol:   make(map[schema.InstrumentID]schema.Quantity),
	}
}

// Inbox returns the parent hand-off ring. The risk gate is its only
// producer.
func (e *Executor) Inbox() *bus.Ring[schema.OrderIntent] { return e.inbox }

// Bind arms the housekeeping timer. Call once after Register, on the shard
// goroutine before Run starts.
func (e *Executor) Bind(ctx *strategy.Context) {
	e.armTimer(ctx, ctx.Now()+e.cfg.PollNs)
}

func (e *Executor) OnBookDelta(ctx *strategy.Context, u book.Update) {
	e.tops[u.Delta.Instrument] = u
	e.drainInbox(ctx)
	for _, p := range e.parents {
		if p.intent.Instrument == u.Delta.Instrument && p.iceberg != nil {
			e.icebergOnBook(ctx, p, u)
		}
	}
}

func (e *Executor) OnTrade(ctx *strategy.Context, u book.Update) {
	e.tradeVol[u.Delta.Instrument] += u.Delta.Qty
	e.drainInbox(ctx)
}

func (e *Executor) OnExecReport(ctx *strategy.Context, ev schema.ExecutionEvent) {
	e.drainInbox(ctx)
	p, ok := e.byChildTag[ev.ClientTag]
	if !ok || p.done {
		return
	}

	if ev.FillQty > 0 {
		p.filled += ev.FillQty
		e.reportProgress(ctx, p, ev)
		if p.remaining() <= 0 {
			p.done = true
			return
		}
	}

	if ev.Status.Terminal() {
		p.childLive = false
		delete(e.byChildTag, ev.ClientTag)
		if ev.Status == schema.OrderStatusRejected && ev.RiskReason == schema.RejectReasonKillSwitch {
			e.finish(ctx, p, schema.OrderStatusRejected, schema.ExecReasonRiskReject)
			return
		}
		// Unfilled remainder of an IOC child rolls into the next slice.
		if p.iceberg != nil {
			e.icebergEmit(ctx, p)
		}
	}
}

func (e *Executor) OnTimer(ctx *strategy.Context, id uint64, now int64) {
	e.timerSet = false
	e.drainInbox(ctx)

	next := now + e.cfg.PollNs
	for _, p := range e.parents {
		if p.done {
			continue
		}
		begin := ctx.Now()
		var deadline int64
		switch {
		case p.twap != nil:
			deadline = e.twapOnTimer(ctx, p, now)
		case p.vwap != nil:
			deadline = e.vwapOnTimer(ctx, p, now)
		case p.iceberg != nil:
			deadline = now + e.cfg.PollNs
		}
		e.tracer.Record(obs.PointAlgoSlice, ctx.Now()-begin)
		if deadline > 0 && deadline < next {
			next = deadline
		}
	}
	e.sweep()
	e.armTimer(ctx, next)
}

func (e *Executor) armTimer(ctx *strategy.Context, deadline int64) {
	if e.timerSet {
		return
	}
	e.timerSet = true
	ctx.TimerAt(deadline)
}

func (e *Executor) drainInbox(ctx *strategy.Context) {
	for {
		intent, ok := e.inbox.TryPop()
		if !ok {
			return
		}
		switch intent.Kind {
		case schema.IntentPlace:
			e.admit(ctx, intent)
		case schema.IntentCancel:
			e.cancelParent(ctx, intent.ClientTag)
		}
	}
}

func (e *Executor) admit(ctx *strategy.Context, intent schema.OrderIntent) {
	inst, ok := e.reg.Instrument(intent.Instrument)
	if !ok {
		return
	}
	e.parentSeq++
	p := &parent{
		// Parent ids live in their own namespace, clear of engine order ids.
		id:     1<<62 | e.parentSeq,
		tag:    intent.ClientTag,
		origin: intent.StrategyID,
		intent: intent,
		inst:   inst,
	}
	now := ctx.Now()
	switch intent.Algo.Kind {
	case schema.AlgoIceberg:
		e.icebergInit(ctx, p)
	case schema.AlgoTwap:
		e.twapInit(ctx, p, now)
	case schema.AlgoVwap:
		e.vwapInit(ctx, p, now)
	default:
		return
	}
	e.parents[p.tag] = p
	e.reportStatus(ctx, p, schema.OrderStatusAcknowledged, schema.ExecReasonNone)
}

func (e *Executor) cancelParent(ctx *strategy.Context, tag uint64) {
	p, ok := e.parents[tag]
	if !ok || p.done {
		return
	}
	if p.childLive {
		ctx.Cancel(p.childTag)
	}
	e.finish(ctx, p, schema.OrderStatusCancelled, schema.ExecReasonCancelRequested)
}

// placeChild emits one child order and maps its tag back to the parent.
func (e *Executor) placeChild(ctx *strategy.Context, p *parent, side schema.OrderSide, px schema.Price, qty schema.Quantity, tif schema.TimeInForce) {
	if qty <= 0 {
		return
	}
	tag := ctx.Place(schema.OrderIntent{
		Instrument:  p.intent.Instrument,
		Side:        side,
		Type:        schema.OrderTypeLimit,
		TimeInForce: tif,
		Price:       px,
		Qty:         qty,
		ParentID:    p.id,
	})
	p.childTag = tag
	p.childLive = true
	p.childQty = qty
	e.byChildTag[tag] = p
}

// childPrice computes the IOC child price at or near the opposite touch.
// A zero result means no touch is available yet.
func (e *Executor) childPrice(p *parent) schema.Price {
	top, ok := e.tops[p.intent.Instrument]
	if !ok {
		return 0
	}
	tick := int64(p.inst.TickSize)
	if p.intent.Side == schema.OrderSideBuy {
		if top.BestAsk.Qty == 0 {
			return 0
		}
		px := int64(top.BestAsk.Price) + e.cfg.OffsetTicks*tick
		if p.intent.Price > 0 && px > int64(p.intent.Price) {
			px = int64(p.intent.Price)
		}
		return schema.Price(px)
	}
	if top.BestBid.Qty == 0 {
		return 0
	}
	px := int64(top.BestBid.Price) - e.cfg.OffsetTicks*tick
	if p.intent.Price > 0 && px < int64(p.intent.Price) {
		px = int64(p.intent.Price)
	}
	return schema.Price(px)
}

// roundLot rounds qty down to a lot multiple.
func roundLot(qty, lot schema.Quantity) schema.Quantity {
	if lot <= 0 {
		return qty
	}
	return qty - qty%lot
}

// jitterQty applies a symmetric percentage jitter and clamps to
// [min, max], keeping lot alignment.
func (e *Executor) jitterQty(base schema.Quantity, pct uint16, min, max, lot schema.Quantity) schema.Quantity {
	q := int64(base)
	if pct > 0 && q > 0 {
		span := q * int64(pct) / 100
		if span > 0 {
			q += e.rng.Int63n(2*span+1) - span
		}
	}
	out := roundLot(schema.Quantity(q), lot)
	if out < min {
		out = roundLot(min, lot)
		if out < min {
			out += lot
		}
	}
	if out > max {
		out = roundLot(max, lot)
	}
	return out
}

func (e *Executor) reportProgress(ctx *strategy.Context, p *parent, child schema.ExecutionEvent) {
	status := schema.OrderStatusPartiallyFilled
	if p.remaining() <= 0 {
		status = schema.OrderStatusFilled
	}
	e.report(schema.ExecutionEvent{
		OrderID:    p.id,
		ClientTag:  p.tag,
		StrategyID: p.origin,
		Instrument: p.intent.Instrument,
		Status:     status,
		FillPrice:  child.FillPrice,
		FillQty:    child.FillQty,
		FilledQty:  p.filled,
		LeavesQty:  p.remaining(),
		Ts:         ctx.Now(),
	})
}

func (e *Executor) reportStatus(ctx *strategy.Context, p *parent, status schema.OrderStatus, reason schema.ExecReason) {
	e.report(schema.ExecutionEvent{
		OrderID:    p.id,
		ClientTag:  p.tag,
		StrategyID: p.origin,
		Instrument: p.intent.Instrument,
		Status:     status,
		Reason:     reason,
		FilledQty:  p.filled,
		LeavesQty:  p.remaining(),
		Ts:         ctx.Now(),
	})
}

func (e *Executor) finish(ctx *strategy.Context, p *parent, status schema.OrderStatus, reason schema.ExecReason) {
	p.done = true
	e.reportStatus(ctx, p, status, reason)
}

// sweep drops finished parents outside iteration.
func (e *Executor) sweep() {
	for tag, p := range e.parents {
		if p.done {
			delete(e.parents, tag)
			if p.childLive {
				delete(e.byChildTag, p.childTag)
			}
		}
	}
}

var _ strategy.Strategy = (*Executor)(nil)
