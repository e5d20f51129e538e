package risk

import (
	"fmt"

	"main/internal/clock"
	"main/internal/obs"
	"main/internal/schema"
)

type workingQty struct {
	buys  schema.Quantity
	sells schema.Quantity
}

type reservation struct {
	key       PositionKey
	side      schema.OrderSide
	remaining schema.Quantity
}

type sizeStats struct {
	accepted int64
	totalQty int64
}

// Gate is the synchronous risk check between strategy intent and router
// dispatch. It is the single owner of positions, reservations and rate
// windows; only the risk goroutine calls its methods.
type Gate struct {
	ks        *KillSwitch
	limits    *LimitsHolder
	positions *PositionTable
	reg       *schema.Registry
	clk       *clock.Source
	tracer    *obs.Tracer
	counters  *obs.Counters

	status       map[schema.InstrumentID]schema.InstrumentStatus
	halted       map[schema.InstrumentID]bool // admin overrides
	lastPx       map[schema.InstrumentID]schema.Price
	rates        map[uint32]*rateWindow
	sizes        map[uint32]*sizeStats
	reservations map[uint64]*reservation
	working      map[PositionKey]workingQty
	realizedDay  schema.Notional
}

// NewGate builds a gate around shared kill switch, limits and positions.
func NewGate(ks *KillSwitch, limits *LimitsHolder, positions *PositionTable, reg *schema.Registry, clk *clock.Source, tracer *obs.Tracer, counters *obs.Counters) *Gate {
	return &Gate{
		ks:           ks,
		limits:       limits,
		positions:    positions,
		reg:          reg,
		clk:          clk,
		tracer:       tracer,
		counters:     counters,
		status:       make(map[schema.InstrumentID]schema.InstrumentStatus),
		halted:       make(map[schema.InstrumentID]bool),
		lastPx:       make(map[schema.InstrumentID]schema.Price),
		rates:        make(map[uint32]*rateWindow),
		sizes:        make(map[uint32]*sizeStats),
		reservations: make(map[uint64]*reservation),
		working:      make(map[PositionKey]workingQty),
	}
}

// MarkStatus records an instrument status observed on the book stream.
func (g *Gate) MarkStatus(id schema.InstrumentID, st schema.InstrumentStatus) {
	g.status[id] = st
}

// MarkPrice records the latest trade price for notional projection.
func (g *Gate) MarkPrice(id schema.InstrumentID, px schema.Price) {
	if px > 0 {
		g.lastPx[id] = px
	}
}

// Halt force-halts or releases an instrument regardless of venue status.
// Admin path, executed on the risk goroutine.
func (g *Gate) Halt(id schema.InstrumentID, on bool) {
	g.halted[id] = on
}

func (g *Gate) tradable(id schema.InstrumentID) bool {
	if g.halted[id] {
		return false
	}
	switch g.status[id] {
	case schema.InstrumentStatusHalted, schema.InstrumentStatusClosed:
		return false
	default:
		return true
	}
}

// CheckStatic runs the stateless validity checks (kill switch, instrument,
// quantity bounds, tick alignment). Used alone for algo parent admission.
func (g *Gate) CheckStatic(intent schema.OrderIntent) schema.RejectReason {
	if g.ks.Engaged() {
		return schema.RejectReasonKillSwitch
	}
	inst, ok := g.reg.Instrument(intent.Instrument)
	if !ok {
		return schema.RejectReasonUnknownInstrument
	}
	if !g.tradable(intent.Instrument) {
		return schema.RejectReasonInstrumentHalted
	}
	lim := g.limits.Load().ForInstrument(intent.Instrument)
	if intent.Qty <= 0 {
		return schema.RejectReasonInvalidQty
	}
	if lim.MaxOrderQty > 0 && intent.Qty > lim.MaxOrderQty {
		return schema.RejectReasonMaxOrderQty
	}
	if inst.LotSize > 0 && intent.Qty%inst.LotSize != 0 {
		return schema.RejectReasonLotSize
	}
	if intent.Price != 0 && inst.TickSize > 0 && intent.Price%inst.TickSize != 0 {
		return schema.RejectReasonTickSize
	}
	return schema.RejectReasonNone
}

// Check runs the full ordered check sequence for a place intent. It does
// not mutate state; call Accept on a None result.
func (g *Gate) Check(intent schema.OrderIntent) schema.RejectReason {
	begin := g.clk.Now()
	reason := g.check(intent, begin)
	g.tracer.Record(obs.PointRiskCheck, g.clk.Now()-begin)
	if reason != schema.RejectReasonNone {
		g.counters.IncRiskReject(reason)
	}
	return reason
}

func (g *Gate) check(intent schema.OrderIntent, now int64) schema.RejectReason {
	if r := g.CheckStatic(intent); r != schema.RejectReasonNone {
		return r
	}
	lim := g.limits.Load()
	il := lim.ForInstrument(intent.Instrument)
	key := PositionKey{StrategyID: intent.StrategyID, Instrument: intent.Instrument}

	projected := g.projected(key, intent.Side, intent.Qty)
	if il.MaxAbsPosition > 0 {
		if projected > il.MaxAbsPosition || -projected > il.MaxAbsPosition {
			return schema.RejectReasonPositionCapExceeded
		}
	}

	if il.MaxNotional > 0 {
		if px := g.lastPx[intent.Instrument]; px > 0 {
			abs := projected
			if abs < 0 {
				abs = -abs
			}
			notional, overflow := schema.MulNotional(px, abs)
			if overflow || notional > il.MaxNotional {
				return schema.RejectReasonNotionalCapExceeded
			}
		}
	}

	if lim.MaxOrdersPerSecond > 0 {
		if w := g.rates[intent.StrategyID]; w != nil && w.count(now) >= lim.MaxOrdersPerSecond {
			return schema.RejectReasonRateLimit
		}
	}

	if st := g.sizes[intent.StrategyID]; st != nil && st.accepted > 0 {
		avg := st.totalQty / st.accepted
		if avg > 0 && int64(intent.Qty) > lim.SizeAnomalyMult*avg {
			return schema.RejectReasonSizeAnomaly
		}
	}

	if lim.MaxDailyLoss > 0 && g.realizedDay <= -lim.MaxDailyLoss {
		return schema.RejectReasonDailyLossExceeded
	}
	return schema.RejectReasonNone
}

// projected is the position after an assumed full fill, reserving gross
// against working quantity on the same side.
func (g *Gate) projected(key PositionKey, side schema.OrderSide, qty schema.Quantity) schema.Quantity {
	net := g.positions.Get(key).Net
	w := g.working[key]
	if side == schema.OrderSideBuy {
		return net + w.buys + qty
	}
	return net - w.sells - qty
}

// Accept commits an approved place intent: rate stamp, size stats and the
// projected position reservation keyed by client tag.
func (g *Gate) Accept(intent schema.OrderIntent) {
	now := g.clk.Now()
	w := g.rates[intent.StrategyID]
	if w == nil {
		w = newRateWindow(g.limits.Load().MaxOrdersPerSecond * 2)
		g.rates[intent.StrategyID] = w
	}
	w.add(now)

	st := g.sizes[intent.StrategyID]
	if st == nil {
		st = &sizeStats{}
		g.sizes[intent.StrategyID] = st
	}
	st.accepted++
	st.totalQty += int64(intent.Qty)

	key := PositionKey{StrategyID: intent.StrategyID, Instrument: intent.Instrument}
	g.reservations[intent.ClientTag] = &reservation{key: key, side: intent.Side, remaining: intent.Qty}
	g.reserve(key, intent.Side, intent.Qty)
}

// CheckModify validates an amendment against the original reservation.
func (g *Gate) CheckModify(intent schema.OrderIntent) schema.RejectReason {
	if g.ks.Engaged() {
		return schema.RejectReasonKillSwitch
	}
	res, ok := g.reservations[intent.ClientTag]
	if !ok {
		return schema.RejectReasonUnknownTag
	}
	inst, ok := g.reg.Instrument(res.key.Instrument)
	if !ok {
		return schema.RejectReasonUnknownInstrument
	}
	if !g.tradable(res.key.Instrument) {
		return schema.RejectReasonInstrumentHalted
	}
	if intent.NewPrice != 0 && inst.TickSize > 0 && intent.NewPrice%inst.TickSize != 0 {
		return schema.RejectReasonTickSize
	}
	if intent.NewQty != 0 {
		if inst.LotSize > 0 && intent.NewQty%inst.LotSize != 0 {
			return schema.RejectReasonLotSize
		}
		if grow := intent.NewQty - res.remaining; grow > 0 {
			il := g.limits.Load().ForInstrument(res.key.Instrument)
			projected := g.projected(res.key, res.side, grow)
			if il.MaxAbsPosition > 0 && (projected > il.MaxAbsPosition || -projected > il.MaxAbsPosition) {
				return schema.RejectReasonPositionCapExceeded
			}
		}
	}
	return schema.RejectReasonNone
}

// AcceptModify re-reserves for the amended quantity.
func (g *Gate) AcceptModify(intent schema.OrderIntent) {
	res, ok := g.reservations[intent.ClientTag]
	if !ok || intent.NewQty == 0 {
		return
	}
	g.release(res.key, res.side, res.remaining)
	res.remaining = intent.NewQty
	g.reserve(res.key, res.side, res.remaining)
}

// OnExec commits fills and releases reservations from the execution
// stream. Events for unreserved tags (algo parents, admin synthetics) are
// ignored.
func (g *Gate) OnExec(ev schema.ExecutionEvent) {
	res, ok := g.reservations[ev.ClientTag]
	if !ok {
		return
	}

	if ev.FillQty > 0 {
		if ev.FillQty > res.remaining {
			g.ks.Trip(fmt.Sprintf("fill %d exceeds reservation %d on tag %d", ev.FillQty, res.remaining, ev.ClientTag))
			delete(g.reservations, ev.ClientTag)
			g.release(res.key, res.side, res.remaining)
			return
		}
		res.remaining -= ev.FillQty
		g.release(res.key, res.side, ev.FillQty)
		realized := g.positions.ApplyFill(res.key, res.side, ev.FillPrice, ev.FillQty)
		g.realizedDay += realized
	}

	if ev.Status.Terminal() {
		g.release(res.key, res.side, res.remaining)
		delete(g.reservations, ev.ClientTag)
	}
}

// WorkingTags returns the client tags of all live reservations, for admin
// cancel-all.
func (g *Gate) WorkingTags() []uint64 {
	tags := make([]uint64, 0, len(g.reservations))
	for tag := range g.reservations {
		tags = append(tags, tag)
	}
	return tags
}

// RealizedDay returns the account's realized pnl for the session day.
func (g *Gate) RealizedDay() schema.Notional { return g.realizedDay }

func (g *Gate) reserve(key PositionKey, side schema.OrderSide, qty schema.Quantity) {
	w := g.working[key]
	if side == schema.OrderSideBuy {
		w.buys += qty
	} else {
		w.sells += qty
	}
	g.working[key] = w
}

func (g *Gate) release(key PositionKey, side schema.OrderSide, qty schema.Quantity) {
	w := g.working[key]
	if side == schema.OrderSideBuy {
		w.buys -= qty
		if w.buys < 0 {
			g.ks.Trip(fmt.Sprintf("working buy qty underflow on %+v", key))
			w.buys = 0
		}
	} else {
		w.sells -= qty
		if w.sells < 0 {
			g.ks.Trip(fmt.Sprintf("working sell qty underflow on %+v", key))
			w.sells = 0
		}
	}
	g.working[key] = w
}
