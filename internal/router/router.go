package router

import (
	"context"
	"runtime"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/clock"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/schema"
)

// Gateway is the venue-side transport the router submits through. One
// gateway per venue; calls happen only on the router goroutine.
type Gateway interface {
	Submit(o schema.Order) error
	Cancel(orderID, venueOrderID uint64, instrument schema.InstrumentID) error
	Modify(orderID, venueOrderID uint64, instrument schema.InstrumentID, newPrice schema.Price, newQty schema.Quantity) error
}

// Config controls the router goroutine.
type Config struct {
	// AckTimeoutMs bounds the wait for a venue ack before the router
	// issues a best-effort cancel.
	AckTimeoutMs int64
	// HistoryCapacity bounds the terminal-order history ring.
	HistoryCapacity int

	IntentCapacity  int
	InjectCapacity  int
	ReportCapacity  int
	ControlCapacity int
	OutputCapacity  int
}

func (c Config) withDefaults() Config {
	if c.AckTimeoutMs <= 0 {
		c.AckTimeoutMs = 250
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = 4096
	}
	if c.IntentCapacity <= 0 {
		c.IntentCapacity = 1 << 12
	}
	if c.InjectCapacity <= 0 {
		c.InjectCapacity = 1 << 10
	}
	if c.ReportCapacity <= 0 {
		c.ReportCapacity = 1 << 12
	}
	if c.ControlCapacity <= 0 {
		c.ControlCapacity = 256
	}
	if c.OutputCapacity <= 0 {
		c.OutputCapacity = 1 << 14
	}
	return c
}

// tracked is a working order plus the router-side state the lifecycle
// needs: the ack deadline, the reason behind a pending cancel, and the
// exec ids already applied.
type tracked struct {
	order        schema.Order
	ackDeadline  int64
	cancelReason schema.ExecReason
	seenExecs    map[uint64]struct{}
}

// ackScanIntervalNs spaces the pending-ack deadline sweeps.
const ackScanIntervalNs = int64(1_000_000)

// Router owns the order state machine. It assigns engine order ids
// (monotonic, gap-free per session), serializes orders to the venue
// gateways, applies venue execution reports, and publishes an
// ExecutionEvent for every state change. All order state is mutated only
// on the router goroutine; Dispatch, Inject, and the per-gateway report
// rings are the cross-goroutine entry points and only touch rings.
type Router struct {
	cfg      Config
	reg      *schema.Registry
	clk      *clock.Source
	tracer   *obs.Tracer
	counters *obs.Counters

	gateways map[schema.VenueID]Gateway

	intentIn *bus.Ring[schema.OrderIntent]
	injectIn *bus.Ring[schema.ExecutionEvent]
	reports  []*bus.Ring[codec.ExecReport]
	control  *bus.Ring[func()]
	out      *bus.Multicast[schema.ExecutionEvent]

	nextID    uint64
	orders    map[uint64]*tracked
	byTag     map[uint64]uint64
	byVenueID map[uint64]uint64

	history     []schema.Order
	historyNext int
	historyFull bool

	lastAckScan int64
}

// New builds a router. Gateways are registered per venue before Run.
func New(cfg Config, reg *schema.Registry, clk *clock.Source, tracer *obs.Tracer, counters *obs.Counters) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		cfg:       cfg,
		reg:       reg,
		clk:       clk,
		tracer:    tracer,
		counters:  counters,
		gateways:  make(map[schema.VenueID]Gateway),
		intentIn:  bus.NewRing[schema.OrderIntent](cfg.IntentCapacity),
		injectIn:  bus.NewRing[schema.ExecutionEvent](cfg.InjectCapacity),
		control:   bus.NewRing[func()](cfg.ControlCapacity),
		out:       bus.NewMulticast[schema.ExecutionEvent](cfg.OutputCapacity),
		nextID:    1,
		orders:    make(map[uint64]*tracked),
		byTag:     make(map[uint64]uint64),
		byVenueID: make(map[uint64]uint64),
		history:   make([]schema.Order, cfg.HistoryCapacity),
	}
}

// RegisterGateway binds a venue to its transport. Not safe after Run.
func (r *Router) RegisterGateway(venue schema.VenueID, gw Gateway) {
	r.gateways[venue] = gw
}

// Output is the execution event stream. Subscribers attach readers.
func (r *Router) Output() *bus.Multicast[schema.ExecutionEvent] {
	return r.out
}

// NewReportRing allocates an inbound ring for one venue gateway's
// decoded execution reports. Each gateway read loop must produce onto
// its own ring; the rings are single-producer. Not safe after Run.
func (r *Router) NewReportRing() *bus.Ring[codec.ExecReport] {
	ring := bus.NewRing[codec.ExecReport](r.cfg.ReportCapacity)
	r.reports = append(r.reports, ring)
	return ring
}

// Dispatch accepts a gated intent from the risk goroutine.
func (r *Router) Dispatch(intent schema.OrderIntent) {
	for !r.intentIn.TryPush(intent) {
		runtime.Gosched()
	}
}

// Inject publishes a synthetic execution event (risk rejects, algo
// parent progress) through the router so the stream stays ordered.
func (r *Router) Inject(ev schema.ExecutionEvent) {
	for !r.injectIn.TryPush(ev) {
		runtime.Gosched()
	}
}

// Do schedules fn onto the router goroutine. Admin commands use this to
// read or mutate order state without racing the hot path.
func (r *Router) Do(fn func()) {
	for !r.control.TryPush(fn) {
		runtime.Gosched()
	}
}

// Run drives the router until ctx is done.
func (r *Router) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !r.Step() {
			runtime.Gosched()
		}
	}
}

// Step performs one drain round and reports whether any work was done.
func (r *Router) Step() bool {
	busy := false
	for {
		fn, ok := r.control.TryPop()
		if !ok {
			break
		}
		fn()
		busy = true
	}
	for {
		intent, ok := r.intentIn.TryPop()
		if !ok {
			break
		}
		r.process(intent)
		busy = true
	}
	for {
		ev, ok := r.injectIn.TryPop()
		if !ok {
			break
		}
		r.out.Publish(ev)
		busy = true
	}
	for _, ring := range r.reports {
		for {
			rep, ok := ring.TryPop()
			if !ok {
				break
			}
			r.apply(rep)
			busy = true
		}
	}
	if r.scanAckDeadlines() {
		busy = true
	}
	return busy
}

func (r *Router) process(intent schema.OrderIntent) {
	switch intent.Kind {
	case schema.IntentPlace:
		r.place(intent)
	case schema.IntentCancel:
		r.cancel(intent.ClientTag, schema.ExecReasonCancelRequested)
	case schema.IntentModify:
		r.modify(intent)
	}
}

// place assigns the next engine order id and submits. The id is consumed
// even when the gateway fails; the order then terminates as Rejected so
// the session id sequence stays gap-free.
func (r *Router) place(intent schema.OrderIntent) {
	start := r.clk.Now()
	id := r.nextID
	r.nextID++

	t := &tracked{
		order: schema.Order{
			ID:          id,
			ParentID:    intent.ParentID,
			ClientTag:   intent.ClientTag,
			StrategyID:  intent.StrategyID,
			Instrument:  intent.Instrument,
			Side:        intent.Side,
			Type:        intent.Type,
			TimeInForce: intent.TimeInForce,
			Price:       intent.Price,
			StopPrice:   intent.StopPrice,
			Qty:         intent.Qty,
			LeavesQty:   intent.Qty,
			Status:      schema.OrderStatusNew,
			SubmittedTs: start,
			UpdatedTs:   start,
		},
		seenExecs: make(map[uint64]struct{}),
	}
	r.orders[id] = t
	r.byTag[intent.ClientTag] = id

	gw := r.gatewayFor(intent.Instrument)
	if gw == nil {
		r.terminate(t, schema.OrderStatusRejected, schema.ExecReasonNone, schema.RejectReasonInternal, 0)
		return
	}
	t.order.Status = schema.OrderStatusPendingAck
	t.ackDeadline = start + r.cfg.AckTimeoutMs*1_000_000
	if err := gw.Submit(t.order); err != nil {
		logs.Errorf("router: submit order %d failed: %v", id, err)
		r.terminate(t, schema.OrderStatusRejected, schema.ExecReasonNone, schema.RejectReasonInternal, 0)
		return
	}
	r.publish(t, schema.ExecReasonNone, 0, 0, 0)
	r.tracer.Record(obs.PointRouterDispatch, r.clk.Now()-start)
}

// cancel issues a best-effort venue cancel. The terminal state is decided
// by the venue's response; reason records why the cancel was raised.
func (r *Router) cancel(tag uint64, reason schema.ExecReason) {
	id, ok := r.byTag[tag]
	if !ok {
		// already terminal and retired; cancel is a no-op
		return
	}
	t := r.orders[id]
	if t.order.Status.Terminal() || t.order.Status == schema.OrderStatusPendingCancel {
		return
	}
	r.requestCancel(t, reason)
}

func (r *Router) requestCancel(t *tracked, reason schema.ExecReason) {
	gw := r.gatewayFor(t.order.Instrument)
	if gw != nil {
		if err := gw.Cancel(t.order.ID, t.order.VenueOrderID, t.order.Instrument); err != nil {
			logs.Errorf("router: cancel order %d failed: %v", t.order.ID, err)
		}
	}
	t.order.Status = schema.OrderStatusPendingCancel
	t.order.UpdatedTs = r.clk.Now()
	t.cancelReason = reason
	r.publish(t, reason, 0, 0, 0)
}

func (r *Router) modify(intent schema.OrderIntent) {
	id, ok := r.byTag[intent.ClientTag]
	if !ok {
		return
	}
	t := r.orders[id]
	if t.order.Status.Terminal() || t.order.Status == schema.OrderStatusPendingCancel {
		return
	}
	gw := r.gatewayFor(t.order.Instrument)
	if gw == nil {
		return
	}
	// Zero intent values keep the working order's field.
	newPrice := intent.NewPrice
	if newPrice == 0 {
		newPrice = t.order.Price
	}
	newQty := intent.NewQty
	if newQty == 0 {
		newQty = t.order.Qty
	}
	if err := gw.Modify(t.order.ID, t.order.VenueOrderID, t.order.Instrument, newPrice, newQty); err != nil {
		logs.Errorf("router: modify order %d failed: %v", t.order.ID, err)
		return
	}
	t.order.Price = newPrice
	t.order.Qty = newQty
	t.order.LeavesQty = newQty - t.order.FilledQty
	if t.order.LeavesQty < 0 {
		t.order.LeavesQty = 0
	}
	t.order.UpdatedTs = r.clk.Now()
	r.publish(t, schema.ExecReasonNone, 0, 0, 0)
}

// apply maps one venue execution report onto the order state machine.
func (r *Router) apply(rep codec.ExecReport) {
	start := r.clk.Now()
	t, ok := r.orders[rep.OrderID]
	if !ok {
		r.counters.IncUnknownOrder()
		return
	}
	switch rep.MsgType {
	case codec.MsgAck:
		r.onAck(t, rep)
	case codec.MsgReject:
		r.counters.IncVenueReject()
		r.terminate(t, schema.OrderStatusRejected, schema.ExecReasonVenueReject, schema.RejectReasonNone, rep.Code)
	case codec.MsgFill:
		r.onFill(t, rep)
	case codec.MsgCancelled:
		reason := t.cancelReason
		if reason == schema.ExecReasonNone {
			reason = schema.ExecReasonCancelRequested
		}
		r.terminate(t, schema.OrderStatusCancelled, reason, schema.RejectReasonNone, rep.Code)
	case codec.MsgExpired:
		r.terminate(t, schema.OrderStatusExpired, schema.ExecReasonExpired, schema.RejectReasonNone, rep.Code)
	default:
		r.counters.IncUnknownMsgType()
		return
	}
	r.tracer.Record(obs.PointExecApply, r.clk.Now()-start)
}

func (r *Router) onAck(t *tracked, rep codec.ExecReport) {
	if t.order.VenueOrderID == 0 && rep.VenueOrderID != 0 {
		t.order.VenueOrderID = rep.VenueOrderID
		r.byVenueID[rep.VenueOrderID] = t.order.ID
	}
	// a late ack must not resurrect an order the router is cancelling
	if t.order.Status != schema.OrderStatusPendingAck {
		return
	}
	t.order.Status = schema.OrderStatusAcknowledged
	t.order.UpdatedTs = r.clk.Now()
	t.ackDeadline = 0
	r.publish(t, schema.ExecReasonNone, 0, 0, 0)
}

// onFill accumulates filled quantity and the integer VWAP average price.
// Retransmitted exec ids are dropped; fills beyond the order quantity are
// clamped and counted.
func (r *Router) onFill(t *tracked, rep codec.ExecReport) {
	if _, dup := t.seenExecs[rep.ExecID]; dup {
		r.counters.IncDedupedExec()
		return
	}
	t.seenExecs[rep.ExecID] = struct{}{}
	if t.order.VenueOrderID == 0 && rep.VenueOrderID != 0 {
		t.order.VenueOrderID = rep.VenueOrderID
		r.byVenueID[rep.VenueOrderID] = t.order.ID
	}

	qty := rep.Qty
	if qty <= 0 {
		r.counters.IncInvalidFill()
		return
	}
	if t.order.FilledQty+qty > t.order.Qty {
		r.counters.IncInvalidFill()
		qty = t.order.Qty - t.order.FilledQty
		if qty <= 0 {
			return
		}
	}

	prevFilled := int64(t.order.FilledQty)
	newFilled := prevFilled + int64(qty)
	notional := int64(t.order.AvgPrice)*prevFilled + int64(rep.Price)*int64(qty)
	t.order.AvgPrice = schema.Price(notional / newFilled)
	t.order.FilledQty = schema.Quantity(newFilled)
	t.order.LeavesQty = t.order.Qty - t.order.FilledQty
	t.order.UpdatedTs = r.clk.Now()
	if t.order.LeavesQty == 0 {
		t.order.Status = schema.OrderStatusFilled
		r.publish(t, schema.ExecReasonNone, rep.Price, qty, rep.ExecID)
		r.retire(t)
		return
	}
	if t.order.Status == schema.OrderStatusAcknowledged || t.order.Status == schema.OrderStatusPendingAck {
		t.order.Status = schema.OrderStatusPartiallyFilled
	}
	r.publish(t, schema.ExecReasonNone, rep.Price, qty, rep.ExecID)
}

func (r *Router) terminate(t *tracked, status schema.OrderStatus, reason schema.ExecReason, riskReason schema.RejectReason, venueCode uint16) {
	t.order.Status = status
	t.order.UpdatedTs = r.clk.Now()
	ev := r.event(t, reason, 0, 0, 0)
	ev.RiskReason = riskReason
	ev.VenueCode = venueCode
	r.out.Publish(ev)
	r.retire(t)
}

// scanAckDeadlines sweeps orders stuck in PendingAck past their deadline
// and raises a best-effort cancel for each.
func (r *Router) scanAckDeadlines() bool {
	now := r.clk.Now()
	if now-r.lastAckScan < ackScanIntervalNs {
		return false
	}
	r.lastAckScan = now
	timedOut := false
	for _, t := range r.orders {
		if t.order.Status != schema.OrderStatusPendingAck {
			continue
		}
		if t.ackDeadline == 0 || now < t.ackDeadline {
			continue
		}
		r.counters.IncAckTimeout()
		logs.Infof("router: order %d ack timeout, cancelling", t.order.ID)
		r.requestCancel(t, schema.ExecReasonAckTimeout)
		timedOut = true
	}
	return timedOut
}

// retire moves a terminal order into the bounded history ring and drops
// the live indexes.
func (r *Router) retire(t *tracked) {
	delete(r.orders, t.order.ID)
	delete(r.byTag, t.order.ClientTag)
	if t.order.VenueOrderID != 0 {
		delete(r.byVenueID, t.order.VenueOrderID)
	}
	r.history[r.historyNext] = t.order
	r.historyNext++
	if r.historyNext == len(r.history) {
		r.historyNext = 0
		r.historyFull = true
	}
}

func (r *Router) event(t *tracked, reason schema.ExecReason, fillPx schema.Price, fillQty schema.Quantity, execID uint64) schema.ExecutionEvent {
	return schema.ExecutionEvent{
		OrderID:      t.order.ID,
		ParentID:     t.order.ParentID,
		ClientTag:    t.order.ClientTag,
		StrategyID:   t.order.StrategyID,
		Instrument:   t.order.Instrument,
		Status:       t.order.Status,
		Reason:       reason,
		FillPrice:    fillPx,
		FillQty:      fillQty,
		FilledQty:    t.order.FilledQty,
		LeavesQty:    t.order.LeavesQty,
		AvgPrice:     t.order.AvgPrice,
		VenueOrderID: t.order.VenueOrderID,
		ExecID:       execID,
		Ts:           t.order.UpdatedTs,
	}
}

func (r *Router) publish(t *tracked, reason schema.ExecReason, fillPx schema.Price, fillQty schema.Quantity, execID uint64) {
	r.out.Publish(r.event(t, reason, fillPx, fillQty, execID))
}

func (r *Router) gatewayFor(id schema.InstrumentID) Gateway {
	inst, ok := r.reg.Instrument(id)
	if !ok {
		return nil
	}
	return r.gateways[inst.VenueID]
}

// OpenOrders copies the live order set. Router goroutine only; admin
// callers go through Do.
func (r *Router) OpenOrders() []schema.Order {
	out := make([]schema.Order, 0, len(r.orders))
	for _, t := range r.orders {
		out = append(out, t.order)
	}
	return out
}

// History copies the terminal-order ring, oldest first. Router goroutine
// only.
func (r *Router) History() []schema.Order {
	if !r.historyFull {
		out := make([]schema.Order, r.historyNext)
		copy(out, r.history[:r.historyNext])
		return out
	}
	out := make([]schema.Order, 0, len(r.history))
	out = append(out, r.history[r.historyNext:]...)
	out = append(out, r.history[:r.historyNext]...)
	return out
}

// CancelAll raises a cancel for every live order. Router goroutine only.
func (r *Router) CancelAll() int {
	n := 0
	for _, t := range r.orders {
		if t.order.Status.Terminal() || t.order.Status == schema.OrderStatusPendingCancel {
			continue
		}
		r.requestCancel(t, schema.ExecReasonCancelRequested)
		n++
	}
	return n
}
