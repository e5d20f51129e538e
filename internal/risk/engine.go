package risk

import (
	"context"
	"runtime"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/clock"
	"main/internal/obs"
	"main/internal/schema"
)

// Dispatcher is the router surface the engine drives. Intents arriving
// here have passed the gate.
type Dispatcher interface {
	Dispatch(intent schema.OrderIntent)
	// Inject publishes a synthetic execution event onto the execution
	// stream (risk rejects, algo parent progress).
	Inject(ev schema.ExecutionEvent)
}

// EngineConfig controls the risk goroutine.
type EngineConfig struct {
	ControlCapacity int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.ControlCapacity <= 0 {
		c.ControlCapacity = 256
	}
	return c
}

// Engine is the single risk goroutine: it drains strategy intent rings in
// order, gates them, and forwards accepted orders to the router. It also
// consumes the execution stream to commit positions and release
// reservations, and the book streams for instrument status and last
// prices.
type Engine struct {
	cfg      EngineConfig
	gate     *Gate
	clk      *clock.Source
	counters *obs.Counters

	intents    []*bus.Ring[schema.OrderIntent]
	bookIn     []*bus.Reader[book.Update]
	execIn     *bus.Reader[schema.ExecutionEvent]
	dispatcher Dispatcher

	algoInbox *bus.Ring[schema.OrderIntent]
	algoTags  map[uint64]struct{}
	control   *bus.Ring[func()]
}

// NewEngine builds the risk goroutine around a gate and a router.
func NewEngine(cfg EngineConfig, gate *Gate, dispatcher Dispatcher, clk *clock.Source, counters *obs.Counters) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:        cfg,
		gate:       gate,
		clk:        clk,
		counters:   counters,
		dispatcher: dispatcher,
		algoTags:   make(map[uint64]struct{}),
		control:    bus.NewRing[func()](cfg.ControlCapacity),
	}
}

// AddIntentInput attaches a strategy shard's intent ring. Startup only.
func (e *Engine) AddIntentInput(r *bus.Ring[schema.OrderIntent]) {
	e.intents = append(e.intents, r)
}

// AddBookInput attaches a book shard update reader for status and last
// price tracking. Startup only.
func (e *Engine) AddBookInput(r *bus.Reader[book.Update]) {
	e.bookIn = append(e.bookIn, r)
}

// SetExecInput attaches the execution stream reader. Startup only.
func (e *Engine) SetExecInput(r *bus.Reader[schema.ExecutionEvent]) {
	e.execIn = r
}

// SetAlgoInbox wires the parent hand-off ring to the algo executor.
// Startup only.
func (e *Engine) SetAlgoInbox(r *bus.Ring[schema.OrderIntent]) {
	e.algoInbox = r
}

// Gate exposes the gate for admin snapshots. Mutations must go through Do.
func (e *Engine) Gate() *Gate { return e.gate }

// Do runs fn on the risk goroutine. Admin path; returns false when the
// control ring is full.
func (e *Engine) Do(fn func()) bool {
	return e.control.TryPush(fn)
}

// Run drains inputs until the context is done.
func (e *Engine) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !e.Step() {
			runtime.Gosched()
		}
	}
}

// Step performs one drain round and reports whether any work was done.
func (e *Engine) Step() bool {
	worked := false

	for {
		fn, ok := e.control.TryPop()
		if !ok {
			break
		}
		worked = true
		fn()
	}

	for _, in := range e.bookIn {
		for {
			u, err := in.Poll()
			if err == bus.ErrEmpty {
				break
			}
			if err == bus.ErrLagged {
				e.counters.IncReaderLag()
				worked = true
				continue
			}
			worked = true
			e.onBook(u)
		}
	}

	if e.execIn != nil {
		for {
			ev, err := e.execIn.Poll()
			if err == bus.ErrEmpty {
				break
			}
			if err == bus.ErrLagged {
				e.counters.IncReaderLag()
				worked = true
				continue
			}
			worked = true
			e.onExec(ev)
		}
	}

	for _, in := range e.intents {
		for {
			intent, ok := in.TryPop()
			if !ok {
				break
			}
			worked = true
			e.Process(intent)
		}
	}
	return worked
}

func (e *Engine) onBook(u book.Update) {
	e.gate.MarkStatus(u.Delta.Instrument, u.Status)
	if u.Delta.Kind == book.DeltaTrade {
		e.gate.MarkPrice(u.Delta.Instrument, u.Delta.Price)
	} else if _, ok := e.gate.lastPx[u.Delta.Instrument]; !ok && u.BestBid.Qty > 0 && u.BestAsk.Qty > 0 {
		// No print yet: seed with the mid so notional checks can run.
		e.gate.MarkPrice(u.Delta.Instrument, schema.Price((int64(u.BestBid.Price)+int64(u.BestAsk.Price))/2))
	}
}

func (e *Engine) onExec(ev schema.ExecutionEvent) {
	e.gate.OnExec(ev)
	if ev.Status.Terminal() {
		delete(e.algoTags, ev.ClientTag)
	}
}

// Process gates one intent. Exported for tests; production traffic arrives
// through Run.
func (e *Engine) Process(intent schema.OrderIntent) {
	switch intent.Kind {
	case schema.IntentPlace:
		e.processPlace(intent)
	case schema.IntentCancel:
		if _, ok := e.algoTags[intent.ClientTag]; ok {
			e.toAlgo(intent)
			return
		}
		e.dispatcher.Dispatch(intent)
	case schema.IntentModify:
		if reason := e.gate.CheckModify(intent); reason != schema.RejectReasonNone {
			e.reject(intent, reason)
			return
		}
		e.gate.AcceptModify(intent)
		e.dispatcher.Dispatch(intent)
	}
}

func (e *Engine) processPlace(intent schema.OrderIntent) {
	if intent.Algo.Kind != schema.AlgoNone {
		// Parents are statically validated; each child passes the full
		// gate when the executor emits it.
		if reason := e.gate.CheckStatic(intent); reason != schema.RejectReasonNone {
			e.counters.IncRiskReject(reason)
			e.reject(intent, reason)
			return
		}
		e.algoTags[intent.ClientTag] = struct{}{}
		e.toAlgo(intent)
		return
	}

	if reason := e.gate.Check(intent); reason != schema.RejectReasonNone {
		e.reject(intent, reason)
		return
	}
	e.gate.Accept(intent)
	e.dispatcher.Dispatch(intent)
}

func (e *Engine) toAlgo(intent schema.OrderIntent) {
	if e.algoInbox == nil || !e.algoInbox.TryPush(intent) {
		delete(e.algoTags, intent.ClientTag)
		e.reject(intent, schema.RejectReasonInternal)
	}
}

func (e *Engine) reject(intent schema.OrderIntent, reason schema.RejectReason) {
	e.dispatcher.Inject(schema.ExecutionEvent{
		ClientTag:  intent.ClientTag,
		StrategyID: intent.StrategyID,
		Instrument: intent.Instrument,
		Status:     schema.OrderStatusRejected,
		Reason:     schema.ExecReasonRiskReject,
		RiskReason: reason,
		LeavesQty:  intent.Qty,
		Ts:         e.clk.Now(),
	})
}
