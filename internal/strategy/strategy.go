package strategy

import (
	"main/internal/book"
	"main/internal/schema"
)

// Strategy is the capability set hosted by a runtime shard. All callbacks
// run on the shard goroutine and must not block; heavy work is handed off
// through intents or timers.
type Strategy interface {
	// OnBookDelta is invoked after every ladder mutation of a subscribed
	// instrument, including snapshots and status changes.
	OnBookDelta(ctx *Context, u book.Update)
	// OnTrade is invoked for prints on subscribed instruments.
	OnTrade(ctx *Context, u book.Update)
	// OnExecReport is invoked for lifecycle events of this strategy's orders,
	// including risk rejects.
	OnExecReport(ctx *Context, ev schema.ExecutionEvent)
	// OnTimer fires at the earliest poll after the scheduled deadline.
	OnTimer(ctx *Context, id uint64, now int64)
}

// PositionFunc reads the net position for a (strategy, instrument) pair from
// the risk owner's latest published snapshot.
type PositionFunc func(strategyID uint32, id schema.InstrumentID) schema.Quantity

// Context is a strategy's handle into its runtime shard. It is bound to one
// strategy at registration and is only valid on the shard goroutine.
type Context struct {
	shard      *Shard
	entry      *entry
	strategyID uint32
}

// StrategyID returns the registered id.
func (c *Context) StrategyID() uint32 { return c.strategyID }

// Now returns the disciplined monotonic clock reading.
func (c *Context) Now() int64 { return c.shard.clk.Now() }

// Position reads this strategy's net position for an instrument. Zero when
// no position reader is wired.
func (c *Context) Position(id schema.InstrumentID) schema.Quantity {
	if c.shard.positions == nil {
		return 0
	}
	return c.shard.positions(c.strategyID, id)
}

// Place enqueues a new-order intent and returns its client tag. The intent
// is risk-checked downstream; acceptance is reported via OnExecReport.
func (c *Context) Place(intent schema.OrderIntent) uint64 {
	intent.Kind = schema.IntentPlace
	intent.StrategyID = c.strategyID
	intent.ClientTag = c.shard.nextClientTag()
	intent.Ts = c.shard.clk.Now()
	c.shard.emit(intent)
	return intent.ClientTag
}

// Cancel enqueues a best-effort cancel for an earlier client tag.
func (c *Context) Cancel(tag uint64) {
	c.shard.emit(schema.OrderIntent{
		Kind:       schema.IntentCancel,
		ClientTag:  tag,
		StrategyID: c.strategyID,
		Ts:         c.shard.clk.Now(),
	})
}

// Modify enqueues a qty/price amendment for an earlier client tag. Zero
// values leave the corresponding field unchanged.
func (c *Context) Modify(tag uint64, newQty schema.Quantity, newPrice schema.Price) {
	c.shard.emit(schema.OrderIntent{
		Kind:       schema.IntentModify,
		ClientTag:  tag,
		StrategyID: c.strategyID,
		NewQty:     newQty,
		NewPrice:   newPrice,
		Ts:         c.shard.clk.Now(),
	})
}

// TimerAt schedules OnTimer at the given monotonic deadline and returns the
// timer id.
func (c *Context) TimerAt(deadline int64) uint64 {
	return c.shard.schedule(c.entry, deadline)
}

// TimerAfter schedules OnTimer after d nanoseconds from now.
func (c *Context) TimerAfter(d int64) uint64 {
	return c.shard.schedule(c.entry, c.shard.clk.Now()+d)
}

// CancelTimer drops a pending timer. Firing and cancellation may race only
// in the sense that an already-fired timer cannot be cancelled.
func (c *Context) CancelTimer(id uint64) {
	c.shard.cancelTimer(id)
}
