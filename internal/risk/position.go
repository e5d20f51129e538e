package risk

import (
	"sync/atomic"

	"main/internal/schema"
)

// PositionKey identifies a position book entry.
type PositionKey struct {
	StrategyID uint32
	Instrument schema.InstrumentID
}

// Position is one (strategy, instrument) exposure. All money fields are
// scaled integers; Realized accumulates for the session day.
type Position struct {
	Net      schema.Quantity
	AvgEntry schema.Price
	Realized schema.Notional
}

// PositionTable is owned by the risk goroutine. Readers on other
// goroutines see immutable snapshots published after every commit.
type PositionTable struct {
	live map[PositionKey]Position
	snap atomic.Pointer[map[PositionKey]Position]
}

// NewPositionTable creates an empty table with an empty published snapshot.
func NewPositionTable() *PositionTable {
	t := &PositionTable{live: make(map[PositionKey]Position)}
	empty := make(map[PositionKey]Position)
	t.snap.Store(&empty)
	return t
}

// Get reads the writer's live view. Risk goroutine only.
func (t *PositionTable) Get(k PositionKey) Position {
	return t.live[k]
}

// ApplyFill commits a fill and returns the realized pnl delta of the
// trade. Risk goroutine only; the snapshot is republished before return.
func (t *PositionTable) ApplyFill(k PositionKey, side schema.OrderSide, px schema.Price, qty schema.Quantity) schema.Notional {
	p := t.live[k]
	signed := schema.Quantity(side.Sign() * int64(qty))
	var realized schema.Notional

	switch {
	case p.Net == 0 || (p.Net > 0) == (signed > 0):
		// Same direction: extend and re-average the entry.
		oldAbs := int64(p.Net)
		if oldAbs < 0 {
			oldAbs = -oldAbs
		}
		newAbs := oldAbs + int64(qty)
		if newAbs > 0 {
			p.AvgEntry = schema.Price((int64(p.AvgEntry)*oldAbs + int64(px)*int64(qty)) / newAbs)
		}
		p.Net += signed
	default:
		// Opposite direction: close out up to |net|, realize the edge.
		abs := int64(p.Net)
		closing := int64(qty)
		if abs < 0 {
			abs = -abs
		}
		if closing > abs {
			closing = abs
		}
		edge := int64(px) - int64(p.AvgEntry)
		if p.Net < 0 {
			edge = -edge
		}
		realized = schema.Notional(edge * closing)
		p.Realized += realized
		p.Net += signed
		if p.Net == 0 {
			p.AvgEntry = 0
		} else if (p.Net > 0) == (signed > 0) {
			// Flipped through flat: the remainder opens at the fill price.
			p.AvgEntry = px
		}
	}

	t.live[k] = p
	t.publish()
	return realized
}

// Snapshot returns the latest published immutable view. Any goroutine.
func (t *PositionTable) Snapshot() map[PositionKey]Position {
	return *t.snap.Load()
}

// Net reads a net position from the snapshot. Any goroutine.
func (t *PositionTable) Net(strategyID uint32, id schema.InstrumentID) schema.Quantity {
	snap := *t.snap.Load()
	return snap[PositionKey{StrategyID: strategyID, Instrument: id}].Net
}

func (t *PositionTable) publish() {
	cp := make(map[PositionKey]Position, len(t.live))
	for k, v := range t.live {
		cp[k] = v
	}
	t.snap.Store(&cp)
}
