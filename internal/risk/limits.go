package risk

import (
	"sync/atomic"

	"main/internal/schema"
)

// InstrumentLimits bound a single instrument. Zero fields fall back to the
// account-wide values.
type InstrumentLimits struct {
	MaxOrderQty    schema.Quantity
	MaxAbsPosition schema.Quantity
	MaxNotional    schema.Notional
}

// Limits is one immutable generation of the risk configuration. Updates
// copy the whole struct and publish the copy; the gate reads a consistent
// generation per check.
type Limits struct {
	MaxOrderQty        schema.Quantity
	MaxAbsPosition     schema.Quantity
	MaxNotional        schema.Notional
	MaxOrdersPerSecond int
	// SizeAnomalyMult is the k in "reject when qty > k * historical avg".
	SizeAnomalyMult int64
	MaxDailyLoss    schema.Notional
	PerInstrument   map[schema.InstrumentID]InstrumentLimits
}

func (l *Limits) withDefaults() *Limits {
	if l.SizeAnomalyMult <= 0 {
		l.SizeAnomalyMult = 3
	}
	return l
}

// ForInstrument resolves the effective bounds for one instrument.
func (l *Limits) ForInstrument(id schema.InstrumentID) InstrumentLimits {
	out := InstrumentLimits{
		MaxOrderQty:    l.MaxOrderQty,
		MaxAbsPosition: l.MaxAbsPosition,
		MaxNotional:    l.MaxNotional,
	}
	if il, ok := l.PerInstrument[id]; ok {
		if il.MaxOrderQty > 0 {
			out.MaxOrderQty = il.MaxOrderQty
		}
		if il.MaxAbsPosition > 0 {
			out.MaxAbsPosition = il.MaxAbsPosition
		}
		if il.MaxNotional > 0 {
			out.MaxNotional = il.MaxNotional
		}
	}
	return out
}

// LimitsHolder publishes limits generations copy-on-update.
type LimitsHolder struct {
	cur atomic.Pointer[Limits]
}

// NewLimitsHolder seeds the holder with an initial generation.
func NewLimitsHolder(l Limits) *LimitsHolder {
	h := &LimitsHolder{}
	h.Store(l)
	return h
}

// Load returns the current generation. Never nil.
func (h *LimitsHolder) Load() *Limits { return h.cur.Load() }

// Store publishes a new generation.
func (h *LimitsHolder) Store(l Limits) {
	cp := l
	if l.PerInstrument != nil {
		cp.PerInstrument = make(map[schema.InstrumentID]InstrumentLimits, len(l.PerInstrument))
		for k, v := range l.PerInstrument {
			cp.PerInstrument[k] = v
		}
	}
	h.cur.Store(cp.withDefaults())
}
