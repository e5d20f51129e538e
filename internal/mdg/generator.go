package mdg

import (
	"math/rand"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

var ErrNoInstruments = errors.New("registry has no instruments")

// Config tunes the synthetic market model.
type Config struct {
	Seed       int64
	Levels     int   // depth levels per side
	BaseMid    int64 // starting mid price in ticks
	LevelQty   int64 // resting quantity per level in lots
	TradeEvery int   // one trade per N deltas, 0 disables trades
}

func (c Config) withDefaults() Config {
	if c.Levels <= 0 {
		c.Levels = 5
	}
	if c.BaseMid <= 0 {
		c.BaseMid = 10_000
	}
	if c.LevelQty <= 0 {
		c.LevelQty = 10
	}
	if c.TradeEvery < 0 {
		c.TradeEvery = 0
	}
	return c
}

type instState struct {
	inst  schema.Instrument
	seq   uint64
	mid   schema.Price
	steps int
}

// Generator produces a deterministic random-walk market across every
// instrument in the registry. Each instrument carries its own venue
// sequence so gap and resync paths can be exercised by dropping frames.
type Generator struct {
	cfg    Config
	rng    *rand.Rand
	states []*instState
	index  int
}

func NewGenerator(cfg Config, instruments []schema.Instrument) (*Generator, error) {
	cfg = cfg.withDefaults()
	if len(instruments) == 0 {
		return nil, ErrNoInstruments
	}
	states := make([]*instState, 0, len(instruments))
	for _, inst := range instruments {
		states = append(states, &instState{
			inst: inst,
			mid:  schema.Price(cfg.BaseMid) * inst.TickSize,
		})
	}
	return &Generator{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		states: states,
	}, nil
}

// Snapshot builds a full-depth snapshot for one instrument at its
// current sequence. Used to answer resync requests.
func (g *Generator) Snapshot(id schema.InstrumentID, now int64) (schema.MarketEvent, bool) {
	for _, st := range g.states {
		if st.inst.ID == id {
			return g.snapshot(st, now), true
		}
	}
	return schema.MarketEvent{}, false
}

// Next advances the walk one step and returns the resulting event,
// round-robin across instruments. The first visit to an instrument
// yields its initial snapshot.
func (g *Generator) Next(now int64) schema.MarketEvent {
	st := g.states[g.index]
	g.index = (g.index + 1) % len(g.states)

	if st.seq == 0 {
		return g.snapshot(st, now)
	}

	// drift the mid by up to one tick either way
	st.mid += schema.Price(g.rng.Intn(3)-1) * st.inst.TickSize
	if st.mid < st.inst.TickSize {
		st.mid = st.inst.TickSize
	}
	st.steps++
	st.seq++

	if g.cfg.TradeEvery > 0 && st.steps%g.cfg.TradeEvery == 0 {
		side := schema.OrderSideBuy
		px := g.ask(st, 0)
		if g.rng.Intn(2) == 0 {
			side = schema.OrderSideSell
			px = g.bid(st, 0)
		}
		return schema.MarketEvent{
			Instrument: st.inst.ID,
			Kind:       schema.MarketEventTrade,
			Aggressor:  side,
			Seq:        st.seq,
			Price:      px,
			Qty:        g.qty(st),
			VenueTs:    now,
		}
	}

	side := schema.BookSideBid
	px := g.bid(st, g.rng.Intn(g.cfg.Levels))
	if g.rng.Intn(2) == 0 {
		side = schema.BookSideAsk
		px = g.ask(st, g.rng.Intn(g.cfg.Levels))
	}
	return schema.MarketEvent{
		Instrument: st.inst.ID,
		Kind:       schema.MarketEventDelta,
		Side:       side,
		Seq:        st.seq,
		Price:      px,
		Qty:        g.qty(st),
		VenueTs:    now,
	}
}

func (g *Generator) snapshot(st *instState, now int64) schema.MarketEvent {
	st.seq++
	ev := schema.MarketEvent{
		Instrument: st.inst.ID,
		Kind:       schema.MarketEventSnapshot,
		Status:     schema.InstrumentStatusOpen,
		Seq:        st.seq,
		VenueTs:    now,
		Bids:       make([]schema.Level, g.cfg.Levels),
		Asks:       make([]schema.Level, g.cfg.Levels),
	}
	for i := 0; i < g.cfg.Levels; i++ {
		ev.Bids[i] = schema.Level{Price: g.bid(st, i), Qty: g.qty(st)}
		ev.Asks[i] = schema.Level{Price: g.ask(st, i), Qty: g.qty(st)}
	}
	return ev
}

func (g *Generator) bid(st *instState, level int) schema.Price {
	return st.mid - schema.Price(level+1)*st.inst.TickSize
}

func (g *Generator) ask(st *instState, level int) schema.Price {
	return st.mid + schema.Price(level+1)*st.inst.TickSize
}

func (g *Generator) qty(st *instState) schema.Quantity {
	return schema.Quantity(g.cfg.LevelQty+int64(g.rng.Intn(5))) * st.inst.LotSize
}
