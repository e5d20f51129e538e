// Package book maintains per-instrument L2 order books. Each book has a
// single writer (its shard) and is read by subscribers through views copied
// out under the apply callback.
package book

import (
	"errors"
	"sort"

	"main/internal/schema"
)

var (
	ErrCrossedBook  = errors.New("book crossed: best bid >= best ask")
	ErrNegativeQty  = errors.New("negative level quantity")
	ErrResyncing    = errors.New("book is resyncing")
	ErrStaleEvent   = errors.New("event sequence not newer than book")
	ErrUnknownEvent = errors.New("event kind not applicable to book")
)

// DeltaKind describes the minimal change produced by an apply.
type DeltaKind uint16

const (
	DeltaNone DeltaKind = iota
	DeltaSet
	DeltaErase
	DeltaSnapshot
	DeltaTrade
	DeltaStatus
)

// Delta is the minimal change description returned by Apply.
type Delta struct {
	Instrument schema.InstrumentID
	Kind       DeltaKind
	Side       schema.BookSide
	Aggressor  schema.OrderSide
	Price      schema.Price
	Qty        schema.Quantity
	Seq        uint64
	Ts         int64
}

// Book is one instrument's aggregated L2 book. Bids are ordered by
// descending price, asks ascending. Levels with zero quantity are never
// stored. Not safe for concurrent mutation.
type Book struct {
	inst   schema.Instrument
	bids   []schema.Level
	asks   []schema.Level
	seq    uint64
	status schema.InstrumentStatus

	noopErases  uint64
	staleEvents uint64
	evictions   uint64
}

// New creates an empty book for an admitted instrument.
func New(inst schema.Instrument) *Book {
	return &Book{
		inst:   inst,
		bids:   make([]schema.Level, 0, inst.MaxDepth),
		asks:   make([]schema.Level, 0, inst.MaxDepth),
		status: schema.InstrumentStatusResyncing,
	}
}

// Instrument returns the book's instrument definition.
func (b *Book) Instrument() schema.Instrument { return b.inst }

// Seq returns the venue sequence of the last applied event.
func (b *Book) Seq() uint64 { return b.seq }

// Status returns the book's trading state.
func (b *Book) Status() schema.InstrumentStatus { return b.status }

// NoopErases returns the count of erase deltas for absent levels.
func (b *Book) NoopErases() uint64 { return b.noopErases }

// Evictions returns the count of far-side levels dropped by depth bounding.
func (b *Book) Evictions() uint64 { return b.evictions }

// Apply mutates the book with one market event and returns the minimal
// change. An invariant violation moves the book to Resyncing and returns
// the error; the caller requests a snapshot.
func (b *Book) Apply(ev *schema.MarketEvent) (Delta, error) {
	switch ev.Kind {
	case schema.MarketEventSnapshot:
		return b.applySnapshot(ev)
	case schema.MarketEventDelta:
		return b.applyDelta(ev)
	case schema.MarketEventTrade:
		// Trades do not mutate the ladder and keep flowing during resync.
		return Delta{Instrument: ev.Instrument, Kind: DeltaTrade, Aggressor: ev.Aggressor, Price: ev.Price, Qty: ev.Qty, Seq: ev.Seq, Ts: ev.IngressTs}, nil
	case schema.MarketEventStatus:
		b.status = ev.Status
		return Delta{Instrument: ev.Instrument, Kind: DeltaStatus, Seq: ev.Seq, Ts: ev.IngressTs}, nil
	default:
		return Delta{}, ErrUnknownEvent
	}
}

func (b *Book) applySnapshot(ev *schema.MarketEvent) (Delta, error) {
	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
	for _, lv := range ev.Bids {
		if lv.Qty <= 0 {
			continue
		}
		if len(b.bids) >= b.inst.MaxDepth {
			break
		}
		b.bids = append(b.bids, lv)
	}
	for _, lv := range ev.Asks {
		if lv.Qty <= 0 {
			continue
		}
		if len(b.asks) >= b.inst.MaxDepth {
			break
		}
		b.asks = append(b.asks, lv)
	}
	sort.Slice(b.bids, func(i, j int) bool { return b.bids[i].Price > b.bids[j].Price })
	sort.Slice(b.asks, func(i, j int) bool { return b.asks[i].Price < b.asks[j].Price })
	b.seq = ev.Seq
	if err := b.checkInvariants(); err != nil {
		b.status = schema.InstrumentStatusResyncing
		return Delta{}, err
	}
	b.status = schema.InstrumentStatusOpen
	return Delta{Instrument: ev.Instrument, Kind: DeltaSnapshot, Seq: ev.Seq, Ts: ev.IngressTs}, nil
}

func (b *Book) applyDelta(ev *schema.MarketEvent) (Delta, error) {
	if b.status == schema.InstrumentStatusResyncing {
		return Delta{}, ErrResyncing
	}
	if ev.Seq != 0 && ev.Seq <= b.seq {
		b.staleEvents++
		return Delta{}, ErrStaleEvent
	}
	if ev.Qty < 0 {
		b.status = schema.InstrumentStatusResyncing
		return Delta{}, ErrNegativeQty
	}

	d := Delta{Instrument: ev.Instrument, Side: ev.Side, Price: ev.Price, Qty: ev.Qty, Seq: ev.Seq, Ts: ev.IngressTs}
	if ev.Qty == 0 {
		if !b.erase(ev.Side, ev.Price) {
			b.noopErases++
			d.Kind = DeltaNone
		} else {
			d.Kind = DeltaErase
		}
		b.seq = ev.Seq
		return d, nil
	}

	b.set(ev.Side, ev.Price, ev.Qty)
	b.seq = ev.Seq
	if err := b.checkInvariants(); err != nil {
		b.status = schema.InstrumentStatusResyncing
		return Delta{}, err
	}
	d.Kind = DeltaSet
	return d, nil
}

func (b *Book) erase(side schema.BookSide, price schema.Price) bool {
	levels, _ := b.side(side)
	i, found := b.find(side, price)
	if !found {
		return false
	}
	copy(levels[i:], levels[i+1:])
	b.storeSide(side, levels[:len(levels)-1])
	return true
}

func (b *Book) set(side schema.BookSide, price schema.Price, qty schema.Quantity) {
	levels, _ := b.side(side)
	i, found := b.find(side, price)
	if found {
		levels[i].Qty = qty
		return
	}
	levels = append(levels, schema.Level{})
	copy(levels[i+1:], levels[i:])
	levels[i] = schema.Level{Price: price, Qty: qty}
	if len(levels) > b.inst.MaxDepth {
		levels = levels[:b.inst.MaxDepth]
		b.evictions++
	}
	b.storeSide(side, levels)
}

func (b *Book) side(side schema.BookSide) ([]schema.Level, bool) {
	if side == schema.BookSideBid {
		return b.bids, true
	}
	return b.asks, true
}

func (b *Book) storeSide(side schema.BookSide, levels []schema.Level) {
	if side == schema.BookSideBid {
		b.bids = levels
	} else {
		b.asks = levels
	}
}

// find returns the insertion index for price on the given side and whether
// an exact level exists there.
func (b *Book) find(side schema.BookSide, price schema.Price) (int, bool) {
	if side == schema.BookSideBid {
		i := sort.Search(len(b.bids), func(i int) bool { return b.bids[i].Price <= price })
		return i, i < len(b.bids) && b.bids[i].Price == price
	}
	i := sort.Search(len(b.asks), func(i int) bool { return b.asks[i].Price >= price })
	return i, i < len(b.asks) && b.asks[i].Price == price
}

func (b *Book) checkInvariants() error {
	if len(b.bids) > 0 && len(b.asks) > 0 && b.bids[0].Price >= b.asks[0].Price {
		return ErrCrossedBook
	}
	return nil
}

// TopOfBook returns the best bid and ask. A zero-quantity level means the
// side is empty.
func (b *Book) TopOfBook() (bestBid, bestAsk schema.Level) {
	if len(b.bids) > 0 {
		bestBid = b.bids[0]
	}
	if len(b.asks) > 0 {
		bestAsk = b.asks[0]
	}
	return bestBid, bestAsk
}

// Depth copies up to n levels per side into snap and returns it.
func (b *Book) Depth(n int, snap Snapshot) Snapshot {
	snap.Instrument = b.inst.ID
	snap.Seq = b.seq
	snap.Status = b.status
	snap.Bids = append(snap.Bids[:0], b.bids[:minInt(n, len(b.bids))]...)
	snap.Asks = append(snap.Asks[:0], b.asks[:minInt(n, len(b.asks))]...)
	return snap
}

// Imbalance returns the top-n quantity imbalance in basis points:
// (bidQty-askQty)*10000/(bidQty+askQty). Zero when both sides are empty.
func (b *Book) Imbalance(n int) int64 {
	var bidQty, askQty int64
	for i := 0; i < minInt(n, len(b.bids)); i++ {
		bidQty += int64(b.bids[i].Qty)
	}
	for i := 0; i < minInt(n, len(b.asks)); i++ {
		askQty += int64(b.asks[i].Qty)
	}
	total := bidQty + askQty
	if total == 0 {
		return 0
	}
	return (bidQty - askQty) * 10000 / total
}

// Snapshot is a copied depth view handed to readers.
type Snapshot struct {
	Instrument schema.InstrumentID
	Seq        uint64
	Status     schema.InstrumentStatus
	Bids       []schema.Level
	Asks       []schema.Level
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
