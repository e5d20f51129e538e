package book

import (
	"errors"
	"testing"

	"main/internal/schema"
)

func testInstrument() schema.Instrument {
	return schema.Instrument{
		ID:       1,
		VenueID:  1,
		Symbol:   "BTC-USD",
		TickSize: 1,
		LotSize:  1,
		Decimals: 2,
		MaxDepth: 8,
	}
}

func snapshot(seq uint64, bids, asks []schema.Level) *schema.MarketEvent {
	return &schema.MarketEvent{
		Instrument: 1,
		Kind:       schema.MarketEventSnapshot,
		Seq:        seq,
		Bids:       bids,
		Asks:       asks,
	}
}

func delta(seq uint64, side schema.BookSide, price schema.Price, qty schema.Quantity) *schema.MarketEvent {
	return &schema.MarketEvent{
		Instrument: 1,
		Kind:       schema.MarketEventDelta,
		Seq:        seq,
		Side:       side,
		Price:      price,
		Qty:        qty,
	}
}

func TestEraseLevel(t *testing.T) {
	b := New(testInstrument())
	if _, err := b.Apply(snapshot(1, []schema.Level{{Price: 100, Qty: 10}, {Price: 99, Qty: 5}}, nil)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	d, err := b.Apply(delta(2, schema.BookSideBid, 99, 0))
	if err != nil {
		t.Fatalf("erase: %v", err)
	}
	if d.Kind != DeltaErase {
		t.Fatalf("kind=%v", d.Kind)
	}
	if len(b.bids) != 1 || b.bids[0] != (schema.Level{Price: 100, Qty: 10}) {
		t.Fatalf("bids after erase: %+v", b.bids)
	}
	for _, lv := range b.bids {
		if lv.Qty <= 0 {
			t.Fatalf("stored level with qty<=0: %+v", lv)
		}
	}
}

func TestEraseAbsentLevelIsNoop(t *testing.T) {
	b := New(testInstrument())
	b.Apply(snapshot(1, []schema.Level{{Price: 100, Qty: 10}}, nil))

	d, err := b.Apply(delta(2, schema.BookSideBid, 42, 0))
	if err != nil {
		t.Fatalf("noop erase: %v", err)
	}
	if d.Kind != DeltaNone || b.NoopErases() != 1 {
		t.Fatalf("kind=%v noops=%d", d.Kind, b.NoopErases())
	}
}

func TestCrossedBookTriggersResync(t *testing.T) {
	b := New(testInstrument())
	b.Apply(snapshot(1, []schema.Level{{Price: 100, Qty: 10}}, []schema.Level{{Price: 101, Qty: 7}}))

	_, err := b.Apply(delta(2, schema.BookSideAsk, 100, 5))
	if !errors.Is(err, ErrCrossedBook) {
		t.Fatalf("expected crossed book, got %v", err)
	}
	if b.Status() != schema.InstrumentStatusResyncing {
		t.Fatalf("status=%v", b.Status())
	}

	// Deltas are refused until a snapshot supersedes.
	if _, err := b.Apply(delta(3, schema.BookSideBid, 99, 1)); !errors.Is(err, ErrResyncing) {
		t.Fatalf("expected resyncing, got %v", err)
	}
	if _, err := b.Apply(snapshot(10, []schema.Level{{Price: 100, Qty: 10}}, []schema.Level{{Price: 101, Qty: 7}})); err != nil {
		t.Fatalf("recovery snapshot: %v", err)
	}
	if b.Status() != schema.InstrumentStatusOpen {
		t.Fatalf("status after recovery=%v", b.Status())
	}
}

func TestInsertMaintainsOrdering(t *testing.T) {
	b := New(testInstrument())
	b.Apply(snapshot(1, nil, nil))
	b.Apply(delta(2, schema.BookSideBid, 100, 1))
	b.Apply(delta(3, schema.BookSideBid, 102, 2))
	b.Apply(delta(4, schema.BookSideBid, 101, 3))
	b.Apply(delta(5, schema.BookSideAsk, 110, 1))
	b.Apply(delta(6, schema.BookSideAsk, 105, 2))

	want := []schema.Price{102, 101, 100}
	for i, lv := range b.bids {
		if lv.Price != want[i] {
			t.Fatalf("bid order: %+v", b.bids)
		}
	}
	if b.asks[0].Price != 105 || b.asks[1].Price != 110 {
		t.Fatalf("ask order: %+v", b.asks)
	}

	bid, ask := b.TopOfBook()
	if bid.Price != 102 || ask.Price != 105 {
		t.Fatalf("top: %+v / %+v", bid, ask)
	}
}

func TestDepthBounding(t *testing.T) {
	inst := testInstrument()
	inst.MaxDepth = 3
	b := New(inst)
	b.Apply(snapshot(1, nil, nil))
	for i := 0; i < 5; i++ {
		b.Apply(delta(uint64(2+i), schema.BookSideBid, schema.Price(100+i), 1))
	}
	if len(b.bids) != 3 {
		t.Fatalf("depth not bounded: %+v", b.bids)
	}
	// Far side (lowest bids) evicted; best retained.
	if b.bids[0].Price != 104 || b.bids[2].Price != 102 {
		t.Fatalf("wrong eviction: %+v", b.bids)
	}
	if b.Evictions() == 0 {
		t.Fatal("eviction counter not bumped")
	}
}

func TestStaleDeltaIgnored(t *testing.T) {
	b := New(testInstrument())
	b.Apply(snapshot(10, []schema.Level{{Price: 100, Qty: 1}}, nil))
	if _, err := b.Apply(delta(9, schema.BookSideBid, 100, 5)); !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("expected stale, got %v", err)
	}
	if b.bids[0].Qty != 1 {
		t.Fatalf("stale delta applied: %+v", b.bids)
	}
}

// Applying a snapshot then deltas must equal applying a later snapshot that
// supersedes them, given aligned sequence numbers.
func TestSnapshotThenDeltasIdempotence(t *testing.T) {
	b1 := New(testInstrument())
	b1.Apply(snapshot(1, []schema.Level{{Price: 100, Qty: 10}}, []schema.Level{{Price: 102, Qty: 4}}))
	b1.Apply(delta(2, schema.BookSideBid, 99, 5))
	b1.Apply(delta(3, schema.BookSideAsk, 102, 0))
	b1.Apply(delta(4, schema.BookSideAsk, 103, 6))

	b2 := New(testInstrument())
	b2.Apply(snapshot(4,
		[]schema.Level{{Price: 100, Qty: 10}, {Price: 99, Qty: 5}},
		[]schema.Level{{Price: 103, Qty: 6}}))

	if len(b1.bids) != len(b2.bids) || len(b1.asks) != len(b2.asks) {
		t.Fatalf("books diverge: %+v/%+v vs %+v/%+v", b1.bids, b1.asks, b2.bids, b2.asks)
	}
	for i := range b1.bids {
		if b1.bids[i] != b2.bids[i] {
			t.Fatalf("bid %d: %+v vs %+v", i, b1.bids[i], b2.bids[i])
		}
	}
	for i := range b1.asks {
		if b1.asks[i] != b2.asks[i] {
			t.Fatalf("ask %d: %+v vs %+v", i, b1.asks[i], b2.asks[i])
		}
	}
	if b1.Seq() != b2.Seq() {
		t.Fatalf("seq: %d vs %d", b1.Seq(), b2.Seq())
	}
}

func TestImbalance(t *testing.T) {
	b := New(testInstrument())
	b.Apply(snapshot(1, []schema.Level{{Price: 100, Qty: 30}}, []schema.Level{{Price: 101, Qty: 10}}))
	if got := b.Imbalance(5); got != 5000 {
		t.Fatalf("imbalance=%d want 5000", got)
	}
}
