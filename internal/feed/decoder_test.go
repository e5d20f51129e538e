package feed

import (
	"testing"

	"main/internal/clock"
	"main/internal/codec"
	"main/internal/obs"
	"main/internal/schema"
)

func newTestDecoder(t *testing.T) (*Decoder, *schema.Registry) {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("SIMX", schema.VenueModeReliable)
	if err != nil {
		t.Fatalf("add venue: %v", err)
	}
	if _, err := reg.AddInstrument("BTC-USD", venueID, 1, 1, 2, 16); err != nil {
		t.Fatalf("add instrument: %v", err)
	}
	venue, _ := reg.Venue(venueID)
	d := NewDecoder(DecoderConfig{Venue: venue, Shards: 1, RingCap: 64}, reg, clock.New(), obs.NewTracer(), obs.NewCounters())
	return d, reg
}

func pop(t *testing.T, d *Decoder) *schema.MarketEvent {
	t.Helper()
	ev, ok := d.Output(0).TryPop()
	if !ok {
		t.Fatal("no event on shard ring")
	}
	return ev
}

func pushSnapshot(t *testing.T, d *Decoder, seq uint64) {
	t.Helper()
	body := codec.AppendSnapshot(nil, schema.MarketEvent{
		Instrument: 1,
		Seq:        seq,
		Bids:       []schema.Level{{Price: 100, Qty: 10}},
		Asks:       []schema.Level{{Price: 101, Qty: 5}},
	})
	if err := d.OnFrame(codec.MsgSnapshot, body); err != nil {
		t.Fatalf("snapshot frame: %v", err)
	}
}

func pushDelta(t *testing.T, d *Decoder, seq uint64, price schema.Price, qty schema.Quantity) {
	t.Helper()
	body := codec.AppendDelta(nil, schema.MarketEvent{
		Instrument: 1,
		Side:       schema.BookSideBid,
		Seq:        seq,
		Price:      price,
		Qty:        qty,
	})
	if err := d.OnFrame(codec.MsgDelta, body); err != nil {
		t.Fatalf("delta frame: %v", err)
	}
}

func TestDecoderForwardsInSequence(t *testing.T) {
	d, _ := newTestDecoder(t)
	pushSnapshot(t, d, 10)
	pushDelta(t, d, 11, 99, 3)

	ev := pop(t, d)
	if ev.Kind != schema.MarketEventSnapshot || ev.IngressTs == 0 {
		t.Fatalf("first event: %+v", ev)
	}
	ev = pop(t, d)
	if ev.Kind != schema.MarketEventDelta || ev.Seq != 11 {
		t.Fatalf("second event: %+v", ev)
	}
}

func TestDecoderGapTriggersResyncAndBuffers(t *testing.T) {
	d, _ := newTestDecoder(t)
	var requested []schema.InstrumentID
	d.SetSnapshotRequestFunc(func(id schema.InstrumentID) { requested = append(requested, id) })

	pushSnapshot(t, d, 10)
	pop(t, d)
	pushDelta(t, d, 13, 99, 3) // gap: 11,12 missing

	if len(requested) != 1 || requested[0] != 1 {
		t.Fatalf("snapshot not requested: %v", requested)
	}
	ev := pop(t, d)
	if ev.Kind != schema.MarketEventStatus || ev.Status != schema.InstrumentStatusResyncing {
		t.Fatalf("expected resync status, got %+v", ev)
	}
	if _, ok := d.Output(0).TryPop(); ok {
		t.Fatal("gapped delta must be buffered, not forwarded")
	}

	// More deltas buffer while resyncing.
	pushDelta(t, d, 14, 98, 1)
	pushDelta(t, d, 15, 97, 1)

	// Snapshot at seq 13 replays only buffered deltas with seq > 13.
	pushSnapshot(t, d, 13)
	ev = pop(t, d)
	if ev.Kind != schema.MarketEventSnapshot || ev.Seq != 13 {
		t.Fatalf("snapshot: %+v", ev)
	}
	ev = pop(t, d)
	if ev.Kind != schema.MarketEventDelta || ev.Seq != 14 {
		t.Fatalf("first replay: %+v", ev)
	}
	ev = pop(t, d)
	if ev.Seq != 15 {
		t.Fatalf("second replay: %+v", ev)
	}
}

func TestDecoderStaleAndDuplicateDropped(t *testing.T) {
	d, _ := newTestDecoder(t)
	pushSnapshot(t, d, 10)
	pop(t, d)
	pushDelta(t, d, 10, 99, 3)
	pushDelta(t, d, 9, 99, 3)
	if _, ok := d.Output(0).TryPop(); ok {
		t.Fatal("stale delta forwarded")
	}
}

func TestDecoderMalformedFrame(t *testing.T) {
	d, _ := newTestDecoder(t)
	if err := d.OnFrame(codec.MsgDelta, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected malformed error")
	}
	// Unknown types are dropped without error.
	if err := d.OnFrame(0x7f, []byte{1, 2, 3}); err != nil {
		t.Fatalf("unknown type must not error: %v", err)
	}
}

func TestDecoderBootstrapsThroughResync(t *testing.T) {
	d, _ := newTestDecoder(t)
	requested := 0
	d.SetSnapshotRequestFunc(func(schema.InstrumentID) { requested++ })

	pushDelta(t, d, 5, 99, 3) // before any snapshot
	if requested != 1 {
		t.Fatalf("bootstrap snapshot not requested: %d", requested)
	}
	ev := pop(t, d)
	if ev.Kind != schema.MarketEventStatus || ev.Status != schema.InstrumentStatusResyncing {
		t.Fatalf("expected resync status: %+v", ev)
	}
}

func TestDecoderTradePassesThroughDuringResync(t *testing.T) {
	d, _ := newTestDecoder(t)
	pushDelta(t, d, 5, 99, 3)
	pop(t, d) // resync status

	body := codec.AppendTrade(nil, schema.MarketEvent{Instrument: 1, Aggressor: schema.OrderSideBuy, Seq: 6, Price: 100, Qty: 2})
	if err := d.OnFrame(codec.MsgTrade, body); err != nil {
		t.Fatalf("trade frame: %v", err)
	}
	ev := pop(t, d)
	if ev.Kind != schema.MarketEventTrade || ev.Price != 100 {
		t.Fatalf("trade: %+v", ev)
	}
}

func TestDecoderResyncRequestAppliedBetweenFrames(t *testing.T) {
	d, _ := newTestDecoder(t)
	requested := 0
	d.SetSnapshotRequestFunc(func(schema.InstrumentID) { requested++ })

	pushSnapshot(t, d, 10)
	pop(t, d)

	// Request from another goroutine's perspective: queued, not applied.
	d.RequestResync(1, 10)
	if requested != 0 {
		t.Fatalf("resync applied before a frame: %d", requested)
	}
	if _, ok := d.Output(0).TryPop(); ok {
		t.Fatal("status event before a frame")
	}

	pushDelta(t, d, 11, 99, 3)
	if requested != 1 {
		t.Fatalf("snapshot not requested: %d", requested)
	}
	ev := pop(t, d)
	if ev.Kind != schema.MarketEventStatus || ev.Status != schema.InstrumentStatusResyncing {
		t.Fatalf("expected resync status: %+v", ev)
	}
	if _, ok := d.Output(0).TryPop(); ok {
		t.Fatal("delta must buffer during requested resync")
	}
}

func TestDecoderLossyDropBreaksSequenceChain(t *testing.T) {
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("LOSSY", schema.VenueModeLossy)
	if err != nil {
		t.Fatalf("add venue: %v", err)
	}
	if _, err := reg.AddInstrument("BTC-USD", venueID, 1, 1, 2, 16); err != nil {
		t.Fatalf("add instrument: %v", err)
	}
	venue, _ := reg.Venue(venueID)
	counters := obs.NewCounters()
	d := NewDecoder(DecoderConfig{Venue: venue, Shards: 1, RingCap: 2}, reg, clock.New(), obs.NewTracer(), counters)
	requested := 0
	d.SetSnapshotRequestFunc(func(schema.InstrumentID) { requested++ })

	pushSnapshot(t, d, 10)
	pushDelta(t, d, 11, 99, 3)
	// Ring full: this delta drops and must not advance the chain.
	pushDelta(t, d, 12, 98, 2)
	if got := counters.Snapshot().RingDrops; got != 1 {
		t.Fatalf("ring drops = %d, want 1", got)
	}

	pop(t, d)
	pop(t, d)

	// The delta after the drop is now a gap and must trigger resync.
	pushDelta(t, d, 13, 97, 1)
	if requested != 1 {
		t.Fatalf("snapshot not requested after drop: %d", requested)
	}
	ev := pop(t, d)
	if ev.Kind != schema.MarketEventStatus || ev.Status != schema.InstrumentStatusResyncing {
		t.Fatalf("expected resync status: %+v", ev)
	}
}
