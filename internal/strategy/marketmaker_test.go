package strategy

import (
	"testing"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/schema"
)

func mmUpdate(bid, ask schema.Price, imbalance int64) book.Update {
	return book.Update{
		Delta:     book.Delta{Instrument: 1, Kind: book.DeltaSet},
		BestBid:   schema.Level{Price: bid, Qty: 10},
		BestAsk:   schema.Level{Price: ask, Qty: 10},
		Imbalance: imbalance,
		Status:    schema.InstrumentStatusOpen,
	}
}

func drainIntents(s *Shard) []schema.OrderIntent {
	var out []schema.OrderIntent
	for {
		in, ok := s.Output().TryPop()
		if !ok {
			return out
		}
		out = append(out, in)
	}
}

func TestMarketMakerQuotesBothSides(t *testing.T) {
	s := newTestShard()
	mm := NewMarketMaker(MarketMakerConfig{
		Instrument: 1, HalfSpread: 2, QuoteQty: 5, MaxPosition: 50,
	})
	s.Register(1, mm, 1)

	mc := bus.NewMulticast[book.Update](16)
	s.AddBookInput(0, mc.NewReader())
	mc.Publish(mmUpdate(100, 104, 0))
	s.Step()

	intents := drainIntents(s)
	if len(intents) != 2 {
		t.Fatalf("intents = %+v", intents)
	}
	bid, ask := intents[0], intents[1]
	if bid.Side != schema.OrderSideBuy || bid.Price != 100 || bid.Qty != 5 {
		t.Fatalf("bid = %+v", bid)
	}
	if ask.Side != schema.OrderSideSell || ask.Price != 104 || ask.Qty != 5 {
		t.Fatalf("ask = %+v", ask)
	}
}

func TestMarketMakerQuotesOnTickGrid(t *testing.T) {
	s := newTestShard()
	mm := NewMarketMaker(MarketMakerConfig{
		Instrument: 1, Tick: 5, HalfSpread: 2, QuoteQty: 5, MaxPosition: 50,
	})
	s.Register(1, mm, 1)

	mc := bus.NewMulticast[book.Update](16)
	s.AddBookInput(0, mc.NewReader())
	// mid 102: raw quotes 100/104 already on-grid for tick 1 but not 5.
	mc.Publish(mmUpdate(100, 104, 0))
	s.Step()

	intents := drainIntents(s)
	if len(intents) != 2 {
		t.Fatalf("intents = %+v", intents)
	}
	// Bid rounds away from the ask, ask away from the bid.
	if intents[0].Price != 100 || intents[0].Price%5 != 0 {
		t.Fatalf("bid = %d, want 100", intents[0].Price)
	}
	if intents[1].Price != 105 || intents[1].Price%5 != 0 {
		t.Fatalf("ask = %d, want 105", intents[1].Price)
	}
}

func TestMarketMakerSkewsAgainstInventory(t *testing.T) {
	s := newTestShard()
	s.SetPositionFunc(func(uint32, schema.InstrumentID) schema.Quantity { return 10 })
	mm := NewMarketMaker(MarketMakerConfig{
		Instrument: 1, HalfSpread: 2, SkewPerLot: 1, QuoteQty: 5, MaxPosition: 50,
	})
	s.Register(1, mm, 1)

	mc := bus.NewMulticast[book.Update](16)
	s.AddBookInput(0, mc.NewReader())
	mc.Publish(mmUpdate(100, 104, 0))
	s.Step()

	intents := drainIntents(s)
	if len(intents) != 2 {
		t.Fatalf("intents = %+v", intents)
	}
	// Long 10 with skew 1/lot shifts both quotes down 10.
	if intents[0].Price != 90 || intents[1].Price != 94 {
		t.Fatalf("skewed quotes = %d / %d", intents[0].Price, intents[1].Price)
	}
}

func TestMarketMakerStopsGrowingSideAtCap(t *testing.T) {
	s := newTestShard()
	s.SetPositionFunc(func(uint32, schema.InstrumentID) schema.Quantity { return 48 })
	mm := NewMarketMaker(MarketMakerConfig{
		Instrument: 1, HalfSpread: 2, QuoteQty: 5, MaxPosition: 50,
	})
	s.Register(1, mm, 1)

	mc := bus.NewMulticast[book.Update](16)
	s.AddBookInput(0, mc.NewReader())
	mc.Publish(mmUpdate(100, 104, 0))
	s.Step()

	intents := drainIntents(s)
	if len(intents) != 1 || intents[0].Side != schema.OrderSideSell {
		t.Fatalf("intents = %+v", intents)
	}
}

func TestMarketMakerPullsQuotesOnHalt(t *testing.T) {
	s := newTestShard()
	mm := NewMarketMaker(MarketMakerConfig{
		Instrument: 1, HalfSpread: 2, QuoteQty: 5, MaxPosition: 50,
	})
	s.Register(1, mm, 1)

	mc := bus.NewMulticast[book.Update](16)
	s.AddBookInput(0, mc.NewReader())
	mc.Publish(mmUpdate(100, 104, 0))
	s.Step()
	placed := drainIntents(s)
	if len(placed) != 2 {
		t.Fatalf("placed = %+v", placed)
	}

	halted := mmUpdate(100, 104, 0)
	halted.Status = schema.InstrumentStatusHalted
	halted.Delta.Kind = book.DeltaStatus
	mc.Publish(halted)
	s.Step()

	cancels := drainIntents(s)
	if len(cancels) != 2 {
		t.Fatalf("cancels = %+v", cancels)
	}
	for _, c := range cancels {
		if c.Kind != schema.IntentCancel {
			t.Fatalf("expected cancel, got %+v", c)
		}
	}
	if cancels[0].ClientTag != placed[0].ClientTag || cancels[1].ClientTag != placed[1].ClientTag {
		t.Fatalf("cancel tags %v do not match placed %v", cancels, placed)
	}
}
