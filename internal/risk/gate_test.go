package risk

import (
	"testing"

	"main/internal/clock"
	"main/internal/obs"
	"main/internal/schema"
)

func newTestGate(t *testing.T, limits Limits) (*Gate, *KillSwitch) {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("SIMX", schema.VenueModeReliable)
	if err != nil {
		t.Fatalf("add venue: %v", err)
	}
	if _, err := reg.AddInstrument("BTC-USD", venueID, 5, 10, 2, 16); err != nil {
		t.Fatalf("add instrument: %v", err)
	}
	ks := &KillSwitch{}
	g := NewGate(ks, NewLimitsHolder(limits), NewPositionTable(), reg, clock.New(), obs.NewTracer(), obs.NewCounters())
	return g, ks
}

func buy(tag uint64, qty schema.Quantity, px schema.Price) schema.OrderIntent {
	return schema.OrderIntent{
		Kind:       schema.IntentPlace,
		ClientTag:  tag,
		StrategyID: 1,
		Instrument: 1,
		Side:       schema.OrderSideBuy,
		Type:       schema.OrderTypeLimit,
		Price:      px,
		Qty:        qty,
	}
}

func TestGateCheckOrdering(t *testing.T) {
	g, ks := newTestGate(t, Limits{MaxOrderQty: 100, MaxAbsPosition: 100})

	// Kill switch first, even for otherwise invalid intents.
	ks.Trip("test")
	if r := g.Check(buy(1, 0, 0)); r != schema.RejectReasonKillSwitch {
		t.Fatalf("engaged kill switch: got %v", r)
	}
	ks.Reset()

	cases := []struct {
		name   string
		intent schema.OrderIntent
		want   schema.RejectReason
	}{
		{"unknown instrument", schema.OrderIntent{Instrument: 99, Qty: 10}, schema.RejectReasonUnknownInstrument},
		{"zero qty", buy(2, 0, 100), schema.RejectReasonInvalidQty},
		{"over max order qty", buy(3, 110, 100), schema.RejectReasonMaxOrderQty},
		{"lot misaligned", buy(4, 15, 100), schema.RejectReasonLotSize},
		{"tick misaligned", buy(5, 10, 101), schema.RejectReasonTickSize},
		{"clean", buy(6, 10, 100), schema.RejectReasonNone},
	}
	for _, tc := range cases {
		if got := g.Check(tc.intent); got != tc.want {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestGatePositionCap(t *testing.T) {
	g, _ := newTestGate(t, Limits{MaxAbsPosition: 100})
	key := PositionKey{StrategyID: 1, Instrument: 1}
	g.positions.ApplyFill(key, schema.OrderSideBuy, 100, 80) // net +80

	intent := buy(1, 30, 100)
	if r := g.Check(intent); r != schema.RejectReasonPositionCapExceeded {
		t.Fatalf("got %v, want position cap", r)
	}
	if net := g.positions.Get(key).Net; net != 80 {
		t.Fatalf("position changed on reject: %d", net)
	}
	if w := g.rates[1]; w != nil && w.size != 0 {
		t.Fatal("rate counter advanced on reject")
	}

	// A fitting order passes and reserves; a second one is blocked by the
	// reservation even before any fill.
	ok := buy(2, 20, 100)
	if r := g.Check(ok); r != schema.RejectReasonNone {
		t.Fatalf("fitting order rejected: %v", r)
	}
	g.Accept(ok)
	if r := g.Check(buy(3, 10, 100)); r != schema.RejectReasonPositionCapExceeded {
		t.Fatalf("reserved qty not counted: %v", r)
	}
}

func TestGateRateLimit(t *testing.T) {
	g, _ := newTestGate(t, Limits{MaxOrdersPerSecond: 10})

	for i := 0; i < 10; i++ {
		in := buy(uint64(i+1), 10, 100)
		if r := g.Check(in); r != schema.RejectReasonNone {
			t.Fatalf("order %d rejected: %v", i+1, r)
		}
		g.Accept(in)
	}
	if r := g.Check(buy(11, 10, 100)); r != schema.RejectReasonRateLimit {
		t.Fatalf("11th order: got %v, want rate limit", r)
	}
}

func TestGateNotionalCap(t *testing.T) {
	g, _ := newTestGate(t, Limits{MaxNotional: 5000})
	g.MarkPrice(1, 100)

	if r := g.Check(buy(1, 40, 100)); r != schema.RejectReasonNone {
		t.Fatalf("within notional: %v", r)
	}
	if r := g.Check(buy(2, 60, 100)); r != schema.RejectReasonNotionalCapExceeded {
		t.Fatalf("got %v, want notional cap", r)
	}

	// Overflowing px*qty must reject, not wrap past the cap.
	g.MarkPrice(1, 1_000_000_000)
	if r := g.Check(buy(3, 10_000_000_000, 100)); r != schema.RejectReasonNotionalCapExceeded {
		t.Fatalf("overflowing notional: got %v, want notional cap", r)
	}
}

func TestGateSizeAnomaly(t *testing.T) {
	g, _ := newTestGate(t, Limits{})

	first := buy(1, 10, 100)
	if r := g.Check(first); r != schema.RejectReasonNone {
		t.Fatalf("first order: %v", r)
	}
	g.Accept(first)

	// avg=10, k=3: 40 breaches, 30 does not.
	if r := g.Check(buy(2, 40, 100)); r != schema.RejectReasonSizeAnomaly {
		t.Fatalf("got %v, want size anomaly", r)
	}
	if r := g.Check(buy(3, 30, 100)); r != schema.RejectReasonNone {
		t.Fatalf("3x avg rejected: %v", r)
	}
}

func TestGateDailyLoss(t *testing.T) {
	g, _ := newTestGate(t, Limits{MaxDailyLoss: 1000})
	key := PositionKey{StrategyID: 1, Instrument: 1}

	// Buy 10 @ 200, sell 10 @ 80: realized -1200.
	g.positions.ApplyFill(key, schema.OrderSideBuy, 200, 10)
	realized := g.positions.ApplyFill(key, schema.OrderSideSell, 80, 10)
	g.realizedDay += realized
	if realized != -1200 {
		t.Fatalf("realized = %d", realized)
	}

	if r := g.Check(buy(1, 10, 100)); r != schema.RejectReasonDailyLossExceeded {
		t.Fatalf("got %v, want daily loss", r)
	}
}

func TestGateReservationLifecycle(t *testing.T) {
	g, _ := newTestGate(t, Limits{MaxAbsPosition: 100})
	key := PositionKey{StrategyID: 1, Instrument: 1}

	in := buy(1, 60, 100)
	if r := g.Check(in); r != schema.RejectReasonNone {
		t.Fatalf("check: %v", r)
	}
	g.Accept(in)

	// Partial fill commits position and releases part of the reservation.
	g.OnExec(schema.ExecutionEvent{ClientTag: 1, Status: schema.OrderStatusPartiallyFilled, FillPrice: 100, FillQty: 20})
	if net := g.positions.Get(key).Net; net != 20 {
		t.Fatalf("net after partial = %d", net)
	}
	if w := g.working[key]; w.buys != 40 {
		t.Fatalf("working buys = %d, want 40", w.buys)
	}

	// Cancel releases the rest; projection drops back.
	g.OnExec(schema.ExecutionEvent{ClientTag: 1, Status: schema.OrderStatusCancelled})
	if w := g.working[key]; w.buys != 0 {
		t.Fatalf("working buys after cancel = %d", w.buys)
	}
	if r := g.Check(buy(2, 80, 100)); r != schema.RejectReasonNone {
		t.Fatalf("post-release order rejected: %v", r)
	}
}

func TestGateFailSafeTripsKillSwitch(t *testing.T) {
	g, ks := newTestGate(t, Limits{})

	in := buy(1, 10, 100)
	g.Accept(in)
	// A fill larger than the reservation is an internal inconsistency.
	g.OnExec(schema.ExecutionEvent{ClientTag: 1, Status: schema.OrderStatusFilled, FillPrice: 100, FillQty: 50})

	if !ks.Engaged() {
		t.Fatal("kill switch not tripped")
	}
	if r := g.Check(buy(2, 10, 100)); r != schema.RejectReasonKillSwitch {
		t.Fatalf("post-trip check = %v", r)
	}
}

func TestPositionRealizedAndFlip(t *testing.T) {
	tbl := NewPositionTable()
	key := PositionKey{StrategyID: 1, Instrument: 1}

	tbl.ApplyFill(key, schema.OrderSideBuy, 100, 10)
	tbl.ApplyFill(key, schema.OrderSideBuy, 120, 10)
	p := tbl.Get(key)
	if p.Net != 20 || p.AvgEntry != 110 {
		t.Fatalf("after builds: %+v", p)
	}

	// Sell 30 @ 130: close 20 (+400), flip short 10 @ 130.
	realized := tbl.ApplyFill(key, schema.OrderSideSell, 130, 30)
	p = tbl.Get(key)
	if realized != 400 || p.Net != -10 || p.AvgEntry != 130 {
		t.Fatalf("after flip: realized=%d pos=%+v", realized, p)
	}

	// Snapshot readers observe the committed state.
	if got := tbl.Net(1, 1); got != -10 {
		t.Fatalf("snapshot net = %d", got)
	}
}
