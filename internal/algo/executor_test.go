package algo

import (
	"testing"

	"main/internal/book"
	"main/internal/bus"
	"main/internal/clock"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/strategy"
)

const execStrategyID = 100

// harness drives an executor on a runtime shard, playing the roles of the
// risk gate and the venue.
type harness struct {
	t       *testing.T
	clk     *clock.Source
	shard   *strategy.Shard
	exec    *Executor
	execMC  *bus.Multicast[schema.ExecutionEvent]
	bookMC  *bus.Multicast[book.Update]
	reports []schema.ExecutionEvent
	offset  int64
}

func newHarness(t *testing.T, cfg ExecutorConfig) *harness {
	t.Helper()
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("SIMX", schema.VenueModeReliable)
	if err != nil {
		t.Fatalf("add venue: %v", err)
	}
	if _, err := reg.AddInstrument("BTC-USD", venueID, 1, 1, 2, 16); err != nil {
		t.Fatalf("add instrument: %v", err)
	}

	h := &harness{t: t, clk: clock.New()}
	h.shard = strategy.NewShard(strategy.ShardConfig{ID: 0}, h.clk, obs.NewTracer(), obs.NewCounters())

	cfg.StrategyID = execStrategyID
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	h.exec = NewExecutor(cfg, reg, obs.NewTracer(), obs.NewCounters(), func(ev schema.ExecutionEvent) {
		h.reports = append(h.reports, ev)
	})

	ctx := h.shard.Register(execStrategyID, h.exec, 1)
	h.bookMC = bus.NewMulticast[book.Update](64)
	h.shard.AddBookInput(0, h.bookMC.NewReader())
	h.execMC = bus.NewMulticast[schema.ExecutionEvent](64)
	h.shard.AddExecInput(h.execMC.NewReader())
	h.exec.Bind(ctx)
	return h
}

func (h *harness) top(bid, ask schema.Price) {
	h.bookMC.Publish(book.Update{
		Delta:   book.Delta{Instrument: 1, Kind: book.DeltaSet},
		BestBid: schema.Level{Price: bid, Qty: 50},
		BestAsk: schema.Level{Price: ask, Qty: 50},
		Status:  schema.InstrumentStatusOpen,
	})
	h.shard.Step()
}

func (h *harness) trade(qty schema.Quantity) {
	h.bookMC.Publish(book.Update{
		Delta:  book.Delta{Instrument: 1, Kind: book.DeltaTrade, Qty: qty},
		Status: schema.InstrumentStatusOpen,
	})
	h.shard.Step()
}

func (h *harness) submitParent(intent schema.OrderIntent) {
	intent.Kind = schema.IntentPlace
	if !h.exec.Inbox().TryPush(intent) {
		h.t.Fatal("inbox full")
	}
	h.advance(2_000_000) // housekeeping timer drains the inbox
}

func (h *harness) cancelParent(tag uint64) {
	if !h.exec.Inbox().TryPush(schema.OrderIntent{Kind: schema.IntentCancel, ClientTag: tag}) {
		h.t.Fatal("inbox full")
	}
	h.advance(2_000_000)
}

// advance moves the disciplined clock forward and runs one shard round.
func (h *harness) advance(ns int64) {
	h.offset += ns
	h.clk.Discipline(h.offset, 0)
	h.shard.Step()
}

func (h *harness) drainChildren() []schema.OrderIntent {
	var out []schema.OrderIntent
	for {
		in, ok := h.shard.Output().TryPop()
		if !ok {
			return out
		}
		out = append(out, in)
	}
}

// fill acknowledges a child as fully filled at its limit price.
func (h *harness) fill(child schema.OrderIntent) {
	h.execMC.Publish(schema.ExecutionEvent{
		ClientTag:  child.ClientTag,
		StrategyID: execStrategyID,
		Instrument: child.Instrument,
		Status:     schema.OrderStatusFilled,
		FillPrice:  child.Price,
		FillQty:    child.Qty,
		FilledQty:  child.Qty,
	})
	h.shard.Step()
}

func (h *harness) expire(child schema.OrderIntent) {
	h.execMC.Publish(schema.ExecutionEvent{
		ClientTag:  child.ClientTag,
		StrategyID: execStrategyID,
		Instrument: child.Instrument,
		Status:     schema.OrderStatusExpired,
		Reason:     schema.ExecReasonExpired,
	})
	h.shard.Step()
}

func (h *harness) cancelled(child schema.OrderIntent) {
	h.execMC.Publish(schema.ExecutionEvent{
		ClientTag:  child.ClientTag,
		StrategyID: execStrategyID,
		Instrument: child.Instrument,
		Status:     schema.OrderStatusCancelled,
		Reason:     schema.ExecReasonCancelRequested,
	})
	h.shard.Step()
}

func (h *harness) lastReport() schema.ExecutionEvent {
	if len(h.reports) == 0 {
		h.t.Fatal("no parent reports")
	}
	return h.reports[len(h.reports)-1]
}

func TestTwapSlicesEvenlyAndCompletes(t *testing.T) {
	h := newHarness(t, ExecutorConfig{})
	h.top(100, 102)
	h.submitParent(schema.OrderIntent{
		ClientTag:  777,
		StrategyID: 1,
		Instrument: 1,
		Side:       schema.OrderSideBuy,
		Qty:        1000,
		Algo: schema.AlgoParams{
			Kind:            schema.AlgoTwap,
			TotalDurationMs: 10000,
			SliceIntervalMs: 1000,
		},
	})
	if got := h.lastReport(); got.Status != schema.OrderStatusAcknowledged || got.ClientTag != 777 {
		t.Fatalf("parent ack = %+v", got)
	}

	var total schema.Quantity
	for k := 0; k < 10; k++ {
		h.advance(1_000_000_000)
		children := h.drainChildren()
		if len(children) != 1 {
			t.Fatalf("slice %d: children = %+v", k, children)
		}
		c := children[0]
		if c.Qty != 100 || c.TimeInForce != schema.TimeInForceIOC || c.Type != schema.OrderTypeLimit {
			t.Fatalf("slice %d child = %+v", k, c)
		}
		if c.Side != schema.OrderSideBuy || c.Price != 102 {
			t.Fatalf("slice %d child priced off touch: %+v", k, c)
		}
		total += c.Qty
		h.fill(c)
	}
	if total != 1000 {
		t.Fatalf("cumulative child qty = %d", total)
	}
	if got := h.lastReport(); got.Status != schema.OrderStatusFilled || got.FilledQty != 1000 || got.StrategyID != 1 {
		t.Fatalf("final parent report = %+v", got)
	}
}

func TestTwapRollsUnfilledForward(t *testing.T) {
	h := newHarness(t, ExecutorConfig{})
	h.top(100, 102)
	h.submitParent(schema.OrderIntent{
		ClientTag:  1,
		StrategyID: 1,
		Instrument: 1,
		Side:       schema.OrderSideBuy,
		Qty:        400,
		Algo: schema.AlgoParams{
			Kind:            schema.AlgoTwap,
			TotalDurationMs: 4000,
			SliceIntervalMs: 1000,
		},
	})

	h.advance(1_000_000_000)
	first := h.drainChildren()
	if len(first) != 1 || first[0].Qty != 100 {
		t.Fatalf("first slice = %+v", first)
	}
	h.expire(first[0]) // nothing filled

	h.advance(1_000_000_000)
	second := h.drainChildren()
	// 400 remaining over 3 slices left.
	if len(second) != 1 || second[0].Qty != 133 {
		t.Fatalf("second slice = %+v", second)
	}
}

func TestTwapExpiresWhenWindowEnds(t *testing.T) {
	h := newHarness(t, ExecutorConfig{})
	h.top(100, 102)
	h.submitParent(schema.OrderIntent{
		ClientTag:  1,
		StrategyID: 1,
		Instrument: 1,
		Side:       schema.OrderSideBuy,
		Qty:        200,
		Algo: schema.AlgoParams{
			Kind:            schema.AlgoTwap,
			TotalDurationMs: 2000,
			SliceIntervalMs: 1000,
		},
	})
	for k := 0; k < 2; k++ {
		h.advance(1_000_000_000)
		for _, c := range h.drainChildren() {
			h.expire(c)
		}
	}
	h.advance(1_000_000_000) // housekeeping pass after the window
	if got := h.lastReport(); got.Status != schema.OrderStatusExpired || got.LeavesQty != 200 {
		t.Fatalf("expired parent report = %+v", got)
	}
}

func TestIcebergVisibleChildLifecycle(t *testing.T) {
	h := newHarness(t, ExecutorConfig{RepriceTicks: 2})
	h.top(99, 101)
	h.submitParent(schema.OrderIntent{
		ClientTag:  5,
		StrategyID: 2,
		Instrument: 1,
		Side:       schema.OrderSideBuy,
		Price:      110,
		Qty:        100,
		Algo: schema.AlgoParams{
			Kind:     schema.AlgoIceberg,
			Visible:  10,
			MinSlice: 5,
		},
	})

	children := h.drainChildren()
	if len(children) != 1 {
		t.Fatalf("children = %+v", children)
	}
	c := children[0]
	if c.Qty != 10 || c.TimeInForce != schema.TimeInForceDay || c.Price != 99 {
		t.Fatalf("visible child = %+v", c)
	}

	// Full fill of the visible child draws the next slice.
	h.fill(c)
	next := h.drainChildren()
	if len(next) != 1 || next[0].Qty != 10 {
		t.Fatalf("replacement child = %+v", next)
	}
	if got := h.lastReport(); got.Status != schema.OrderStatusPartiallyFilled || got.FilledQty != 10 {
		t.Fatalf("progress report = %+v", got)
	}

	// Adverse move beyond the threshold cancels, terminal report re-emits.
	h.top(103, 105)
	cancels := h.drainChildren()
	if len(cancels) != 1 || cancels[0].Kind != schema.IntentCancel || cancels[0].ClientTag != next[0].ClientTag {
		t.Fatalf("reprice cancel = %+v", cancels)
	}
	h.cancelled(next[0])
	reemit := h.drainChildren()
	if len(reemit) != 1 || reemit[0].Price != 103 {
		t.Fatalf("re-emitted child = %+v", reemit)
	}
}

func TestIcebergJitterStaysInBand(t *testing.T) {
	h := newHarness(t, ExecutorConfig{Seed: 42})
	h.top(99, 101)
	h.submitParent(schema.OrderIntent{
		ClientTag:  6,
		StrategyID: 2,
		Instrument: 1,
		Side:       schema.OrderSideBuy,
		Price:      110,
		Qty:        1000,
		Algo: schema.AlgoParams{
			Kind:      schema.AlgoIceberg,
			Visible:   10,
			MinSlice:  5,
			JitterPct: 20,
		},
	})

	for i := 0; i < 20; i++ {
		children := h.drainChildren()
		if len(children) != 1 {
			t.Fatalf("round %d children = %+v", i, children)
		}
		q := children[0].Qty
		if q < 8 || q > 12 {
			t.Fatalf("round %d qty %d outside [8,12]", i, q)
		}
		h.fill(children[0])
	}
}

func TestIcebergParentCancelPullsChild(t *testing.T) {
	h := newHarness(t, ExecutorConfig{})
	h.top(99, 101)
	h.submitParent(schema.OrderIntent{
		ClientTag:  7,
		StrategyID: 2,
		Instrument: 1,
		Side:       schema.OrderSideBuy,
		Price:      110,
		Qty:        100,
		Algo:       schema.AlgoParams{Kind: schema.AlgoIceberg, Visible: 10, MinSlice: 5},
	})
	child := h.drainChildren()[0]

	h.cancelParent(7)
	cancels := h.drainChildren()
	if len(cancels) != 1 || cancels[0].Kind != schema.IntentCancel || cancels[0].ClientTag != child.ClientTag {
		t.Fatalf("cancels = %+v", cancels)
	}
	if got := h.lastReport(); got.Status != schema.OrderStatusCancelled || got.ClientTag != 7 {
		t.Fatalf("cancel report = %+v", got)
	}

	// A late fill-free terminal on the child must not revive slicing.
	h.cancelled(child)
	if rest := h.drainChildren(); len(rest) != 0 {
		t.Fatalf("unexpected intents after parent cancel: %+v", rest)
	}
}

func TestVwapFollowsCurveWithParticipationCap(t *testing.T) {
	h := newHarness(t, ExecutorConfig{})
	h.top(100, 102)
	h.submitParent(schema.OrderIntent{
		ClientTag:  9,
		StrategyID: 3,
		Instrument: 1,
		Side:       schema.OrderSideBuy,
		Qty:        1000,
		Algo: schema.AlgoParams{
			Kind:            schema.AlgoVwap,
			TotalDurationMs: 4000,
			SliceIntervalMs: 1000,
			VolumeCurve:     []schema.Quantity{1, 2, 3, 4},
		},
	})

	// Cumulative targets: 100, 300, 600, 1000.
	want := []schema.Quantity{100, 200, 300, 400}
	for k, w := range want {
		h.advance(1_000_000_000)
		children := h.drainChildren()
		if len(children) != 1 || children[0].Qty != w {
			t.Fatalf("slice %d = %+v, want qty %d", k, children, w)
		}
		h.fill(children[0])
	}
	if got := h.lastReport(); got.Status != schema.OrderStatusFilled || got.FilledQty != 1000 {
		t.Fatalf("final report = %+v", got)
	}
}

func TestVwapParticipationClampsToObservedVolume(t *testing.T) {
	h := newHarness(t, ExecutorConfig{})
	h.top(100, 102)
	h.submitParent(schema.OrderIntent{
		ClientTag:  10,
		StrategyID: 3,
		Instrument: 1,
		Side:       schema.OrderSideBuy,
		Qty:        1000,
		Algo: schema.AlgoParams{
			Kind:             schema.AlgoVwap,
			TotalDurationMs:  4000,
			SliceIntervalMs:  1000,
			ParticipationPct: 50,
		},
	})

	h.trade(60) // observed volume in the first interval
	h.advance(1_000_000_000)
	children := h.drainChildren()
	// Flat curve target for slice 1 is 250; participation allows 30.
	if len(children) != 1 || children[0].Qty != 30 {
		t.Fatalf("children = %+v, want qty 30", children)
	}
}
