package chaos

import (
	"testing"
	"time"

	"main/internal/schema"
)

func delta(seq uint64) schema.MarketEvent {
	return schema.MarketEvent{Kind: schema.MarketEventDelta, Seq: seq, VenueTs: int64(seq) * 1000}
}

func TestValidateRejectsBadRates(t *testing.T) {
	if _, err := NewEngine(Config{DropRate: 1.5}); err == nil {
		t.Fatalf("dropRate 1.5 accepted")
	}
	if _, err := NewEngine(Config{DuplicateRate: -0.1}); err == nil {
		t.Fatalf("negative duplicateRate accepted")
	}
	if _, err := NewEngine(Config{MaxDelay: -time.Second}); err == nil {
		t.Fatalf("negative maxDelay accepted")
	}
}

func TestDropRateOneDropsEverything(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1, DropRate: 1})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	for seq := uint64(1); seq <= 10; seq++ {
		if out := e.Process(delta(seq)); len(out) != 0 {
			t.Fatalf("seq %d not dropped: %v", seq, out)
		}
	}
}

func TestReorderPreservesEventSet(t *testing.T) {
	e, err := NewEngine(Config{Seed: 7, ReorderWindow: 4})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	seen := make(map[uint64]bool)
	for seq := uint64(1); seq <= 20; seq++ {
		for _, out := range e.Process(delta(seq)) {
			seen[out.Seq] = true
		}
	}
	for _, out := range e.Flush() {
		seen[out.Seq] = true
	}
	for seq := uint64(1); seq <= 20; seq++ {
		if !seen[seq] {
			t.Fatalf("seq %d lost in reorder", seq)
		}
	}
}

func TestSnapshotBypassesChaos(t *testing.T) {
	e, err := NewEngine(Config{Seed: 3, DropRate: 1, ReorderWindow: 5})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	snap := schema.MarketEvent{Kind: schema.MarketEventSnapshot, Seq: 42}
	out := e.Process(snap)
	if len(out) == 0 || out[len(out)-1].Seq != 42 {
		t.Fatalf("snapshot did not pass through: %v", out)
	}
}

func TestDelaySkewsVenueTs(t *testing.T) {
	e, err := NewEngine(Config{Seed: 5, MaxDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	moved := false
	for seq := uint64(1); seq <= 50; seq++ {
		base := int64(seq) * 1000
		for _, out := range e.Process(delta(seq)) {
			if out.VenueTs < base {
				t.Fatalf("delay rewound venue ts: %d < %d", out.VenueTs, base)
			}
			if out.VenueTs > base {
				moved = true
			}
		}
	}
	if !moved {
		t.Fatalf("no event was delayed")
	}
}
