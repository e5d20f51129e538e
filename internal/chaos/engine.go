package chaos

import (
	"math/rand"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

// Config controls fault injection on a market event stream.
type Config struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	ReorderWindow int
	MaxDelay      time.Duration
}

// Engine perturbs market events before they hit the wire: drops open
// sequence gaps, duplicates and reorders stress the decoder's replay
// suppression, delays skew venue timestamps. Deterministic under a
// fixed seed.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	pending []schema.MarketEvent
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.New("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return errors.New("duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow <= 0 {
		return errors.New("reorderWindow must be >= 1")
	}
	if c.MaxDelay < 0 {
		return errors.New("maxDelay must be >= 0")
	}
	return nil
}

// Process applies chaos to a single event and returns what should be
// sent in its place: nothing for a drop, one or more events otherwise.
// Snapshots pass through untouched so resync always converges.
func (e *Engine) Process(ev schema.MarketEvent) []schema.MarketEvent {
	if e == nil {
		return []schema.MarketEvent{ev}
	}
	if ev.Kind == schema.MarketEventSnapshot {
		return append(e.drain(), ev)
	}
	if e.shouldDrop() {
		return nil
	}
	ev = e.applyDelay(ev)
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(ev)
	}
	e.pending = append(e.pending, ev)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	idx := e.rng.Intn(len(e.pending))
	out := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return e.applyDuplicate(out)
}

// Flush returns any buffered events after processing completes.
func (e *Engine) Flush() []schema.MarketEvent {
	if e == nil {
		return nil
	}
	return e.drain()
}

func (e *Engine) drain() []schema.MarketEvent {
	if len(e.pending) == 0 {
		return nil
	}
	out := make([]schema.MarketEvent, 0, len(e.pending))
	for len(e.pending) > 0 {
		idx := e.rng.Intn(len(e.pending))
		ev := e.pending[idx]
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		out = append(out, e.applyDuplicate(ev)...)
	}
	return out
}

func (e *Engine) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine) applyDuplicate(ev schema.MarketEvent) []schema.MarketEvent {
	out := []schema.MarketEvent{ev}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, ev)
	}
	return out
}

func (e *Engine) applyDelay(ev schema.MarketEvent) schema.MarketEvent {
	if e.cfg.MaxDelay <= 0 {
		return ev
	}
	ev.VenueTs += e.rng.Int63n(e.cfg.MaxDelay.Nanoseconds() + 1)
	return ev
}
