package book

import (
	"context"
	"runtime"

	"main/internal/bus"
	"main/internal/clock"
	"main/internal/obs"
	"main/internal/schema"
)

// Update is the fan-out record published after every apply. It carries the
// minimal delta plus the recomputed top of book so readers avoid touching
// the ladder.
type Update struct {
	Delta     Delta
	BestBid   schema.Level
	BestAsk   schema.Level
	Imbalance int64
	Status    schema.InstrumentStatus
}

// Subscriber is invoked synchronously on the shard goroutine after each
// apply, in registration order. Subscribers must not mutate the book and
// must hand heavy work off via a ring.
type Subscriber func(b *Book, u Update)

// ResyncFunc asks the feed layer to re-snapshot an instrument.
type ResyncFunc func(id schema.InstrumentID, lastSeq uint64)

// ReleaseFunc returns a consumed event to its pool.
type ReleaseFunc func(ev *schema.MarketEvent)

// ShardConfig controls one book shard.
type ShardConfig struct {
	ID              int
	ImbalanceLevels int
	OutCapacity     int
}

func (c ShardConfig) withDefaults() ShardConfig {
	if c.ImbalanceLevels <= 0 {
		c.ImbalanceLevels = 5
	}
	if c.OutCapacity <= 0 {
		c.OutCapacity = 1 << 14
	}
	return c
}

// Shard owns the books of the instruments hashed to it. Exactly one
// goroutine runs Run; it is the single writer for every owned book.
type Shard struct {
	cfg      ShardConfig
	books    map[schema.InstrumentID]*Book
	inputs   []*bus.Ring[*schema.MarketEvent]
	subs     []Subscriber
	out      *bus.Multicast[Update]
	refresh  chan struct{}
	resync   ResyncFunc
	release  ReleaseFunc
	clk      *clock.Source
	tracer   *obs.Tracer
	counters *obs.Counters
}

// NewShard creates an empty shard.
func NewShard(cfg ShardConfig, clk *clock.Source, tracer *obs.Tracer, counters *obs.Counters) *Shard {
	cfg = cfg.withDefaults()
	return &Shard{
		cfg:      cfg,
		books:    make(map[schema.InstrumentID]*Book),
		out:      bus.NewMulticast[Update](cfg.OutCapacity),
		refresh:  make(chan struct{}, 1),
		clk:      clk,
		tracer:   tracer,
		counters: counters,
	}
}

// ShardFor maps an instrument to its owning shard.
func ShardFor(id schema.InstrumentID, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(uint32(id) % uint32(shards))
}

// Admit creates the book for an instrument. Startup only.
func (s *Shard) Admit(inst schema.Instrument) {
	s.books[inst.ID] = New(inst)
}

// Book returns an owned book. Only the shard goroutine and tests may use
// the result.
func (s *Shard) Book(id schema.InstrumentID) (*Book, bool) {
	b, ok := s.books[id]
	return b, ok
}

// AddInput attaches a decoder ring feeding this shard.
func (s *Shard) AddInput(r *bus.Ring[*schema.MarketEvent]) {
	s.inputs = append(s.inputs, r)
}

// Subscribe registers a synchronous callback. Startup only.
func (s *Shard) Subscribe(fn Subscriber) {
	s.subs = append(s.subs, fn)
}

// SetResyncFunc installs the snapshot request hook. Startup only.
func (s *Shard) SetResyncFunc(fn ResyncFunc) { s.resync = fn }

// SetReleaseFunc installs the event pool return hook. Startup only.
func (s *Shard) SetReleaseFunc(fn ReleaseFunc) { s.release = fn }

// Output returns the shard's broadcast ring of book updates.
func (s *Shard) Output() *bus.Multicast[Update] { return s.out }

// Run drains input rings until the context is done.
func (s *Shard) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if !s.Drain() {
			runtime.Gosched()
		}
	}
}

// RequestRefresh asks the shard to republish the current state of every
// owned book, letting a lagged reader rebuild its view. Safe from other
// goroutines; coalesced and applied on the shard goroutine.
func (s *Shard) RequestRefresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Drain processes every currently buffered event and reports whether any
// work was done.
func (s *Shard) Drain() bool {
	worked := false
	select {
	case <-s.refresh:
		worked = true
		for _, b := range s.books {
			s.publish(b, Delta{Instrument: b.Instrument().ID, Kind: DeltaSnapshot, Seq: b.Seq(), Ts: s.clk.Now()})
		}
	default:
	}
	for _, in := range s.inputs {
		for {
			ev, ok := in.TryPop()
			if !ok {
				break
			}
			worked = true
			s.Process(ev)
		}
	}
	return worked
}

// Process applies one event and fans out the result.
func (s *Shard) Process(ev *schema.MarketEvent) {
	defer s.releaseEvent(ev)

	if ev.Kind == schema.MarketEventHeartbeat {
		return
	}
	b, ok := s.books[ev.Instrument]
	if !ok {
		s.counters.IncUnknownVenueID()
		return
	}

	begin := s.clk.Now()
	delta, err := b.Apply(ev)
	s.tracer.Record(obs.PointBookApply, s.clk.Now()-begin)

	if err != nil {
		switch err {
		case ErrStaleEvent:
			s.counters.IncStaleEvent()
		case ErrResyncing:
			// Delta arrived while awaiting snapshot; decoder buffers these.
		case ErrCrossedBook, ErrNegativeQty:
			s.counters.IncResync()
			s.publish(b, Delta{Instrument: ev.Instrument, Kind: DeltaStatus, Seq: b.Seq(), Ts: ev.IngressTs})
			if s.resync != nil {
				s.resync(ev.Instrument, b.Seq())
			}
		}
		return
	}

	s.counters.IncMarketEvent()
	s.publish(b, delta)
}

func (s *Shard) publish(b *Book, d Delta) {
	bestBid, bestAsk := b.TopOfBook()
	u := Update{
		Delta:     d,
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		Imbalance: b.Imbalance(s.cfg.ImbalanceLevels),
		Status:    b.Status(),
	}
	for _, fn := range s.subs {
		fn(b, u)
	}
	s.out.Publish(u)
}

func (s *Shard) releaseEvent(ev *schema.MarketEvent) {
	if s.release != nil {
		s.release(ev)
	}
}
